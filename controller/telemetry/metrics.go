package telemetry

import (
	"context"

	"github.com/hydropi/hydropi/controller"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports the latest cycle as Prometheus series.
type Metrics struct {
	sensor       *prometheus.GaugeVec
	sensorValid  *prometheus.GaugeVec
	actuator     *prometheus.GaugeVec
	health       prometheus.Gauge
	intervention prometheus.Gauge
	lastCycle    prometheus.Gauge
	cycles       *prometheus.CounterVec
	clamps       *prometheus.CounterVec
	errors       *prometheus.CounterVec
	doses        *prometheus.CounterVec
	duration     prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sensor: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hydropi_sensor_value",
			Help: "Last denoised sensor reading by metric.",
		}, []string{"metric", "unit"}),
		sensorValid: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hydropi_sensor_valid",
			Help: "1 when the last reading of a metric was usable, 0 otherwise.",
		}, []string{"metric"}),
		actuator: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hydropi_actuator_on",
			Help: "Last known actuator state (1 on, 0 off).",
		}, []string{"device"}),
		health: f.NewGauge(prometheus.GaugeOpts{
			Name: "hydropi_plant_health_score",
			Help: "Plant health score of the last non-fallback cycle (0-10).",
		}),
		intervention: f.NewGauge(prometheus.GaugeOpts{
			Name: "hydropi_intervention_needed",
			Help: "1 when the last cycle asked for human intervention.",
		}),
		lastCycle: f.NewGauge(prometheus.GaugeOpts{
			Name: "hydropi_last_cycle_timestamp_seconds",
			Help: "Unix time of the last finished cycle.",
		}),
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hydropi_cycles_total",
			Help: "Finished cycles by outcome.",
		}, []string{"outcome"}),
		clamps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hydropi_clamps_total",
			Help: "Safety overrides by device.",
		}, []string{"device"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hydropi_cycle_errors_total",
			Help: "Errors captured during cycles by component.",
		}, []string{"component"}),
		doses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hydropi_dose_seconds_total",
			Help: "Cumulative dosing pump run time by direction.",
		}, []string{"direction"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hydropi_cycle_duration_seconds",
			Help:    "Wall time of a full cycle.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
}

func (m *Metrics) Name() string { return "prometheus" }

func (m *Metrics) Publish(_ context.Context, rec controller.DecisionRecord) error {
	for _, r := range rec.Snapshot.Readings {
		if r.Valid {
			m.sensor.WithLabelValues(string(r.Metric), r.Unit).Set(r.Value)
			m.sensorValid.WithLabelValues(string(r.Metric)).Set(1)
		} else {
			m.sensorValid.WithLabelValues(string(r.Metric)).Set(0)
		}
	}
	for d, st := range rec.State {
		m.actuator.WithLabelValues(string(d)).Set(boolGauge(st.On))
	}
	if rec.HealthScore != nil {
		m.health.Set(float64(*rec.HealthScore))
	}
	m.intervention.Set(boolGauge(rec.Intervention.Needed))
	m.lastCycle.Set(float64(rec.Time.Unix()))
	m.cycles.WithLabelValues(string(rec.Outcome)).Inc()
	for _, c := range rec.Clamps {
		m.clamps.WithLabelValues(string(c.Device)).Inc()
	}
	for _, e := range rec.Errors {
		m.errors.WithLabelValues(e.Component).Inc()
	}
	if _, pulse, ok := rec.Command.Dose(); ok {
		m.doses.WithLabelValues(string(rec.Command.PHAdjustment)).Add(pulse.Seconds())
	}
	m.duration.Observe(rec.Duration.Seconds())
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
