package sensors

import (
	"context"
	"fmt"
	"time"

	"github.com/hydropi/hydropi/controller"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type sample struct {
	value float64
	err   error
}

// Sampler turns noisy probes into one denoised reading per metric.
type Sampler struct {
	probes map[controller.Metric]Probe
	cfg    controller.SensorsConfig
	log    *zap.Logger
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
}

func NewSampler(probes map[controller.Metric]Probe, cfg controller.SensorsConfig, log *zap.Logger) *Sampler {
	return &Sampler{
		probes: probes,
		cfg:    cfg,
		log:    log.Named("sensors"),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Snapshot samples every metric. Metrics are sampled concurrently up to the
// configured limit; a failed metric yields an invalid reading, never an error.
func (s *Sampler) Snapshot(ctx context.Context) controller.Snapshot {
	readings := make([]controller.SensorReading, len(controller.Metrics))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, m := range controller.Metrics {
		g.Go(func() error {
			readings[i] = s.Sample(ctx, m)
			return nil
		})
	}
	_ = g.Wait()
	return controller.NewSnapshot(s.now(), readings...)
}

// Sample takes the configured number of raw reads of m, discards the warm-up
// reads and averages the valid remainder.
func (s *Sampler) Sample(ctx context.Context, m controller.Metric) controller.SensorReading {
	reading := controller.SensorReading{Metric: m, Unit: m.Unit(), Time: s.now()}
	probe, ok := s.probes[m]
	if !ok {
		return reading.Invalidate("no probe configured")
	}

	samples := make([]sample, 0, s.cfg.ReadingsPerSensor)
	for i := 0; i < s.cfg.ReadingsPerSensor; i++ {
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.ReadDelay); err != nil {
				samples = append(samples, sample{err: err})
				continue
			}
		}
		samples = append(samples, s.read(ctx, probe, m))
	}

	avg, valid, cause := reduce(samples, s.cfg.Discard)
	if valid < s.cfg.MinValid {
		err := &controller.SensorReadError{Metric: m, Valid: valid, Required: s.cfg.MinValid, Cause: cause}
		s.log.Warn("Sensor reading invalid", zap.String("metric", string(m)), zap.Error(err))
		return reading.Invalidate(err.Error())
	}
	reading.Value = avg
	reading.Valid = true
	reading.Time = s.now()
	return reading
}

func (s *Sampler) read(ctx context.Context, probe Probe, m controller.Metric) sample {
	if err := ctx.Err(); err != nil {
		return sample{err: err}
	}
	v, err := probe.Read(ctx, m)
	if err != nil {
		return sample{err: err}
	}
	if limit, ok := Limits[m]; ok && !limit.Contains(v) {
		return sample{err: fmt.Errorf("raw value %g outside physical range %s", v, limit)}
	}
	return sample{value: v}
}

// reduce averages the valid samples after the first discard ones. It returns
// the mean, the number of valid retained samples and the last read error.
func reduce(samples []sample, discard int) (float64, int, error) {
	if discard > len(samples) {
		discard = len(samples)
	}
	var sum float64
	var valid int
	var errs []error
	for _, smp := range samples[discard:] {
		if smp.err != nil {
			errs = append(errs, smp.err)
			continue
		}
		sum += smp.value
		valid++
	}
	var cause error
	if len(errs) > 0 {
		cause = errs[len(errs)-1]
	}
	if valid == 0 {
		return 0, 0, cause
	}
	return sum / float64(valid), valid, cause
}
