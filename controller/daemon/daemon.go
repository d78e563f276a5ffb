// Package daemon assembles the controller from its configuration and runs it.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/hydropi/hydropi/controller"
	"github.com/hydropi/hydropi/controller/modules/actuators"
	"github.com/hydropi/hydropi/controller/modules/camera"
	"github.com/hydropi/hydropi/controller/modules/cycle"
	"github.com/hydropi/hydropi/controller/modules/history"
	"github.com/hydropi/hydropi/controller/modules/oracle"
	"github.com/hydropi/hydropi/controller/modules/safety"
	"github.com/hydropi/hydropi/controller/modules/sensors"
	"github.com/hydropi/hydropi/controller/storage"
	"github.com/hydropi/hydropi/controller/telemetry"
	"github.com/hydropi/hydropi/controller/upload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/reef-pi/rpi/i2c"
	"go.uber.org/zap"
)

type Option func(*options)

type options struct {
	generator oracle.Generator
}

// WithGenerator replaces the genai client, mostly for tests.
func WithGenerator(g oracle.Generator) Option {
	return func(o *options) { o.generator = g }
}

type Daemon struct {
	cfg      *controller.Config
	log      *zap.Logger
	store    *storage.Store
	history  *history.Store
	executor *actuators.Executor
	fanout   *telemetry.Fanout
	registry *prometheus.Registry
	cycle    *cycle.Controller
	closers  []io.Closer
	mqtt     mqtt.Client
	started  time.Time
}

// New opens every resource cfg asks for. On error everything opened so far is released.
func New(ctx context.Context, cfg *controller.Config, log *zap.Logger, opts ...Option) (*Daemon, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.DevMode {
		cfg = devConfig(cfg)
		log.Warn("Dev mode: static sensors, in-memory actuators, no camera")
	}
	d := &Daemon{cfg: cfg, log: log, registry: prometheus.NewRegistry(), started: time.Now()}
	if err := d.setup(ctx, o); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) setup(ctx context.Context, o options) error {
	cfg := d.cfg

	// 1) Storage
	store, err := storage.New(cfg.Database)
	if err != nil {
		return err
	}
	d.store = store
	d.closers = append(d.closers, store)
	if err := cycle.Setup(store); err != nil {
		return err
	}
	d.history = history.New(store)

	// 2) Shared connections
	var bus i2c.Bus
	if cfg.Sensors.Backend == "hardware" || cfg.Actuators.PumpBackend == "motorhat" {
		bus, err = i2c.New()
		if err != nil {
			return fmt.Errorf("open i2c bus: %w", err)
		}
		d.closers = append(d.closers, bus)
	}
	if cfg.MQTT.Enable {
		d.mqtt, err = telemetry.ConnectMQTT(ctx, cfg.MQTT, d.log)
		if err != nil {
			return err
		}
	}

	// 3) Sensors
	probes, err := sensors.NewProbes(cfg.Sensors, bus)
	if err != nil {
		return err
	}
	sampler := sensors.NewSampler(probes, cfg.Sensors, d.log)

	// 4) Actuators
	adeps := actuators.Deps{QoS: cfg.MQTT.QoS, MQTTTimeout: cfg.MQTT.Timeout, Bus: bus}
	if d.mqtt != nil {
		adeps.MQTT = d.mqtt
	}
	outlets, pumps, err := actuators.Build(cfg.Actuators, adeps)
	if err != nil {
		return err
	}
	d.executor = actuators.NewExecutor(outlets, pumps, cfg.Actuators.CommandDelay, d.log)

	// 5) Oracle
	gen := o.generator
	if gen == nil {
		gen, err = oracle.NewGenerator(ctx, cfg.Oracle)
		if err != nil {
			return err
		}
	}

	// 6) Telemetry
	d.fanout = telemetry.NewFanout(d.log)
	if cfg.Telemetry.Prometheus {
		d.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		d.fanout.Add(telemetry.NewMetrics(d.registry))
	}
	if cfg.Telemetry.AlertFile != "" {
		d.fanout.Add(telemetry.NewAlertFile(cfg.Telemetry.AlertFile))
	}
	if d.mqtt != nil {
		d.fanout.Add(telemetry.NewMQTT(d.mqtt, cfg.MQTT))
	}
	if cfg.Telemetry.AdafruitIO.Enable {
		d.fanout.Add(telemetry.NewAdafruitIO(cfg.Telemetry.AdafruitIO))
	}
	if cfg.Telemetry.Kafka.Enable {
		d.fanout.Add(telemetry.NewKafka(cfg.Telemetry.Kafka))
	}
	if cfg.Upload.Enable {
		pg, err := upload.Connect(ctx, cfg.Upload, d.log)
		if err != nil {
			return err
		}
		d.fanout.Add(pg)
	}
	d.closers = append(d.closers, d.fanout)

	// 7) Cycle
	deps := cycle.Deps{
		Sampler:   sampler,
		Validator: safety.New(cfg.Safety, cfg.Cycle.Interval),
		Oracle:    oracle.New(gen, *cfg, d.log),
		Executor:  d.executor,
		History:   d.history,
		Publisher: d.fanout,
	}
	if cfg.Camera.Enable {
		deps.Camera = camera.New(cfg.Camera, d.log)
	}
	d.cycle, err = cycle.New(cfg.Cycle, deps, d.log)
	if err != nil {
		return err
	}
	d.log.Info("Controller ready",
		zap.Strings("sinks", d.fanout.Sinks()),
		zap.String("outlets", cfg.Actuators.OutletBackend),
		zap.String("pumps", cfg.Actuators.PumpBackend),
		zap.String("sensors", cfg.Sensors.Backend),
	)
	return nil
}

// devConfig swaps hardware backends for simulated ones.
func devConfig(in *controller.Config) *controller.Config {
	cfg := *in
	cfg.Sensors.Backend = "static"
	if len(cfg.Sensors.Static) == 0 {
		cfg.Sensors.Static = make(map[controller.Metric]float64, len(controller.Metrics))
		for _, m := range controller.Metrics {
			r := cfg.Safety.Ideal[m]
			cfg.Sensors.Static[m] = (r.Min + r.Max) / 2
		}
	}
	cfg.Sensors.ReadDelay = 0
	cfg.Actuators.OutletBackend = "memory"
	cfg.Actuators.PumpBackend = "memory"
	cfg.Actuators.CommandDelay = 0
	cfg.Camera.Enable = false
	return &cfg
}

func (d *Daemon) Cycle() *cycle.Controller { return d.cycle }

func (d *Daemon) History() *history.Store { return d.history }

// RunOnce runs a single cycle, as used by cron-driven deployments.
func (d *Daemon) RunOnce(ctx context.Context) (controller.DecisionRecord, error) {
	return d.cycle.RunCycle(ctx)
}

// Close waits for a running cycle, stops dosing, disconnects and closes
// storage. Safe to call on a partially built daemon and more than once.
func (d *Daemon) Close() error {
	var errs []error
	if d.cycle != nil {
		d.cycle.Drain()
		d.cycle = nil
	}
	if d.executor != nil {
		errs = append(errs, d.executor.Close())
		d.executor = nil
	}
	if d.mqtt != nil {
		d.mqtt.Disconnect(250)
		d.mqtt = nil
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i].Close())
	}
	d.closers = nil
	return errors.Join(errs...)
}
