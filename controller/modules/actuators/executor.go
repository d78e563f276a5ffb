// Package actuators applies validated commands to physical devices.
package actuators

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hydropi/hydropi/controller"
	"go.uber.org/zap"
)

// Outlet is a binary device.
type Outlet interface {
	Set(ctx context.Context, on bool) error
}

// Pump is a dosing pump. Dose blocks for the pulse and always leaves the pump stopped.
type Pump interface {
	Dose(ctx context.Context, pulse time.Duration) error
	Stop(ctx context.Context) error
}

type Executor struct {
	outlets map[controller.Device]Outlet
	pumps   map[controller.Device]Pump
	delay   time.Duration
	log     *zap.Logger
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error

	apply sync.Mutex
	mu    sync.Mutex
	state controller.ActuatorState
}

// NewExecutor wires outlets and pumps. delay spaces consecutive outlet switches.
func NewExecutor(outlets map[controller.Device]Outlet, pumps map[controller.Device]Pump, delay time.Duration, log *zap.Logger) *Executor {
	return &Executor{
		outlets: outlets,
		pumps:   pumps,
		delay:   delay,
		log:     log.Named("actuators"),
		now:     time.Now,
		sleep:   sleepCtx,
		state:   make(controller.ActuatorState),
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

// State returns a copy of the last known device states.
func (e *Executor) State() controller.ActuatorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Copy()
}

// Apply drives every device toward cmd. Every outlet directive is sent on
// every call; the delay only spaces commands that change a device. Failures
// are collected per device so one faulty device does not stop the others.
func (e *Executor) Apply(ctx context.Context, cmd controller.Command) (controller.ActuatorState, error) {
	if err := cmd.Validate(); err != nil {
		return e.State(), fmt.Errorf("refusing command: %w", err)
	}
	e.apply.Lock()
	defer e.apply.Unlock()

	var errs []error
	switched := false
	for _, d := range controller.Outlets {
		want := cmd.Switch(d) == controller.On
		change := !e.known(d, want)
		if change && switched {
			if err := e.sleep(ctx, e.delay); err != nil {
				errs = append(errs, &controller.ActuatorError{Device: d, Cause: err})
				continue
			}
		}
		if change {
			switched = true
		}
		if err := e.set(ctx, d, want, change); err != nil {
			errs = append(errs, err)
		}
	}

	if dev, pulse, ok := cmd.Dose(); ok {
		if err := e.dose(ctx, dev, pulse); err != nil {
			errs = append(errs, err)
			if serr := e.EmergencyStop(context.WithoutCancel(ctx)); serr != nil {
				errs = append(errs, serr)
			}
		}
	}

	if cmd.Humidifier == controller.On && cmd.HumidifierBurst > 0 && e.known(controller.DeviceHumidifier, true) {
		if err := e.sleep(ctx, cmd.HumidifierBurst); err != nil {
			e.log.Warn("Humidifier burst interrupted", zap.Error(err))
		}
		if err := e.set(context.WithoutCancel(ctx), controller.DeviceHumidifier, false, true); err != nil {
			errs = append(errs, err)
		}
	}

	return e.State(), errors.Join(errs...)
}

func (e *Executor) known(d controller.Device, on bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.state[d]
	return ok && st.Known && st.On == on
}

func (e *Executor) set(ctx context.Context, d controller.Device, on, change bool) error {
	outlet, ok := e.outlets[d]
	if !ok {
		err := &controller.ActuatorError{Device: d, Cause: errors.New("no outlet configured")}
		e.record(d, controller.DeviceState{Error: err.Cause.Error()})
		return err
	}
	if err := outlet.Set(ctx, on); err != nil {
		e.log.Error("Outlet command failed", zap.String("device", string(d)), zap.Bool("on", on), zap.Error(err))
		e.record(d, controller.DeviceState{Error: err.Error()})
		return &controller.ActuatorError{Device: d, Cause: err}
	}
	if !change {
		e.log.Debug("Outlet state reasserted", zap.String("device", string(d)), zap.Bool("on", on))
		return nil
	}
	e.log.Info("Outlet switched", zap.String("device", string(d)), zap.Bool("on", on))
	e.record(d, controller.DeviceState{On: on, Known: true, Changed: e.now()})
	return nil
}

func (e *Executor) dose(ctx context.Context, d controller.Device, pulse time.Duration) error {
	pump, ok := e.pumps[d]
	if !ok {
		return &controller.ActuatorError{Device: d, Cause: errors.New("no pump configured")}
	}
	e.log.Info("Dosing", zap.String("pump", string(d)), zap.Duration("pulse", pulse))
	if err := pump.Dose(ctx, pulse); err != nil {
		e.record(d, controller.DeviceState{Error: err.Error()})
		return &controller.ActuatorError{Device: d, Cause: err}
	}
	e.record(d, controller.DeviceState{Known: true, LastDose: pulse, Changed: e.now()})
	return nil
}

func (e *Executor) record(d controller.Device, st controller.DeviceState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state[d] = st
}

// EmergencyStop stops every pump.
func (e *Executor) EmergencyStop(ctx context.Context) error {
	var errs []error
	for d, p := range e.pumps {
		if err := p.Stop(ctx); err != nil {
			errs = append(errs, &controller.ActuatorError{Device: d, Cause: fmt.Errorf("emergency stop: %w", err)})
		}
	}
	if len(errs) == 0 {
		e.log.Warn("Emergency stop: all pumps stopped")
	}
	return errors.Join(errs...)
}

// Close stops the pumps and releases any device handles.
func (e *Executor) Close() error {
	errs := []error{e.EmergencyStop(context.Background())}
	for _, o := range e.outlets {
		if c, ok := o.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	for _, p := range e.pumps {
		if c, ok := p.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
