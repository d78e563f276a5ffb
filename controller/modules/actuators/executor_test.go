package actuators

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hydropi/hydropi/controller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type rig struct {
	exec    *Executor
	outlets map[controller.Device]*Memory
	pumps   map[controller.Device]*Memory
	slept   []time.Duration
}

func newRig() *rig {
	r := &rig{outlets: map[controller.Device]*Memory{}, pumps: map[controller.Device]*Memory{}}
	outlets := map[controller.Device]Outlet{}
	for _, d := range controller.Outlets {
		m := &Memory{}
		r.outlets[d] = m
		outlets[d] = m
	}
	pumps := map[controller.Device]Pump{}
	for _, d := range []controller.Device{controller.DevicePHUp, controller.DevicePHDown} {
		m := &Memory{}
		r.pumps[d] = m
		pumps[d] = m
	}
	r.exec = NewExecutor(outlets, pumps, time.Second, zap.NewNop())
	r.exec.sleep = func(ctx context.Context, d time.Duration) error {
		r.slept = append(r.slept, d)
		return ctx.Err()
	}
	return r
}

func TestApplySafeDefaults(t *testing.T) {
	r := newRig()
	state, err := r.exec.Apply(context.Background(), controller.SafeDefaults())
	require.NoError(t, err)

	assert.True(t, r.outlets[controller.DeviceLight].On())
	assert.True(t, r.outlets[controller.DeviceAirPump].On())
	assert.False(t, r.outlets[controller.DeviceHumidifier].On())
	assert.True(t, state[controller.DeviceLight].Known)
	assert.Empty(t, r.pumps[controller.DevicePHUp].Doses())
	assert.Empty(t, r.pumps[controller.DevicePHDown].Doses())
}

func TestApplyReassertsEveryCycle(t *testing.T) {
	r := newRig()
	_, err := r.exec.Apply(context.Background(), controller.SafeDefaults())
	require.NoError(t, err)
	first := len(r.slept)
	_, err = r.exec.Apply(context.Background(), controller.SafeDefaults())
	require.NoError(t, err)

	for _, d := range controller.Outlets {
		assert.Equal(t, 2, r.outlets[d].Sets(), "device %s", d)
	}
	assert.Len(t, r.slept, first, "unchanged devices are not spaced out")
}

func TestApplyRecoversDriftedOutlet(t *testing.T) {
	r := newRig()
	before, err := r.exec.Apply(context.Background(), controller.SafeDefaults())
	require.NoError(t, err)

	// plug lost power and came back off
	require.NoError(t, r.outlets[controller.DeviceAirPump].Stop(context.Background()))
	require.False(t, r.outlets[controller.DeviceAirPump].On())

	after, err := r.exec.Apply(context.Background(), controller.SafeDefaults())
	require.NoError(t, err)
	assert.True(t, r.outlets[controller.DeviceAirPump].On())
	assert.Equal(t, 2, r.outlets[controller.DeviceAirPump].Sets())
	assert.Equal(t, before[controller.DeviceAirPump].Changed, after[controller.DeviceAirPump].Changed)
}

func TestApplyDosesOnePump(t *testing.T) {
	r := newRig()
	cmd := controller.SafeDefaults()
	cmd.PHAdjustment = controller.PHDown
	cmd.DosePulse = 7 * time.Second

	state, err := r.exec.Apply(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7 * time.Second}, r.pumps[controller.DevicePHDown].Doses())
	assert.Empty(t, r.pumps[controller.DevicePHUp].Doses())
	assert.Equal(t, 7*time.Second, state[controller.DevicePHDown].LastDose)
}

func TestApplyHumidifierBurst(t *testing.T) {
	r := newRig()
	cmd := controller.SafeDefaults()
	cmd.Humidifier = controller.On
	cmd.HumidifierBurst = 5 * time.Minute

	state, err := r.exec.Apply(context.Background(), cmd)
	require.NoError(t, err)
	assert.Contains(t, r.slept, 5*time.Minute)
	assert.False(t, r.outlets[controller.DeviceHumidifier].On())
	assert.Equal(t, 2, r.outlets[controller.DeviceHumidifier].Sets())
	assert.False(t, state[controller.DeviceHumidifier].On)
}

func TestApplyBurstEndsWhenCancelled(t *testing.T) {
	r := newRig()
	_, err := r.exec.Apply(context.Background(), controller.SafeDefaults())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r.exec.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	cmd := controller.SafeDefaults()
	cmd.Humidifier = controller.On
	cmd.HumidifierBurst = time.Minute
	_, err = r.exec.Apply(ctx, cmd)
	assert.NoError(t, err)
	assert.False(t, r.outlets[controller.DeviceHumidifier].On())
}

func TestApplyAggregatesFailures(t *testing.T) {
	r := newRig()
	r.outlets[controller.DeviceLight].Err = errors.New("relay stuck")

	state, err := r.exec.Apply(context.Background(), controller.SafeDefaults())
	require.Error(t, err)
	var ae *controller.ActuatorError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, controller.DeviceLight, ae.Device)
	assert.True(t, r.outlets[controller.DeviceAirPump].On(), "other devices still applied")
	assert.False(t, state[controller.DeviceLight].Known)
	assert.Equal(t, "relay stuck", state[controller.DeviceLight].Error)

	r.outlets[controller.DeviceLight].Err = nil
	_, err = r.exec.Apply(context.Background(), controller.SafeDefaults())
	require.NoError(t, err)
	assert.True(t, r.outlets[controller.DeviceLight].On(), "unknown state is retried")
}

type stuckPump struct {
	Memory
	stops int
}

func (p *stuckPump) Dose(context.Context, time.Duration) error { return errors.New("i2c nack") }

func (p *stuckPump) Stop(context.Context) error {
	p.stops++
	return nil
}

func TestApplyDoseFailureStopsPumps(t *testing.T) {
	r := newRig()
	up := &stuckPump{}
	r.exec.pumps[controller.DevicePHUp] = up
	cmd := controller.SafeDefaults()
	cmd.PHAdjustment = controller.PHUp
	cmd.DosePulse = time.Second

	_, err := r.exec.Apply(context.Background(), cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "i2c nack")
	assert.Equal(t, 1, up.stops)
}

func TestApplyRefusesInvalidCommand(t *testing.T) {
	r := newRig()
	cmd := controller.SafeDefaults()
	cmd.PHAdjustment = controller.PHUp
	_, err := r.exec.Apply(context.Background(), cmd)
	assert.Error(t, err)
	assert.Zero(t, r.outlets[controller.DeviceLight].Sets())
}

func TestApplyMissingOutlet(t *testing.T) {
	r := newRig()
	delete(r.exec.outlets, controller.DeviceHumidifier)
	_, err := r.exec.Apply(context.Background(), controller.SafeDefaults())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no outlet configured")
}
