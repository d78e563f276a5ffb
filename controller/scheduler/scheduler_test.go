package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hydropi/hydropi/controller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingRunner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingRunner) RunCycle(context.Context) (controller.DecisionRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return controller.DecisionRecord{ID: "x", Outcome: controller.OutcomeAccepted}, c.err
}

func (c *countingRunner) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestNewPicksFlavor(t *testing.T) {
	r := &countingRunner{}
	s, err := New(controller.CycleConfig{Schedule: "@hourly"}, r, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &Cron{}, s)

	s, err = New(controller.CycleConfig{Schedule: "FREQ=HOURLY;INTERVAL=2", Timezone: "UTC"}, r, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &RRule{}, s)

	s, err = New(controller.CycleConfig{Schedule: "RRULE:FREQ=DAILY;BYHOUR=6,12,18"}, r, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &RRule{}, s)

	s, err = New(controller.CycleConfig{Interval: 30 * time.Minute}, r, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "@every 30m0s", s.(*Cron).spec)
}

func TestNewRejectsBadSchedules(t *testing.T) {
	r := &countingRunner{}
	for _, cfg := range []controller.CycleConfig{
		{},
		{Schedule: "every now and then"},
		{Schedule: "FREQ=SOMETIMES"},
		{Schedule: "@hourly", Timezone: "Mars/Olympus"},
	} {
		_, err := New(cfg, r, zap.NewNop())
		assert.Error(t, err, cfg.Schedule)
	}
}

func TestCronStartStop(t *testing.T) {
	r := &countingRunner{}
	s, err := New(controller.CycleConfig{Schedule: "@hourly"}, r, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	next := s.Next()
	assert.False(t, next.IsZero())
	assert.True(t, next.After(time.Now()))
	s.Stop()
	assert.Zero(t, r.Calls())
}

func TestRRuleFires(t *testing.T) {
	r := &countingRunner{}
	s, err := New(controller.CycleConfig{Schedule: "FREQ=SECONDLY;INTERVAL=1"}, r, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return r.Calls() >= 1 }, 3*time.Second, 20*time.Millisecond)
	s.Stop()
	s.Stop()
}

func TestRRuleStopsOnContext(t *testing.T) {
	r := &countingRunner{}
	s, err := New(controller.CycleConfig{Schedule: "FREQ=DAILY"}, r, zap.NewNop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()
	s.Stop()
	assert.Zero(t, r.Calls())
}

func TestJobSkipsBusyCycle(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	j := &job{run: &countingRunner{err: controller.ErrCycleInProgress}, log: zap.New(core)}
	j.fire(context.Background())
	require.Equal(t, 1, logs.FilterMessage("Skipping scheduled cycle, previous one still running").Len())
}
