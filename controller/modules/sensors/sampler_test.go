package sensors

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hydropi/hydropi/controller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scripted returns the queued results for each metric in order.
type scripted struct {
	mu      sync.Mutex
	results map[controller.Metric][]sample
	calls   map[controller.Metric]int
}

func newScripted() *scripted {
	return &scripted{results: map[controller.Metric][]sample{}, calls: map[controller.Metric]int{}}
}

func (s *scripted) set(m controller.Metric, results ...sample) { s.results[m] = results }

func (s *scripted) Read(_ context.Context, m controller.Metric) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls[m]
	s.calls[m]++
	r := s.results[m]
	if i >= len(r) {
		return 0, errors.New("exhausted")
	}
	return r[i].value, r[i].err
}

func ok(v float64) sample { return sample{value: v} }

func fail() sample { return sample{err: errors.New("bus error")} }

func testSampler(probe Probe, metrics ...controller.Metric) *Sampler {
	probes := map[controller.Metric]Probe{}
	for _, m := range metrics {
		probes[m] = probe
	}
	cfg := controller.DefaultConfig().Sensors
	s := NewSampler(probes, cfg, zap.NewNop())
	s.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return s
}

func TestSampleDiscardsWarmupReads(t *testing.T) {
	p := newScripted()
	p.set(controller.MetricPH, ok(1), ok(1), ok(6.0), ok(6.2), ok(6.4))
	s := testSampler(p, controller.MetricPH)

	r := s.Sample(context.Background(), controller.MetricPH)
	assert.True(t, r.Valid)
	assert.InDelta(t, 6.2, r.Value, 1e-9)
	assert.Equal(t, 5, p.calls[controller.MetricPH])
}

func TestSampleToleratesOneFailedRetainedRead(t *testing.T) {
	p := newScripted()
	p.set(controller.MetricTDS, fail(), fail(), ok(700), fail(), ok(720))
	s := testSampler(p, controller.MetricTDS)

	r := s.Sample(context.Background(), controller.MetricTDS)
	assert.True(t, r.Valid)
	assert.InDelta(t, 710, r.Value, 1e-9)
	assert.Equal(t, "ppm", r.Unit)
}

func TestSampleInvalidWithTooFewValid(t *testing.T) {
	p := newScripted()
	p.set(controller.MetricPH, ok(6), ok(6), fail(), fail(), ok(6.1))
	s := testSampler(p, controller.MetricPH)

	r := s.Sample(context.Background(), controller.MetricPH)
	assert.False(t, r.Valid)
	assert.Zero(t, r.Value)
	assert.Contains(t, r.Reason, "1 valid retained samples, need 2")
}

func TestSampleRejectsPhysicallyImpossibleValues(t *testing.T) {
	p := newScripted()
	p.set(controller.MetricHumidity, ok(50), ok(50), ok(140), ok(-3), ok(55))
	s := testSampler(p, controller.MetricHumidity)

	r := s.Sample(context.Background(), controller.MetricHumidity)
	assert.False(t, r.Valid)
	assert.Contains(t, r.Reason, "outside physical range")
}

func TestSampleWithoutProbe(t *testing.T) {
	s := testSampler(newScripted())
	r := s.Sample(context.Background(), controller.MetricWaterTemp)
	assert.False(t, r.Valid)
	assert.Equal(t, "no probe configured", r.Reason)
}

func TestSnapshotCoversEveryMetric(t *testing.T) {
	p := newScripted()
	for _, m := range controller.Metrics {
		p.set(m, ok(1), ok(1), ok(7), ok(7), ok(7))
	}
	s := testSampler(p, controller.MetricAirTemp, controller.MetricHumidity, controller.MetricWaterTemp, controller.MetricPH)

	snap := s.Snapshot(context.Background())
	require.Len(t, snap.Readings, len(controller.Metrics))
	for i, m := range controller.Metrics {
		assert.Equal(t, m, snap.Readings[i].Metric)
	}
	v, valid := snap.Value(controller.MetricAirTemp)
	assert.True(t, valid)
	assert.Equal(t, 7.0, v)
	_, valid = snap.Value(controller.MetricTDS)
	assert.False(t, valid)
}

func TestSampleCancelled(t *testing.T) {
	p := newScripted()
	p.set(controller.MetricPH, ok(6), ok(6), ok(6), ok(6), ok(6))
	s := testSampler(p, controller.MetricPH)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := s.Sample(ctx, controller.MetricPH)
	assert.False(t, r.Valid)
	assert.Zero(t, p.calls[controller.MetricPH])
}

func TestStaticProbe(t *testing.T) {
	s := Static{controller.MetricPH: 6.1}
	v, err := s.Read(context.Background(), controller.MetricPH)
	require.NoError(t, err)
	assert.Equal(t, 6.1, v)
	_, err = s.Read(context.Background(), controller.MetricTDS)
	assert.Error(t, err)
}
