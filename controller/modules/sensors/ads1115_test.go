package sensors

import (
	"context"
	"errors"
	"testing"

	"github.com/hydropi/hydropi/controller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	writes [][]byte
	read   []byte
	err    error
}

func (b *fakeBus) WriteBytes(_ byte, v []byte) error {
	b.writes = append(b.writes, append([]byte(nil), v...))
	return b.err
}

func (b *fakeBus) ReadBytes(_ byte, n int) ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.read[:n], nil
}

func TestADS1115Volts(t *testing.T) {
	bus := &fakeBus{read: []byte{0x4E, 0x20}}
	ads := NewADS1115(bus, 0x48)
	ads.settle = 0

	v, err := ads.Volts(context.Background(), 1)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, v, 1e-9)
	require.Len(t, bus.writes, 2)
	assert.Equal(t, []byte{0x01, 0xD3, 0x83}, bus.writes[0])
	assert.Equal(t, []byte{0x00}, bus.writes[1])
}

func TestADS1115ReadConverts(t *testing.T) {
	bus := &fakeBus{read: []byte{0x4E, 0x20}}
	ads := NewADS1115(bus, 0x48)
	ads.settle = 0
	ph, err := PHConverter(controller.DefaultConfig().Sensors.PHCalibration)
	require.NoError(t, err)
	require.NoError(t, ads.Attach(controller.MetricPH, 1, ph))

	v, err := ads.Read(context.Background(), controller.MetricPH)
	require.NoError(t, err)
	assert.InDelta(t, 7.0, v, 1e-6)

	_, err = ads.Read(context.Background(), controller.MetricTDS)
	assert.Error(t, err)
	assert.Error(t, ads.Attach(controller.MetricTDS, 4, ph))
}

func TestADS1115BusError(t *testing.T) {
	ads := NewADS1115(&fakeBus{err: errors.New("nack")}, 0x48)
	ads.settle = 0
	_, err := ads.Volts(context.Background(), 0)
	assert.ErrorContains(t, err, "nack")
}

func TestPHConverterTwoPoint(t *testing.T) {
	ph, err := PHConverter(controller.DefaultConfig().Sensors.PHCalibration)
	require.NoError(t, err)
	for volts, want := range map[float64]float64{2.5: 7.0, 1.5: 10.5, 2.0: 8.75} {
		got, err := ph(volts)
		require.NoError(t, err)
		assert.InDelta(t, want, got, 1e-6, "volts %v", volts)
	}
}

func TestExpressionConverter(t *testing.T) {
	tds, err := ExpressionConverter(controller.DefaultConfig().Sensors.TDSExpression)
	require.NoError(t, err)
	got, err := tds(1.0)
	require.NoError(t, err)
	assert.InDelta(t, 367.475, got, 1e-6)

	_, err = ExpressionConverter("(v +")
	assert.Error(t, err)
}
