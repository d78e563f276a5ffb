package sensors

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/hydropi/hydropi/controller"
	"github.com/reef-pi/hal"
)

const (
	adsRegConversion = 0x00
	adsRegConfig     = 0x01

	// single shot, +/-4.096V, 128 SPS, comparator disabled
	adsConfigBase = 0x8000 | 0x1<<9 | 0x1<<8 | 0x4<<5 | 0x3
	adsFullScale  = 4.096
)

// Bus is the part of an I2C bus the drivers need.
type Bus interface {
	ReadBytes(addr byte, num int) ([]byte, error)
	WriteBytes(addr byte, value []byte) error
}

// Converter maps probe volts to the metric's unit.
type Converter func(volts float64) (float64, error)

type adsChannel struct {
	channel int
	convert Converter
}

// ADS1115 reads analog probes (pH, TDS) through a 16 bit ADC.
type ADS1115 struct {
	bus      Bus
	addr     byte
	channels map[controller.Metric]adsChannel
	mu       sync.Mutex
	settle   time.Duration
}

func NewADS1115(bus Bus, addr byte) *ADS1115 {
	return &ADS1115{
		bus:      bus,
		addr:     addr,
		channels: make(map[controller.Metric]adsChannel),
		settle:   10 * time.Millisecond,
	}
}

// Attach wires a metric to an input channel.
func (a *ADS1115) Attach(m controller.Metric, channel int, convert Converter) error {
	if channel < 0 || channel > 3 {
		return fmt.Errorf("ads1115: invalid channel %d", channel)
	}
	a.channels[m] = adsChannel{channel: channel, convert: convert}
	return nil
}

func (a *ADS1115) Read(ctx context.Context, m controller.Metric) (float64, error) {
	ch, ok := a.channels[m]
	if !ok {
		return 0, fmt.Errorf("ads1115: no channel for %s", m)
	}
	volts, err := a.Volts(ctx, ch.channel)
	if err != nil {
		return 0, err
	}
	return ch.convert(volts)
}

// Volts performs one single-shot conversion on channel.
func (a *ADS1115) Volts(ctx context.Context, channel int) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cfg := uint16(adsConfigBase | (0x4+channel)<<12)
	msg := []byte{adsRegConfig, 0, 0}
	binary.BigEndian.PutUint16(msg[1:], cfg)
	if err := a.bus.WriteBytes(a.addr, msg); err != nil {
		return 0, fmt.Errorf("ads1115: start conversion: %w", err)
	}
	if err := sleepCtx(ctx, a.settle); err != nil {
		return 0, err
	}
	if err := a.bus.WriteBytes(a.addr, []byte{adsRegConversion}); err != nil {
		return 0, fmt.Errorf("ads1115: select conversion register: %w", err)
	}
	data, err := a.bus.ReadBytes(a.addr, 2)
	if err != nil {
		return 0, fmt.Errorf("ads1115: read conversion: %w", err)
	}
	if len(data) != 2 {
		return 0, fmt.Errorf("ads1115: short read (%d bytes)", len(data))
	}
	raw := int16(binary.BigEndian.Uint16(data))
	return float64(raw) * adsFullScale / 32768, nil
}

// PHConverter calibrates probe volts into pH from measured reference points.
func PHConverter(points []controller.CalibrationPoint) (Converter, error) {
	ms := make([]hal.Measurement, 0, len(points))
	for _, p := range points {
		ms = append(ms, hal.Measurement{Observed: p.Observed, Expected: p.Expected})
	}
	cal, err := hal.CalibratorFactory(ms)
	if err != nil {
		return nil, fmt.Errorf("ph calibration: %w", err)
	}
	if cal == nil {
		return nil, fmt.Errorf("ph calibration: no reference points")
	}
	return func(v float64) (float64, error) {
		return cal.Calibrate(v), nil
	}, nil
}

// ExpressionConverter evaluates expr with the probe volts bound to v.
func ExpressionConverter(expr string) (Converter, error) {
	e, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, fmt.Errorf("parse expression %q: %w", expr, err)
	}
	return func(v float64) (float64, error) {
		out, err := e.Evaluate(map[string]interface{}{"v": v})
		if err != nil {
			return 0, err
		}
		f, ok := out.(float64)
		if !ok {
			return 0, fmt.Errorf("expression %q returned %T", expr, out)
		}
		return f, nil
	}, nil
}
