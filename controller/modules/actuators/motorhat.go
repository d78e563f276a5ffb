package actuators

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Bus is the part of an I2C bus the motor driver needs.
type Bus interface {
	WriteBytes(addr byte, value []byte) error
}

const (
	pcaMode1         = 0x00
	pcaLED0          = 0x06
	pcaAutoIncrement = 0x20
	pcaFullBit       = 0x10
)

type motorPins struct{ pwm, in1, in2 int }

// PCA9685 channels per DC motor port.
var motorChannels = map[int]motorPins{
	1: {pwm: 8, in1: 10, in2: 9},
	2: {pwm: 13, in1: 11, in2: 12},
	3: {pwm: 2, in1: 4, in2: 3},
	4: {pwm: 7, in1: 5, in2: 6},
}

// MotorHat drives peristaltic pumps wired to a PCA9685 based DC motor HAT.
// Pumps only run at full speed, so every channel is either fully on or fully off.
type MotorHat struct {
	bus  Bus
	addr byte
	mu   sync.Mutex
}

func NewMotorHat(bus Bus, addr byte) (*MotorHat, error) {
	h := &MotorHat{bus: bus, addr: addr}
	if err := bus.WriteBytes(addr, []byte{pcaMode1, pcaAutoIncrement}); err != nil {
		return nil, fmt.Errorf("motorhat: init: %w", err)
	}
	return h, nil
}

func (h *MotorHat) setPin(ch int, on bool) error {
	b := []byte{pcaLED0 + 4*byte(ch), 0, 0, 0, 0}
	if on {
		b[2] = pcaFullBit
	} else {
		b[4] = pcaFullBit
	}
	return h.bus.WriteBytes(h.addr, b)
}

func (h *MotorHat) Motor(n int) (*Motor, error) {
	pins, ok := motorChannels[n]
	if !ok {
		return nil, fmt.Errorf("motorhat: no motor %d", n)
	}
	return &Motor{hat: h, pins: pins, sleep: sleepCtx}, nil
}

type Motor struct {
	hat   *MotorHat
	pins  motorPins
	sleep func(context.Context, time.Duration) error
}

func (m *Motor) forward() error {
	m.hat.mu.Lock()
	defer m.hat.mu.Unlock()
	for _, step := range []struct {
		ch int
		on bool
	}{{m.pins.in2, false}, {m.pins.in1, true}, {m.pins.pwm, true}} {
		if err := m.hat.setPin(step.ch, step.on); err != nil {
			return err
		}
	}
	return nil
}

func (m *Motor) Dose(ctx context.Context, pulse time.Duration) error {
	if err := m.forward(); err != nil {
		_ = m.Stop(ctx)
		return fmt.Errorf("motorhat: start: %w", err)
	}
	serr := m.sleep(ctx, pulse)
	if err := m.Stop(ctx); err != nil {
		return err
	}
	return serr
}

// Stop releases the motor.
func (m *Motor) Stop(_ context.Context) error {
	m.hat.mu.Lock()
	defer m.hat.mu.Unlock()
	for _, ch := range []int{m.pins.pwm, m.pins.in1, m.pins.in2} {
		if err := m.hat.setPin(ch, false); err != nil {
			return fmt.Errorf("motorhat: release: %w", err)
		}
	}
	return nil
}
