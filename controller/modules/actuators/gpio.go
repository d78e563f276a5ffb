package actuators

import (
	"context"
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

type line interface {
	SetValue(int) error
	Close() error
}

// Relay drives an outlet or pump through a GPIO character device line.
type Relay struct {
	line      line
	activeLow bool
}

func NewRelay(chip string, pin int, activeLow bool) (*Relay, error) {
	off := 0
	if activeLow {
		off = 1
	}
	l, err := gpiocdev.RequestLine(chip, pin, gpiocdev.AsOutput(off), gpiocdev.WithConsumer("hydropi"))
	if err != nil {
		return nil, fmt.Errorf("gpio %s:%d: %w", chip, pin, err)
	}
	return &Relay{line: l, activeLow: activeLow}, nil
}

func (r *Relay) Set(_ context.Context, on bool) error {
	v := 0
	if on != r.activeLow {
		v = 1
	}
	return r.line.SetValue(v)
}

func (r *Relay) Close() error {
	return r.line.Close()
}

// RelayPump doses by holding a relay closed for the pulse.
type RelayPump struct {
	*Relay
	sleep func(context.Context, time.Duration) error
}

func NewRelayPump(r *Relay) *RelayPump {
	return &RelayPump{Relay: r, sleep: sleepCtx}
}

func (p *RelayPump) Dose(ctx context.Context, pulse time.Duration) error {
	if err := p.Set(ctx, true); err != nil {
		return err
	}
	serr := p.sleep(ctx, pulse)
	if err := p.Stop(ctx); err != nil {
		return err
	}
	return serr
}

func (p *RelayPump) Stop(ctx context.Context) error {
	return p.Set(ctx, false)
}
