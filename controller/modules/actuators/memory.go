package actuators

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process outlet and pump for development without hardware.
type Memory struct {
	mu    sync.Mutex
	on    bool
	sets  int
	doses []time.Duration
	Err   error
}

func (m *Memory) Set(_ context.Context, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.on = on
	m.sets++
	return nil
}

func (m *Memory) Dose(_ context.Context, pulse time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.doses = append(m.doses, pulse)
	return nil
}

func (m *Memory) Stop(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.on = false
	return nil
}

func (m *Memory) On() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.on
}

// Sets counts successful switch commands.
func (m *Memory) Sets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

func (m *Memory) Doses() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.doses...)
}
