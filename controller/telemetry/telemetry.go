// Package telemetry publishes finished decision records to monitoring sinks.
package telemetry

import (
	"context"
	"errors"

	"github.com/hydropi/hydropi/controller"
	"go.uber.org/zap"
)

type Sink interface {
	Name() string
	Publish(ctx context.Context, rec controller.DecisionRecord) error
}

// Fanout publishes to every sink. One failing sink does not stop the others.
type Fanout struct {
	sinks []Sink
	log   *zap.Logger
}

func NewFanout(log *zap.Logger, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, log: log.Named("telemetry")}
}

func (f *Fanout) Add(s Sink) {
	f.sinks = append(f.sinks, s)
}

func (f *Fanout) Sinks() []string {
	names := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		names = append(names, s.Name())
	}
	return names
}

func (f *Fanout) Publish(ctx context.Context, rec controller.DecisionRecord) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, rec); err != nil {
			f.log.Warn("Sink publish failed", zap.String("sink", s.Name()), zap.String("cycle_id", rec.ID), zap.Error(err))
			errs = append(errs, &controller.PersistenceError{Sink: s.Name(), Cause: err})
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds a connection.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
