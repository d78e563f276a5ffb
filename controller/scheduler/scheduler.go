// Package scheduler triggers decision cycles on a cron or RRULE schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hydropi/hydropi/controller"
	"go.uber.org/zap"
)

// Runner runs one decision cycle.
type Runner interface {
	RunCycle(ctx context.Context) (controller.DecisionRecord, error)
}

type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
	// Next reports when the next cycle fires, zero if never.
	Next() time.Time
}

// New picks the schedule flavor from cfg.Schedule: RRULE strings
// ("FREQ=HOURLY;INTERVAL=2" or with an "RRULE:" prefix) or cron specs,
// including descriptors such as "@hourly" and "@every 30m". An empty
// schedule falls back to "@every <interval>".
func New(cfg controller.CycleConfig, run Runner, log *zap.Logger) (Scheduler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	spec := strings.TrimSpace(cfg.Schedule)
	if spec == "" {
		if cfg.Interval <= 0 {
			return nil, errors.New("scheduler: neither schedule nor interval set")
		}
		spec = "@every " + cfg.Interval.String()
	}
	j := &job{run: run, log: log.Named("scheduler")}
	if isRRule(spec) {
		return newRRule(strings.TrimPrefix(spec, "RRULE:"), loc, j)
	}
	return newCron(spec, loc, j)
}

func isRRule(spec string) bool {
	s := strings.ToUpper(spec)
	return strings.HasPrefix(s, "RRULE:") || strings.HasPrefix(s, "FREQ=")
}

// job adapts a Runner to a scheduled tick. A tick that lands while a
// cycle is still running is dropped, never queued.
type job struct {
	run Runner
	log *zap.Logger
}

func (j *job) fire(ctx context.Context) {
	rec, err := j.run.RunCycle(ctx)
	if errors.Is(err, controller.ErrCycleInProgress) {
		j.log.Warn("Skipping scheduled cycle, previous one still running")
		return
	}
	if err != nil {
		j.log.Error("Scheduled cycle failed", zap.Error(err))
		return
	}
	j.log.Debug("Scheduled cycle finished", zap.String("cycle_id", rec.ID), zap.String("outcome", string(rec.Outcome)))
}
