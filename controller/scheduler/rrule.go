package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/teambition/rrule-go"
	"go.uber.org/zap"
)

// ParseRRule parses an RRULE string (e.g. "FREQ=HOURLY;INTERVAL=4") anchored
// at start. BYHOUR and friends are evaluated in start's location.
func ParseRRule(ruleStr string, start time.Time) (*rrule.RRule, error) {
	opt, err := rrule.StrToROption(ruleStr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: rrule %q: %w", ruleStr, err)
	}
	opt.Dtstart = start
	rr, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("scheduler: rrule %q: %w", ruleStr, err)
	}
	return rr, nil
}

type RRule struct {
	rule *rrule.RRule
	job  *job
	now  func() time.Time

	mu   sync.Mutex
	quit chan struct{}
	wg   sync.WaitGroup
}

func newRRule(ruleStr string, loc *time.Location, j *job) (*RRule, error) {
	rr, err := ParseRRule(ruleStr, time.Now().In(loc).Truncate(time.Second))
	if err != nil {
		return nil, err
	}
	return &RRule{rule: rr, job: j, now: time.Now}, nil
}

func (r *RRule) Next() time.Time {
	return r.rule.After(r.now(), false)
}

// Start spawns a goroutine that waits for each recurrence and fires a
// cycle. It stops when Stop is called, ctx is done or the rule is exhausted.
func (r *RRule) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.quit != nil {
		return fmt.Errorf("scheduler: already started")
	}
	quit := make(chan struct{})
	r.quit = quit
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			next := r.Next()
			if next.IsZero() {
				r.job.log.Info("Cycle schedule exhausted")
				return
			}
			t := time.NewTimer(time.Until(next))
			select {
			case <-t.C:
				r.job.fire(ctx)
			case <-quit:
				t.Stop()
				return
			case <-ctx.Done():
				t.Stop()
				return
			}
		}
	}()
	r.job.log.Info("Cycle schedule started", zap.String("rrule", r.rule.String()), zap.Time("next", r.Next()))
	return nil
}

func (r *RRule) Stop() {
	r.mu.Lock()
	if r.quit != nil {
		close(r.quit)
		r.quit = nil
	}
	r.mu.Unlock()
	r.wg.Wait()
}
