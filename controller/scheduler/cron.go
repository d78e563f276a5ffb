package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

type Cron struct {
	spec  string
	sched cron.Schedule
	loc   *time.Location
	job   *job
	cron  *cron.Cron

	mu    sync.Mutex
	entry cron.EntryID
}

func newCron(spec string, loc *time.Location, j *job) (*Cron, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("scheduler: cron spec %q: %w", spec, err)
	}
	l := cronLogger{s: j.log.Sugar()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	return &Cron{spec: spec, sched: sched, loc: loc, job: j, cron: c}, nil
}

func (c *Cron) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry != 0 {
		return fmt.Errorf("scheduler: already started")
	}
	id, err := c.cron.AddFunc(c.spec, func() { c.job.fire(ctx) })
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	c.entry = id
	c.cron.Start()
	c.job.log.Info("Cycle schedule started", zap.String("cron", c.spec), zap.Time("next", c.Next()))
	return nil
}

// Stop waits for a running cycle to finish.
func (c *Cron) Stop() {
	<-c.cron.Stop().Done()
}

func (c *Cron) Next() time.Time {
	return c.sched.Next(time.Now().In(c.loc))
}
