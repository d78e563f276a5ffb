// Package cycle runs the sense, decide, validate, act and record loop.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hydropi/hydropi/controller"
	"github.com/hydropi/hydropi/controller/modules/safety"
	"go.uber.org/zap"
)

// Deps are the components a cycle drives. Camera and Publisher are optional.
type Deps struct {
	Sampler   Sampler
	Validator *safety.Validator
	Oracle    Oracle
	Camera    Camera
	Executor  Executor
	History   History
	Publisher Publisher
}

// Controller serializes decision cycles. At most one cycle runs at a time;
// a trigger arriving while one runs is rejected, not queued.
type Controller struct {
	cfg  controller.CycleConfig
	deps Deps
	log  *zap.Logger
	now  func() time.Time

	running sync.Mutex

	mu      sync.Mutex
	logs    []string
	last    *controller.DecisionRecord
	active  bool
	started time.Time
	cycles  int
}

func New(cfg controller.CycleConfig, deps Deps, log *zap.Logger) (*Controller, error) {
	switch {
	case deps.Sampler == nil:
		return nil, errors.New("cycle: sampler is required")
	case deps.Validator == nil:
		return nil, errors.New("cycle: validator is required")
	case deps.Oracle == nil:
		return nil, errors.New("cycle: oracle is required")
	case deps.Executor == nil:
		return nil, errors.New("cycle: executor is required")
	case deps.History == nil:
		return nil, errors.New("cycle: history is required")
	}
	return &Controller{cfg: cfg, deps: deps, log: log.Named("cycle"), now: time.Now}, nil
}

// Setup creates the buckets the cycle writes to.
func Setup(store bucketCreator) error {
	if err := store.CreateBucket(Bucket); err != nil {
		return fmt.Errorf("create bucket %s: %w", Bucket, err)
	}
	return nil
}

// RunCycle runs one full cycle and returns its record. It fails only with
// controller.ErrCycleInProgress; every other failure is captured in the record.
func (c *Controller) RunCycle(ctx context.Context) (controller.DecisionRecord, error) {
	if !c.running.TryLock() {
		return controller.DecisionRecord{}, controller.ErrCycleInProgress
	}
	defer c.running.Unlock()
	return c.run(ctx), nil
}

// Trigger starts a cycle in the background.
func (c *Controller) Trigger(ctx context.Context) error {
	if !c.running.TryLock() {
		return controller.ErrCycleInProgress
	}
	go func() {
		defer c.running.Unlock()
		c.run(ctx)
	}()
	return nil
}

func (c *Controller) run(ctx context.Context) controller.DecisionRecord {
	start := c.now()
	c.mu.Lock()
	c.active = true
	c.started = start
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
	}()

	rec := controller.DecisionRecord{ID: uuid.NewString(), Time: start}
	log := c.log.With(zap.String("cycle_id", rec.ID))

	// 1) Sample
	snap := c.deps.Sampler.Snapshot(ctx)

	// 2) Pre-check
	pre := c.deps.Validator.Pre(snap)
	rec.Snapshot = pre.Snapshot
	for _, m := range pre.Invalid {
		r, _ := pre.Snapshot.Get(m)
		rec.AddError(controller.ComponentSensors, fmt.Errorf("%s: %s", m, r.Reason))
	}

	if pre.Fallback != nil {
		c.fallback(&rec, pre.Fallback)
	} else {
		c.decide(ctx, &rec, log)
	}

	// 6) Act
	state, err := c.deps.Executor.Apply(ctx, rec.Command)
	rec.State = state
	if err != nil {
		log.Error("Actuation failed", zap.Error(err))
		rec.AddError(controller.ComponentActuators, err)
		rec.Intervention.Escalate("actuator failure: " + err.Error())
	}
	rec.Duration = c.now().Sub(start)

	// 7) Record. Failures here never undo what was applied.
	if err := c.deps.History.Append(rec); err != nil {
		perr := &controller.PersistenceError{Sink: controller.ComponentHistory, Cause: err}
		log.Error("History append failed", zap.Error(perr))
		rec.AddError(controller.ComponentHistory, perr)
	}
	if c.deps.Publisher != nil {
		if err := c.deps.Publisher.Publish(ctx, rec); err != nil {
			log.Warn("Telemetry publish failed", zap.Error(err))
			rec.AddError(controller.ComponentTelemetry, err)
		}
	}

	log.Info("Cycle complete",
		zap.String("outcome", string(rec.Outcome)),
		zap.Int("clamps", len(rec.Clamps)),
		zap.Int("errors", len(rec.Errors)),
		zap.Bool("intervention", rec.Intervention.Needed),
		zap.Duration("duration", rec.Duration),
	)
	c.appendLog(summary(rec))

	c.mu.Lock()
	c.last = &rec
	c.cycles++
	c.mu.Unlock()
	return rec
}

// decide consults the oracle and safety post-check, falling back on any failure.
func (c *Controller) decide(ctx context.Context, rec *controller.DecisionRecord, log *zap.Logger) {
	// 3) History window
	window, err := c.deps.History.Recent(c.cfg.HistoryWindow)
	if err != nil {
		log.Warn("History unavailable, deciding without it", zap.Error(err))
		rec.AddError(controller.ComponentHistory, err)
		window = nil
	}

	// 4) Photo
	var img *controller.Image
	if c.deps.Camera != nil {
		img, err = c.deps.Camera.Capture(ctx)
		if err != nil {
			log.Warn("No photo for this cycle", zap.Error(err))
			rec.AddError(controller.ComponentCamera, err)
		} else {
			ref := img.Ref
			rec.Image = &ref
		}
	}

	// 5) Oracle, exactly one attempt
	octx, cancel := context.WithTimeout(ctx, c.cfg.OracleTimeout)
	cand, err := c.deps.Oracle.Decide(octx, rec.Snapshot, img, window)
	cancel()
	if err != nil {
		var oe *controller.OracleError
		if !errors.As(err, &oe) {
			err = &controller.OracleError{Cause: err}
		}
		rec.AddError(controller.ComponentOracle, err)
		c.fallback(rec, err)
		return
	}
	rec.RawResponse = cand.Raw

	// 5b) Post-check
	post, err := c.deps.Validator.Post(cand.Command, rec.Snapshot)
	if err != nil {
		rec.AddError(controller.ComponentSafety, err)
		c.fallback(rec, err)
		return
	}
	score := cand.HealthScore
	rec.Command = post.Command
	rec.Reasoning = cand.Reasoning
	rec.HealthScore = &score
	rec.Intervention = cand.Intervention
	rec.Clamps = post.Clamps
	rec.Outcome = post.Outcome()
	for _, cl := range post.Clamps {
		rec.Reasoning.Annotate(cl.Device, fmt.Sprintf("[override: %s -> %s, %s]", cl.From, cl.To, cl.Cause))
	}
}

// fallback replaces whatever was decided with the safe defaults.
func (c *Controller) fallback(rec *controller.DecisionRecord, cause error) {
	c.log.Warn("Falling back to safe defaults", zap.String("cycle_id", rec.ID), zap.Error(cause))
	rec.Command = controller.SafeDefaults()
	rec.Outcome = controller.OutcomeFallback
	rec.FallbackCause = cause.Error()
	rec.HealthScore = nil
	rec.Clamps = nil
	rec.Reasoning = controller.Reasoning{
		Overall:    "Safe mode: " + cause.Error() + ". Running failsafe defaults.",
		Light:      "Failsafe: light on to keep photosynthesis going.",
		AirPump:    "Failsafe: air pump on, roots need oxygen.",
		Humidifier: "Failsafe: humidifier off to avoid over-humidifying.",
		PH:         "Failsafe: no dosing without a trusted decision.",
	}
	rec.Intervention = controller.Intervention{}
	rec.Intervention.Escalate("system fallback: " + cause.Error())
}

func summary(rec controller.DecisionRecord) string {
	cmd := rec.Command
	parts := []string{
		fmt.Sprintf("Cycle %s:", rec.Outcome),
		"light=" + string(cmd.Light),
		"air_pump=" + string(cmd.AirPump),
		"humidifier=" + string(cmd.Humidifier),
		"ph=" + string(cmd.PHAdjustment),
	}
	if cmd.DosePulse > 0 {
		parts = append(parts, "dose="+cmd.DosePulse.String())
	}
	if rec.Intervention.Needed {
		parts = append(parts, "(intervention needed)")
	}
	return strings.Join(parts, " ")
}

// appendLog adds an entry to the in-memory activity log, capped at logCap entries.
func (c *Controller) appendLog(msg string) {
	entry := fmt.Sprintf("%s %s", c.now().Format("15:04:05"), msg)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, entry)
	if len(c.logs) > logCap {
		c.logs = c.logs[len(c.logs)-logCap:]
	}
}

func (c *Controller) Logs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.logs...)
}

// Status reports actuator state as recorded by the last finished cycle.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{Running: c.active, Cycles: c.cycles, Last: c.last}
	if c.last != nil {
		s.Actuators = c.last.State.Copy()
	}
	if c.active {
		s.Started = c.started
	}
	return s
}

// Drain waits for a running cycle and then keeps the lock, so no further
// cycle can start. Call it before releasing the actuators.
func (c *Controller) Drain() {
	c.running.Lock()
	c.appendLog("Controller drained")
}
