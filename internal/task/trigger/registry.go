package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"evsched/internal/domain"
	"evsched/internal/eventbus"
	"evsched/internal/observability/metrics"
	"evsched/internal/runtime/supervisor"
	"evsched/internal/task/recurrence"
	logx "evsched/pkg/logx"
)

type handle struct {
	key    domain.TaskKey
	kind   kind
	spec   string
	at     time.Time
	window Window
	onFire FireFunc

	armedAt time.Time
	entryID cron.EntryID
	timer   *time.Timer

	// mu is held across guard evaluation and onFire.
	mu        sync.Mutex
	cancelled bool
	fires     uint64
	lastFired time.Time
}

type fireRequest struct {
	h       *handle
	firedAt time.Time
}

// Registry maps task keys to armed triggers.
type Registry struct {
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	metrics metrics.Sink
	now     func() time.Time

	mu      sync.Mutex
	c       *cron.Cron
	sup     *supervisor.Supervisor
	fires   chan fireRequest
	stopCh  chan struct{}
	handles map[domain.TaskKey]*handle

	throttle *logx.Throttle
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, m metrics.Sink) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		cfg:      cfg.withDefaults(),
		log:      log,
		bus:      bus,
		metrics:  metrics.OrNoop(m),
		now:      time.Now,
		handles:  map[domain.TaskKey]*handle{},
		throttle: logx.NewThrottle(5 * time.Second),
	}
}

// Start launches the cron runner and the evaluator pool.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return
	}
	cl := cronLogger{log: r.log}
	r.c = cron.New(
		cron.WithParser(recurrence.Parser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	r.fires = make(chan fireRequest, r.cfg.QueueSize)
	r.stopCh = make(chan struct{})
	r.sup = supervisor.New(ctx, supervisor.WithLogger(r.log))
	for i := 0; i < r.cfg.PoolSize; i++ {
		r.sup.GoRestart(fmt.Sprintf("trigger.eval.%d", i), r.evaluator(r.fires))
	}
	r.c.Start()
	r.log.Info("registry started", logx.Int("pool", r.cfg.PoolSize))
}

// Stop disarms everything, stops cron and waits for the evaluators.
func (r *Registry) Stop(ctx context.Context) error {
	start := time.Now()
	r.DisarmAll()

	r.mu.Lock()
	c, sup, stopCh := r.c, r.sup, r.stopCh
	r.c, r.sup, r.stopCh, r.fires = nil, nil, nil, nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}

	close(stopCh)
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	err := sup.Stop(ctx)
	r.log.Info("registry stopped", logx.Duration("took", time.Since(start)))
	return err
}

// ArmCron registers spec for key, replacing any existing trigger. spec must
// already carry a CRON_TZ prefix when a non-UTC zone is wanted.
func (r *Registry) ArmCron(key domain.TaskKey, spec string, w Window, onFire FireFunc) error {
	if onFire == nil {
		return ErrNilHandler
	}
	sched, err := recurrence.Parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse %q: %w", spec, err)
	}
	h := &handle{key: key, kind: kindCron, spec: spec, window: w, onFire: onFire}

	r.mu.Lock()
	if r.c == nil {
		r.mu.Unlock()
		return ErrStopped
	}
	h.armedAt = r.now()
	h.entryID = r.c.Schedule(sched, cron.FuncJob(func() {
		r.submit(h, r.now().Truncate(time.Second))
	}))
	old := r.swapLocked(h)
	n := len(r.handles)
	r.mu.Unlock()

	r.retire(old, metrics.DisarmReplaced)
	r.armed(h, n)
	return nil
}

// ArmOnce registers a single firing at at. A time in the past fires
// immediately.
func (r *Registry) ArmOnce(key domain.TaskKey, at time.Time, w Window, onFire FireFunc) error {
	if onFire == nil {
		return ErrNilHandler
	}
	h := &handle{key: key, kind: kindOnce, at: at, window: w, onFire: onFire}

	r.mu.Lock()
	if r.c == nil {
		r.mu.Unlock()
		return ErrStopped
	}
	h.armedAt = r.now()
	delay := max(at.Sub(h.armedAt), 0)
	h.timer = time.AfterFunc(delay, func() { r.submit(h, at) })
	old := r.swapLocked(h)
	n := len(r.handles)
	r.mu.Unlock()

	r.retire(old, metrics.DisarmReplaced)
	r.armed(h, n)
	return nil
}

// Disarm removes key. It returns after any in-flight callback for key has
// finished. Reports whether a trigger was armed.
func (r *Registry) Disarm(key domain.TaskKey) bool {
	r.mu.Lock()
	h := r.handles[key]
	if h != nil {
		delete(r.handles, key)
		r.unscheduleLocked(h)
	}
	n := len(r.handles)
	r.mu.Unlock()
	if h == nil {
		return false
	}
	r.retire(h, metrics.DisarmExplicit)
	r.metrics.TriggersActive(n)
	return true
}

// DisarmAll removes every trigger and returns how many were armed.
func (r *Registry) DisarmAll() int {
	r.mu.Lock()
	hs := make([]*handle, 0, len(r.handles))
	for k, h := range r.handles {
		hs = append(hs, h)
		r.unscheduleLocked(h)
		delete(r.handles, k)
	}
	r.mu.Unlock()
	for _, h := range hs {
		r.retire(h, metrics.DisarmShutdown)
	}
	r.metrics.TriggersActive(0)
	return len(hs)
}

func (r *Registry) Armed(key domain.TaskKey) bool {
	r.mu.Lock()
	_, ok := r.handles[key]
	r.mu.Unlock()
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// swapLocked installs h and unschedules the handle it replaces.
func (r *Registry) swapLocked(h *handle) *handle {
	old := r.handles[h.key]
	if old != nil {
		r.unscheduleLocked(old)
	}
	r.handles[h.key] = h
	return old
}

func (r *Registry) unscheduleLocked(h *handle) {
	if h.timer != nil {
		h.timer.Stop()
	}
	if h.entryID != 0 && r.c != nil {
		r.c.Remove(h.entryID)
	}
}

// retire marks h cancelled, waiting for an in-flight callback. Callers must
// not hold r.mu.
func (r *Registry) retire(h *handle, reason string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	already := h.cancelled
	h.cancelled = true
	h.mu.Unlock()
	if !already {
		r.disarmed(h, reason)
	}
}

func (r *Registry) disarmed(h *handle, reason string) {
	r.metrics.TriggerDisarmed(reason)
	eventbus.Emit(r.bus, eventbus.TriggerDisarmed, map[string]string{"key": h.key.String(), "reason": reason})
	r.log.Debug("trigger disarmed", logx.Stringer("key", h.key), logx.String("reason", reason))
}

func (r *Registry) armed(h *handle, n int) {
	r.metrics.TriggerArmed(h.kind.String())
	r.metrics.TriggersActive(n)
	eventbus.Emit(r.bus, eventbus.TriggerArmed, map[string]string{"key": h.key.String(), "kind": h.kind.String()})
	fields := []logx.Field{logx.Stringer("key", h.key), logx.Stringer("kind", h.kind)}
	if h.kind == kindCron {
		fields = append(fields, logx.String("spec", h.spec))
	} else {
		fields = append(fields, logx.Time("at", h.at))
	}
	r.log.Debug("trigger armed", fields...)
}

// submit hands a firing to the evaluator pool. It blocks while the pool is
// saturated and gives up once the registry stops.
func (r *Registry) submit(h *handle, firedAt time.Time) {
	r.mu.Lock()
	fires, stopCh := r.fires, r.stopCh
	r.mu.Unlock()
	if fires == nil {
		return
	}
	select {
	case fires <- fireRequest{h: h, firedAt: firedAt}:
	default:
		if r.throttle.Allow("saturated") {
			r.log.Warn("trigger evaluators saturated", logx.Int("pending", len(fires)))
		}
		select {
		case fires <- fireRequest{h: h, firedAt: firedAt}:
		case <-stopCh:
		}
	}
}
