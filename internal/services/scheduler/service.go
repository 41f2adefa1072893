package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"evsched/internal/domain"
	"evsched/internal/eventbus"
	"evsched/internal/ownership"
	"evsched/internal/storage"
	"evsched/internal/task/trigger"
	logx "evsched/pkg/logx"
)

type Service struct {
	cfg      Config
	loc      *time.Location
	log      logx.Logger
	bus      eventbus.Bus
	store    storage.Store
	triggers Triggers
	queue    Queue
	owner    ownership.Resolver

	mu      sync.Mutex
	running bool
	states  map[domain.TaskKey]State
}

func New(cfg Config, store storage.Store, triggers Triggers, queue Queue, owner ownership.Resolver, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if owner == nil {
		owner = ownership.All{}
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			log.Warn("unknown default timezone, using the system zone", logx.String("timezone", tz), logx.Err(err))
		} else {
			loc = l
		}
	}
	return &Service{
		cfg:      cfg,
		loc:      loc,
		log:      log,
		bus:      bus,
		store:    store,
		triggers: triggers,
		queue:    queue,
		owner:    owner,
		states:   map[domain.TaskKey]State{},
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start starts the queue and the trigger registry, then arms every enabled
// definition this instance owns. A broken definition is logged and skipped.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled || s.triggers == nil || s.queue == nil {
		s.log.Info("scheduler disabled, triggers will not be armed")
		return nil
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.queue.Start(ctx)
	s.triggers.Start(ctx)

	defs, err := s.store.FindAllEnabled(ctx)
	if err != nil {
		s.log.Error("load enabled definitions failed", logx.Err(err))
		return err
	}

	var armed, skipped int
	for _, def := range defs {
		ok, err := s.arm(def)
		switch {
		case err != nil:
			skipped++
			s.log.Warn("definition skipped",
				logx.Stringer("event_id", def.ID),
				logx.Stringer("tenant_id", def.TenantID),
				logx.String("name", def.Name),
				logx.Err(err),
			)
		case ok:
			armed++
		}
	}
	s.log.Info("scheduler started",
		logx.Int("definitions", len(defs)),
		logx.Int("armed", armed),
		logx.Int("skipped", skipped),
		logx.String("timezone", s.loc.String()),
	)
	return nil
}

// Stop disarms everything, stops the registry and shuts the queue down.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	n := s.triggers.DisarmAll()
	err := s.triggers.Stop(ctx)
	if qerr := s.queue.Shutdown(ctx); qerr != nil {
		err = errors.Join(err, qerr)
	}

	s.mu.Lock()
	for k := range s.states {
		s.states[k] = StateDisarmed
	}
	s.mu.Unlock()

	s.log.Info("scheduler stopped", logx.Int("disarmed", n), logx.Err(err))
	return err
}

// arm installs the trigger for def. It reports whether a trigger was armed.
func (s *Service) arm(def domain.Definition) (bool, error) {
	if !def.Enabled || !s.Running() {
		return false, nil
	}
	key, err := domain.KeyFor(def)
	if err != nil {
		return false, err
	}
	if !s.owner.IsOwned(key.TenantID, key.EntityID) {
		s.log.Debug("definition not owned by this instance", logx.Stringer("key", key))
		return false, nil
	}
	action, err := domain.ParseAction(def)
	if err != nil {
		return false, err
	}
	plan, ok, err := PlanFor(def, s.loc, s.log)
	if err != nil {
		return false, err
	}
	if !ok {
		s.log.Warn("definition has no start time or recurrence, not armed",
			logx.Stringer("key", key),
			logx.String("name", def.Name),
		)
		return false, nil
	}

	// Recorded before arming: a past one-shot may fire before Arm returns.
	s.setState(key, StateArmed)
	onFire := s.fire(def, action, plan.Kind == "once")
	if plan.Kind == "once" {
		err = s.triggers.ArmOnce(key, plan.At, plan.Window, onFire)
	} else {
		err = s.triggers.ArmCron(key, plan.Spec, plan.Window, onFire)
	}
	if err != nil {
		s.mu.Lock()
		delete(s.states, key)
		s.mu.Unlock()
		return false, err
	}
	s.log.Debug("definition armed",
		logx.Stringer("key", key),
		logx.String("type", def.Type),
		logx.String("plan", plan.String()),
	)
	return true, nil
}

func (s *Service) disarm(key domain.TaskKey) {
	if !s.Running() {
		return
	}
	if s.triggers.Disarm(key) {
		s.setState(key, StateDisarmed)
	}
}

// fire builds the FireFunc for one armed definition. The definition and
// action are captured at arm time; an update re-arms with new ones. A
// one-shot is disarmed by the registry after its firing.
func (s *Service) fire(def domain.Definition, action domain.Action, once bool) trigger.FireFunc {
	after := StateArmed
	if once {
		after = StateDisarmed
	}
	return func(ctx context.Context, key domain.TaskKey, firedAt time.Time) {
		s.setState(key, StateFired)
		defer s.setState(key, after)

		ev := &domain.Event{
			Key:            key,
			Definition:     def,
			Action:         action,
			FiredAt:        firedAt,
			IdempotencyKey: domain.IdempotencyKeyFor(key, firedAt),
		}
		if err := s.queue.Put(ctx, ev); err != nil {
			s.log.Warn("firing not queued",
				logx.Stringer("key", key),
				logx.Time("fired_at", firedAt),
				logx.Err(err),
			)
		}
	}
}

func (s *Service) setState(key domain.TaskKey, st State) {
	s.mu.Lock()
	s.states[key] = st
	s.mu.Unlock()
}

// State reports the lifecycle state of key.
func (s *Service) State(key domain.TaskKey) State {
	s.mu.Lock()
	st, ok := s.states[key]
	s.mu.Unlock()
	switch {
	case !ok:
		return StateUnscheduled
	case st == StateFired:
		return StateFired
	case s.triggers != nil && s.triggers.Armed(key):
		return StateArmed
	default:
		return StateDisarmed
	}
}

func (s *Service) Snapshot() Snapshot {
	snap := Snapshot{Enabled: s.cfg.Enabled, Running: s.Running()}
	if s.triggers != nil {
		snap.Triggers = s.triggers.Snapshot()
	}
	if s.queue != nil {
		snap.Queue = s.queue.Snapshot()
	}
	return snap
}
