package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"evsched/internal/domain"
	"evsched/internal/eventbus"
	"evsched/internal/observability/metrics"
	logx "evsched/pkg/logx"

	rtsup "evsched/internal/runtime/supervisor"
)

const warnThrottleEvery = 5 * time.Second

// Service is the command queue: an unbounded FIFO intake drained by a single
// dispatcher into an elastic worker pool.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	metrics metrics.Sink
	exec    Executor

	intake  []item
	signal  chan struct{}
	work    chan item
	sup     *rtsup.Supervisor
	workers int

	running  bool
	stopping bool

	// outstanding counts events taken from intake and not yet finished.
	outstanding atomic.Int64
	busy        atomic.Int32

	hmu     sync.Mutex
	history []HistoryItem

	processed atomic.Uint64
	failed    atomic.Uint64
	unhandled atomic.Uint64
	dropped   atomic.Uint64

	lastDropWarnAt int64
}

func New(cfg Config, exec Executor, log logx.Logger, bus eventbus.Bus, m metrics.Sink) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg.withDefaults(),
		log:     log,
		bus:     bus,
		metrics: metrics.OrNoop(m),
		exec:    exec,
	}
}

// Apply updates pool sizing. Running workers adapt on their next idle check.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopping = false
	s.signal = make(chan struct{}, 1)
	s.work = make(chan item)
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// Job failures must not take the scheduler down.
		rtsup.WithCancelOnError(false),
	)
	for i := 0; i < s.cfg.MinWorkers; i++ {
		s.spawnLocked()
	}
	sup := s.sup
	sup.GoRestart("queue.dispatch", s.dispatch, rtsup.WithPublishFirstError(true))

	s.log.Info("command queue started",
		logx.Int("min_workers", s.cfg.MinWorkers),
		logx.Int("max_workers", s.cfg.MaxWorkers),
		logx.Duration("idle_timeout", s.cfg.IdleTimeout),
	)
}

// Put appends ev to the intake. It never blocks on worker availability.
func (s *Service) Put(ctx context.Context, ev *domain.Event) error {
	if ev == nil {
		return ErrNilEvent
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.stopping {
		s.mu.Unlock()
		return ErrStopping
	}
	s.intake = append(s.intake, item{ev: ev, enqueuedAt: time.Now()})
	depth := len(s.intake)
	workers := s.workers
	maxW := s.cfg.MaxWorkers
	signal := s.signal
	s.mu.Unlock()

	select {
	case signal <- struct{}{}:
	default:
	}

	busy := int(s.busy.Load())
	s.metrics.QueueDepth(depth, 0)
	s.metrics.Workers(workers, busy)
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("event queued",
			logx.Stringer("key", ev.Key),
			logx.String("type", ev.Type()),
			logx.Int("intake", depth),
			logx.Int("workers", workers),
			logx.Int("busy", busy),
			logx.Int("max_workers", maxW),
			logx.Uint64("completed", s.processed.Load()),
		)
	}
	return nil
}

// Clear drops every event still waiting in the intake. An event the
// dispatcher has already taken and is handing to a worker is not cleared.
func (s *Service) Clear() int {
	s.mu.Lock()
	pending := s.intake
	s.intake = nil
	s.mu.Unlock()
	for _, it := range pending {
		s.onDropped(it, "cleared")
	}
	s.metrics.QueueDepth(0, 0)
	return len(pending)
}

// Shutdown stops intake, waits up to ShutdownGrace (or ctx) for queued and
// running events, then cancels running jobs and drops the rest.
func (s *Service) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	s.mu.Lock()
	if !s.running || s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	sup := s.sup
	grace := s.cfg.ShutdownGrace
	s.mu.Unlock()

	graceCtx, cancel := context.WithTimeout(ctx, grace)
	drained := s.waitDrained(graceCtx)
	cancel()
	if !drained {
		s.log.Warn("command queue grace expired, cancelling jobs",
			logx.Duration("grace", grace),
			logx.Int64("outstanding", s.outstanding.Load()),
		)
	}

	sup.Cancel()
	dropped := s.Clear()
	err := sup.Wait(ctx)

	s.mu.Lock()
	s.running = false
	s.stopping = false
	s.sup = nil
	s.workers = 0
	s.mu.Unlock()

	s.log.Info("command queue stopped",
		logx.Bool("drained", drained),
		logx.Int("dropped", dropped),
		logx.Duration("took", time.Since(start)),
	)
	return err
}

func (s *Service) waitDrained(ctx context.Context) bool {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		s.mu.Lock()
		empty := len(s.intake) == 0
		s.mu.Unlock()
		if empty && s.outstanding.Load() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Running:  s.running,
		Stopping: s.stopping,
		Intake:   len(s.intake),
		Workers:  s.workers,
		Min:      s.cfg.MinWorkers,
		Max:      s.cfg.MaxWorkers,
	}
	s.mu.Unlock()

	snap.Busy = int(s.busy.Load())
	snap.Processed = s.processed.Load()
	snap.Failed = s.failed.Load()
	snap.Unhandled = s.unhandled.Load()
	snap.Dropped = s.dropped.Load()

	s.hmu.Lock()
	snap.History = make([]HistoryItem, len(s.history))
	copy(snap.History, s.history)
	s.hmu.Unlock()
	return snap
}

func (s *Service) shouldWarn(last *int64, now time.Time) bool {
	prev := atomic.LoadInt64(last)
	n := now.UnixNano()
	if prev != 0 && (n-prev) < int64(warnThrottleEvery) {
		return false
	}
	return atomic.CompareAndSwapInt64(last, prev, n)
}

func (s *Service) onDropped(it item, reason string) {
	s.dropped.Add(1)
	s.metrics.JobExecuted(it.ev.Type(), metrics.OutcomeDropped, 0)
	s.record(HistoryItem{
		Key:            it.ev.Key.String(),
		Type:           it.ev.Type(),
		IdempotencyKey: it.ev.IdempotencyKey,
		Started:        time.Now(),
		QueueDelay:     time.Since(it.enqueuedAt),
		Outcome:        metrics.OutcomeDropped,
		Error:          reason,
	})
	eventbus.Emit(s.bus, eventbus.JobDropped, JobEvent{
		Key:            it.ev.Key.String(),
		Type:           it.ev.Type(),
		IdempotencyKey: it.ev.IdempotencyKey,
		Error:          reason,
	})
	if s.shouldWarn(&s.lastDropWarnAt, time.Now()) {
		s.log.Warn("event dropped",
			logx.Stringer("key", it.ev.Key),
			logx.String("reason", reason),
			logx.Uint64("dropped", s.dropped.Load()),
		)
	}
}

func (s *Service) record(h HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, h)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}
