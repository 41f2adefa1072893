// Package supervisor runs named goroutines under one cancellable context,
// recovering panics and keeping per-name run statistics.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	logx "evsched/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	firstErr error
	units    map[string]*UnitStats
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

// WithCancelOnError cancels the shared context on the first goroutine error.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

// UnitStats aggregates every run of goroutines sharing a name.
type UnitStats struct {
	Name      string    `json:"name"`
	Running   int       `json:"running"`
	Runs      uint64    `json:"runs"`
	Restarts  uint64    `json:"restarts"`
	Panics    uint64    `json:"panics"`
	LastStart time.Time `json:"last_start"`
	LastErr   string    `json:"last_err,omitempty"`
}

type Snapshot struct {
	Running    int         `json:"running"`
	FirstError string      `json:"first_error,omitempty"`
	Goroutines []UnitStats `json:"goroutines"`
}

func New(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		log:    logx.Nop(),
		done:   make(chan struct{}),
		units:  map[string]*UnitStats{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// Snapshot is for diagnostics only.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	snap := Snapshot{Goroutines: make([]UnitStats, 0, len(s.units))}
	if s.firstErr != nil {
		snap.FirstError = s.firstErr.Error()
	}
	for _, u := range s.units {
		snap.Running += u.Running
		snap.Goroutines = append(snap.Goroutines, *u)
	}
	s.mu.Unlock()

	sort.Slice(snap.Goroutines, func(i, j int) bool {
		return snap.Goroutines[i].Name < snap.Goroutines[j].Name
	})
	return snap
}

// Go runs fn once. A non-nil error other than context.Canceled, or a
// panic, becomes the supervisor error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.runGuarded(name, false, fn); err != nil {
			s.fail(err, s.cancelOnErr)
		}
	}()
}

// Go0 is Go for functions that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// runGuarded executes one run of fn with panic recovery and bookkeeping.
// It returns nil for clean exits, including exits caused by cancellation.
func (s *Supervisor) runGuarded(name string, restart bool, fn func(ctx context.Context) error) (err error) {
	s.mu.Lock()
	u := s.units[name]
	if u == nil {
		u = &UnitStats{Name: name}
		s.units[name] = u
	}
	u.Running++
	u.Runs++
	if restart {
		u.Restarts++
	}
	u.LastStart = time.Now()
	s.mu.Unlock()

	panicked := false
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
		s.mu.Lock()
		u.Running--
		if panicked {
			u.Panics++
		}
		if err != nil {
			u.LastErr = err.Error()
		}
		s.mu.Unlock()
	}()

	err = fn(s.ctx)
	if err == nil || errors.Is(err, context.Canceled) || s.ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

type restartCfg struct {
	minBackoff time.Duration
	maxBackoff time.Duration
	publishErr bool
}

type RestartOption func(*restartCfg)

// WithRestartBackoff bounds the exponential wait between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if min > 0 {
			c.minBackoff = min
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithPublishFirstError records failures as the supervisor error while
// still restarting. The shared context is never cancelled by them.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(c *restartCfg) { c.publishErr = enabled }
}

// stableRun resets the backoff after a run that lasted at least this long.
const stableRun = 30 * time.Second

// GoRestart runs fn until it returns nil or the context is cancelled,
// restarting it with jittered exponential backoff after errors and panics.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{minBackoff: 250 * time.Millisecond, maxBackoff: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	cfg.maxBackoff = max(cfg.maxBackoff, cfg.minBackoff)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		backoff := cfg.minBackoff
		for runs := 0; s.ctx.Err() == nil; runs++ {
			began := time.Now()
			err := s.runGuarded(name, runs > 0, fn)
			if err == nil {
				return
			}
			if cfg.publishErr {
				s.fail(err, false)
			}
			if time.Since(began) >= stableRun {
				backoff = cfg.minBackoff
			}
			wait := backoff + time.Duration(rand.Int64N(int64(backoff)/5+1))
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff = min(backoff*2, cfg.maxBackoff)
		}
	}()
}

// Stop cancels the context and waits for every goroutine.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until all goroutines return or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}

func (s *Supervisor) fail(err error, cancel bool) {
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
	if cancel {
		s.cancel()
	}
}
