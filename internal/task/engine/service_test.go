package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"evsched/internal/domain"
	"evsched/internal/eventbus"
	logx "evsched/pkg/logx"
)

func testEvent(typ string) *domain.Event {
	k := domain.TaskKey{TenantID: uuid.New(), EntityID: uuid.New(), EventID: uuid.New()}
	now := time.Now()
	return &domain.Event{
		Key:            k,
		Definition:     domain.Definition{ID: k.EventID, TenantID: k.TenantID, Type: typ},
		FiredAt:        now,
		IdempotencyKey: domain.IdempotencyKeyFor(k, now),
	}
}

func newQueue(t *testing.T, cfg Config, exec Executor, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, exec, logx.Nop(), bus, nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", d)
}

func TestPutExecutesEvents(t *testing.T) {
	t.Parallel()
	var n atomic.Int64
	s := newQueue(t, Config{MinWorkers: 2, MaxWorkers: 4}, ExecutorFunc(func(context.Context, *domain.Event) error {
		n.Add(1)
		return nil
	}), nil)

	for i := 0; i < 50; i++ {
		if err := s.Put(context.Background(), testEvent(domain.TypeUpdateAttribute)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	waitFor(t, 2*time.Second, func() bool { return n.Load() == 50 })
	if got := s.Snapshot().Processed; got != 50 {
		t.Fatalf("processed = %d, want 50", got)
	}
}

func TestConcurrentPutsRunExactlyOnce(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	seen := map[string]int{}
	s := newQueue(t, Config{MinWorkers: 5, MaxWorkers: 20}, ExecutorFunc(func(_ context.Context, ev *domain.Event) error {
		mu.Lock()
		seen[ev.IdempotencyKey]++
		mu.Unlock()
		return nil
	}), nil)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Put(context.Background(), testEvent(domain.TypeSendRPCRequest)); err != nil {
				t.Errorf("Put: %v", err)
			}
		}()
	}
	wg.Wait()
	waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == n
	})
	mu.Lock()
	defer mu.Unlock()
	for k, c := range seen {
		if c != 1 {
			t.Fatalf("event %s executed %d times, want 1", k, c)
		}
	}
}

func TestSingleWorkerPreservesFIFO(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var order []string
	s := newQueue(t, Config{MinWorkers: 1, MaxWorkers: 1}, ExecutorFunc(func(_ context.Context, ev *domain.Event) error {
		mu.Lock()
		order = append(order, ev.IdempotencyKey)
		mu.Unlock()
		return nil
	}), nil)

	var want []string
	for i := 0; i < 20; i++ {
		ev := testEvent(domain.TypeSendRPCRequest)
		want = append(want, ev.IdempotencyKey)
		if err := s.Put(context.Background(), ev); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == len(want)
	})
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestPoolGrowsToMaxAndShrinks(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var running atomic.Int64
	s := newQueue(t, Config{MinWorkers: 1, MaxWorkers: 4, IdleTimeout: 50 * time.Millisecond}, ExecutorFunc(func(context.Context, *domain.Event) error {
		running.Add(1)
		<-release
		return nil
	}), nil)

	for i := 0; i < 10; i++ {
		_ = s.Put(context.Background(), testEvent(domain.TypeCronJob))
	}
	waitFor(t, 2*time.Second, func() bool { return running.Load() == 4 })
	// One event sits with the dispatcher, the rest stay in the intake.
	waitFor(t, time.Second, func() bool { return s.Snapshot().Intake == 5 })
	if w := s.Snapshot().Workers; w != 4 {
		t.Fatalf("workers = %d, want 4", w)
	}

	close(release)
	waitFor(t, 2*time.Second, func() bool {
		sn := s.Snapshot()
		return sn.Processed == 10 && sn.Workers == 1
	})
}

func TestOutcomesAreClassified(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := newQueue(t, Config{MinWorkers: 1, MaxWorkers: 1}, ExecutorFunc(func(_ context.Context, ev *domain.Event) error {
		switch ev.Type() {
		case "bad":
			return errors.New("downstream rejected")
		case "unknown":
			return domain.ErrUnhandled
		case "panic":
			panic("boom")
		}
		return nil
	}), bus)

	for _, typ := range []string{"ok", "bad", "unknown", "panic"} {
		if err := s.Put(context.Background(), testEvent(typ)); err != nil {
			t.Fatalf("Put(%s): %v", typ, err)
		}
	}
	waitFor(t, 2*time.Second, func() bool { return len(s.Snapshot().History) == 4 })

	snap := s.Snapshot()
	if snap.Processed != 1 || snap.Failed != 2 || snap.Unhandled != 1 {
		t.Fatalf("processed/failed/unhandled = %d/%d/%d, want 1/2/1", snap.Processed, snap.Failed, snap.Unhandled)
	}

	want := []string{eventbus.JobFinished, eventbus.JobFailed, eventbus.JobUnhandled, eventbus.JobFailed}
	for i, w := range want {
		select {
		case e := <-events:
			if e.Type != w {
				t.Fatalf("event[%d] = %s, want %s", i, e.Type, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
}

func TestShutdownDrainsWithinGrace(t *testing.T) {
	t.Parallel()
	var n atomic.Int64
	s := New(Config{MinWorkers: 1, MaxWorkers: 1, ShutdownGrace: 2 * time.Second}, ExecutorFunc(func(context.Context, *domain.Event) error {
		time.Sleep(10 * time.Millisecond)
		n.Add(1)
		return nil
	}), logx.Nop(), nil, nil)
	s.Start(context.Background())
	for i := 0; i < 10; i++ {
		_ = s.Put(context.Background(), testEvent("x"))
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := n.Load(); got != 10 {
		t.Fatalf("executed = %d, want 10", got)
	}
	if err := s.Put(context.Background(), testEvent("x")); !errors.Is(err, ErrStopped) {
		t.Fatalf("Put after shutdown = %v, want %v", err, ErrStopped)
	}
}

func TestShutdownCancelsAfterGrace(t *testing.T) {
	t.Parallel()
	s := New(Config{MinWorkers: 1, MaxWorkers: 1, ShutdownGrace: 50 * time.Millisecond}, ExecutorFunc(func(ctx context.Context, _ *domain.Event) error {
		<-ctx.Done()
		return ctx.Err()
	}), logx.Nop(), nil, nil)
	s.Start(context.Background())
	for i := 0; i < 3; i++ {
		_ = s.Put(context.Background(), testEvent("x"))
	}

	start := time.Now()
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("Shutdown took %s", took)
	}
	snap := s.Snapshot()
	if snap.Failed != 1 {
		t.Fatalf("failed = %d, want 1", snap.Failed)
	}
	if snap.Dropped != 2 {
		t.Fatalf("dropped = %d, want 2", snap.Dropped)
	}
}

func TestClearDropsPending(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	s := newQueue(t, Config{MinWorkers: 1, MaxWorkers: 1}, ExecutorFunc(func(context.Context, *domain.Event) error {
		<-release
		return nil
	}), nil)

	for i := 0; i < 4; i++ {
		_ = s.Put(context.Background(), testEvent("x"))
	}
	// One event runs, the dispatcher holds the next, two wait in the intake.
	waitFor(t, time.Second, func() bool {
		snap := s.Snapshot()
		return snap.Busy == 1 && snap.Intake == 2
	})
	if n := s.Clear(); n != 2 {
		t.Fatalf("Clear = %d, want 2", n)
	}
	close(release)

	waitFor(t, 2*time.Second, func() bool { return s.Snapshot().Processed == 2 })
	snap := s.Snapshot()
	if snap.Dropped != 2 || snap.Intake != 0 {
		t.Fatalf("dropped = %d, intake = %d, want 2, 0", snap.Dropped, snap.Intake)
	}
}

func TestPutRejectsNil(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop(), nil, nil)
	if err := s.Put(context.Background(), nil); !errors.Is(err, ErrNilEvent) {
		t.Fatalf("err = %v, want %v", err, ErrNilEvent)
	}
	if err := s.Put(context.Background(), testEvent("x")); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want %v", err, ErrStopped)
	}
}
