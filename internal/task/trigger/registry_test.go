package trigger

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"evsched/internal/domain"
	"evsched/internal/eventbus"
	logx "evsched/pkg/logx"
)

func newKey() domain.TaskKey {
	return domain.TaskKey{TenantID: uuid.New(), EntityID: uuid.New(), EventID: uuid.New()}
}

func startRegistry(t *testing.T, bus eventbus.Bus) *Registry {
	t.Helper()
	r := New(Config{PoolSize: 2}, logx.Nop(), bus, nil)
	r.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Stop(ctx)
	})
	return r
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

func TestArmOncePastFiresImmediatelyAndDisarms(t *testing.T) {
	t.Parallel()
	r := startRegistry(t, nil)
	key := newKey()

	var got atomic.Int64
	fired := make(chan time.Time, 1)
	at := time.Now().Add(-time.Hour)
	err := r.ArmOnce(key, at, Window{}, func(_ context.Context, k domain.TaskKey, firedAt time.Time) {
		if k != key {
			t.Errorf("key = %v, want %v", k, key)
		}
		got.Add(1)
		fired <- firedAt
	})
	if err != nil {
		t.Fatalf("ArmOnce: %v", err)
	}

	select {
	case ft := <-fired:
		if !ft.Equal(at) {
			t.Fatalf("firedAt = %v, want %v", ft, at)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("one-shot did not fire")
	}
	waitFor(t, time.Second, func() bool { return !r.Armed(key) })
	if n := got.Load(); n != 1 {
		t.Fatalf("fires = %d, want 1", n)
	}
}

func TestArmCronFiresEverySecond(t *testing.T) {
	t.Parallel()
	r := startRegistry(t, nil)
	key := newKey()

	var n atomic.Int64
	if err := r.ArmCron(key, "* * * * * ?", Window{}, func(context.Context, domain.TaskKey, time.Time) {
		n.Add(1)
	}); err != nil {
		t.Fatalf("ArmCron: %v", err)
	}
	waitFor(t, 3500*time.Millisecond, func() bool { return n.Load() >= 2 })
	if !r.Armed(key) {
		t.Fatal("cron trigger disarmed after firing")
	}
}

func TestArmCronRejectsBadSpec(t *testing.T) {
	t.Parallel()
	r := startRegistry(t, nil)
	if err := r.ArmCron(newKey(), "not a cron", Window{}, func(context.Context, domain.TaskKey, time.Time) {}); err == nil {
		t.Fatal("expected parse error")
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}

func TestArmBeforeStart(t *testing.T) {
	t.Parallel()
	r := New(Config{}, logx.Nop(), nil, nil)
	err := r.ArmOnce(newKey(), time.Now(), Window{}, func(context.Context, domain.TaskKey, time.Time) {})
	if err != ErrStopped {
		t.Fatalf("err = %v, want %v", err, ErrStopped)
	}
	if err := r.ArmOnce(newKey(), time.Now(), Window{}, nil); err != ErrNilHandler {
		t.Fatalf("err = %v, want %v", err, ErrNilHandler)
	}
}

func TestEndsOnDisarmsWithoutDelivering(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	r := startRegistry(t, bus)
	key := newKey()
	var n atomic.Int64
	w := Window{Ends: time.Now().Add(-time.Minute)}
	if err := r.ArmOnce(key, time.Now(), w, func(context.Context, domain.TaskKey, time.Time) { n.Add(1) }); err != nil {
		t.Fatalf("ArmOnce: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return !r.Armed(key) })
	if got := n.Load(); got != 0 {
		t.Fatalf("fires = %d, want 0", got)
	}

	sawSuppressed := false
	timeout := time.After(time.Second)
	for !sawSuppressed {
		select {
		case e := <-events:
			if e.Type == eventbus.TriggerSuppressed {
				sawSuppressed = true
			}
		case <-timeout:
			t.Fatal("no suppression event published")
		}
	}
}

func TestStartGuardSuppressesAndKeepsArmed(t *testing.T) {
	t.Parallel()
	r := startRegistry(t, nil)
	key := newKey()
	var n atomic.Int64
	w := Window{Start: time.Now().Add(time.Hour)}
	if err := r.ArmOnce(key, time.Now(), w, func(context.Context, domain.TaskKey, time.Time) { n.Add(1) }); err != nil {
		t.Fatalf("ArmOnce: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if got := n.Load(); got != 0 {
		t.Fatalf("fires = %d, want 0", got)
	}
	if !r.Armed(key) {
		t.Fatal("trigger disarmed by start guard")
	}
}

func TestDisarmWaitsForInFlightCallback(t *testing.T) {
	t.Parallel()
	r := startRegistry(t, nil)
	key := newKey()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var finished atomic.Bool
	if err := r.ArmCron(key, "* * * * * ?", Window{}, func(context.Context, domain.TaskKey, time.Time) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		finished.Store(true)
	}); err != nil {
		t.Fatalf("ArmCron: %v", err)
	}

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("callback never entered")
	}

	done := make(chan bool)
	go func() { done <- r.Disarm(key) }()
	select {
	case <-done:
		t.Fatal("Disarm returned while callback was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	if ok := <-done; !ok {
		t.Fatal("Disarm = false, want true")
	}
	if !finished.Load() {
		t.Fatal("callback did not finish before Disarm returned")
	}
	if r.Disarm(key) {
		t.Fatal("second Disarm = true, want false")
	}
}

func TestRearmReplacesTrigger(t *testing.T) {
	t.Parallel()
	r := startRegistry(t, nil)
	key := newKey()
	noop := func(context.Context, domain.TaskKey, time.Time) {}

	if err := r.ArmCron(key, "0 0 0 * * ?", Window{}, noop); err != nil {
		t.Fatalf("ArmCron: %v", err)
	}
	if err := r.ArmCron(key, "0 0 12 * * ?", Window{}, noop); err != nil {
		t.Fatalf("ArmCron: %v", err)
	}
	snap := r.Snapshot()
	if len(snap.Armed) != 1 {
		t.Fatalf("armed = %d, want 1", len(snap.Armed))
	}
	if got := snap.Armed[0].Spec; got != "0 0 12 * * ?" {
		t.Fatalf("spec = %q, want %q", got, "0 0 12 * * ?")
	}
	if snap.Armed[0].Next.Hour() != 12 {
		t.Fatalf("next = %v, want noon", snap.Armed[0].Next)
	}
}

func TestDisarmAllAndStop(t *testing.T) {
	t.Parallel()
	r := New(Config{PoolSize: 1}, logx.Nop(), nil, nil)
	r.Start(context.Background())
	noop := func(context.Context, domain.TaskKey, time.Time) {}
	for i := 0; i < 5; i++ {
		if err := r.ArmCron(newKey(), "0 0 0 1 1 ?", Window{}, noop); err != nil {
			t.Fatalf("ArmCron: %v", err)
		}
	}
	if n := r.DisarmAll(); n != 5 {
		t.Fatalf("DisarmAll = %d, want 5", n)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := r.ArmCron(newKey(), "0 0 0 1 1 ?", Window{}, noop); err != ErrStopped {
		t.Fatalf("err = %v, want %v", err, ErrStopped)
	}
}

func TestCallbackPanicIsContained(t *testing.T) {
	t.Parallel()
	r := startRegistry(t, nil)
	var after atomic.Int64
	if err := r.ArmOnce(newKey(), time.Now(), Window{}, func(context.Context, domain.TaskKey, time.Time) {
		panic("boom")
	}); err != nil {
		t.Fatalf("ArmOnce: %v", err)
	}
	if err := r.ArmOnce(newKey(), time.Now(), Window{}, func(context.Context, domain.TaskKey, time.Time) {
		after.Add(1)
	}); err != nil {
		t.Fatalf("ArmOnce: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return after.Load() == 1 })
}
