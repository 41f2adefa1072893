package trigger

import (
	"context"
	"runtime/debug"
	"time"

	"evsched/internal/eventbus"
	"evsched/internal/observability/metrics"
	logx "evsched/pkg/logx"
)

func (r *Registry) evaluator(fires <-chan fireRequest) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case req := <-fires:
				r.evaluate(ctx, req.h, req.firedAt)
			}
		}
	}
}

// evaluate applies the window guards and delivers the firing.
func (r *Registry) evaluate(ctx context.Context, h *handle, firedAt time.Time) {
	now := r.now()

	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		return
	}
	if !h.window.Ends.IsZero() && now.After(h.window.Ends) {
		h.cancelled = true
		h.mu.Unlock()
		r.drop(h, metrics.DisarmExpired)
		r.suppressed(h, metrics.FireExpired, now)
		return
	}
	if !h.window.Start.IsZero() && h.window.Start.After(now) {
		if h.kind == kindOnce && h.timer != nil {
			h.timer.Reset(h.window.Start.Sub(now))
		}
		h.mu.Unlock()
		r.suppressed(h, metrics.FireNotStarted, now)
		return
	}
	once := h.kind == kindOnce
	if once {
		h.cancelled = true
	}
	h.fires++
	h.lastFired = firedAt
	r.deliver(ctx, h, firedAt)
	h.mu.Unlock()

	r.metrics.TriggerFired(metrics.FireDelivered)
	eventbus.Emit(r.bus, eventbus.TriggerFired, map[string]any{"key": h.key.String(), "fired_at": firedAt})
	if once {
		r.drop(h, metrics.DisarmFired)
	}
}

func (r *Registry) deliver(ctx context.Context, h *handle, firedAt time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("trigger callback panicked",
				logx.Stringer("key", h.key),
				logx.Any("panic", rec),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	h.onFire(ctx, h.key, firedAt)
}

// drop removes h from the registry if it is still the armed handle for its
// key. h must already be marked cancelled.
func (r *Registry) drop(h *handle, reason string) {
	r.mu.Lock()
	if cur := r.handles[h.key]; cur == h {
		delete(r.handles, h.key)
		r.unscheduleLocked(h)
	}
	n := len(r.handles)
	r.mu.Unlock()
	r.metrics.TriggersActive(n)
	r.disarmed(h, reason)
}

func (r *Registry) suppressed(h *handle, outcome string, now time.Time) {
	r.metrics.TriggerFired(outcome)
	eventbus.Emit(r.bus, eventbus.TriggerSuppressed, map[string]string{"key": h.key.String(), "reason": outcome})
	if r.throttle.Allow(h.key.String() + "/" + outcome) {
		r.log.Debug("trigger firing suppressed",
			logx.Stringer("key", h.key),
			logx.String("reason", outcome),
			logx.Time("now", now),
		)
	}
}
