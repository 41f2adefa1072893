package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"evsched/internal/domain"
	"evsched/internal/eventbus"
	"evsched/internal/observability/metrics"
	logx "evsched/pkg/logx"
)

// dispatch moves events from the intake to the pool in FIFO order.
func (s *Service) dispatch(ctx context.Context) error {
	s.mu.Lock()
	signal := s.signal
	s.mu.Unlock()
	for {
		it, ok := s.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-signal:
				continue
			}
		}
		if !s.handOff(ctx, it) {
			s.outstanding.Add(-1)
			s.onDropped(it, "shutdown")
			return nil
		}
	}
}

func (s *Service) pop() (item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.intake) == 0 {
		return item{}, false
	}
	it := s.intake[0]
	s.intake[0] = item{}
	s.intake = s.intake[1:]
	s.outstanding.Add(1)
	return it, true
}

// handOff gives it to an idle worker, growing the pool up to MaxWorkers when
// none is free.
func (s *Service) handOff(ctx context.Context, it item) bool {
	s.mu.Lock()
	work := s.work
	s.mu.Unlock()

	select {
	case work <- it:
		return true
	default:
	}

	s.mu.Lock()
	if s.workers < s.cfg.MaxWorkers {
		s.spawnLocked()
	}
	s.mu.Unlock()

	select {
	case work <- it:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Service) spawnLocked() {
	if s.sup == nil {
		return
	}
	s.workers++
	work := s.work
	s.sup.Go("queue.worker", func(ctx context.Context) error {
		s.worker(ctx, work)
		return nil
	})
}

// retireIdle reports whether an idle worker may exit.
func (s *Service) retireIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workers > s.cfg.MinWorkers {
		s.workers--
		return true
	}
	return false
}

func (s *Service) idleTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.IdleTimeout
}

func (s *Service) worker(ctx context.Context, work <-chan item) {
	idle := time.NewTimer(s.idleTimeout())
	defer idle.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-work:
			idle.Stop()
			if ctx.Err() != nil {
				s.outstanding.Add(-1)
				s.onDropped(it, "shutdown")
				return
			}
			s.busy.Add(1)
			s.execOne(ctx, it)
			s.busy.Add(-1)
			s.outstanding.Add(-1)
			idle.Reset(s.idleTimeout())
		case <-idle.C:
			if s.retireIdle() {
				s.log.Debug("idle worker retired")
				return
			}
			idle.Reset(s.idleTimeout())
		}
	}
}

func (s *Service) execOne(ctx context.Context, it item) {
	start := time.Now()
	queueDelay := max(start.Sub(it.enqueuedAt), 0)
	ev := it.ev
	typ := ev.Type()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("job panicked", logx.Stringer("key", ev.Key), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		if s.exec == nil {
			err = domain.ErrUnhandled
			return
		}
		err = s.exec.Execute(ctx, ev)
	}()

	dur := time.Since(start)
	h := HistoryItem{
		Key:            ev.Key.String(),
		Type:           typ,
		IdempotencyKey: ev.IdempotencyKey,
		Started:        start,
		QueueDelay:     queueDelay,
		Duration:       dur,
	}
	je := JobEvent{Key: h.Key, Type: typ, IdempotencyKey: h.IdempotencyKey, QueueDelay: queueDelay, Duration: dur}
	fields := []logx.Field{
		logx.Stringer("key", ev.Key),
		logx.String("type", typ),
		logx.Duration("queue_delay", queueDelay),
		logx.Duration("dur", dur),
	}

	switch {
	case err == nil:
		s.processed.Add(1)
		h.Outcome = metrics.OutcomeSuccess
		eventbus.Emit(s.bus, eventbus.JobFinished, je)
		if dur >= 750*time.Millisecond {
			s.log.Info("job completed", fields...)
		} else {
			s.log.Debug("job completed", fields...)
		}
	case errors.Is(err, domain.ErrUnhandled):
		s.unhandled.Add(1)
		h.Outcome, h.Error = metrics.OutcomeUnhandled, err.Error()
		je.Error = h.Error
		eventbus.Emit(s.bus, eventbus.JobUnhandled, je)
		s.log.Warn("no job for event", append(fields, logx.Err(err))...)
	default:
		s.failed.Add(1)
		h.Outcome, h.Error = metrics.OutcomeFailed, err.Error()
		je.Error = h.Error
		eventbus.Emit(s.bus, eventbus.JobFailed, je)
		s.log.Error("job failed", append(fields, logx.Err(err))...)
	}
	s.metrics.JobExecuted(typ, h.Outcome, dur)
	s.record(h)
}
