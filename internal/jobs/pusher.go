package jobs

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"evsched/internal/domain"
	"evsched/internal/eventbus"
	"evsched/internal/observability/metrics"
	"evsched/internal/transport"
	logx "evsched/pkg/logx"
)

// Env is shared by every job.
type Env struct {
	Sink      transport.Sink
	Log       logx.Logger
	Bus       eventbus.Bus
	Metrics   metrics.Sink
	ServiceID string // originServiceId on RPC messages
}

// PushEvent is published for every push outcome.
type PushEvent struct {
	Key            string `json:"key"`
	MessageID      string `json:"message_id"`
	MsgType        string `json:"msg_type"`
	IdempotencyKey string `json:"idempotency_key"`
	Error          string `json:"error,omitempty"`
}

type pusher struct {
	env Env
	log logx.Logger
}

func newPusher(env Env, comp string) pusher {
	if env.Log.IsZero() {
		env.Log = logx.Nop()
	}
	if env.Sink == nil {
		env.Sink = transport.NewLogSink(env.Log)
	}
	env.Metrics = metrics.OrNoop(env.Metrics)
	return pusher{env: env, log: env.Log.With(logx.String("job", comp))}
}

// message builds a message carrying the per-firing metadata.
func (p pusher) message(ev *domain.Event, typ domain.ActionType, data []byte) *transport.Message {
	return &transport.Message{
		ID:         uuid.New(),
		Type:       typ,
		TenantID:   ev.Key.TenantID,
		Originator: ev.Action.Originator,
		Metadata: map[string]string{
			transport.MetaIdempotencyKey: ev.IdempotencyKey,
			transport.MetaEventID:        ev.Definition.ID.String(),
			transport.MetaFiredAt:        strconv.FormatInt(ev.FiredAt.UnixMilli(), 10),
		},
		Data:      data,
		Timestamp: time.Now(),
	}
}

func (p pusher) push(ctx context.Context, ev *domain.Event, msg *transport.Message) {
	key := ev.Key.String()
	pe := PushEvent{
		Key:            key,
		MessageID:      msg.ID.String(),
		MsgType:        string(msg.Type),
		IdempotencyKey: ev.IdempotencyKey,
	}
	p.env.Sink.Push(ctx, ev.Key.TenantID, ev.Action.Originator, msg, transport.Callback{
		OnSuccess: func(*transport.Message) {
			p.env.Metrics.PushOutcome(pe.MsgType, metrics.OutcomeSuccess)
			eventbus.Emit(p.env.Bus, eventbus.PushSucceeded, pe)
			p.log.Trace("pushed message", logx.String("key", key), logx.String("message_id", pe.MessageID))
		},
		OnFailure: func(_ *transport.Message, err error) {
			pe.Error = err.Error()
			p.env.Metrics.PushOutcome(pe.MsgType, metrics.OutcomeFailed)
			eventbus.Emit(p.env.Bus, eventbus.PushFailed, pe)
			p.log.Error("push failed",
				logx.String("key", key),
				logx.String("tenant", ev.Key.TenantID.String()),
				logx.String("message_id", pe.MessageID),
				logx.Err(err),
			)
		},
	})
}
