package transport

import (
	"context"

	"github.com/google/uuid"

	"evsched/internal/domain"
	logx "evsched/pkg/logx"
)

// LogSink writes every message to the log and reports success. It is the
// default when no broker is configured.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Push(_ context.Context, tenantID uuid.UUID, originator domain.EntityID, msg *Message, cb Callback) {
	s.log.Info("message pushed",
		logx.String("tenant", tenantID.String()),
		logx.String("originator", originator.ID.String()),
		logx.String("entity_type", string(originator.Type)),
		logx.String("msg_type", string(msg.Type)),
		logx.Any("metadata", msg.Metadata),
		logx.String("data", string(msg.Data)),
	)
	cb.Success(msg)
}
