package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"evsched/internal/domain"
)

// Metadata keys set by the scheduler jobs.
const (
	MetaScope           = "scope"
	MetaRequestUUID     = "requestUUID"
	MetaOriginServiceID = "originServiceId"
	MetaOneway          = "oneway"
	MetaPersistent      = "persistent"
	MetaTimeout         = "timeout"
	MetaIdempotencyKey  = "idempotencyKey"
	MetaEventID         = "schedulerEventId"
	MetaFiredAt         = "firedAt"
)

// Message is what a job pushes downstream.
type Message struct {
	ID         uuid.UUID         `json:"id"`
	Type       domain.ActionType `json:"type"`
	TenantID   uuid.UUID         `json:"tenantId"`
	Originator domain.EntityID   `json:"originator"`
	Metadata   map[string]string `json:"metadata"`
	Data       json.RawMessage   `json:"data"`
	Timestamp  time.Time         `json:"ts"`
}

// Callback receives the asynchronous push outcome. Either field may be nil.
type Callback struct {
	OnSuccess func(msg *Message)
	OnFailure func(msg *Message, err error)
}

func (c Callback) Success(msg *Message) {
	if c.OnSuccess != nil {
		c.OnSuccess(msg)
	}
}

func (c Callback) Failure(msg *Message, err error) {
	if c.OnFailure != nil {
		c.OnFailure(msg, err)
	}
}

// Sink delivers messages to the downstream processing pipeline. Push must
// report the outcome through cb exactly once.
type Sink interface {
	Push(ctx context.Context, tenantID uuid.UUID, originator domain.EntityID, msg *Message, cb Callback)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, tenantID uuid.UUID, originator domain.EntityID, msg *Message, cb Callback)

func (f SinkFunc) Push(ctx context.Context, tenantID uuid.UUID, originator domain.EntityID, msg *Message, cb Callback) {
	f(ctx, tenantID, originator, msg, cb)
}
