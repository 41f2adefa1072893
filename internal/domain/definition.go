package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type tags stored in Definition.Type.
const (
	TypeUpdateAttribute = "updateAttribute"
	TypeSendRPCRequest  = "sendRpcRequest"
	TypeCronJob         = "CRON_JOB"
)

// Definition is a persisted scheduler event.
type Definition struct {
	ID       uuid.UUID  `json:"id"`
	TenantID uuid.UUID  `json:"tenantId"`
	UserID   *uuid.UUID `json:"userId,omitempty"` // nil: tenant-wide
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	Enabled  bool       `json:"enabled"`

	Configuration json.RawMessage `json:"configuration,omitempty"`
	Schedule      json.RawMessage `json:"schedule,omitempty"`

	CreatedTime time.Time `json:"createdTime"`
}

// IsNew reports whether the definition has not been persisted yet.
func (d Definition) IsNew() bool { return d.ID == uuid.Nil }

// TaskKey identifies one armed trigger: tenant, originator entity and event.
type TaskKey struct {
	TenantID uuid.UUID
	EntityID uuid.UUID
	EventID  uuid.UUID
}

func (k TaskKey) String() string {
	return k.TenantID.String() + "_" + k.EntityID.String() + "_" + k.EventID.String()
}

// KeyFor derives the TaskKey of d. It only needs the originator, so it works
// for definitions whose action payload is otherwise malformed.
func KeyFor(d Definition) (TaskKey, error) {
	org, err := ParseOriginator(d)
	if err != nil {
		return TaskKey{}, err
	}
	return TaskKey{TenantID: d.TenantID, EntityID: org.ID, EventID: d.ID}, nil
}

// Event is what a firing hands to the command queue.
type Event struct {
	Key        TaskKey
	Definition Definition
	Action     Action

	// FiredAt is the trigger's scheduled fire time.
	FiredAt time.Time
	// IdempotencyKey is unique per (key, fire time) so downstream consumers
	// can discard duplicates produced by overlapping firings.
	IdempotencyKey string
}

func (e *Event) Type() string {
	if e == nil {
		return ""
	}
	return e.Definition.Type
}

// IdempotencyKeyFor builds the per-firing key carried in message metadata.
func IdempotencyKeyFor(k TaskKey, firedAt time.Time) string {
	return k.String() + "@" + formatMillis(firedAt.UnixMilli())
}
