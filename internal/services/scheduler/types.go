package scheduler

import (
	"context"
	"errors"
	"time"

	"evsched/internal/domain"
	"evsched/internal/task/engine"
	"evsched/internal/task/trigger"
)

var ErrNilDefinition = errors.New("scheduler event definition is nil")

// Config controls the engine.
type Config struct {
	Enabled bool
	// Timezone is used for definitions whose schedule names none. Empty means the system zone.
	Timezone string
}

// Triggers is the part of the trigger registry the engine drives.
type Triggers interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) error
	ArmCron(key domain.TaskKey, spec string, w trigger.Window, onFire trigger.FireFunc) error
	ArmOnce(key domain.TaskKey, at time.Time, w trigger.Window, onFire trigger.FireFunc) error
	Disarm(key domain.TaskKey) bool
	DisarmAll() int
	Armed(key domain.TaskKey) bool
	Snapshot() trigger.Snapshot
}

// Queue is the command queue firings are handed to.
type Queue interface {
	Start(ctx context.Context)
	Put(ctx context.Context, ev *domain.Event) error
	Shutdown(ctx context.Context) error
	Snapshot() engine.Snapshot
}

// State is the lifecycle state of one task key.
type State string

const (
	StateUnscheduled State = "unscheduled"
	StateArmed       State = "armed"
	StateFired       State = "fired"
	StateDisarmed    State = "disarmed"
)

// Plan is the trigger computed for a definition.
type Plan struct {
	Kind   string // "cron" or "once"
	Spec   string // cron only, CRON_TZ-prefixed
	At     time.Time
	Window trigger.Window
}

// Snapshot is a diagnostics view of the engine.
type Snapshot struct {
	Enabled  bool             `json:"enabled"`
	Running  bool             `json:"running"`
	Triggers trigger.Snapshot `json:"triggers"`
	Queue    engine.Snapshot  `json:"queue"`
}
