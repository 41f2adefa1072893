package trigger

import (
	"context"
	"errors"
	"time"

	"evsched/internal/domain"
)

var (
	ErrStopped    = errors.New("trigger registry stopped")
	ErrNilHandler = errors.New("trigger handler is nil")
)

// Config controls the evaluator pool.
type Config struct {
	PoolSize  int // evaluator goroutines, default 3
	QueueSize int // pending firings buffered before cron goroutines block, default 256
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = 3
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

// Window bounds when a trigger may deliver. Zero values disable the bound.
type Window struct {
	Start time.Time // firings before Start are suppressed, trigger stays armed
	Ends  time.Time // the first firing after Ends disarms the trigger
}

// FireFunc is invoked for every delivered firing. It must not call Disarm
// for its own key.
type FireFunc func(ctx context.Context, key domain.TaskKey, firedAt time.Time)

type kind int

const (
	kindCron kind = iota
	kindOnce
)

func (k kind) String() string {
	if k == kindOnce {
		return "once"
	}
	return "cron"
}

// Info describes one armed trigger.
type Info struct {
	Key       string    `json:"key"`
	Kind      string    `json:"kind"`
	Spec      string    `json:"spec,omitempty"`
	At        time.Time `json:"at,omitempty"`
	Next      time.Time `json:"next,omitempty"`
	Start     time.Time `json:"start,omitempty"`
	Ends      time.Time `json:"ends,omitempty"`
	ArmedAt   time.Time `json:"armed_at"`
	Fires     uint64    `json:"fires"`
	LastFired time.Time `json:"last_fired,omitempty"`
}

// Snapshot is a point-in-time view of the registry.
type Snapshot struct {
	Running bool   `json:"running"`
	Armed   []Info `json:"armed"`
	Pending int    `json:"pending"`
}
