package engine

import (
	"context"
	"time"

	"evsched/internal/domain"
)

// Config sizes the elastic worker pool.
type Config struct {
	MinWorkers int // kept alive while idle, default 5
	MaxWorkers int // hard cap, default 20

	// IdleTimeout retires workers above MinWorkers that saw no work.
	IdleTimeout time.Duration

	// ShutdownGrace bounds how long Shutdown waits for queued and running
	// events before cancelling them.
	ShutdownGrace time.Duration

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.MinWorkers <= 0 {
		c.MinWorkers = 5
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 20
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Executor runs one fired event. Returning an error wrapping
// domain.ErrUnhandled records the event as unhandled rather than failed.
type Executor interface {
	Execute(ctx context.Context, ev *domain.Event) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, ev *domain.Event) error

func (f ExecutorFunc) Execute(ctx context.Context, ev *domain.Event) error { return f(ctx, ev) }

type item struct {
	ev         *domain.Event
	enqueuedAt time.Time
}

type HistoryItem struct {
	Key            string        `json:"key"`
	Type           string        `json:"type"`
	IdempotencyKey string        `json:"idempotency_key"`
	Started        time.Time     `json:"started"`
	QueueDelay     time.Duration `json:"queue_delay"`
	Duration       time.Duration `json:"duration"`
	Outcome        string        `json:"outcome"`
	Error          string        `json:"error,omitempty"`
}

// JobEvent is published on the bus for every finished, failed, unhandled or
// dropped event.
type JobEvent struct {
	Key            string        `json:"key"`
	Type           string        `json:"type"`
	IdempotencyKey string        `json:"idempotency_key"`
	QueueDelay     time.Duration `json:"queue_delay"`
	Duration       time.Duration `json:"duration"`
	Error          string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running  bool `json:"running"`
	Stopping bool `json:"stopping"`

	Intake  int `json:"intake"`
	Workers int `json:"workers"`
	Busy    int `json:"busy"`
	Min     int `json:"min_workers"`
	Max     int `json:"max_workers"`

	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Unhandled uint64 `json:"unhandled"`
	Dropped   uint64 `json:"dropped"`

	History []HistoryItem `json:"history"`
}
