// Package metrics records scheduler pipeline metrics.
package metrics

import "time"

// Sink records pipeline metrics. Implementations MUST NOT block.
type Sink interface {
	// Trigger registry
	TriggerArmed(kind string)
	TriggerDisarmed(reason string)
	TriggersActive(n int)
	TriggerFired(outcome string)

	// Command queue
	QueueDepth(intake, backlog int)
	Workers(total, busy int)
	JobExecuted(jobType, outcome string, d time.Duration)

	// Downstream sink
	PushOutcome(msgType, outcome string)
}

// Trigger kinds.
const (
	KindCron = "cron"
	KindOnce = "once"
)

// Fire outcomes.
const (
	FireDelivered  = "fired"
	FireNotStarted = "not_started"
	FireExpired    = "expired"
)

// Disarm reasons.
const (
	DisarmExplicit = "disarm"
	DisarmReplaced = "replaced"
	DisarmExpired  = "expired"
	DisarmFired    = "fired"
	DisarmShutdown = "shutdown"
)

// Job and push outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeUnhandled = "unhandled"
	OutcomeDropped   = "dropped"
)

// OrNoop returns s, or a NoopSink when s is nil.
func OrNoop(s Sink) Sink {
	if s == nil {
		return NoopSink{}
	}
	return s
}
