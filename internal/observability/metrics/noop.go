package metrics

import "time"

// NoopSink discards every metric.
type NoopSink struct{}

var _ Sink = NoopSink{}

func (NoopSink) TriggerArmed(string)                      {}
func (NoopSink) TriggerDisarmed(string)                   {}
func (NoopSink) TriggersActive(int)                       {}
func (NoopSink) TriggerFired(string)                      {}
func (NoopSink) QueueDepth(int, int)                      {}
func (NoopSink) Workers(int, int)                         {}
func (NoopSink) JobExecuted(string, string, time.Duration) {}
func (NoopSink) PushOutcome(string, string)               {}
