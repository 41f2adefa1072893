// Package trigger owns the armed triggers of the scheduler.
//
// A trigger is either a cron entry (robfig/cron, one entry per task key) or a
// one-shot timer. Firings are not evaluated on the cron goroutine: they are
// handed to a small evaluator pool which applies the start/end window guards
// and then invokes the caller's callback.
//
// Each armed handle has a mutex held across guard evaluation and callback, so
// once Disarm returns no further callback for that handle can start.
package trigger
