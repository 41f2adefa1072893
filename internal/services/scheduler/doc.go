// Package scheduler is the scheduler event engine.
//
// It loads enabled definitions at startup, arms one trigger per task key and
// hands every delivered firing to the command queue. Create, update and delete
// go through the Service so that triggers always follow the stored
// definitions: an update disarms the previous key before the new definition
// is persisted, and a delete disarms before the row is removed.
//
// Per task key the lifecycle is
//
//	Unscheduled -> Armed -> Fired -> Armed (recurring)
//	                              -> Disarmed (one-shot, endsOn passed, delete)
//
// With scheduler.enabled=false the Service only persists: nothing is armed
// and nothing fires.
package scheduler
