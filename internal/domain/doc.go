// Package domain holds the scheduler event model shared by every layer:
// persisted definitions, their parsed recurrence, the typed action payload
// and the runtime Event handed from triggers to jobs.
package domain
