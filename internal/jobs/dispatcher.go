package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"evsched/internal/domain"
)

// ErrMalformed is returned when an event's action cannot be executed.
var ErrMalformed = errors.New("malformed scheduler event action")

// Job executes one kind of scheduler event.
type Job interface {
	Type() string
	Supports(ev *domain.Event) bool
	Execute(ctx context.Context, ev *domain.Event) error
}

// Dispatcher routes events to jobs. It implements engine.Executor.
type Dispatcher struct {
	byType map[string]Job
	jobs   []Job
}

func NewDispatcher(jobs ...Job) *Dispatcher {
	d := &Dispatcher{byType: make(map[string]Job, len(jobs))}
	for _, j := range jobs {
		if j == nil {
			continue
		}
		d.byType[j.Type()] = j
		d.jobs = append(d.jobs, j)
	}
	return d
}

// Execute runs the job registered for ev's type. When no job is registered
// under that name the first job whose Supports accepts ev is used.
func (d *Dispatcher) Execute(ctx context.Context, ev *domain.Event) error {
	j := d.lookup(ev)
	if j == nil {
		return fmt.Errorf("%w: %q", domain.ErrUnhandled, ev.Type())
	}
	return j.Execute(ctx, ev)
}

func (d *Dispatcher) lookup(ev *domain.Event) Job {
	if j, ok := d.byType[ev.Type()]; ok {
		return j
	}
	for _, j := range d.jobs {
		if j.Supports(ev) {
			return j
		}
	}
	return nil
}

// Types lists the registered event types.
func (d *Dispatcher) Types() []string {
	out := make([]string, 0, len(d.byType))
	for t := range d.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
