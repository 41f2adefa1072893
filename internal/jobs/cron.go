package jobs

import (
	"context"
	"fmt"

	"evsched/internal/domain"
)

// CronJob handles CRON_JOB events, whose action type is read from the
// configuration, by delegating to the matching action job.
type CronJob struct {
	byAction map[domain.ActionType]Job
}

func NewCronJob(attr *AttributeJob, rpc *RPCJob) *CronJob {
	return &CronJob{byAction: map[domain.ActionType]Job{
		domain.ActionPostAttributes: attr,
		domain.ActionRPCToDevice:    rpc,
	}}
}

func (j *CronJob) Type() string { return domain.TypeCronJob }

func (j *CronJob) Supports(ev *domain.Event) bool {
	return ev != nil && ev.Type() == domain.TypeCronJob
}

func (j *CronJob) Execute(ctx context.Context, ev *domain.Event) error {
	target, ok := j.byAction[ev.Action.Type]
	if !ok || target == nil {
		return fmt.Errorf("%w: %s: unsupported actionType %q", ErrMalformed, ev.Key, ev.Action.Type)
	}
	return target.Execute(ctx, ev)
}

// NewStandardDispatcher wires the attribute, RPC and cron jobs.
func NewStandardDispatcher(env Env) *Dispatcher {
	attr := NewAttributeJob(env)
	rpc := NewRPCJob(env)
	return NewDispatcher(attr, rpc, NewCronJob(attr, rpc))
}
