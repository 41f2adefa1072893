package jobs

import (
	"context"
	"fmt"

	"evsched/internal/domain"
	"evsched/internal/transport"
)

// AttributeJob pushes POST_ATTRIBUTES_REQUEST messages for DEVICE and ASSET
// originators.
type AttributeJob struct{ p pusher }

func NewAttributeJob(env Env) *AttributeJob {
	return &AttributeJob{p: newPusher(env, domain.TypeUpdateAttribute)}
}

func (j *AttributeJob) Type() string { return domain.TypeUpdateAttribute }

func (j *AttributeJob) Supports(ev *domain.Event) bool {
	return ev != nil && ev.Action.Type == domain.ActionPostAttributes
}

func (j *AttributeJob) Execute(ctx context.Context, ev *domain.Event) error {
	au := ev.Action.Attributes
	if au == nil {
		return fmt.Errorf("%w: %s: no attribute payload", ErrMalformed, ev.Key)
	}
	switch ev.Action.Originator.Type {
	case domain.EntityDevice, domain.EntityAsset:
	default:
		return fmt.Errorf("%w: %s: unsupported entity type %q", ErrMalformed, ev.Key, ev.Action.Originator.Type)
	}

	msg := j.p.message(ev, domain.ActionPostAttributes, au.Body)
	msg.Metadata[transport.MetaScope] = au.Scope
	j.p.push(ctx, ev, msg)
	return nil
}
