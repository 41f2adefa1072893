package transport

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"evsched/internal/domain"
)

// RateLimited caps the push rate of next. A push waiting for a token fails
// when ctx ends.
type RateLimited struct {
	next    Sink
	limiter *rate.Limiter
}

// NewRateLimited wraps next. perSec <= 0 returns next unchanged.
func NewRateLimited(next Sink, perSec float64, burst int) Sink {
	if perSec <= 0 {
		return next
	}
	if burst <= 0 {
		burst = max(int(perSec), 1)
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSec), burst)}
}

func (r *RateLimited) Push(ctx context.Context, tenantID uuid.UUID, originator domain.EntityID, msg *Message, cb Callback) {
	if err := r.limiter.Wait(ctx); err != nil {
		cb.Failure(msg, fmt.Errorf("rate limit: %w", err))
		return
	}
	r.next.Push(ctx, tenantID, originator, msg, cb)
}
