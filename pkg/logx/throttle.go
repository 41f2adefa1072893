package logx

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle gates repeated log lines per key so bursty failure paths
// (enqueue errors, push failures) log at most once per interval.
type Throttle struct {
	every time.Duration

	mu   sync.Mutex
	keys map[string]*rate.Limiter
}

const throttleMaxKeys = 4096

func NewThrottle(every time.Duration) *Throttle {
	if every <= 0 {
		every = 5 * time.Second
	}
	return &Throttle{every: every, keys: map[string]*rate.Limiter{}}
}

// Allow reports whether a line for key may be written now.
// A nil Throttle allows everything.
func (t *Throttle) Allow(key string) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	lim := t.keys[key]
	if lim == nil {
		if len(t.keys) >= throttleMaxKeys {
			t.keys = map[string]*rate.Limiter{}
		}
		lim = rate.NewLimiter(rate.Every(t.every), 1)
		t.keys[key] = lim
	}
	t.mu.Unlock()
	return lim.Allow()
}
