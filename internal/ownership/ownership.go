// Package ownership decides which scheduler instance arms a tenant's events.
package ownership

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
)

var ErrInvalidShard = errors.New("ownership: invalid shard")

// Resolver reports whether this instance owns an entity's events.
type Resolver interface {
	IsOwned(tenantID, entityID uuid.UUID) bool
}

// Config selects a resolver.
type Config struct {
	Mode  string // "all" (default) or "hash"
	Index int    // this instance's shard, 0-based
	Count int    // total shards
}

// All owns everything. It is the single-instance default.
type All struct{}

func (All) IsOwned(uuid.UUID, uuid.UUID) bool { return true }

// Hash shards by murmur3 of tenant and entity ids.
type Hash struct {
	Index int
	Count int
}

func (h Hash) IsOwned(tenantID, entityID uuid.UUID) bool {
	return Shard(tenantID, entityID, h.Count) == h.Index
}

// Shard maps the pair to [0, count).
func Shard(tenantID, entityID uuid.UUID, count int) int {
	if count <= 1 {
		return 0
	}
	var b [32]byte
	copy(b[:16], tenantID[:])
	copy(b[16:], entityID[:])
	return int(murmur3.Sum32(b[:]) % uint32(count))
}

func New(cfg Config) (Resolver, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", "all":
		return All{}, nil
	case "hash":
		if cfg.Count <= 0 || cfg.Index < 0 || cfg.Index >= cfg.Count {
			return nil, fmt.Errorf("%w: index %d of %d", ErrInvalidShard, cfg.Index, cfg.Count)
		}
		return Hash{Index: cfg.Index, Count: cfg.Count}, nil
	default:
		return nil, fmt.Errorf("ownership: unknown mode %q", cfg.Mode)
	}
}
