package ownership

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNew(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", Config{}, false},
		{"all", Config{Mode: "ALL"}, false},
		{"hash", Config{Mode: "hash", Index: 1, Count: 3}, false},
		{"hash index out of range", Config{Mode: "hash", Index: 3, Count: 3}, true},
		{"hash no count", Config{Mode: "hash"}, true},
		{"unknown", Config{Mode: "ring"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%+v) err = %v, wantErr %v", tt.cfg, err, tt.wantErr)
			}
		})
	}
	if _, err := New(Config{Mode: "hash", Index: -1, Count: 2}); !errors.Is(err, ErrInvalidShard) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidShard)
	}
}

func TestExactlyOneShardOwns(t *testing.T) {
	t.Parallel()
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	props := gopter.NewProperties(params)

	props.Property("every entity has exactly one owner", prop.ForAll(
		func(count int, seed int64) bool {
			tenant := uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(seed), byte(seed >> 8)})
			entity := uuid.NewSHA1(uuid.NameSpaceURL, []byte{byte(seed >> 16), byte(seed >> 24)})
			owners := 0
			for i := 0; i < count; i++ {
				if (Hash{Index: i, Count: count}).IsOwned(tenant, entity) {
					owners++
				}
			}
			return owners == 1
		},
		gen.IntRange(1, 16),
		gen.Int64(),
	))
	props.TestingRun(t)
}

func TestShardIsStable(t *testing.T) {
	t.Parallel()
	tenant, entity := uuid.New(), uuid.New()
	first := Shard(tenant, entity, 7)
	for i := 0; i < 10; i++ {
		if got := Shard(tenant, entity, 7); got != first {
			t.Fatalf("Shard = %d, want %d", got, first)
		}
	}
	if got := Shard(tenant, entity, 1); got != 0 {
		t.Fatalf("Shard(count=1) = %d, want 0", got)
	}
}
