// Package idgen produces 64-bit unique, time-ordered identifiers without
// coordination beyond the shared store's atomic counter.
package idgen

import (
	"context"
	"fmt"
	"time"

	"github.com/rl1809/voucher-seckill/internal/port"
)

// epoch is 2025-01-01T00:00:00Z. The 31-bit second field on top of it is
// usable until roughly 2093.
const epoch int64 = 1735689600

const counterKeyPrefix = "icr:"

type Generator struct {
	kv port.KeyValueStore
}

func New(kv port.KeyValueStore) *Generator {
	return &Generator{kv: kv}
}

// NextID returns a positive identifier laid out as
// [0][31 bits seconds since epoch][32 bits day-scoped sequence].
// The sequence lives under a per-(namespace, calendar day) counter key, so
// concurrent processes can never collide. When the shared counter is
// unreachable the call fails; uniqueness cannot be guaranteed locally.
func (g *Generator) NextID(ctx context.Context, namespace string) (int64, error) {
	now := time.Now().UTC()
	timestamp := now.Unix() - epoch

	key := counterKeyPrefix + namespace + ":" + now.Format("2006:01:02")
	seq, err := g.kv.Increment(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("id sequence for %q: %w", namespace, err)
	}

	return timestamp<<32 | seq, nil
}
