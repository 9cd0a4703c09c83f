package port

import (
	"context"
	"time"
)

// StreamEntry is a single record read from the shared stream log.
// DeliveryCount is the number of times the entry has been delivered to a
// consumer; it is only meaningful for entries read from the pending list.
// A nil Values map means the entry body is no longer retrievable.
type StreamEntry struct {
	ID            string
	Values        map[string]string
	DeliveryCount int64
}

// KeyValueStore is the capability surface over the shared key-value store.
// Every method is a network call: a store failure is always a non-nil error
// and is never folded into a false or absent result.
type KeyValueStore interface {
	// Get returns the value for key. ok is false when the key does not exist.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key. A zero ttl means no physical expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetIfAbsent stores value only if key does not exist, returns whether it did.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	Delete(ctx context.Context, key string) error

	// Increment atomically increments the counter at key and returns the new value.
	Increment(ctx context.Context, key string) (int64, error)

	// Eval runs a server-side script atomically and returns its integer result.
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (int64, error)

	// StreamAppend appends a flat field map to the named stream log.
	StreamAppend(ctx context.Context, stream string, values map[string]interface{}) error

	// StreamEnsureGroup creates the consumer group (and the stream) if missing.
	StreamEnsureGroup(ctx context.Context, stream, group string) error

	// StreamReadGroup blocks up to block for undelivered entries, returning
	// an empty slice on timeout.
	StreamReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamEntry, error)

	StreamAck(ctx context.Context, stream, group, id string) error

	// StreamReadPending claims up to count delivered-but-unacknowledged
	// entries for consumer, oldest first. Each claim increments the entry's
	// delivery count.
	StreamReadPending(ctx context.Context, stream, group, consumer string, count int64) ([]StreamEntry, error)
}
