// Package lock implements a distributed mutex over the shared key-value
// store. It is non-reentrant and non-fair: acquisition is a single attempt
// and callers retry or poll if they need blocking semantics.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/voucher-seckill/internal/port"
)

const keyPrefix = "lock:"

// unlockScript deletes the lock only when the stored token is the caller's
// own. Without the compare, a holder whose lock already expired could delete
// a lock re-acquired by someone else in the meantime.
const unlockScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`

// Mutex is one acquisition attempt for a named lock. The holder token is
// unique per Mutex, so create a fresh one for every acquisition.
type Mutex struct {
	kv    port.KeyValueStore
	name  string
	token string
}

func NewMutex(kv port.KeyValueStore, name string) *Mutex {
	return &Mutex{
		kv:    kv,
		name:  name,
		token: uuid.NewString(),
	}
}

// TryLock attempts to acquire the lock once. The ttl bounds how long a
// crashed holder can keep the lock. A false result is a normal outcome,
// never an error.
func (m *Mutex) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := m.kv.SetIfAbsent(ctx, keyPrefix+m.name, m.token, ttl)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", m.name, err)
	}
	return ok, nil
}

// Unlock releases the lock if this Mutex still holds it. Releasing a lock
// held by someone else (or nobody) is a no-op.
func (m *Mutex) Unlock(ctx context.Context) error {
	if _, err := m.kv.Eval(ctx, unlockScript, []string{keyPrefix + m.name}, m.token); err != nil {
		return fmt.Errorf("release lock %s: %w", m.name, err)
	}
	return nil
}
