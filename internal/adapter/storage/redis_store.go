package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/voucher-seckill/internal/port"
)

const (
	stockKeyPrefix  = "seckill:stock:"
	ordersKeyPrefix = "seckill:orders:"

	// OrderStream is the stream log the admission script appends intents to.
	OrderStream = "stream.orders"
)

// admitScript runs the whole admission check in one atomic round trip,
// relying on the store's serialized command execution instead of a lock.
// KEYS: stock key, order-set key, stream key. ARGV: userID, orderID, voucherID.
// Returns 0 on success, 1 when out of stock, 2 when the user already ordered.
var admitScript = redis.NewScript(`
local stock = redis.call('GET', KEYS[1])
if not stock or tonumber(stock) <= 0 then
	return 1
end
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
	return 2
end
redis.call('DECRBY', KEYS[1], 1)
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('XADD', KEYS[3], '*', 'orderId', ARGV[2], 'userId', ARGV[1], 'voucherId', ARGV[3])
return 0
`)

// RedisStore implements port.KeyValueStore and port.AdmissionStore.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return val, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Increment(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return n, nil
}

func (r *RedisStore) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (int64, error) {
	n, err := r.client.Eval(ctx, script, keys, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("eval: %w", err)
	}
	return n, nil
}

func (r *RedisStore) AdmitOrder(ctx context.Context, voucherID, userID, orderID int64) (int64, error) {
	keys := []string{
		stockKeyPrefix + strconv.FormatInt(voucherID, 10),
		ordersKeyPrefix + strconv.FormatInt(voucherID, 10),
		OrderStream,
	}
	result, err := admitScript.Run(ctx, r.client, keys,
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(orderID, 10),
		strconv.FormatInt(voucherID, 10),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("admission script: %w", err)
	}
	return result, nil
}

func (r *RedisStore) SeedStock(ctx context.Context, voucherID int64, stock int) error {
	key := stockKeyPrefix + strconv.FormatInt(voucherID, 10)
	if err := r.client.Set(ctx, key, stock, 0).Err(); err != nil {
		return fmt.Errorf("seed stock %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) StreamAppend(ctx context.Context, stream string, values map[string]interface{}) error {
	err := r.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}

func (r *RedisStore) StreamEnsureGroup(ctx context.Context, stream, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

func (r *RedisStore) StreamReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]port.StreamEntry, error) {
	res, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", stream, err)
	}
	var entries []port.StreamEntry
	for _, s := range res {
		for _, msg := range s.Messages {
			entries = append(entries, port.StreamEntry{
				ID:            msg.ID,
				Values:        stringValues(msg.Values),
				DeliveryCount: 1,
			})
		}
	}
	return entries, nil
}

func (r *RedisStore) StreamAck(ctx context.Context, stream, group, id string) error {
	if err := r.client.XAck(ctx, stream, group, id).Err(); err != nil {
		return fmt.Errorf("xack %s %s: %w", stream, id, err)
	}
	return nil
}

// StreamReadPending lists the consumer's pending entries and re-claims them
// so the per-entry delivery counter advances on every drain pass. An entry
// whose body was trimmed from the stream comes back with nil Values.
func (r *RedisStore) StreamReadPending(ctx context.Context, stream, group, consumer string, count int64) ([]port.StreamEntry, error) {
	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		Start:    "-",
		End:      "+",
		Count:    count,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xpending %s: %w", stream, err)
	}
	entries := make([]port.StreamEntry, 0, len(pending))
	for _, p := range pending {
		entry := port.StreamEntry{ID: p.ID, DeliveryCount: p.RetryCount + 1}
		msgs, err := r.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    group,
			Consumer: consumer,
			MinIdle:  0,
			Messages: []string{p.ID},
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("xclaim %s %s: %w", stream, p.ID, err)
		}
		if len(msgs) > 0 {
			entry.Values = stringValues(msgs[0].Values)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func stringValues(values map[string]interface{}) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = fmt.Sprint(v)
	}
	return out
}
