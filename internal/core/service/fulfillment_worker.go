package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/rl1809/voucher-seckill/internal/core/domain"
	"github.com/rl1809/voucher-seckill/internal/lock"
	"github.com/rl1809/voucher-seckill/internal/port"
)

// ErrLockNotAcquired reports that another fulfillment of the same user is in
// flight. The entry stays pending and is retried on the next drain.
var ErrLockNotAcquired = errors.New("user lock not acquired")

const (
	consumerGroup = "g1"
	consumerName  = "c1"

	readBlock   = time.Second
	userLockTTL = 10 * time.Second

	userLockKeyPrefix = "order:"

	// maxDeliveries bounds how often a failing entry is redelivered before it
	// is acknowledged and dropped. The pending drain always serves the oldest
	// entry first, so without the bound one undecodable or unfulfillable
	// entry would starve everything behind it.
	maxDeliveries = 16

	pendingRetryBase  = 50 * time.Millisecond
	pendingMaxRetries = 5
)

var (
	fulfilledTotal          = metrics.NewCounter(`seckill_fulfillment_total{outcome="fulfilled"}`)
	fulfillmentFailureTotal = metrics.NewCounter(`seckill_fulfillment_total{outcome="failed"}`)
	poisonDroppedTotal      = metrics.NewCounter(`seckill_fulfillment_total{outcome="poison_dropped"}`)
	parkedTotal             = metrics.NewCounter(`seckill_fulfillment_total{outcome="parked"}`)
)

// FulfillmentWorker is the single background consumer of the order stream.
// It reads admitted intents under a consumer group, serializes per-user work
// with a distributed lock, persists each order through the idempotent
// backing-store transaction and acknowledges only after the write commits.
// Anything left unacknowledged is recovered from the pending list.
type FulfillmentWorker struct {
	kv     port.KeyValueStore
	orders port.OrderRepository
	log    *zap.Logger
	stream string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewFulfillmentWorker(kv port.KeyValueStore, orders port.OrderRepository, stream string, log *zap.Logger) *FulfillmentWorker {
	return &FulfillmentWorker{
		kv:     kv,
		orders: orders,
		log:    log,
		stream: stream,
	}
}

// Start creates the consumer group if needed, drains entries left pending by
// a previous run, then begins consuming. It returns once the loop is running.
func (w *FulfillmentWorker) Start(ctx context.Context) error {
	if err := w.kv.StreamEnsureGroup(ctx, w.stream, consumerGroup); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.drainPending(runCtx)
		w.run(runCtx)
	}()
	return nil
}

// Stop signals the loop and waits for the in-flight entry to finish.
func (w *FulfillmentWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *FulfillmentWorker) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		entries, err := w.kv.StreamReadGroup(ctx, w.stream, consumerGroup, consumerName, 1, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error("stream read failed", zap.Error(err))
			w.drainPending(ctx)
			continue
		}
		for _, entry := range entries {
			if err := w.handle(ctx, entry); err != nil {
				fulfillmentFailureTotal.Inc()
				w.log.Error("fulfillment failed, entry left pending",
					zap.String("entry", entry.ID), zap.Error(err))
				w.drainPending(ctx)
			}
		}
	}
}

// handle fulfills one entry and acknowledges it. On error the entry is left
// unacknowledged so the pending list redelivers it, until the delivery bound:
// past it, undecodable entries are dropped and persistently unfulfillable
// ones are parked, both acknowledged so the entries behind them keep
// draining. Lock contention never counts toward parking; the holder may be
// another worker making progress.
func (w *FulfillmentWorker) handle(ctx context.Context, entry port.StreamEntry) error {
	intent, err := domain.IntentFromStream(entry.Values)
	if err != nil {
		if entry.DeliveryCount >= maxDeliveries {
			poisonDroppedTotal.Inc()
			w.log.Warn("dropping undecodable stream entry",
				zap.String("entry", entry.ID),
				zap.Int64("deliveries", entry.DeliveryCount),
				zap.Error(err))
			return w.kv.StreamAck(ctx, w.stream, consumerGroup, entry.ID)
		}
		return fmt.Errorf("decode intent %s: %w", entry.ID, err)
	}

	if err := w.fulfill(ctx, intent); err != nil {
		if entry.DeliveryCount >= maxDeliveries && !errors.Is(err, ErrLockNotAcquired) {
			parkedTotal.Inc()
			w.log.Warn("parking unfulfillable entry",
				zap.String("entry", entry.ID),
				zap.Int64("order", intent.OrderID),
				zap.Int64("deliveries", entry.DeliveryCount),
				zap.Error(err))
			return w.kv.StreamAck(ctx, w.stream, consumerGroup, entry.ID)
		}
		return err
	}
	if err := w.kv.StreamAck(ctx, w.stream, consumerGroup, entry.ID); err != nil {
		return err
	}
	fulfilledTotal.Inc()
	return nil
}

func (w *FulfillmentWorker) fulfill(ctx context.Context, intent domain.OrderIntent) error {
	// Per-user lock: admission already dedups per user, this serializes
	// accidental duplicate deliveries racing through a scaled-out worker.
	mu := lock.NewMutex(w.kv, userLockKeyPrefix+strconv.FormatInt(intent.UserID, 10))
	acquired, err := mu.TryLock(ctx, userLockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("user %d: %w", intent.UserID, ErrLockNotAcquired)
	}
	defer func() {
		if err := mu.Unlock(ctx); err != nil {
			w.log.Warn("user lock release failed",
				zap.Int64("user", intent.UserID), zap.Error(err))
		}
	}()

	return w.orders.FulfillOrder(ctx, intent)
}

// drainPending processes the consumer's delivered-but-unacknowledged entries
// from the oldest until the list is empty, then returns to normal reads.
// Transient read failures back off and retry; a failing entry stays on the
// pending list until handle drops or parks it at the delivery bound, so the
// loop always makes progress.
func (w *FulfillmentWorker) drainPending(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		var entries []port.StreamEntry
		err := retry.Do(ctx, retry.WithMaxRetries(pendingMaxRetries, retry.NewConstant(pendingRetryBase)), func(ctx context.Context) error {
			var rerr error
			entries, rerr = w.kv.StreamReadPending(ctx, w.stream, consumerGroup, consumerName, 1)
			if rerr != nil {
				return retry.RetryableError(rerr)
			}
			return nil
		})
		if err != nil {
			if ctx.Err() == nil {
				w.log.Error("pending read failed", zap.Error(err))
			}
			return
		}
		if len(entries) == 0 {
			return
		}
		if err := w.handle(ctx, entries[0]); err != nil {
			fulfillmentFailureTotal.Inc()
			w.log.Error("pending entry failed",
				zap.String("entry", entries[0].ID), zap.Error(err))
			select {
			case <-time.After(pendingRetryBase):
			case <-ctx.Done():
				return
			}
		}
	}
}
