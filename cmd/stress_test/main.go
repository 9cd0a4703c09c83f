// Stress driver for the admission path: floods Purchase with concurrent
// users against a small stock and checks that admissions never exceed it.
package main

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/voucher-seckill/internal/adapter/storage"
	"github.com/rl1809/voucher-seckill/internal/cache"
	"github.com/rl1809/voucher-seckill/internal/config"
	"github.com/rl1809/voucher-seckill/internal/core/domain"
	"github.com/rl1809/voucher-seckill/internal/core/service"
	"github.com/rl1809/voucher-seckill/internal/idgen"
)

const (
	voucherID     = int64(7001)
	initialStock  = 20
	totalRequests = 50
)

// stubCatalog keeps the stress run self-contained: no MySQL needed to
// exercise the Redis admission path.
type stubCatalog struct {
	voucher domain.Voucher
}

func (s *stubCatalog) GetVoucher(ctx context.Context, id int64) (*domain.Voucher, error) {
	if id != s.voucher.ID {
		return nil, nil
	}
	v := s.voucher
	return &v, nil
}

func (s *stubCatalog) GetShop(ctx context.Context, id int64) (*domain.Shop, error) {
	return nil, nil
}

func (s *stubCatalog) UpdateShop(ctx context.Context, shop domain.Shop) error {
	return nil
}

type stubOrders struct{}

func (stubOrders) FulfillOrder(ctx context.Context, intent domain.OrderIntent) error {
	return nil
}

func (stubOrders) GetOrder(ctx context.Context, userID, voucherID int64) (*domain.Order, error) {
	return nil, nil
}

func main() {
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()
	cfg := config.Load(log)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	// Clear previous run state
	id := strconv.FormatInt(voucherID, 10)
	rdb.Del(ctx, "seckill:stock:"+id, "seckill:orders:"+id, "cache:voucher:"+id, storage.OrderStream)

	redisStore := storage.NewRedisStore(rdb)
	if err := redisStore.SeedStock(ctx, voucherID, initialStock); err != nil {
		log.Fatal("failed to seed stock", zap.Error(err))
	}

	catalog := &stubCatalog{voucher: domain.Voucher{
		ID:        voucherID,
		Title:     "stress voucher",
		Stock:     initialStock,
		BeginTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now().Add(time.Hour),
	}}
	orderService := service.NewOrderService(
		redisStore, stubOrders{}, catalog,
		cache.NewClient(redisStore, log), idgen.New(redisStore), log,
	)

	var admitted, rejected atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			if _, err := orderService.Purchase(ctx, userID, voucherID); err == nil {
				admitted.Add(1)
			} else {
				rejected.Add(1)
			}
		}(int64(i + 1))
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Admitted:         %d\n", admitted.Load())
	fmt.Printf("Rejected:         %d\n", rejected.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if admitted.Load() == int32(initialStock) && rejected.Load() == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: exactly %d admitted, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: expected %d/%d, got %d/%d\n",
			initialStock, totalRequests-initialStock, admitted.Load(), rejected.Load())
	}

	finalStock, _ := rdb.Get(ctx, "seckill:stock:"+id).Int()
	fmt.Printf("Final Redis Stock: %d\n", finalStock)
	streamLen, _ := rdb.XLen(ctx, storage.OrderStream).Result()
	fmt.Printf("Stream Entries:    %d\n", streamLen)
}
