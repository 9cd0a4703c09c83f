package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/voucher-seckill/internal/cache"
	"github.com/rl1809/voucher-seckill/internal/core/domain"
	"github.com/rl1809/voucher-seckill/internal/idgen"
)

type orderServiceEnv struct {
	svc       *OrderService
	kv        *fakeKV
	admission *fakeAdmission
	catalog   *fakeCatalog
	orders    *fakeOrders
}

func newOrderServiceEnv(t *testing.T) *orderServiceEnv {
	t.Helper()
	kv := newFakeKV()
	admission := newFakeAdmission(kv)
	catalog := newFakeCatalog()
	orders := newFakeOrders()
	svc := NewOrderService(admission, orders, catalog,
		cache.NewClient(kv, zap.NewNop()), idgen.New(kv), zap.NewNop())
	return &orderServiceEnv{svc: svc, kv: kv, admission: admission, catalog: catalog, orders: orders}
}

func (e *orderServiceEnv) addVoucher(t *testing.T, id int64, stock int) {
	t.Helper()
	e.catalog.vouchers[id] = domain.Voucher{
		ID:        id,
		Title:     "test voucher",
		Stock:     stock,
		BeginTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now().Add(time.Hour),
	}
	if err := e.svc.SeedVoucherStock(context.Background(), id); err != nil {
		t.Fatalf("seed stock failed: %v", err)
	}
}

func TestPurchase_Admitted(t *testing.T) {
	env := newOrderServiceEnv(t)
	env.addVoucher(t, 100, 5)

	orderID, err := env.svc.Purchase(context.Background(), 1, 100)
	if err != nil {
		t.Fatalf("expected admission, got error: %v", err)
	}
	if orderID <= 0 {
		t.Errorf("expected positive order id, got %d", orderID)
	}
	if got := env.admission.remainingStock(100); got != 4 {
		t.Errorf("expected stock 4, got %d", got)
	}
	// The intent is on the stream log, not in the database yet.
	if env.orders.count() != 0 {
		t.Error("admission must not touch the backing store")
	}
	if len(env.kv.stream) != 1 {
		t.Errorf("expected 1 enqueued intent, got %d", len(env.kv.stream))
	}
}

// Seeding warms the voucher cache entry, so the sale-window check on the
// purchase path never falls through to the backing store.
func TestPurchase_SeededVoucherServedFromCache(t *testing.T) {
	env := newOrderServiceEnv(t)
	env.addVoucher(t, 100, 5)

	if _, ok, _ := env.kv.Get(context.Background(), "cache:voucher:100"); !ok {
		t.Fatal("expected seeding to warm the voucher cache entry")
	}

	gets := env.catalog.voucherGets
	if _, err := env.svc.Purchase(context.Background(), 1, 100); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if env.catalog.voucherGets != gets {
		t.Error("expected voucher read served from cache, backing store was consulted")
	}
}

func TestPurchase_OutOfStock(t *testing.T) {
	env := newOrderServiceEnv(t)
	env.addVoucher(t, 100, 0)

	_, err := env.svc.Purchase(context.Background(), 1, 100)
	if !errors.Is(err, ErrOutOfStock) {
		t.Errorf("expected ErrOutOfStock, got: %v", err)
	}
}

func TestPurchase_DuplicateOrder(t *testing.T) {
	env := newOrderServiceEnv(t)
	env.addVoucher(t, 100, 5)
	ctx := context.Background()

	if _, err := env.svc.Purchase(ctx, 1, 100); err != nil {
		t.Fatalf("first purchase failed: %v", err)
	}
	_, err := env.svc.Purchase(ctx, 1, 100)
	if !errors.Is(err, ErrDuplicateOrder) {
		t.Errorf("expected ErrDuplicateOrder, got: %v", err)
	}
	if got := env.admission.remainingStock(100); got != 4 {
		t.Errorf("stock decremented twice for one user: %d", got)
	}
}

func TestPurchase_SaleWindow(t *testing.T) {
	env := newOrderServiceEnv(t)
	ctx := context.Background()

	env.catalog.vouchers[101] = domain.Voucher{
		ID: 101, Stock: 5,
		BeginTime: time.Now().Add(time.Hour),
		EndTime:   time.Now().Add(2 * time.Hour),
	}
	if _, err := env.svc.Purchase(ctx, 1, 101); !errors.Is(err, ErrSaleNotStarted) {
		t.Errorf("expected ErrSaleNotStarted, got: %v", err)
	}

	env.catalog.vouchers[102] = domain.Voucher{
		ID: 102, Stock: 5,
		BeginTime: time.Now().Add(-2 * time.Hour),
		EndTime:   time.Now().Add(-time.Hour),
	}
	if _, err := env.svc.Purchase(ctx, 1, 102); !errors.Is(err, ErrSaleEnded) {
		t.Errorf("expected ErrSaleEnded, got: %v", err)
	}
}

func TestPurchase_VoucherNotFound(t *testing.T) {
	env := newOrderServiceEnv(t)

	_, err := env.svc.Purchase(context.Background(), 1, 999)
	if !errors.Is(err, ErrVoucherNotFound) {
		t.Errorf("expected ErrVoucherNotFound, got: %v", err)
	}
}

func TestPurchase_IDAllocationFailureFailsCall(t *testing.T) {
	env := newOrderServiceEnv(t)
	env.addVoucher(t, 100, 5)
	env.kv.incrErr = errors.New("store unavailable")

	_, err := env.svc.Purchase(context.Background(), 2, 100)
	if err == nil {
		t.Fatal("expected error when id counter is unreachable")
	}
}

// Admissions never exceed stock, whatever the concurrency.
func TestPurchase_ConcurrentNeverOversells(t *testing.T) {
	env := newOrderServiceEnv(t)
	initialStock := 20
	totalRequests := 50
	env.addVoucher(t, 100, initialStock)

	var admitted, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			if _, err := env.svc.Purchase(context.Background(), userID, 100); err == nil {
				admitted.Add(1)
			} else {
				rejected.Add(1)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	if admitted.Load() != int32(initialStock) {
		t.Errorf("expected %d admissions, got %d", initialStock, admitted.Load())
	}
	if got := env.admission.remainingStock(100); got != 0 {
		t.Errorf("expected stock 0, got %d", got)
	}
	if len(env.kv.stream) != initialStock {
		t.Errorf("expected %d enqueued intents, got %d", initialStock, len(env.kv.stream))
	}
}

func TestOrderStatus(t *testing.T) {
	env := newOrderServiceEnv(t)
	ctx := context.Background()

	order, err := env.svc.OrderStatus(ctx, 1, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order != nil {
		t.Errorf("expected no order yet, got %+v", order)
	}

	intent := domain.OrderIntent{OrderID: 42, UserID: 1, VoucherID: 100}
	if err := env.orders.FulfillOrder(ctx, intent); err != nil {
		t.Fatal(err)
	}
	order, err = env.svc.OrderStatus(ctx, 1, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order == nil || order.ID != 42 {
		t.Errorf("expected order 42, got %+v", order)
	}
}

func TestSeedVoucherStock_UnknownVoucher(t *testing.T) {
	env := newOrderServiceEnv(t)
	err := env.svc.SeedVoucherStock(context.Background(), 999)
	if !errors.Is(err, ErrVoucherNotFound) {
		t.Errorf("expected ErrVoucherNotFound, got: %v", err)
	}
}
