package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"

	"github.com/rl1809/voucher-seckill/internal/cache"
	"github.com/rl1809/voucher-seckill/internal/core/domain"
	"github.com/rl1809/voucher-seckill/internal/idgen"
	"github.com/rl1809/voucher-seckill/internal/port"
)

// Expected business outcomes of a purchase attempt. Callers branch on these;
// they are not store failures.
var (
	ErrOutOfStock      = errors.New("out of stock")
	ErrDuplicateOrder  = errors.New("duplicate order")
	ErrSaleNotStarted  = errors.New("sale not started")
	ErrSaleEnded       = errors.New("sale ended")
	ErrVoucherNotFound = errors.New("voucher not found")
)

const (
	orderIDNamespace      = "order"
	voucherCacheKeyPrefix = "cache:voucher:"
	voucherCacheTTL       = 30 * time.Minute
)

var (
	admittedTotal   = metrics.NewCounter(`seckill_purchase_total{outcome="admitted"}`)
	outOfStockTotal = metrics.NewCounter(`seckill_purchase_total{outcome="out_of_stock"}`)
	duplicateTotal  = metrics.NewCounter(`seckill_purchase_total{outcome="duplicate"}`)
)

// OrderService is the synchronous admission side of the flash-sale pipeline.
// Purchase performs exactly one atomic round trip against the key-value
// store; voucher metadata comes from the cache, warmed when the sale is
// seeded, so a warm sale never touches the backing store on the caller's
// path.
type OrderService struct {
	admission port.AdmissionStore
	orders    port.OrderRepository
	catalog   port.CatalogRepository
	cache     *cache.Client
	ids       *idgen.Generator
	log       *zap.Logger
}

func NewOrderService(
	admission port.AdmissionStore,
	orders port.OrderRepository,
	catalog port.CatalogRepository,
	cacheClient *cache.Client,
	ids *idgen.Generator,
	log *zap.Logger,
) *OrderService {
	return &OrderService{
		admission: admission,
		orders:    orders,
		catalog:   catalog,
		cache:     cacheClient,
		ids:       ids,
		log:       log,
	}
}

// Purchase admits or rejects a purchase attempt and returns the order ID on
// admission. An admitted order is fulfilled asynchronously; its row appears
// once the background worker drains the intent from the stream log.
func (s *OrderService) Purchase(ctx context.Context, userID, voucherID int64) (int64, error) {
	voucher, err := s.voucherByID(ctx, voucherID)
	if err != nil {
		return 0, err
	}
	if voucher == nil {
		return 0, ErrVoucherNotFound
	}
	now := time.Now()
	if now.Before(voucher.BeginTime) {
		return 0, ErrSaleNotStarted
	}
	if now.After(voucher.EndTime) {
		return 0, ErrSaleEnded
	}

	orderID, err := s.ids.NextID(ctx, orderIDNamespace)
	if err != nil {
		return 0, fmt.Errorf("allocate order id: %w", err)
	}

	result, err := s.admission.AdmitOrder(ctx, voucherID, userID, orderID)
	if err != nil {
		return 0, fmt.Errorf("admission: %w", err)
	}
	switch result {
	case port.AdmissionOK:
		admittedTotal.Inc()
		return orderID, nil
	case port.AdmissionOutOfStock:
		outOfStockTotal.Inc()
		return 0, ErrOutOfStock
	case port.AdmissionDuplicateOrder:
		duplicateTotal.Inc()
		return 0, ErrDuplicateOrder
	default:
		return 0, fmt.Errorf("admission: unexpected result %d", result)
	}
}

// OrderStatus is the out-of-band reconciliation query: admission already
// succeeded for the caller, this reports whether fulfillment has landed.
// Returns nil when no order exists yet.
func (s *OrderService) OrderStatus(ctx context.Context, userID, voucherID int64) (*domain.Order, error) {
	return s.orders.GetOrder(ctx, userID, voucherID)
}

// SeedVoucherStock mirrors the voucher's stock into the key-value store and
// warms the voucher cache entry, so the sale-window check on the purchase
// path is served from cache. Call it when the sale is provisioned, before
// the first purchase.
func (s *OrderService) SeedVoucherStock(ctx context.Context, voucherID int64) error {
	voucher, err := s.catalog.GetVoucher(ctx, voucherID)
	if err != nil {
		return err
	}
	if voucher == nil {
		return ErrVoucherNotFound
	}
	if err := s.admission.SeedStock(ctx, voucherID, voucher.Stock); err != nil {
		return err
	}
	return s.cache.Set(ctx, voucherCacheKey(voucherID), voucher, voucherCacheTTL)
}

func (s *OrderService) voucherByID(ctx context.Context, id int64) (*domain.Voucher, error) {
	return cache.GetWithPassThrough(ctx, s.cache, voucherCacheKey(id), voucherCacheTTL, func(ctx context.Context) (*domain.Voucher, error) {
		return s.catalog.GetVoucher(ctx, id)
	})
}

func voucherCacheKey(id int64) string {
	return voucherCacheKeyPrefix + strconv.FormatInt(id, 10)
}
