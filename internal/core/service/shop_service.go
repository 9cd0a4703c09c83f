package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rl1809/voucher-seckill/internal/cache"
	"github.com/rl1809/voucher-seckill/internal/core/domain"
	"github.com/rl1809/voucher-seckill/internal/port"
)

const (
	shopCacheKeyPrefix = "cache:shop:"
	shopCacheTTL       = 30 * time.Minute
)

// ShopService serves read-heavy shop data through the logical-expiry cache
// path. Shop entries are pre-warmed with Warm and never physically expire;
// readers get at worst a slightly stale shop rather than a blocked request.
type ShopService struct {
	catalog port.CatalogRepository
	cache   *cache.Client
}

func NewShopService(catalog port.CatalogRepository, cacheClient *cache.Client) *ShopService {
	return &ShopService{catalog: catalog, cache: cacheClient}
}

// GetByID returns the shop from cache, nil if unknown.
func (s *ShopService) GetByID(ctx context.Context, id int64) (*domain.Shop, error) {
	return cache.GetWithLogicalExpire(ctx, s.cache, shopCacheKey(id), shopCacheTTL, func(ctx context.Context) (*domain.Shop, error) {
		return s.catalog.GetShop(ctx, id)
	})
}

// Warm loads the shop from the backing store and writes the logical-expiry
// entry. Run it for every shop before the cache path takes traffic.
func (s *ShopService) Warm(ctx context.Context, id int64) error {
	shop, err := s.catalog.GetShop(ctx, id)
	if err != nil {
		return err
	}
	if shop == nil {
		return errors.New("shop not found")
	}
	return s.cache.SetWithLogicalExpire(ctx, shopCacheKey(id), shop, shopCacheTTL)
}

// Update writes the shop to the backing store and deletes the cache entry.
// The next read repopulates; updating the entry here instead would race with
// concurrent stale reads.
func (s *ShopService) Update(ctx context.Context, shop domain.Shop) error {
	if shop.ID == 0 {
		return errors.New("shop id required")
	}
	if err := s.catalog.UpdateShop(ctx, shop); err != nil {
		return err
	}
	return s.cache.Delete(ctx, shopCacheKey(shop.ID))
}

func shopCacheKey(id int64) string {
	return shopCacheKeyPrefix + strconv.FormatInt(id, 10)
}
