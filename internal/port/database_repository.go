package port

import (
	"context"

	"github.com/rl1809/voucher-seckill/internal/core/domain"
)

type OrderRepository interface {
	// FulfillOrder persists the order described by intent inside one
	// transaction: re-checks that no order exists for (user, voucher),
	// decrements voucher stock conditionally on stock > 0, and inserts the
	// order row. Redelivery of an already-fulfilled intent is a no-op.
	FulfillOrder(ctx context.Context, intent domain.OrderIntent) error

	// GetOrder returns the order for (user, voucher), or nil if none exists.
	GetOrder(ctx context.Context, userID, voucherID int64) (*domain.Order, error)
}

type CatalogRepository interface {
	// GetVoucher returns the voucher by ID, or nil if it does not exist.
	GetVoucher(ctx context.Context, id int64) (*domain.Voucher, error)

	// GetShop returns the shop by ID, or nil if it does not exist.
	GetShop(ctx context.Context, id int64) (*domain.Shop, error)

	UpdateShop(ctx context.Context, shop domain.Shop) error
}
