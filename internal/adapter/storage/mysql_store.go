package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/voucher-seckill/internal/core/domain"
)

// ErrStockConflict means the conditional stock decrement matched no row:
// the mirrored stock admitted more orders than the backing store holds.
var ErrStockConflict = errors.New("stock conflict")

type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (m *MySQLStore) FulfillOrder(ctx context.Context, intent domain.OrderIntent) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Redelivery check: if the order already exists this intent was fulfilled
	// on an earlier delivery and committing nothing is the correct outcome.
	var existingID int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM voucher_orders WHERE user_id = ? AND voucher_id = ?`,
		intent.UserID, intent.VoucherID,
	).Scan(&existingID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check existing order: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE vouchers
		SET stock = stock - 1
		WHERE id = ? AND stock > 0`,
		intent.VoucherID,
	)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrStockConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO voucher_orders (id, user_id, voucher_id, created_at)
		VALUES (?, ?, ?, ?)`,
		intent.OrderID, intent.UserID, intent.VoucherID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	return tx.Commit()
}

func (m *MySQLStore) GetOrder(ctx context.Context, userID, voucherID int64) (*domain.Order, error) {
	var order domain.Order
	err := m.db.QueryRowContext(ctx, `
		SELECT id, user_id, voucher_id, created_at
		FROM voucher_orders WHERE user_id = ? AND voucher_id = ?`,
		userID, voucherID,
	).Scan(&order.ID, &order.UserID, &order.VoucherID, &order.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &order, nil
}

func (m *MySQLStore) GetVoucher(ctx context.Context, id int64) (*domain.Voucher, error) {
	var v domain.Voucher
	err := m.db.QueryRowContext(ctx, `
		SELECT id, title, stock, begin_time, end_time
		FROM vouchers WHERE id = ?`, id,
	).Scan(&v.ID, &v.Title, &v.Stock, &v.BeginTime, &v.EndTime)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query voucher: %w", err)
	}
	return &v, nil
}

func (m *MySQLStore) GetShop(ctx context.Context, id int64) (*domain.Shop, error) {
	var s domain.Shop
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, address, avg_price, updated_at
		FROM shops WHERE id = ?`, id,
	).Scan(&s.ID, &s.Name, &s.Address, &s.AvgPrice, &s.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query shop: %w", err)
	}
	return &s, nil
}

func (m *MySQLStore) UpdateShop(ctx context.Context, shop domain.Shop) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE shops
		SET name = ?, address = ?, avg_price = ?, updated_at = NOW()
		WHERE id = ?`,
		shop.Name, shop.Address, shop.AvgPrice, shop.ID,
	)
	if err != nil {
		return fmt.Errorf("update shop: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("update shop: no shop with id %d", shop.ID)
	}
	return nil
}
