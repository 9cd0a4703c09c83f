package domain

import (
	"fmt"
	"strconv"
	"time"
)

// Order is the durable record of a fulfilled purchase. The backing store
// enforces a unique constraint on (UserID, VoucherID).
type Order struct {
	ID        int64
	UserID    int64
	VoucherID int64
	CreatedAt time.Time
}

// OrderIntent is an admitted purchase awaiting fulfillment. It carries every
// identifier the background worker needs; nothing is taken from request
// context across the queue boundary. Immutable once enqueued.
type OrderIntent struct {
	OrderID   int64
	UserID    int64
	VoucherID int64
}

// Stream field names for OrderIntent entries.
const (
	fieldOrderID   = "orderId"
	fieldUserID    = "userId"
	fieldVoucherID = "voucherId"
)

func (i OrderIntent) StreamValues() map[string]interface{} {
	return map[string]interface{}{
		fieldOrderID:   strconv.FormatInt(i.OrderID, 10),
		fieldUserID:    strconv.FormatInt(i.UserID, 10),
		fieldVoucherID: strconv.FormatInt(i.VoucherID, 10),
	}
}

// IntentFromStream reconstructs an OrderIntent from a stream entry's fields.
func IntentFromStream(values map[string]string) (OrderIntent, error) {
	var intent OrderIntent
	for _, f := range []struct {
		name string
		dst  *int64
	}{
		{fieldOrderID, &intent.OrderID},
		{fieldUserID, &intent.UserID},
		{fieldVoucherID, &intent.VoucherID},
	} {
		raw, ok := values[f.name]
		if !ok {
			return OrderIntent{}, fmt.Errorf("missing field %q", f.name)
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return OrderIntent{}, fmt.Errorf("field %q: %w", f.name, err)
		}
		*f.dst = n
	}
	return intent, nil
}
