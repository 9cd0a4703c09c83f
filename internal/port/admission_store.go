package port

import "context"

// Admission outcomes returned by the atomic admission script.
const (
	AdmissionOK             int64 = 0
	AdmissionOutOfStock     int64 = 1
	AdmissionDuplicateOrder int64 = 2
)

type AdmissionStore interface {
	// AdmitOrder runs the atomic admission check: stock > 0 and no prior
	// order for (voucher, user). On success it decrements the mirrored
	// stock, records the user in the voucher's order set and appends the
	// order intent to the stream log, all in one server-side script.
	AdmitOrder(ctx context.Context, voucherID, userID, orderID int64) (int64, error)

	// SeedStock mirrors a voucher's stock count into the store.
	SeedStock(ctx context.Context, voucherID int64, stock int) error
}
