package domain

import "time"

// Voucher is a limited-stock offer sold first-come-first-served inside a
// fixed time window. Stock is owned by the backing store; the admission
// script works against a mirrored copy in the key-value store.
type Voucher struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Stock     int       `json:"stock"`
	BeginTime time.Time `json:"begin_time"`
	EndTime   time.Time `json:"end_time"`
}
