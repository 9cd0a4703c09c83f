package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rl1809/voucher-seckill/internal/core/domain"
	"github.com/rl1809/voucher-seckill/internal/port"
)

type streamMsg struct {
	id     string
	values map[string]string
}

type pendingState struct {
	deliveries int64
}

// fakeKV is an in-memory KeyValueStore with enough stream-log semantics for
// the worker tests: a cursor for undelivered entries and a pending map for
// delivered-but-unacknowledged ones.
type fakeKV struct {
	mu       sync.Mutex
	values   map[string]string
	counters map[string]int64
	incrErr  error

	stream  []streamMsg
	cursor  int
	pending map[string]*pendingState
	readErr error // returned once by StreamReadGroup
	seq     int
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		values:   make(map[string]string),
		counters: make(map[string]int64),
		pending:  make(map[string]*pendingState),
	}
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func (f *fakeKV) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value
	return true, nil
}

func (f *fakeKV) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

func (f *fakeKV) Increment(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incrErr != nil {
		return 0, f.incrErr
	}
	f.counters[key]++
	return f.counters[key], nil
}

// Eval mimics the lock-release script.
func (f *fakeKV) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(keys) == 1 && len(args) == 1 && f.values[keys[0]] == args[0].(string) {
		delete(f.values, keys[0])
		return 1, nil
	}
	return 0, nil
}

func (f *fakeKV) StreamAppend(ctx context.Context, stream string, values map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	msg := streamMsg{id: fmt.Sprintf("%d-0", f.seq), values: make(map[string]string, len(values))}
	for k, v := range values {
		msg.values[k] = fmt.Sprint(v)
	}
	f.stream = append(f.stream, msg)
	return nil
}

func (f *fakeKV) StreamEnsureGroup(ctx context.Context, stream, group string) error { return nil }

func (f *fakeKV) StreamReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]port.StreamEntry, error) {
	f.mu.Lock()
	if f.readErr != nil {
		err := f.readErr
		f.readErr = nil
		f.mu.Unlock()
		return nil, err
	}
	var entries []port.StreamEntry
	for f.cursor < len(f.stream) && int64(len(entries)) < count {
		msg := f.stream[f.cursor]
		f.cursor++
		f.pending[msg.id] = &pendingState{deliveries: 1}
		entries = append(entries, port.StreamEntry{ID: msg.id, Values: msg.values, DeliveryCount: 1})
	}
	f.mu.Unlock()
	if len(entries) == 0 {
		time.Sleep(time.Millisecond) // stand-in for the blocking read
	}
	return entries, nil
}

func (f *fakeKV) StreamAck(ctx context.Context, stream, group, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, id)
	return nil
}

func (f *fakeKV) StreamReadPending(ctx context.Context, stream, group, consumer string, count int64) ([]port.StreamEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var entries []port.StreamEntry
	for _, msg := range f.stream {
		state, ok := f.pending[msg.id]
		if !ok {
			continue
		}
		state.deliveries++
		entries = append(entries, port.StreamEntry{ID: msg.id, Values: msg.values, DeliveryCount: state.deliveries})
		if int64(len(entries)) >= count {
			break
		}
	}
	return entries, nil
}

func (f *fakeKV) pendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// markPending simulates a crash after delivery: the entry was read but never
// acknowledged by the previous run.
func (f *fakeKV) markPending(deliveries int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.cursor < len(f.stream) {
		msg := f.stream[f.cursor]
		f.cursor++
		f.pending[msg.id] = &pendingState{deliveries: deliveries}
	}
}

// fakeAdmission reproduces the admission script's semantics in Go and
// appends admitted intents to the fake stream, mirroring the real script.
type fakeAdmission struct {
	mu      sync.Mutex
	stock   map[int64]int
	ordered map[int64]map[int64]bool
	kv      *fakeKV
}

func newFakeAdmission(kv *fakeKV) *fakeAdmission {
	return &fakeAdmission{
		stock:   make(map[int64]int),
		ordered: make(map[int64]map[int64]bool),
		kv:      kv,
	}
}

func (f *fakeAdmission) AdmitOrder(ctx context.Context, voucherID, userID, orderID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stock[voucherID] <= 0 {
		return port.AdmissionOutOfStock, nil
	}
	if f.ordered[voucherID][userID] {
		return port.AdmissionDuplicateOrder, nil
	}
	f.stock[voucherID]--
	if f.ordered[voucherID] == nil {
		f.ordered[voucherID] = make(map[int64]bool)
	}
	f.ordered[voucherID][userID] = true
	intent := domain.OrderIntent{OrderID: orderID, UserID: userID, VoucherID: voucherID}
	return port.AdmissionOK, f.kv.StreamAppend(ctx, "stream.orders", intent.StreamValues())
}

func (f *fakeAdmission) SeedStock(ctx context.Context, voucherID int64, stock int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stock[voucherID] = stock
	return nil
}

func (f *fakeAdmission) remainingStock(voucherID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stock[voucherID]
}

type fakeCatalog struct {
	mu          sync.Mutex
	vouchers    map[int64]domain.Voucher
	shops       map[int64]domain.Shop
	shopGets    int
	voucherGets int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		vouchers: make(map[int64]domain.Voucher),
		shops:    make(map[int64]domain.Shop),
	}
}

func (f *fakeCatalog) GetVoucher(ctx context.Context, id int64) (*domain.Voucher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voucherGets++
	v, ok := f.vouchers[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (f *fakeCatalog) GetShop(ctx context.Context, id int64) (*domain.Shop, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shopGets++
	s, ok := f.shops[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeCatalog) UpdateShop(ctx context.Context, shop domain.Shop) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shops[shop.ID] = shop
	return nil
}

type orderKey struct {
	userID    int64
	voucherID int64
}

type fakeOrders struct {
	mu       sync.Mutex
	orders   map[orderKey]domain.Order
	failures int            // fail the next N FulfillOrder calls
	rejected map[int64]bool // vouchers whose fulfillment always fails
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		orders:   make(map[orderKey]domain.Order),
		rejected: make(map[int64]bool),
	}
}

func (f *fakeOrders) FulfillOrder(ctx context.Context, intent domain.OrderIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejected[intent.VoucherID] {
		return fmt.Errorf("voucher %d: stock conflict", intent.VoucherID)
	}
	if f.failures > 0 {
		f.failures--
		return fmt.Errorf("transient database failure")
	}
	key := orderKey{intent.UserID, intent.VoucherID}
	if _, ok := f.orders[key]; ok {
		return nil // redelivery no-op
	}
	f.orders[key] = domain.Order{
		ID:        intent.OrderID,
		UserID:    intent.UserID,
		VoucherID: intent.VoucherID,
		CreatedAt: time.Now(),
	}
	return nil
}

func (f *fakeOrders) GetOrder(ctx context.Context, userID, voucherID int64) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderKey{userID, voucherID}]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}
