package orders

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	kafkago "github.com/segmentio/kafka-go"
)

// fakeStore backs service tests with an in-memory OrderStore and
// InventoryStore. WithTx holds the lock for the whole transaction and
// restores a snapshot on error, which mirrors the all-or-nothing behavior
// of the Postgres implementation closely enough for the service contract.
type fakeStore struct {
	mu       sync.Mutex
	products map[string]Product
	orders   map[string]Order // keyed by order number
	idem     map[string]string
}

func newFakeStore(products ...Product) *fakeStore {
	f := &fakeStore{
		products: make(map[string]Product),
		orders:   make(map[string]Order),
		idem:     make(map[string]string),
	}
	for _, p := range products {
		f.products[p.ID] = p
	}
	return f
}

type txMarker struct{}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txMarker{}) != nil {
		return fn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	snapProducts := make(map[string]Product, len(f.products))
	for k, v := range f.products {
		snapProducts[k] = v
	}
	snapOrders := make(map[string]Order, len(f.orders))
	for k, v := range f.orders {
		snapOrders[k] = v
	}
	snapIdem := make(map[string]string, len(f.idem))
	for k, v := range f.idem {
		snapIdem[k] = v
	}

	if err := fn(context.WithValue(ctx, txMarker{}, true)); err != nil {
		f.products = snapProducts
		f.orders = snapOrders
		f.idem = snapIdem
		return err
	}
	return nil
}

func (f *fakeStore) lock(ctx context.Context) func() {
	if ctx.Value(txMarker{}) != nil {
		return func() {}
	}
	f.mu.Lock()
	return f.mu.Unlock
}

func (f *fakeStore) Insert(ctx context.Context, o Order, idempotencyKey string) error {
	defer f.lock(ctx)()
	if idempotencyKey != "" {
		if _, dup := f.idem[idempotencyKey]; dup {
			return ErrAlreadyExists
		}
		f.idem[idempotencyKey] = o.OrderNumber
	}
	f.orders[o.OrderNumber] = o
	return nil
}

func (f *fakeStore) GetByNumber(ctx context.Context, orderNumber string) (Order, error) {
	defer f.lock(ctx)()
	o, ok := f.orders[orderNumber]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeStore) GetByNumberForUpdate(ctx context.Context, orderNumber string) (Order, error) {
	return f.GetByNumber(ctx, orderNumber)
}

func (f *fakeStore) FindByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	defer f.lock(ctx)()
	num, ok := f.idem[key]
	if !ok {
		return nil, nil
	}
	o := f.orders[num]
	return &o, nil
}

func (f *fakeStore) SetStatus(ctx context.Context, orderNumber string, status Status) error {
	defer f.lock(ctx)()
	o, ok := f.orders[orderNumber]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = status
	f.orders[orderNumber] = o
	return nil
}

func (f *fakeStore) List(ctx context.Context) ([]Order, error) {
	defer f.lock(ctx)()
	out := make([]Order, 0, len(f.orders))
	for _, o := range f.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) GetProducts(ctx context.Context, ids []string) (map[string]Product, error) {
	defer f.lock(ctx)()
	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeStore) ReserveAndDecrement(ctx context.Context, productID string, qty int) error {
	defer f.lock(ctx)()
	p, ok := f.products[productID]
	if !ok {
		return &ProductNotFoundError{ProductID: productID}
	}
	if p.Stock < qty {
		return &InsufficientStockError{ProductID: productID, Requested: qty, Available: p.Stock}
	}
	p.Stock -= qty
	f.products[productID] = p
	return nil
}

func (f *fakeStore) Restock(ctx context.Context, productID string, qty int) error {
	defer f.lock(ctx)()
	p, ok := f.products[productID]
	if !ok {
		return &ProductNotFoundError{ProductID: productID}
	}
	p.Stock += qty
	f.products[productID] = p
	return nil
}

func (f *fakeStore) stock(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products[id].Stock
}

func (f *fakeStore) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

// eventRecorder captures published envelopes for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Envelope
}

func (r *eventRecorder) Publish(key, value []byte, headers ...kafkago.Header) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, env)
	r.mu.Unlock()
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
