package orders

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/boutique-labs/orders/internal/kafka"
)

// OrderStore is the persistence the service needs for order records.
// *Repo implements it; tests use an in-memory fake.
type OrderStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Insert(ctx context.Context, o Order, idempotencyKey string) error
	GetByNumber(ctx context.Context, orderNumber string) (Order, error)
	GetByNumberForUpdate(ctx context.Context, orderNumber string) (Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	SetStatus(ctx context.Context, orderNumber string, status Status) error
	List(ctx context.Context) ([]Order, error)
}

// InventoryStore is the slice of the inventory ledger the service mutates.
type InventoryStore interface {
	GetProducts(ctx context.Context, ids []string) (map[string]Product, error)
	ReserveAndDecrement(ctx context.Context, productID string, qty int) error
	Restock(ctx context.Context, productID string, qty int) error
}

// Publisher matches kafkax.Producer. A nil publisher drops events.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

const (
	shippingFlatCents = 5000 // flat shipping fee
	taxPercent        = 10
)

// Service orchestrates order creation against the inventory ledger, applies
// status transitions, and answers read queries.
type Service struct {
	Store  OrderStore
	Ledger InventoryStore

	CreatedEvents Publisher
	StatusEvents  Publisher
	RefundEvents  Publisher
	ConfirmEvents Publisher
	ServiceName   string
}

type ItemInput struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type CreateOrderInput struct {
	Customer       Customer
	Items          []ItemInput
	IdempotencyKey string // optional; same key replays the original order
}

type CreateOrderResult struct {
	Order   Order
	Created bool
}

// CreateOrder validates every line item, persists the order, and deducts
// stock, all inside one transaction. Any failure rolls the whole request
// back: no orphan order, no partial decrement.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (CreateOrderResult, error) {
	if len(in.Items) == 0 {
		return CreateOrderResult{}, ErrEmptyOrder
	}
	for _, it := range in.Items {
		if it.Qty < 1 {
			return CreateOrderResult{}, fmt.Errorf("%w: product %s", ErrInvalidQty, it.ProductID)
		}
	}

	if in.IdempotencyKey != "" {
		existing, err := s.Store.FindByIdempotencyKey(ctx, in.IdempotencyKey)
		if err != nil {
			return CreateOrderResult{}, err
		}
		if existing != nil {
			return CreateOrderResult{Order: *existing, Created: false}, nil
		}
	}

	now := time.Now().UTC()
	order := Order{
		ID:          uuid.NewString(),
		OrderNumber: newOrderNumber(now),
		Customer:    in.Customer,
		Status:      StatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var result CreateOrderResult
	err := s.Store.WithTx(ctx, func(txCtx context.Context) error {
		ids := make([]string, 0, len(in.Items))
		for _, it := range in.Items {
			ids = append(ids, it.ProductID)
		}
		products, err := s.Ledger.GetProducts(txCtx, ids)
		if err != nil {
			return err
		}

		// Validate per item, in item order, before touching anything.
		subtotal := 0
		items := make([]Item, 0, len(in.Items))
		for _, it := range in.Items {
			p, ok := products[it.ProductID]
			if !ok {
				return &ProductNotFoundError{ProductID: it.ProductID}
			}
			if p.Stock < it.Qty {
				return &InsufficientStockError{ProductID: it.ProductID, Requested: it.Qty, Available: p.Stock}
			}
			items = append(items, Item{ProductID: it.ProductID, Qty: it.Qty, PriceCents: p.PriceCents})
			subtotal += p.PriceCents * it.Qty
		}
		order.Items = items
		order.Totals = computeTotals(subtotal)

		if err := s.Store.Insert(txCtx, order, in.IdempotencyKey); err != nil {
			return err
		}

		// The guarded decrement is the authority; the check above can go
		// stale under concurrency and the UPDATE predicate catches that.
		// Decrement in product-id order so two multi-item orders cannot
		// deadlock on row locks.
		byID := make([]Item, len(items))
		copy(byID, items)
		sort.Slice(byID, func(i, j int) bool { return byID[i].ProductID < byID[j].ProductID })
		for _, it := range byID {
			if err := s.Ledger.ReserveAndDecrement(txCtx, it.ProductID, it.Qty); err != nil {
				return err
			}
		}
		result = CreateOrderResult{Order: order, Created: true}
		return nil
	})
	if err != nil {
		// A concurrent request with the same idempotency key may have won the
		// insert race; hand back its order instead of failing.
		if errors.Is(err, ErrAlreadyExists) && in.IdempotencyKey != "" {
			existing, ferr := s.Store.FindByIdempotencyKey(ctx, in.IdempotencyKey)
			if ferr == nil && existing != nil {
				return CreateOrderResult{Order: *existing, Created: false}, nil
			}
		}
		return CreateOrderResult{}, err
	}

	s.publish(s.CreatedEvents, EventOrderCreated, order.OrderNumber, OrderCreatedPayload{
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.Customer.Email,
		Items:         toItemQtys(order.Items),
		TotalCents:    order.Totals.TotalCents,
	})
	return result, nil
}

// UpdateStatus sets the order's status. Re-applying the current status is a
// no-op success; moving out of a terminal state is rejected.
func (s *Service) UpdateStatus(ctx context.Context, orderNumber string, status Status) (Order, error) {
	if !status.Valid() {
		return Order{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var updated Order
	var changed bool
	var from Status
	err := s.Store.WithTx(ctx, func(txCtx context.Context) error {
		o, err := s.Store.GetByNumberForUpdate(txCtx, orderNumber)
		if err != nil {
			return err
		}
		if o.Status == status {
			updated = o
			return nil
		}
		if o.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrOrderFinalized, orderNumber, o.Status)
		}
		if err := s.Store.SetStatus(txCtx, orderNumber, status); err != nil {
			return err
		}
		from = o.Status
		o.Status = status
		o.UpdatedAt = time.Now().UTC()
		updated = o
		changed = true
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if changed {
		s.publish(s.StatusEvents, EventOrderStatusChanged, orderNumber, StatusChangedPayload{
			OrderNumber: orderNumber,
			From:        from,
			To:          status,
		})
	}
	return updated, nil
}

// Confirm triggers the confirmation notification for an existing order. It
// changes nothing and is safe to call repeatedly.
func (s *Service) Confirm(ctx context.Context, orderNumber string) error {
	o, err := s.Store.GetByNumber(ctx, orderNumber)
	if err != nil {
		return err
	}
	s.publish(s.ConfirmEvents, EventConfirmationRequested, orderNumber, ConfirmationPayload{
		OrderNumber:   o.OrderNumber,
		CustomerEmail: o.Customer.Email,
	})
	return nil
}

// Refund marks the order refunded and returns every line item's quantity to
// the ledger. Refunding an already-refunded order is a no-op success and
// never restocks twice.
func (s *Service) Refund(ctx context.Context, orderNumber string) (Order, error) {
	var refunded Order
	var changed bool
	err := s.Store.WithTx(ctx, func(txCtx context.Context) error {
		o, err := s.Store.GetByNumberForUpdate(txCtx, orderNumber)
		if err != nil {
			return err
		}
		if o.Status == StatusRefunded {
			refunded = o
			return nil
		}
		for _, it := range o.Items {
			if err := s.Ledger.Restock(txCtx, it.ProductID, it.Qty); err != nil {
				return err
			}
		}
		if err := s.Store.SetStatus(txCtx, orderNumber, StatusRefunded); err != nil {
			return err
		}
		o.Status = StatusRefunded
		o.UpdatedAt = time.Now().UTC()
		refunded = o
		changed = true
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if changed {
		s.publish(s.RefundEvents, EventOrderRefunded, orderNumber, RefundedPayload{
			OrderNumber:   refunded.OrderNumber,
			CustomerEmail: refunded.Customer.Email,
			Restocked:     toItemQtys(refunded.Items),
			TotalCents:    refunded.Totals.TotalCents,
		})
	}
	return refunded, nil
}

func (s *Service) GetOrder(ctx context.Context, orderNumber string) (Order, error) {
	return s.Store.GetByNumber(ctx, orderNumber)
}

// ListOrders returns all orders, newest first.
func (s *Service) ListOrders(ctx context.Context) ([]Order, error) {
	return s.Store.List(ctx)
}

func (s *Service) publish(p Publisher, eventType, orderNumber string, payload any) {
	if p == nil {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		CorrelationID: orderNumber,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(PartitionKey(orderNumber), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func computeTotals(subtotal int) Totals {
	tax := subtotal * taxPercent / 100
	return Totals{
		SubtotalCents: subtotal,
		ShippingCents: shippingFlatCents,
		TaxCents:      tax,
		TotalCents:    subtotal + shippingFlatCents + tax,
	}
}

func toItemQtys(items []Item) []ItemQty {
	out := make([]ItemQty, 0, len(items))
	for _, it := range items {
		out = append(out, ItemQty{ProductID: it.ProductID, Qty: it.Qty})
	}
	return out
}

// newOrderNumber mirrors the storefront's ORD-<millis>-<rand> shape; the
// storage id is a separate UUID.
func newOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%d-%06d", now.UnixMilli(), rand.Intn(1_000_000))
}
