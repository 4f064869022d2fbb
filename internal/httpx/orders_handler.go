package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/boutique-labs/orders/internal/orders"
	"github.com/boutique-labs/orders/internal/redisx"
)

const idempotencyHeader = "Idempotency-Key"

// OrderAPI is the slice of the order service the handler needs.
type OrderAPI interface {
	CreateOrder(ctx context.Context, in orders.CreateOrderInput) (orders.CreateOrderResult, error)
	UpdateStatus(ctx context.Context, orderNumber string, status orders.Status) (orders.Order, error)
	Confirm(ctx context.Context, orderNumber string) error
	Refund(ctx context.Context, orderNumber string) (orders.Order, error)
	GetOrder(ctx context.Context, orderNumber string) (orders.Order, error)
	ListOrders(ctx context.Context) ([]orders.Order, error)
}

type OrdersHandler struct {
	Svc   OrderAPI
	Redis *redis.Client
}

type CreateOrderReq struct {
	Customer orders.Customer    `json:"customer"`
	Items    []orders.ItemInput `json:"items"`
}

type UpdateStatusReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{orderID}", h.getOrder)
		r.Put("/{orderID}/status", h.updateStatus)
		r.Patch("/{orderID}/status", h.updateStatus)
		r.Post("/{orderID}/confirm", h.confirm)
		r.Post("/{orderID}/refund", h.refund)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

// writeOrderErr maps the domain error taxonomy onto HTTP statuses. Expected
// business outcomes are 4xx with the offending product named; anything else
// is a generic 500.
func writeOrderErr(w http.ResponseWriter, err error) {
	var notFound *orders.ProductNotFoundError
	var insufficient *orders.InsufficientStockError
	switch {
	case errors.As(err, &notFound):
		writeErr(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &insufficient):
		writeErr(w, http.StatusConflict, insufficient.Error())
	case errors.Is(err, orders.ErrOrderNotFound):
		writeErr(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, orders.ErrEmptyOrder), errors.Is(err, orders.ErrInvalidQty), errors.Is(err, orders.ErrInvalidStatus):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orders.ErrOrderFinalized):
		writeErr(w, http.StatusConflict, err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	idemKey := r.Header.Get(idempotencyHeader)

	// Fast path for retries: a hit only short-circuits, the database stays
	// the source of truth.
	if idemKey != "" {
		rkey := fmt.Sprintf(redisx.KeyIdemOrderCreate, idemKey)
		if num, err := h.Redis.Get(ctx, rkey).Result(); err == nil && num != "" {
			if o, err := h.Svc.GetOrder(ctx, num); err == nil {
				writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": o})
				return
			}
		}
	}

	res, err := h.Svc.CreateOrder(ctx, orders.CreateOrderInput{
		Customer:       req.Customer,
		Items:          req.Items,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		writeOrderErr(w, err)
		return
	}

	if idemKey != "" {
		rkey := fmt.Sprintf(redisx.KeyIdemOrderCreate, idemKey)
		_ = h.Redis.Set(ctx, rkey, res.Order.OrderNumber, redisx.TTLIdempotency).Err()
	}
	h.cacheOrder(ctx, res.Order)

	code := http.StatusCreated
	if !res.Created {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]any{"success": true, "order": res.Order})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := h.Svc.ListOrders(ctx)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(list), "orders": list})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderID")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrder, orderNumber)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": json.RawMessage(s)})
		return
	}

	o, err := h.Svc.GetOrder(ctx, orderNumber)
	if err != nil {
		writeOrderErr(w, err)
		return
	}
	h.cacheOrder(ctx, o)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": o})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderID")

	var req UpdateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Svc.UpdateStatus(ctx, orderNumber, orders.Status(req.Status))
	if err != nil {
		writeOrderErr(w, err)
		return
	}
	h.cacheOrder(ctx, o)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": o})
}

func (h *OrdersHandler) confirm(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderID")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Svc.Confirm(ctx, orderNumber); err != nil {
		writeOrderErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Confirmation sent (simulated)"})
}

func (h *OrdersHandler) refund(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderID")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Svc.Refund(ctx, orderNumber)
	if err != nil {
		writeOrderErr(w, err)
		return
	}
	h.cacheOrder(ctx, o)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": o})
}

func (h *OrdersHandler) cacheOrder(ctx context.Context, o orders.Order) {
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrder, o.OrderNumber)
	_ = h.Redis.Set(ctx, key, b, redisx.TTLOrderCache).Err()
}
