package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/boutique-labs/orders/internal/inventory"
	"github.com/boutique-labs/orders/internal/orders"
	"github.com/boutique-labs/orders/internal/redisx"
)

// Catalog is the read-only slice of the inventory ledger exposed over HTTP.
// Product mutation belongs to catalog management, not this service.
type Catalog interface {
	ListProducts(ctx context.Context) ([]orders.Product, error)
	GetProduct(ctx context.Context, id string) (orders.Product, error)
	CheckAvailability(ctx context.Context, productID string, qty int) (inventory.Availability, error)
}

type ProductsHandler struct {
	Ledger Catalog
	Redis  *redis.Client
}

func (h *ProductsHandler) Register(r *chi.Mux) {
	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Get("/{productID}", h.getProduct)
		r.Get("/{productID}/availability", h.availability)
	})
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Ledger.ListProducts(ctx)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(ps), "products": ps})
}

func (h *ProductsHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "productID")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Ledger.GetProduct(ctx, id)
	if err != nil {
		var notFound *orders.ProductNotFoundError
		if errors.As(err, &notFound) {
			writeErr(w, http.StatusNotFound, notFound.Error())
			return
		}
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "product": p})
}

// availability answers "could qty units be ordered right now". The cached
// stock count is a hint with a short TTL; the order path never consults it.
func (h *ProductsHandler) availability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "productID")
	qty := 1
	if q := r.URL.Query().Get("qty"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			writeErr(w, http.StatusBadRequest, "invalid qty")
			return
		}
		qty = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyStock, id)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil {
		if stock, err := strconv.Atoi(s); err == nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true, "available": stock >= qty, "stock": stock,
			})
			return
		}
	}

	av, err := h.Ledger.CheckAvailability(ctx, id, qty)
	if err != nil {
		var notFound *orders.ProductNotFoundError
		if errors.As(err, &notFound) {
			writeErr(w, http.StatusNotFound, notFound.Error())
			return
		}
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	_ = h.Redis.Set(ctx, key, strconv.Itoa(av.Stock), redisx.TTLStockCache).Err()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true, "available": av.Available, "stock": av.Stock,
	})
}
