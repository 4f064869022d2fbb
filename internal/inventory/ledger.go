// Package inventory owns the authoritative per-product stock counts.
// Only the order-creation path and the refund-restock path mutate them.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boutique-labs/orders/internal/orders"
	"github.com/boutique-labs/orders/internal/postgres"
)

type Ledger struct {
	Pool *pgxpool.Pool
}

// Availability is a point-in-time read; only ReserveAndDecrement decides.
type Availability struct {
	Available bool `json:"available"`
	Stock     int  `json:"stock"`
}

func (l *Ledger) CheckAvailability(ctx context.Context, productID string, qty int) (Availability, error) {
	var stock int
	err := l.queryRow(ctx, `SELECT stock FROM products WHERE id=$1`, productID).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Availability{}, &orders.ProductNotFoundError{ProductID: productID}
		}
		return Availability{}, fmt.Errorf("check availability: %w", err)
	}
	return Availability{Available: stock >= qty, Stock: stock}, nil
}

// ReserveAndDecrement deducts qty in a single guarded statement. The
// stock >= qty predicate and the decrement execute as one atomic write, so
// two concurrent requests can never both take the last unit.
func (l *Ledger) ReserveAndDecrement(ctx context.Context, productID string, qty int) error {
	tag, err := l.exec(ctx,
		`UPDATE products SET stock = stock - $2, updated_at = NOW() WHERE id = $1 AND stock >= $2`,
		productID, qty)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Zero rows means the product is missing or the guard failed; re-read to
	// tell the two apart (still inside the caller's transaction, if any).
	var stock int
	err = l.queryRow(ctx, `SELECT stock FROM products WHERE id=$1`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return &orders.ProductNotFoundError{ProductID: productID}
	}
	if err != nil {
		return fmt.Errorf("read stock: %w", err)
	}
	return &orders.InsufficientStockError{ProductID: productID, Requested: qty, Available: stock}
}

// Restock returns qty units, used as refund compensation.
func (l *Ledger) Restock(ctx context.Context, productID string, qty int) error {
	tag, err := l.exec(ctx,
		`UPDATE products SET stock = stock + $2, updated_at = NOW() WHERE id = $1`,
		productID, qty)
	if err != nil {
		return fmt.Errorf("restock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &orders.ProductNotFoundError{ProductID: productID}
	}
	return nil
}

// GetProducts returns the products for the given ids, keyed by id. Missing
// ids are simply absent from the map.
func (l *Ledger) GetProducts(ctx context.Context, ids []string) (map[string]orders.Product, error) {
	rows, err := l.query(ctx,
		`SELECT id, sku, name, price_cents, stock FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	defer rows.Close()

	out := make(map[string]orders.Product, len(ids))
	for rows.Next() {
		var p orders.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.PriceCents, &p.Stock); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (l *Ledger) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	var p orders.Product
	err := l.queryRow(ctx, `
		SELECT id, sku, name, description, category, price_cents, stock, featured, tags, images, created_at, updated_at
		FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Category, &p.PriceCents, &p.Stock,
			&p.Featured, &p.Tags, &p.Images, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.Product{}, &orders.ProductNotFoundError{ProductID: id}
		}
		return orders.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (l *Ledger) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := l.query(ctx, `
		SELECT id, sku, name, description, category, price_cents, stock, featured, tags, images, created_at, updated_at
		FROM products ORDER BY sku`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		var p orders.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Category, &p.PriceCents, &p.Stock,
			&p.Featured, &p.Tags, &p.Images, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (l *Ledger) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := postgres.TxFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return l.Pool.Exec(ctx, sql, args...)
}

func (l *Ledger) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := postgres.TxFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return l.Pool.Query(ctx, sql, args...)
}

func (l *Ledger) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := postgres.TxFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return l.Pool.QueryRow(ctx, sql, args...)
}
