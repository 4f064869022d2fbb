package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boutique-labs/orders/internal/postgres"
)

// Repo persists order records. Line items are immutable after insert; only
// the status column is ever updated.
type Repo struct {
	Pool *pgxpool.Pool
}

var ErrAlreadyExists = errors.New("order already exists")

func (r *Repo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return postgres.WithTx(ctx, r.Pool, fn)
}

func (r *Repo) Insert(ctx context.Context, o Order, idempotencyKey string) error {
	key := pgtextOrNil(idempotencyKey)
	_, err := r.exec(ctx, `
		INSERT INTO orders (id, order_number, idempotency_key,
			customer_name, customer_email, customer_phone, customer_address, customer_city, customer_postal_code,
			subtotal_cents, shipping_cents, tax_cents, total_cents, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		o.ID, o.OrderNumber, key,
		o.Customer.Name, o.Customer.Email, o.Customer.Phone, o.Customer.Address, o.Customer.City, o.Customer.PostalCode,
		o.Totals.SubtotalCents, o.Totals.ShippingCents, o.Totals.TaxCents, o.Totals.TotalCents,
		o.Status, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, it := range o.Items {
		if _, err := r.exec(ctx, `
			INSERT INTO order_items (order_id, product_id, qty, price_cents)
			VALUES ($1,$2,$3,$4)`,
			o.ID, it.ProductID, it.Qty, it.PriceCents,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (r *Repo) GetByNumber(ctx context.Context, orderNumber string) (Order, error) {
	return r.getByNumber(ctx, orderNumber, false)
}

// GetByNumberForUpdate locks the order row for the rest of the transaction.
func (r *Repo) GetByNumberForUpdate(ctx context.Context, orderNumber string) (Order, error) {
	return r.getByNumber(ctx, orderNumber, true)
}

const orderColumns = `id, order_number,
	customer_name, customer_email, customer_phone, customer_address, customer_city, customer_postal_code,
	subtotal_cents, shipping_cents, tax_cents, total_cents, status, created_at, updated_at`

func (r *Repo) getByNumber(ctx context.Context, orderNumber string, forUpdate bool) (Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_number=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	o, err := scanOrder(r.queryRow(ctx, query, orderNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("get order: %w", err)
	}
	if err := r.loadItems(ctx, map[string]*Order{o.ID: &o}); err != nil {
		return Order{}, err
	}
	return o, nil
}

// FindByIdempotencyKey returns nil when no order carries the key.
func (r *Repo) FindByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	o, err := scanOrder(r.queryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE idempotency_key=$1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find order by idempotency key: %w", err)
	}
	if err := r.loadItems(ctx, map[string]*Order{o.ID: &o}); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repo) SetStatus(ctx context.Context, orderNumber string, status Status) error {
	tag, err := r.exec(ctx,
		`UPDATE orders SET status=$2, updated_at=NOW() WHERE order_number=$1`,
		orderNumber, status)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// List returns all orders, newest first, items included.
func (r *Repo) List(ctx context.Context) ([]Order, error) {
	rows, err := r.query(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	byID := make(map[string]*Order, len(out))
	for i := range out {
		byID[out[i].ID] = &out[i]
	}
	if err := r.loadItems(ctx, byID); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) loadItems(ctx context.Context, byID map[string]*Order) error {
	if len(byID) == 0 {
		return nil
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	rows, err := r.query(ctx,
		`SELECT order_id, product_id, qty, price_cents FROM order_items WHERE order_id = ANY($1) ORDER BY id`,
		ids)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var it Item
		if err := rows.Scan(&orderID, &it.ProductID, &it.Qty, &it.PriceCents); err != nil {
			return err
		}
		if o := byID[orderID]; o != nil {
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var status string
	err := row.Scan(&o.ID, &o.OrderNumber,
		&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone, &o.Customer.Address, &o.Customer.City, &o.Customer.PostalCode,
		&o.Totals.SubtotalCents, &o.Totals.ShippingCents, &o.Totals.TaxCents, &o.Totals.TotalCents,
		&status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	return o, nil
}

func pgtextOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *Repo) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := postgres.TxFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.Pool.Exec(ctx, sql, args...)
}

func (r *Repo) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := postgres.TxFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return r.Pool.Query(ctx, sql, args...)
}

func (r *Repo) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := postgres.TxFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.Pool.QueryRow(ctx, sql, args...)
}
