package orders

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrEmptyOrder     = errors.New("order has no items")
	ErrInvalidQty     = errors.New("invalid quantity")
	ErrInvalidStatus  = errors.New("invalid status")
	ErrOrderFinalized = errors.New("order is in a terminal state")
)

// ProductNotFoundError names the missing product so the caller can surface it.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product not found: %s", e.ProductID)
}

type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}
