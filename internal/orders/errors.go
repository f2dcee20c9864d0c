package orders

import (
	"errors"
	"fmt"
)

// Error kinds. Everything returned by this package and by payments wraps one of these.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrRateLimited       = errors.New("rate limited")
	ErrForbidden         = errors.New("forbidden")
	ErrReconciliation    = errors.New("reconciliation error")
)

var (
	ErrEmptyCart            = fmt.Errorf("%w: cart is empty", ErrInvalidState)
	ErrTooManyPendingOrders = fmt.Errorf("%w: too many pending orders", ErrConflict)
	ErrAlreadyPaid          = fmt.Errorf("%w: order already paid", ErrConflict)
)

// StockShortfall describes one line that could not be reserved.
type StockShortfall struct {
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

type InsufficientStockError struct {
	Shortfall StockShortfall
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.Shortfall.ProductID, e.Shortfall.Available, e.Shortfall.Required)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }
