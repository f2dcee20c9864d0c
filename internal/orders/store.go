package orders

import (
	"context"
	"time"
)

// Store is the transactional data store. All serialization between concurrent
// requests and the sweep happens through the row locks a Tx takes.
type Store interface {
	// WithTx runs fn in one transaction. Any error from fn rolls back every write.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetOrder(ctx context.Context, orderID string) (*Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]Order, error)
	ListOrders(ctx context.Context) ([]Order, error)
	// ListExpiredPending returns ids of unpaid PENDING orders created before cutoff, oldest first.
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// StockTx is the part of a transaction the stock ledger needs.
type StockTx interface {
	// LockProduct reads a product and holds an exclusive row lock until the tx ends.
	LockProduct(ctx context.Context, productID string) (*Product, error)
	AdjustStock(ctx context.Context, productID string, delta int) error
}

// Tx is a unit of work handed to every step of one conversion, cancellation
// or reconciliation. It must not escape the WithTx callback.
type Tx interface {
	StockTx

	// GetCartForUpdate locks the user's cart row; a user without a cart gets an empty one.
	GetCartForUpdate(ctx context.Context, userID string) (*Cart, error)
	ClearCart(ctx context.Context, cartID string) error

	CountOrdersByStatus(ctx context.Context, userID string, status Status) (int, error)
	InsertOrder(ctx context.Context, o *Order) error
	// GetOrderForUpdate locks the order row and its payment row, returning both with items.
	GetOrderForUpdate(ctx context.Context, orderID string) (*Order, error)
	SetOrderStatus(ctx context.Context, orderID string, status Status, at time.Time) error
	MarkCancelled(ctx context.Context, orderID, cancelledBy string, reason CancelReason, at time.Time) error
	// CountCancellations counts orders the user cancelled themselves at or after since.
	CountCancellations(ctx context.Context, userID string, since time.Time) (int, error)

	GetPaymentForUpdate(ctx context.Context, orderID string) (*Payment, error)
	InsertPayment(ctx context.Context, p *Payment) error
	UpdatePayment(ctx context.Context, p *Payment) error
}
