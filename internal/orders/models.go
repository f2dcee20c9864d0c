package orders

import "time"

type Product struct {
	ID         string
	Name       string
	Stock      int
	PriceCents int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Cart is the user's working set of line items. It is only read and drained here.
type Cart struct {
	ID     string
	UserID string
	Items  []CartItem
}

type CartItem struct {
	ProductID string
	Qty       int
}

type Order struct {
	ID           string
	UserID       string
	Status       Status // lihat status.go
	TotalCents   int64
	Items        []OrderItem
	Payment      *Payment // nil until a payment is opened
	CancelledBy  string
	CancelReason CancelReason
	CancelledAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OrderItem is a priced snapshot; PriceCents is copied from the product at order time.
type OrderItem struct {
	ID         string
	OrderID    string
	ProductID  string
	Qty        int
	PriceCents int64
}

type Payment struct {
	ID            string
	OrderID       string
	Status        PaymentStatus
	AmountCents   int64
	TransactionID string // empty until settled
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type CancelReason string

const (
	CancelByCustomer CancelReason = "customer"
	CancelByAdmin    CancelReason = "admin"
	CancelExpired    CancelReason = "expired"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Actor is the authenticated caller, supplied by the auth layer and trusted as given.
type Actor struct {
	UserID string
	Role   Role
	Email  string
}

func (a Actor) Privileged() bool { return a.Role == RoleAdmin }

func sumItems(items []OrderItem) int64 {
	var total int64
	for _, it := range items {
		total += it.PriceCents * int64(it.Qty)
	}
	return total
}
