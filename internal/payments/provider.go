package payments

import "context"

// SessionRequest is what the provider needs to open a hosted checkout page.
type SessionRequest struct {
	OrderID       string
	AmountCents   int64
	Currency      string
	CustomerEmail string
}

// Provider opens payment sessions with the external payment provider.
type Provider interface {
	// CreateSession returns the URL the customer is redirected to.
	CreateSession(ctx context.Context, req SessionRequest) (string, error)
}

// Event types delivered by the provider.
const (
	EventSessionCompleted    = "checkout.session.completed"
	EventSessionExpired      = "checkout.session.expired"
	EventAsyncPaymentFailed  = "checkout.session.async_payment_failed"
	EventAsyncPaymentSettled = "checkout.session.async_payment_succeeded"
)

// Event is a verified provider notification, reduced to what reconciliation uses.
type Event struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
}
