package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderCancelled     = "OrderCancelled"
	EventOrderExpired       = "OrderExpired"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventPaymentCompleted   = "PaymentCompleted"
	EventPaymentFailed      = "PaymentFailed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`                 // e.g., "order-api"
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload tipe per event ----

type ItemPrice struct {
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

type OrderCreatedPayload struct {
	OrderID    string      `json:"order_id"`
	UserID     string      `json:"user_id"`
	Items      []ItemPrice `json:"items"`
	TotalCents int64       `json:"total_cents"`
	PayNow     bool        `json:"pay_now"`
}

type OrderCancelledPayload struct {
	OrderID     string       `json:"order_id"`
	UserID      string       `json:"user_id"`
	Reason      CancelReason `json:"reason"`
	CancelledBy string       `json:"cancelled_by,omitempty"`
	Released    []ItemPrice  `json:"released"`
}

type OrderStatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    Status `json:"from"`
	To      Status `json:"to"`
}

type PaymentPayload struct {
	OrderID       string        `json:"order_id"`
	Status        PaymentStatus `json:"status"`
	AmountCents   int64         `json:"amount_cents"`
	TransactionID string        `json:"transaction_id,omitempty"`
}

// Publisher is satisfied by the kafka producer.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// Emit wraps payload in an envelope and publishes it on the event's topic.
// A nil publisher drops the event.
func Emit(p Publisher, producer, eventType, orderID string, payload any) {
	if p == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       body,
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return
	}
	p.Publish(TopicFor(eventType), PartitionKey(orderID), value,
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func itemPrices(items []OrderItem) []ItemPrice {
	out := make([]ItemPrice, 0, len(items))
	for _, it := range items {
		out = append(out, ItemPrice{ProductID: it.ProductID, Qty: it.Qty, PriceCents: it.PriceCents})
	}
	return out
}
