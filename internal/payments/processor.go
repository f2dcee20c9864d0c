package payments

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ariefcatur/go-order-reservations/internal/orders"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPaymentNotification is the envelope type of queued provider events.
const EventPaymentNotification = "PaymentNotification"

// Deduper remembers processed event ids. It is only a fast path; the
// COMPLETED short-circuit in Reconcile is what makes replays safe.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// Dispatcher hands a verified event to reconciliation.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// Processor reconciles events at most once per event id where it can, and
// idempotently where it cannot.
type Processor struct {
	svc   *Service
	dedup Deduper
	log   *zap.Logger
}

func NewProcessor(svc *Service, dedup Deduper, log *zap.Logger) *Processor {
	return &Processor{svc: svc, dedup: dedup, log: log}
}

// Dispatch reconciles inline.
func (p *Processor) Dispatch(ctx context.Context, ev Event) error {
	return p.Process(ctx, ev)
}

func (p *Processor) Process(ctx context.Context, ev Event) error {
	if p.dedup != nil && ev.ID != "" {
		seen, err := p.dedup.Seen(ctx, ev.ID)
		if err != nil {
			p.log.Warn("dedup lookup failed", zap.String("event_id", ev.ID), zap.Error(err))
		} else if seen {
			p.log.Debug("duplicate payment event", zap.String("event_id", ev.ID))
			return nil
		}
	}

	if err := p.svc.Reconcile(ctx, ev); err != nil {
		return err
	}

	// tandai setelah sukses, supaya event yg gagal tetap bisa di-retry
	if p.dedup != nil && ev.ID != "" {
		if err := p.dedup.Mark(ctx, ev.ID); err != nil {
			p.log.Warn("dedup mark failed", zap.String("event_id", ev.ID), zap.Error(err))
		}
	}
	return nil
}

// HandleMessage is the kafka consumer handler for TopicPaymentEvents.
// Returning nil commits the offset.
func (p *Processor) HandleMessage(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		p.log.Error("drop malformed payment message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != EventPaymentNotification {
		return nil
	}
	var ev Event
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		p.log.Error("drop malformed payment payload", zap.String("envelope_id", env.EventID), zap.Error(err))
		return nil
	}
	// the consumer retries every error; only return the ones a retry can fix
	if err := p.Process(ctx, ev); err != nil && !errors.Is(err, orders.ErrReconciliation) {
		return err
	}
	return nil
}

// QueueDispatcher forwards verified events to kafka for the worker to reconcile.
type QueueDispatcher struct {
	pub      orders.Publisher
	producer string
}

func NewQueueDispatcher(pub orders.Publisher, producer string) *QueueDispatcher {
	return &QueueDispatcher{pub: pub, producer: producer}
}

func (d *QueueDispatcher) Dispatch(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	value, err := json.Marshal(orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventPaymentNotification,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      d.producer,
		CorrelationID: ev.OrderID,
		Payload:       payload,
	})
	if err != nil {
		return err
	}
	d.pub.Publish(orders.TopicPaymentEvents, orders.PartitionKey(ev.OrderID), value,
		kafkago.Header{Key: "x-event-type", Value: []byte(EventPaymentNotification)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	return nil
}
