package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-reservations/internal/orders"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrSessionUnavailable means the order and payment record exist but the
// provider session could not be opened; the customer can retry with Initiate.
var ErrSessionUnavailable = errors.New("payment session unavailable")

type Service struct {
	orders   *orders.Service
	store    orders.Store
	provider Provider
	events   orders.Publisher
	producer string
	currency string
	log      *zap.Logger
	tracer   trace.Tracer
}

type Option func(*Service)

func WithPublisher(p orders.Publisher, producer string) Option {
	return func(s *Service) {
		s.events = p
		s.producer = producer
	}
}

func WithCurrency(c string) Option {
	return func(s *Service) { s.currency = c }
}

func NewService(ordersSvc *orders.Service, provider Provider, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		orders:   ordersSvc,
		store:    ordersSvc.Store(),
		provider: provider,
		currency: "usd",
		producer: "order-api",
		log:      log,
		tracer:   otel.Tracer("payments"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Checkout is the immediate-payment creation mode: the order and its PENDING
// payment are committed together, then the provider session is opened outside
// the transaction so a slow provider never holds stock locks.
func (s *Service) Checkout(ctx context.Context, actor orders.Actor) (*orders.Order, string, error) {
	o, err := s.orders.CreateOrder(ctx, actor.UserID, orders.PayNow)
	if err != nil {
		return nil, "", err
	}
	url, err := s.openSession(ctx, o, actor.Email)
	if err != nil {
		return o, "", err
	}
	return o, url, nil
}

// Initiate opens (or re-opens) payment for an existing PENDING order. A FAILED
// payment is reset to PENDING; a COMPLETED one is never touched.
func (s *Service) Initiate(ctx context.Context, orderID string, actor orders.Actor) (string, error) {
	ctx, span := s.tracer.Start(ctx, "payments.Initiate", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	var order *orders.Order
	err := s.store.WithTx(ctx, func(tx orders.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.Privileged() && o.UserID != actor.UserID {
			return fmt.Errorf("%w: order %s", orders.ErrNotFound, orderID)
		}
		if o.Payment != nil && o.Payment.Status == orders.PaymentCompleted {
			return orders.ErrAlreadyPaid
		}
		if o.Status != orders.StatusPending {
			return fmt.Errorf("%w: order %s is %s", orders.ErrInvalidState, orderID, o.Status)
		}

		now := s.orders.Now()
		switch {
		case o.Payment == nil:
			p := &orders.Payment{
				ID:          uuid.NewString(),
				OrderID:     o.ID,
				Status:      orders.PaymentPending,
				AmountCents: o.TotalCents,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.InsertPayment(ctx, p); err != nil {
				return fmt.Errorf("insert payment: %w", err)
			}
			o.Payment = p
		case o.Payment.Status == orders.PaymentFailed:
			o.Payment.Status = orders.PaymentPending
			o.Payment.AmountCents = o.TotalCents
			o.Payment.UpdatedAt = now
			if err := tx.UpdatePayment(ctx, o.Payment); err != nil {
				return fmt.Errorf("reset payment: %w", err)
			}
		}
		order = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	email := actor.Email
	if actor.UserID != order.UserID {
		email = ""
	}
	return s.openSession(ctx, order, email)
}

func (s *Service) openSession(ctx context.Context, o *orders.Order, email string) (string, error) {
	url, err := s.provider.CreateSession(ctx, SessionRequest{
		OrderID:       o.ID,
		AmountCents:   o.TotalCents,
		Currency:      s.currency,
		CustomerEmail: email,
	})
	if err != nil {
		s.log.Warn("open payment session failed", zap.String("order_id", o.ID), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	s.log.Info("payment session opened", zap.String("order_id", o.ID), zap.Int64("amount_cents", o.TotalCents))
	return url, nil
}

// Reconcile applies one provider notification. Delivery is at-least-once, so
// an event for an already COMPLETED payment is a successful no-op. It never
// touches stock or order status.
func (s *Service) Reconcile(ctx context.Context, ev Event) error {
	ctx, span := s.tracer.Start(ctx, "payments.Reconcile", trace.WithAttributes(
		attribute.String("payment.event_type", ev.Type),
		attribute.String("order.id", ev.OrderID)))
	defer span.End()

	var target orders.PaymentStatus
	switch ev.Type {
	case EventSessionCompleted, EventAsyncPaymentSettled:
		target = orders.PaymentCompleted
	case EventSessionExpired, EventAsyncPaymentFailed:
		target = orders.PaymentFailed
	default:
		s.log.Debug("ignoring payment event", zap.String("event_id", ev.ID), zap.String("type", ev.Type))
		return nil
	}
	if ev.OrderID == "" {
		return fmt.Errorf("%w: event %s has no order reference", orders.ErrReconciliation, ev.ID)
	}

	var applied *orders.Payment
	err := s.store.WithTx(ctx, func(tx orders.Tx) error {
		p, err := tx.GetPaymentForUpdate(ctx, ev.OrderID)
		if errors.Is(err, orders.ErrNotFound) {
			return fmt.Errorf("%w: no payment record for order %s", orders.ErrReconciliation, ev.OrderID)
		}
		if err != nil {
			return err
		}
		if p.Status == orders.PaymentCompleted || p.Status == target {
			return nil
		}
		p.Status = target
		if target == orders.PaymentCompleted {
			p.TransactionID = ev.TransactionID
		}
		p.UpdatedAt = s.orders.Now()
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		applied = p
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.log.Error("reconcile failed", zap.String("event_id", ev.ID), zap.String("order_id", ev.OrderID), zap.Error(err))
		return err
	}
	if applied == nil {
		s.log.Info("payment event already applied", zap.String("event_id", ev.ID), zap.String("order_id", ev.OrderID))
		return nil
	}

	eventType := orders.EventPaymentCompleted
	if applied.Status == orders.PaymentFailed {
		eventType = orders.EventPaymentFailed
	}
	s.log.Info("payment reconciled",
		zap.String("order_id", ev.OrderID),
		zap.String("status", string(applied.Status)),
		zap.String("transaction_id", applied.TransactionID))
	orders.Emit(s.events, s.producer, eventType, ev.OrderID, orders.PaymentPayload{
		OrderID:       ev.OrderID,
		Status:        applied.Status,
		AmountCents:   applied.AmountCents,
		TransactionID: applied.TransactionID,
	})
	return nil
}
