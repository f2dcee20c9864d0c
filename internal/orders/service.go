package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Limits are the anti-hoarding and abuse controls.
type Limits struct {
	MaxPendingOrders      int
	MaxDailyCancellations int
}

var DefaultLimits = Limits{MaxPendingOrders: 5, MaxDailyCancellations: 3}

// CreateMode selects whether a Payment record is opened together with the order.
type CreateMode int

const (
	PayLater CreateMode = iota
	PayNow
)

type Service struct {
	store    Store
	events   Publisher
	producer string
	log      *zap.Logger
	tracer   trace.Tracer
	limits   Limits
	now      func() time.Time
}

type Option func(*Service)

func WithPublisher(p Publisher, producer string) Option {
	return func(s *Service) {
		s.events = p
		s.producer = producer
	}
}

func WithLimits(l Limits) Option {
	return func(s *Service) { s.limits = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		log:      log,
		tracer:   otel.Tracer("orders"),
		limits:   DefaultLimits,
		now:      time.Now,
		producer: "order-api",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Store exposes the underlying store for collaborators that run their own
// transactions (payments) against the same data.
func (s *Service) Store() Store { return s.store }

// Now returns the service clock in UTC.
func (s *Service) Now() time.Time { return s.now().UTC() }

// CreateOrder converts the user's cart into a PENDING order in one transaction:
// cart lock, pending-order ceiling, product locks, stock check and decrement,
// priced item snapshots, optional payment record, cart drain. Nothing is
// visible unless every step succeeds.
func (s *Service) CreateOrder(ctx context.Context, userID string, mode CreateMode) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.CreateOrder",
		trace.WithAttributes(attribute.String("user.id", userID), attribute.Bool("order.pay_now", mode == PayNow)))
	defer span.End()

	var order *Order
	err := s.store.WithTx(ctx, func(tx Tx) error {
		cart, err := tx.GetCartForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("load cart: %w", err)
		}
		if len(cart.Items) == 0 {
			return ErrEmptyCart
		}

		pending, err := tx.CountOrdersByStatus(ctx, userID, StatusPending)
		if err != nil {
			return fmt.Errorf("count pending orders: %w", err)
		}
		if pending >= s.limits.MaxPendingOrders {
			return ErrTooManyPendingOrders
		}

		lines := make([]Line, 0, len(cart.Items))
		for _, it := range cart.Items {
			lines = append(lines, Line{ProductID: it.ProductID, Qty: it.Qty})
		}
		products, err := Reserve(ctx, tx, lines)
		if err != nil {
			return err
		}

		now := s.Now()
		o := &Order{
			ID:        uuid.NewString(),
			UserID:    userID,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		for _, it := range cart.Items {
			o.Items = append(o.Items, OrderItem{
				ID:         uuid.NewString(),
				OrderID:    o.ID,
				ProductID:  it.ProductID,
				Qty:        it.Qty,
				PriceCents: products[it.ProductID].PriceCents,
			})
		}
		o.TotalCents = sumItems(o.Items)

		if err := tx.InsertOrder(ctx, o); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if mode == PayNow {
			p := &Payment{
				ID:          uuid.NewString(),
				OrderID:     o.ID,
				Status:      PaymentPending,
				AmountCents: o.TotalCents,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.InsertPayment(ctx, p); err != nil {
				return fmt.Errorf("insert payment: %w", err)
			}
			o.Payment = p
		}
		if err := tx.ClearCart(ctx, cart.ID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		order = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.log.Info("create order rejected", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", order.ID), attribute.Int64("order.total_cents", order.TotalCents))
	s.log.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", userID),
		zap.Int64("total_cents", order.TotalCents),
		zap.Int("items", len(order.Items)))

	Emit(s.events, s.producer, EventOrderCreated, order.ID, OrderCreatedPayload{
		OrderID:    order.ID,
		UserID:     userID,
		Items:      itemPrices(order.Items),
		TotalCents: order.TotalCents,
		PayNow:     mode == PayNow,
	})
	return order, nil
}
