package orders

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Get returns an order with items and payment. Orders owned by someone else
// are reported as not found to non-admins.
func (s *Service) Get(ctx context.Context, orderID string, actor Actor) (*Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.Privileged() && o.UserID != actor.UserID {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return o, nil
}

func (s *Service) ListMine(ctx context.Context, actor Actor) ([]Order, error) {
	return s.store.ListOrdersByUser(ctx, actor.UserID)
}

func (s *Service) ListAll(ctx context.Context, actor Actor) ([]Order, error) {
	if !actor.Privileged() {
		return nil, ErrForbidden
	}
	return s.store.ListOrders(ctx)
}

// UpdateStatus moves an order forward along the fulfilment path. CANCELLED is
// only reachable through Cancel, which also restores stock.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to Status, actor Actor) (*Order, error) {
	if !actor.Privileged() {
		return nil, ErrForbidden
	}
	if to == StatusCancelled {
		return nil, fmt.Errorf("%w: use cancel to cancel an order", ErrInvalidState)
	}

	var (
		order *Order
		from  Status
	)
	err := s.store.WithTx(ctx, func(tx Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanTransition(o.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidState, o.Status, to)
		}
		now := s.Now()
		if err := tx.SetOrderStatus(ctx, orderID, to, now); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		from = o.Status
		o.Status = to
		o.UpdatedAt = now
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("order status changed",
		zap.String("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	Emit(s.events, s.producer, EventOrderStatusChanged, orderID, OrderStatusChangedPayload{
		OrderID: orderID, From: from, To: to,
	})
	return order, nil
}
