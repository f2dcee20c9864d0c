package orders

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Cancel terminates a PENDING (or not yet delivered) order and puts its
// reserved quantities back on the shelf. Customers may only cancel their own,
// unpaid orders, at most MaxDailyCancellations times per UTC day. Admins skip
// the ownership, payment and rate checks but not the status guard.
func (s *Service) Cancel(ctx context.Context, orderID string, actor Actor) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.Cancel",
		trace.WithAttributes(attribute.String("order.id", orderID), attribute.String("actor.role", string(actor.Role))))
	defer span.End()

	reason := CancelByCustomer
	if actor.Privileged() {
		reason = CancelByAdmin
	}

	var order *Order
	err := s.store.WithTx(ctx, func(tx Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.Privileged() && o.UserID != actor.UserID {
			return fmt.Errorf("%w: order %s belongs to another user", ErrForbidden, orderID)
		}
		if !CanTransition(o.Status, StatusCancelled) {
			return fmt.Errorf("%w: order %s is %s and cannot be cancelled", ErrInvalidState, orderID, o.Status)
		}
		if !actor.Privileged() && o.Payment != nil && o.Payment.Status == PaymentCompleted {
			return fmt.Errorf("%w: order %s is paid, a refund is required", ErrInvalidState, orderID)
		}

		now := s.Now()
		if !actor.Privileged() {
			n, err := tx.CountCancellations(ctx, actor.UserID, startOfDayUTC(now))
			if err != nil {
				return fmt.Errorf("count cancellations: %w", err)
			}
			if n >= s.limits.MaxDailyCancellations {
				return fmt.Errorf("%w: %d cancellations today", ErrRateLimited, n)
			}
		}

		if err := tx.MarkCancelled(ctx, orderID, actor.UserID, reason, now); err != nil {
			return fmt.Errorf("mark cancelled: %w", err)
		}
		if err := releaseItems(ctx, tx, o.Items); err != nil {
			return err
		}
		applyCancel(o, actor.UserID, reason, now)
		order = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.log.Info("cancel rejected",
			zap.String("order_id", orderID),
			zap.String("actor_id", actor.UserID),
			zap.Error(err))
		return nil, err
	}

	s.log.Info("order cancelled",
		zap.String("order_id", orderID),
		zap.String("actor_id", actor.UserID),
		zap.String("reason", string(reason)))
	Emit(s.events, s.producer, EventOrderCancelled, orderID, OrderCancelledPayload{
		OrderID:     orderID,
		UserID:      order.UserID,
		Reason:      reason,
		CancelledBy: actor.UserID,
		Released:    itemPrices(order.Items),
	})
	return order, nil
}

// ExpireOrder cancels one order whose payment window closed before cutoff.
// It re-checks everything under lock, so an order that was paid, cancelled or
// advanced after it was selected is left alone and reported as not expired.
func (s *Service) ExpireOrder(ctx context.Context, orderID string, cutoff time.Time) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "orders.ExpireOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	var order *Order
	err := s.store.WithTx(ctx, func(tx Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != StatusPending || !o.CreatedAt.Before(cutoff) {
			return nil
		}
		if o.Payment != nil && o.Payment.Status == PaymentCompleted {
			return nil
		}
		now := s.Now()
		if err := tx.MarkCancelled(ctx, orderID, "", CancelExpired, now); err != nil {
			return fmt.Errorf("mark expired: %w", err)
		}
		if err := releaseItems(ctx, tx, o.Items); err != nil {
			return err
		}
		applyCancel(o, "", CancelExpired, now)
		order = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	if order == nil {
		return false, nil
	}

	Emit(s.events, s.producer, EventOrderExpired, orderID, OrderCancelledPayload{
		OrderID:  orderID,
		UserID:   order.UserID,
		Reason:   CancelExpired,
		Released: itemPrices(order.Items),
	})
	return true, nil
}

func applyCancel(o *Order, by string, reason CancelReason, at time.Time) {
	o.Status = StatusCancelled
	o.CancelledBy = by
	o.CancelReason = reason
	o.CancelledAt = &at
	o.UpdatedAt = at
}

// startOfDayUTC is the limiter window start: the most recent UTC midnight.
func startOfDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
