package orderstest

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-reservations/internal/orders"
)

type memTx struct {
	s      *Store
	locked []string
}

func (t *memTx) LockProduct(_ context.Context, productID string) (*orders.Product, error) {
	p, ok := t.s.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", orders.ErrNotFound, productID)
	}
	t.locked = append(t.locked, productID)
	return &p, nil
}

func (t *memTx) AdjustStock(_ context.Context, productID string, delta int) error {
	if err := t.s.fail("AdjustStock", productID); err != nil {
		return err
	}
	p, ok := t.s.products[productID]
	if !ok {
		return fmt.Errorf("%w: product %s", orders.ErrNotFound, productID)
	}
	if p.Stock+delta < 0 {
		return fmt.Errorf("stock of %s would go negative", productID)
	}
	p.Stock += delta
	p.UpdatedAt = time.Now().UTC()
	t.s.products[productID] = p
	return nil
}

func (t *memTx) GetCartForUpdate(_ context.Context, userID string) (*orders.Cart, error) {
	c, ok := t.s.carts[userID]
	if !ok {
		return &orders.Cart{UserID: userID}, nil
	}
	out := copyCart(c)
	return &out, nil
}

func (t *memTx) ClearCart(_ context.Context, cartID string) error {
	if err := t.s.fail("ClearCart", cartID); err != nil {
		return err
	}
	for uid, c := range t.s.carts {
		if c.ID == cartID {
			c.Items = nil
			t.s.carts[uid] = c
		}
	}
	return nil
}

func (t *memTx) CountOrdersByStatus(_ context.Context, userID string, status orders.Status) (int, error) {
	n := 0
	for _, o := range t.s.orders {
		if o.UserID == userID && o.Status == status {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertOrder(_ context.Context, o *orders.Order) error {
	if err := t.s.fail("InsertOrder", o.ID); err != nil {
		return err
	}
	if _, ok := t.s.orders[o.ID]; ok {
		return fmt.Errorf("%w: order %s", orders.ErrConflict, o.ID)
	}
	t.s.orders[o.ID] = copyOrder(*o)
	return nil
}

func (t *memTx) GetOrderForUpdate(_ context.Context, orderID string) (*orders.Order, error) {
	return t.s.loadOrder(orderID)
}

func (t *memTx) SetOrderStatus(_ context.Context, orderID string, status orders.Status, at time.Time) error {
	o, ok := t.s.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: order %s", orders.ErrNotFound, orderID)
	}
	o.Status = status
	o.UpdatedAt = at
	t.s.orders[orderID] = o
	return nil
}

func (t *memTx) MarkCancelled(_ context.Context, orderID, cancelledBy string, reason orders.CancelReason, at time.Time) error {
	if err := t.s.fail("MarkCancelled", orderID); err != nil {
		return err
	}
	o, ok := t.s.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: order %s", orders.ErrNotFound, orderID)
	}
	o.Status = orders.StatusCancelled
	o.CancelledBy = cancelledBy
	o.CancelReason = reason
	o.CancelledAt = &at
	o.UpdatedAt = at
	t.s.orders[orderID] = o
	return nil
}

func (t *memTx) CountCancellations(_ context.Context, userID string, since time.Time) (int, error) {
	n := 0
	for _, o := range t.s.orders {
		if o.CancelledBy == userID && o.CancelledAt != nil && !o.CancelledAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) GetPaymentForUpdate(_ context.Context, orderID string) (*orders.Payment, error) {
	p, ok := t.s.payments[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: payment for order %s", orders.ErrNotFound, orderID)
	}
	return &p, nil
}

func (t *memTx) InsertPayment(_ context.Context, p *orders.Payment) error {
	if err := t.s.fail("InsertPayment", p.OrderID); err != nil {
		return err
	}
	if _, ok := t.s.payments[p.OrderID]; ok {
		return fmt.Errorf("%w: payment for order %s", orders.ErrConflict, p.OrderID)
	}
	t.s.payments[p.OrderID] = *p
	return nil
}

func (t *memTx) UpdatePayment(_ context.Context, p *orders.Payment) error {
	if err := t.s.fail("UpdatePayment", p.OrderID); err != nil {
		return err
	}
	if _, ok := t.s.payments[p.OrderID]; !ok {
		return fmt.Errorf("%w: payment for order %s", orders.ErrNotFound, p.OrderID)
	}
	t.s.payments[p.OrderID] = *p
	return nil
}
