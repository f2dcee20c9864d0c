package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-reservations/internal/orders"
	"github.com/jackc/pgx/v5"
)

type pgTx struct{ tx pgx.Tx }

func isNotFound(err error) bool { return errors.Is(err, orders.ErrNotFound) }

func (t *pgTx) LockProduct(ctx context.Context, productID string) (*orders.Product, error) {
	var p orders.Product
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, stock, price_cents, created_at, updated_at
		FROM products WHERE id=$1 FOR UPDATE`, productID).
		Scan(&p.ID, &p.Name, &p.Stock, &p.PriceCents, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err, "product "+productID)
	}
	return &p, nil
}

func (t *pgTx) AdjustStock(ctx context.Context, productID string, delta int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id=$1`, productID, delta)
	if err != nil {
		return mapErr(err, "adjust stock "+productID)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: product %s", orders.ErrNotFound, productID)
	}
	return nil
}

func (t *pgTx) GetCartForUpdate(ctx context.Context, userID string) (*orders.Cart, error) {
	c := &orders.Cart{UserID: userID}
	err := t.tx.QueryRow(ctx, `SELECT id FROM carts WHERE user_id=$1 FOR UPDATE`, userID).Scan(&c.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return nil, mapErr(err, "cart for "+userID)
	}

	rows, err := t.tx.Query(ctx, `SELECT product_id, qty FROM cart_items WHERE cart_id=$1 ORDER BY product_id`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("cart items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it orders.CartItem
		if err := rows.Scan(&it.ProductID, &it.Qty); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		c.Items = append(c.Items, it)
	}
	return c, rows.Err()
}

func (t *pgTx) ClearCart(ctx context.Context, cartID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id=$1`, cartID)
	return mapErr(err, "clear cart "+cartID)
}

func (t *pgTx) CountOrdersByStatus(ctx context.Context, userID string, status orders.Status) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE user_id=$1 AND status=$2`, userID, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, status, total_cents, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		o.ID, o.UserID, string(o.Status), o.TotalCents, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return mapErr(err, "insert order "+o.ID)
	}

	batch := &pgx.Batch{}
	for _, it := range o.Items {
		batch.Queue(`
			INSERT INTO order_items(id, order_id, product_id, qty, price_cents)
			VALUES ($1,$2,$3,$4,$5)`, it.ID, o.ID, it.ProductID, it.Qty, it.PriceCents)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return mapErr(err, "insert order items "+o.ID)
	}
	return nil
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, orderID string) (*orders.Order, error) {
	return loadOrder(ctx, t.tx, orderID, true)
}

func (t *pgTx) SetOrderStatus(ctx context.Context, orderID string, status orders.Status, at time.Time) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1`, orderID, string(status), at)
	if err != nil {
		return mapErr(err, "set status "+orderID)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: order %s", orders.ErrNotFound, orderID)
	}
	return nil
}

func (t *pgTx) MarkCancelled(ctx context.Context, orderID, cancelledBy string, reason orders.CancelReason, at time.Time) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders
		SET status='CANCELLED', cancelled_by=$2, cancel_reason=$3, cancelled_at=$4, updated_at=$4
		WHERE id=$1`, orderID, cancelledBy, string(reason), at)
	if err != nil {
		return mapErr(err, "cancel order "+orderID)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: order %s", orders.ErrNotFound, orderID)
	}
	return nil
}

func (t *pgTx) CountCancellations(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE cancelled_by=$1 AND cancelled_at >= $2`, userID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count cancellations: %w", err)
	}
	return n, nil
}

func (t *pgTx) GetPaymentForUpdate(ctx context.Context, orderID string) (*orders.Payment, error) {
	return loadPayment(ctx, t.tx, orderID, true)
}

func (t *pgTx) InsertPayment(ctx context.Context, p *orders.Payment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments(id, order_id, status, amount_cents, transaction_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.OrderID, string(p.Status), p.AmountCents, p.TransactionID, p.CreatedAt, p.UpdatedAt)
	return mapErr(err, "payment for order "+p.OrderID)
}

func (t *pgTx) UpdatePayment(ctx context.Context, p *orders.Payment) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE payments SET status=$2, amount_cents=$3, transaction_id=$4, updated_at=$5
		WHERE order_id=$1`,
		p.OrderID, string(p.Status), p.AmountCents, p.TransactionID, p.UpdatedAt)
	if err != nil {
		return mapErr(err, "update payment "+p.OrderID)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: payment for order %s", orders.ErrNotFound, p.OrderID)
	}
	return nil
}
