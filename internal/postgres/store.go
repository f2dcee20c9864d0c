package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-reservations/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements orders.Store on Postgres. Row locks are plain
// SELECT ... FOR UPDATE inside a READ COMMITTED transaction.
type Store struct{ DB *pgxpool.Pool }

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) WithTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	return loadOrder(ctx, s.DB, orderID, false)
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]orders.Order, error) {
	return listOrders(ctx, s.DB, `WHERE o.user_id = $1`, userID)
}

func (s *Store) ListOrders(ctx context.Context) ([]orders.Order, error) {
	return listOrders(ctx, s.DB, ``)
}

func (s *Store) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT o.id FROM orders o
		WHERE o.status = 'PENDING' AND o.created_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM payments p WHERE p.order_id = o.id AND p.status = 'COMPLETED')
		ORDER BY o.created_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	return ids, nil
}

// AddProduct upserts a product row. Used by seeding and tests.
func (s *Store) AddProduct(ctx context.Context, p orders.Product) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO products(id, name, stock, price_cents)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, stock=EXCLUDED.stock,
			price_cents=EXCLUDED.price_cents, updated_at=now()`,
		p.ID, p.Name, p.Stock, p.PriceCents)
	return mapErr(err, "product "+p.ID)
}

// PutCartItem sets a line in the user's cart, creating the cart on first use.
func (s *Store) PutCartItem(ctx context.Context, userID string, item orders.CartItem) error {
	return pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		var cartID string
		err := tx.QueryRow(ctx, `
			INSERT INTO carts(id, user_id) VALUES ($1,$2)
			ON CONFLICT (user_id) DO UPDATE SET user_id=EXCLUDED.user_id
			RETURNING id`, "cart-"+userID, userID).Scan(&cartID)
		if err != nil {
			return mapErr(err, "cart for "+userID)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO cart_items(cart_id, product_id, qty) VALUES ($1,$2,$3)
			ON CONFLICT (cart_id, product_id) DO UPDATE SET qty=EXCLUDED.qty`,
			cartID, item.ProductID, item.Qty)
		return mapErr(err, "cart item "+item.ProductID)
	})
}

func (s *Store) Stock(ctx context.Context, productID string) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1`, productID).Scan(&n)
	return n, mapErr(err, "product "+productID)
}

const orderColumns = `o.id, o.user_id, o.status, o.total_cents, o.cancelled_by, o.cancel_reason,
	o.cancelled_at, o.created_at, o.updated_at`

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o              orders.Order
		status, reason string
	)
	if err := row.Scan(&o.ID, &o.UserID, &status, &o.TotalCents, &o.CancelledBy, &reason,
		&o.CancelledAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = orders.Status(status)
	o.CancelReason = orders.CancelReason(reason)
	return &o, nil
}

func loadOrder(ctx context.Context, q querier, orderID string, lock bool) (*orders.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders o WHERE o.id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, orderID))
	if err != nil {
		return nil, mapErr(err, "order "+orderID)
	}
	items, err := loadItems(ctx, q, []string{orderID})
	if err != nil {
		return nil, err
	}
	o.Items = items[orderID]

	p, err := loadPayment(ctx, q, orderID, lock)
	switch {
	case err == nil:
		o.Payment = p
	case !isNotFound(err):
		return nil, err
	}
	return o, nil
}

func listOrders(ctx context.Context, q querier, where string, args ...any) ([]orders.Order, error) {
	rows, err := q.Query(ctx, `SELECT `+orderColumns+` FROM orders o `+where+` ORDER BY o.created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	out := []orders.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, len(out))
	for i := range out {
		ids[i] = out[i].ID
	}
	items, err := loadItems(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	payments, err := loadPayments(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
		out[i].Payment = payments[out[i].ID]
	}
	return out, nil
}

func loadItems(ctx context.Context, q querier, orderIDs []string) (map[string][]orders.OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, qty, price_cents
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY product_id`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]orders.OrderItem, len(orderIDs))
	for rows.Next() {
		var it orders.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Qty, &it.PriceCents); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

const paymentColumns = `id, order_id, status, amount_cents, transaction_id, created_at, updated_at`

func scanPayment(row pgx.Row) (*orders.Payment, error) {
	var (
		p      orders.Payment
		status string
	)
	if err := row.Scan(&p.ID, &p.OrderID, &status, &p.AmountCents, &p.TransactionID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = orders.PaymentStatus(status)
	return &p, nil
}

func loadPayment(ctx context.Context, q querier, orderID string, lock bool) (*orders.Payment, error) {
	sql := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	p, err := scanPayment(q.QueryRow(ctx, sql, orderID))
	if err != nil {
		return nil, mapErr(err, "payment for order "+orderID)
	}
	return p, nil
}

func loadPayments(ctx context.Context, q querier, orderIDs []string) (map[string]*orders.Payment, error) {
	rows, err := q.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = ANY($1)`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*orders.Payment, len(orderIDs))
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out[p.OrderID] = p
	}
	return out, rows.Err()
}
