// Package orderstest provides an in-memory orders.Store for tests.
//
// Transactions are fully serialized: WithTx holds one mutex for the whole
// callback, which is the strongest form of the row locking the Postgres store
// relies on. A failing callback restores the state captured at begin.
package orderstest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-reservations/internal/orders"
)

type Store struct {
	mu       sync.Mutex
	products map[string]orders.Product
	carts    map[string]orders.Cart // by user id
	orders   map[string]orders.Order
	payments map[string]orders.Payment // by order id
	locks    [][]string

	// Fail, when set, is consulted before mutating operations; a non-nil
	// result is returned from that operation.
	Fail func(op, id string) error
}

var _ orders.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		products: map[string]orders.Product{},
		carts:    map[string]orders.Cart{},
		orders:   map[string]orders.Order{},
		payments: map[string]orders.Payment{},
	}
}

type snapshot struct {
	products map[string]orders.Product
	carts    map[string]orders.Cart
	orders   map[string]orders.Order
	payments map[string]orders.Payment
}

func (s *Store) snapshot() snapshot {
	sn := snapshot{
		products: make(map[string]orders.Product, len(s.products)),
		carts:    make(map[string]orders.Cart, len(s.carts)),
		orders:   make(map[string]orders.Order, len(s.orders)),
		payments: make(map[string]orders.Payment, len(s.payments)),
	}
	for k, v := range s.products {
		sn.products[k] = v
	}
	for k, v := range s.carts {
		sn.carts[k] = copyCart(v)
	}
	for k, v := range s.orders {
		sn.orders[k] = copyOrder(v)
	}
	for k, v := range s.payments {
		sn.payments[k] = v
	}
	return sn
}

func (s *Store) restore(sn snapshot) {
	s.products = sn.products
	s.carts = sn.carts
	s.orders = sn.orders
	s.payments = sn.payments
}

func (s *Store) WithTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sn := s.snapshot()
	tx := &memTx{s: s}
	err := fn(tx)
	s.locks = append(s.locks, tx.locked)
	if err != nil {
		s.restore(sn)
		return err
	}
	return nil
}

func (s *Store) GetOrder(_ context.Context, orderID string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadOrder(orderID)
}

func (s *Store) ListOrdersByUser(_ context.Context, userID string) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(o orders.Order) bool { return o.UserID == userID }), nil
}

func (s *Store) ListOrders(_ context.Context) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(orders.Order) bool { return true }), nil
}

func (s *Store) ListExpiredPending(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := s.list(func(o orders.Order) bool {
		if p, ok := s.payments[o.ID]; ok && p.Status == orders.PaymentCompleted {
			return false
		}
		return o.Status == orders.StatusPending && o.CreatedAt.Before(cutoff)
	})
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	ids := make([]string, 0, len(matched))
	for _, o := range matched {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (s *Store) list(keep func(orders.Order) bool) []orders.Order {
	out := []orders.Order{}
	for id, o := range s.orders {
		if !keep(o) {
			continue
		}
		full, _ := s.loadOrder(id)
		out = append(out, *full)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Store) loadOrder(orderID string) (*orders.Order, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", orders.ErrNotFound, orderID)
	}
	out := copyOrder(o)
	if p, ok := s.payments[orderID]; ok {
		out.Payment = &p
	}
	return &out, nil
}

func (s *Store) fail(op, id string) error {
	if s.Fail == nil {
		return nil
	}
	return s.Fail(op, id)
}

// ---- seeding and inspection helpers ----

func (s *Store) AddProduct(id, name string, priceCents int64, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.products[id] = orders.Product{ID: id, Name: name, PriceCents: priceCents, Stock: stock, CreatedAt: now, UpdatedAt: now}
}

func (s *Store) SetPrice(productID string, priceCents int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.products[productID]
	p.PriceCents = priceCents
	s.products[productID] = p
}

// SetCart replaces the user's cart items.
func (s *Store) SetCart(userID string, items ...orders.CartItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[userID]
	if !ok {
		c = orders.Cart{ID: "cart-" + userID, UserID: userID}
	}
	c.Items = append([]orders.CartItem(nil), items...)
	s.carts[userID] = c
}

func (s *Store) CartItems(userID string) []orders.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orders.CartItem(nil), s.carts[userID].Items...)
}

func (s *Store) Stock(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[productID].Stock
}

func (s *Store) Order(orderID string) *orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.loadOrder(orderID)
	if err != nil {
		return nil
	}
	return o
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *Store) Payment(orderID string) *orders.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[orderID]
	if !ok {
		return nil
	}
	return &p
}

func (s *Store) PutPayment(p orders.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.OrderID] = p
}

func (s *Store) SetCreatedAt(orderID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[orderID]
	o.CreatedAt = at
	s.orders[orderID] = o
}

// LockOrders returns, per committed or rolled back transaction, the product
// ids in the order their locks were taken.
func (s *Store) LockOrders() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.locks))
	copy(out, s.locks)
	return out
}

func copyCart(c orders.Cart) orders.Cart {
	c.Items = append([]orders.CartItem(nil), c.Items...)
	return c
}

func copyOrder(o orders.Order) orders.Order {
	o.Items = append([]orders.OrderItem(nil), o.Items...)
	o.Payment = nil
	if o.CancelledAt != nil {
		at := *o.CancelledAt
		o.CancelledAt = &at
	}
	return o
}
