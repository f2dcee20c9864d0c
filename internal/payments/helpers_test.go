package payments_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-reservations/internal/orders"
	"github.com/ariefcatur/go-order-reservations/internal/orders/orderstest"
	"github.com/ariefcatur/go-order-reservations/internal/payments"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeProvider struct {
	mu   sync.Mutex
	reqs []payments.SessionRequest
	err  error
}

func (p *fakeProvider) CreateSession(_ context.Context, req payments.SessionRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if p.err != nil {
		return "", p.err
	}
	return "https://pay.example/" + req.OrderID, nil
}

type message struct {
	topic string
	key   []byte
	value []byte
	typ   string
}

type recorder struct {
	mu   sync.Mutex
	msgs []message
}

func (r *recorder) Publish(topic string, key, value []byte, headers ...kafkago.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := message{topic: topic, key: key, value: value}
	for _, h := range headers {
		if h.Key == "x-event-type" {
			m.typ = string(h.Value)
		}
	}
	r.msgs = append(r.msgs, m)
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.typ == eventType {
			n++
		}
	}
	return n
}

type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDedup) Seen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id], nil
}

func (d *memDedup) Mark(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	d.seen[id] = true
	return nil
}

type fixture struct {
	store    *orderstest.Store
	orders   *orders.Service
	svc      *payments.Service
	provider *fakeProvider
	pub      *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    orderstest.New(),
		provider: &fakeProvider{},
		pub:      &recorder{},
	}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	log := zaptest.NewLogger(t)
	f.orders = orders.NewService(f.store, log, orders.WithClock(func() time.Time { return now }))
	f.svc = payments.NewService(f.orders, f.provider, log,
		payments.WithCurrency("eur"),
		payments.WithPublisher(f.pub, "test"))
	f.store.AddProduct("p1", "Keyboard", 1500, 10)
	return f
}

func (f *fixture) order(t *testing.T, userID string, mode orders.CreateMode) *orders.Order {
	t.Helper()
	f.store.SetCart(userID, orders.CartItem{ProductID: "p1", Qty: 2})
	o, err := f.orders.CreateOrder(context.Background(), userID, mode)
	require.NoError(t, err)
	return o
}

var errProviderDown = errors.New("provider down")

func buyer(id string) orders.Actor {
	return orders.Actor{UserID: id, Role: orders.RoleCustomer, Email: id + "@example.com"}
}
