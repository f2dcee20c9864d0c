package orders_test

import (
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-reservations/internal/orders"
	"github.com/ariefcatur/go-order-reservations/internal/orders/orderstest"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap/zaptest"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type published struct {
	topic     string
	eventType string
	key       string
}

type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Publish(topic string, key, _ []byte, headers ...kafkago.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := published{topic: topic, key: string(key)}
	for _, h := range headers {
		if h.Key == "x-event-type" {
			p.eventType = string(h.Value)
		}
	}
	r.events = append(r.events, p)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.eventType)
	}
	return out
}

type fixture struct {
	store *orderstest.Store
	svc   *orders.Service
	clock *clock
	pub   *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: orderstest.New(),
		clock: &clock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)},
		pub:   &recorder{},
	}
	f.svc = orders.NewService(f.store, zaptest.NewLogger(t),
		orders.WithClock(f.clock.Now),
		orders.WithPublisher(f.pub, "test"),
	)
	return f
}

func customer(id string) orders.Actor { return orders.Actor{UserID: id, Role: orders.RoleCustomer} }

var admin = orders.Actor{UserID: "admin-1", Role: orders.RoleAdmin}

func item(productID string, qty int) orders.CartItem {
	return orders.CartItem{ProductID: productID, Qty: qty}
}
