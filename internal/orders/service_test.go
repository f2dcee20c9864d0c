package orders_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ariefcatur/go-order-reservations/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrder_ReservesStockAndDrainsCart(t *testing.T) {
	f := newFixture(t)
	f.store.AddProduct("p1", "Keyboard", 1000, 5)
	f.store.AddProduct("p2", "Cable", 250, 10)
	f.store.SetCart("u1", item("p1", 2), item("p2", 4))

	o, err := f.svc.CreateOrder(context.Background(), "u1", orders.PayLater)
	require.NoError(t, err)

	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, "u1", o.UserID)
	assert.Equal(t, int64(3000), o.TotalCents)
	assert.Len(t, o.Items, 2)
	assert.Nil(t, o.Payment)

	assert.Equal(t, 3, f.store.Stock("p1"))
	assert.Equal(t, 6, f.store.Stock("p2"))
	assert.Empty(t, f.store.CartItems("u1"))
	assert.Nil(t, f.store.Payment(o.ID))

	stored := f.store.Order(o.ID)
	require.NotNil(t, stored)
	assert.Equal(t, o.TotalCents, stored.TotalCents)
	assert.Equal(t, []string{orders.EventOrderCreated}, f.pub.types())
	assert.Equal(t, orders.TopicOrderCreated, f.pub.events[0].topic)
	assert.Equal(t, o.ID, f.pub.events[0].key)
}

func TestCreateOrder_PayNowOpensPendingPayment(t *testing.T) {
	f := newFixture(t)
	f.store.AddProduct("p1", "Keyboard", 1999, 5)
	f.store.SetCart("u1", item("p1", 3))

	o, err := f.svc.CreateOrder(context.Background(), "u1", orders.PayNow)
	require.NoError(t, err)
	require.NotNil(t, o.Payment)

	p := f.store.Payment(o.ID)
	require.NotNil(t, p)
	assert.Equal(t, orders.PaymentPending, p.Status)
	assert.Equal(t, int64(5997), p.AmountCents)
	assert.Empty(t, p.TransactionID)
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), "nobody", orders.PayLater)
	assert.ErrorIs(t, err, orders.ErrEmptyCart)
	assert.ErrorIs(t, err, orders.ErrInvalidState)
	assert.Zero(t, f.store.OrderCount())
}

func TestCreateOrder_InsufficientStockRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	f.store.AddProduct("p1", "Keyboard", 1000, 5)
	f.store.AddProduct("p2", "Cable", 250, 10)
	f.store.SetCart("u1", item("p1", 2), item("p2", 11))

	_, err := f.svc.CreateOrder(context.Background(), "u1", orders.PayLater)
	require.ErrorIs(t, err, orders.ErrInsufficientStock)

	var short *orders.InsufficientStockError
	require.True(t, errors.As(err, &short))
	assert.Equal(t, orders.StockShortfall{ProductID: "p2", Required: 11, Available: 10}, short.Shortfall)

	assert.Equal(t, 5, f.store.Stock("p1"))
	assert.Equal(t, 10, f.store.Stock("p2"))
	assert.Len(t, f.store.CartItems("u1"), 2)
	assert.Zero(t, f.store.OrderCount())
	assert.Empty(t, f.pub.types())
}

func TestCreateOrder_LateFailureRollsBackStock(t *testing.T) {
	f := newFixture(t)
	f.store.AddProduct("p1", "Keyboard", 1000, 5)
	f.store.SetCart("u1", item("p1", 2))
	f.store.Fail = func(op, _ string) error {
		if op == "ClearCart" {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := f.svc.CreateOrder(context.Background(), "u1", orders.PayNow)
	require.Error(t, err)

	assert.Equal(t, 5, f.store.Stock("p1"))
	assert.Zero(t, f.store.OrderCount())
	assert.Len(t, f.store.CartItems("u1"), 1)
}

func TestCreateOrder_UnknownProduct(t *testing.T) {
	f := newFixture(t)
	f.store.SetCart("u1", item("gone", 1))

	_, err := f.svc.CreateOrder(context.Background(), "u1", orders.PayLater)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestCreateOrder_TooManyPendingOrders(t *testing.T) {
	f := newFixture(t)
	f.store.AddProduct("p1", "Keyboard", 1000, 100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.store.SetCart("u1", item("p1", 1))
		_, err := f.svc.CreateOrder(ctx, "u1", orders.PayLater)
		require.NoError(t, err, "order %d", i+1)
	}

	f.store.SetCart("u1", item("p1", 1))
	_, err := f.svc.CreateOrder(ctx, "u1", orders.PayLater)
	require.ErrorIs(t, err, orders.ErrTooManyPendingOrders)

	locks := f.store.LockOrders()
	assert.Empty(t, locks[len(locks)-1], "no product lock may be taken")
	assert.Equal(t, 95, f.store.Stock("p1"))
	assert.Len(t, f.store.CartItems("u1"), 1)
}

func TestCreateOrder_ConcurrentAttemptsCannotPassPendingCeiling(t *testing.T) {
	f := newFixture(t)
	f.store.AddProduct("p1", "Keyboard", 1000, 100)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		f.store.SetCart("u1", item("p1", 1))
		_, err := f.svc.CreateOrder(ctx, "u1", orders.PayLater)
		require.NoError(t, err)
	}

	const attempts = 10
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			// every attempt refills the cart, so only the ceiling can stop it
			f.store.SetCart("u1", item("p1", 1))
			_, err := f.svc.CreateOrder(ctx, "u1", orders.PayLater)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, orders.ErrTooManyPendingOrders), errors.Is(err, orders.ErrEmptyCart):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	mine, err := f.svc.ListMine(ctx, customer("u1"))
	require.NoError(t, err)
	assert.Len(t, mine, 5)
	assert.Equal(t, 95, f.store.Stock("p1"))
}

func TestCreateOrder_LocksProductsInAscendingOrder(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"p1", "p2", "p3"} {
		f.store.AddProduct(id, id, 100, 10)
	}
	f.store.SetCart("u1", item("p3", 1), item("p1", 1), item("p2", 1))

	_, err := f.svc.CreateOrder(context.Background(), "u1", orders.PayLater)
	require.NoError(t, err)

	locks := f.store.LockOrders()
	assert.Equal(t, []string{"p1", "p2", "p3"}, locks[len(locks)-1])
}

func TestCreateOrder_ItemPricesAreSnapshots(t *testing.T) {
	f := newFixture(t)
	f.store.AddProduct("p1", "Keyboard", 1000, 5)
	f.store.SetCart("u1", item("p1", 1))

	o, err := f.svc.CreateOrder(context.Background(), "u1", orders.PayLater)
	require.NoError(t, err)

	f.store.SetPrice("p1", 5000)

	stored := f.store.Order(o.ID)
	assert.Equal(t, int64(1000), stored.Items[0].PriceCents)
	assert.Equal(t, int64(1000), stored.TotalCents)
}

func TestCreateOrder_ConcurrentReservationsNeverOversell(t *testing.T) {
	f := newFixture(t)
	const stock = 5
	f.store.AddProduct("p1", "Keyboard", 1000, stock)

	const users = 20
	for i := 0; i < users; i++ {
		f.store.SetCart(fmt.Sprintf("u%d", i), item("p1", 2))
	}

	var (
		wg       sync.WaitGroup
		reserved atomic.Int64
		rejected atomic.Int64
	)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			o, err := f.svc.CreateOrder(context.Background(), uid, orders.PayLater)
			if err != nil {
				if errors.Is(err, orders.ErrInsufficientStock) {
					rejected.Add(1)
				}
				return
			}
			reserved.Add(int64(o.Items[0].Qty))
		}(fmt.Sprintf("u%d", i))
	}
	wg.Wait()

	assert.LessOrEqual(t, reserved.Load(), int64(stock))
	assert.Equal(t, int64(4), reserved.Load())
	assert.Equal(t, int64(users-2), rejected.Load())
	assert.Equal(t, stock-int(reserved.Load()), f.store.Stock("p1"))
}

func TestScenario_ReserveRejectCancelRestores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddProduct("p1", "Keyboard", 1000, 5)
	f.store.SetCart("A", item("p1", 3))
	f.store.SetCart("B", item("p1", 3))

	o1, err := f.svc.CreateOrder(ctx, "A", orders.PayLater)
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.Stock("p1"))

	_, err = f.svc.CreateOrder(ctx, "B", orders.PayLater)
	require.ErrorIs(t, err, orders.ErrInsufficientStock)
	assert.Equal(t, 2, f.store.Stock("p1"))

	_, err = f.svc.Cancel(ctx, o1.ID, customer("A"))
	require.NoError(t, err)
	assert.Equal(t, 5, f.store.Stock("p1"))
}
