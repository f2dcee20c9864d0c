package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-reservations/internal/orders"
	"github.com/ariefcatur/go-order-reservations/internal/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

func setupTestDB(t *testing.T) *postgres.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test needs docker")
	}
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, postgres.Migrate(dsn))
	// second run is a no-op
	require.NoError(t, postgres.Migrate(dsn))

	pool, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return postgres.NewStore(pool)
}

func TestStore_CreateCancelRoundTrip(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	svc := orders.NewService(store, zaptest.NewLogger(t))

	require.NoError(t, store.AddProduct(ctx, orders.Product{ID: "p1", Name: "Keyboard", Stock: 10, PriceCents: 1500}))
	require.NoError(t, store.AddProduct(ctx, orders.Product{ID: "p2", Name: "Mouse", Stock: 5, PriceCents: 700}))
	require.NoError(t, store.PutCartItem(ctx, "u1", orders.CartItem{ProductID: "p1", Qty: 2}))
	require.NoError(t, store.PutCartItem(ctx, "u1", orders.CartItem{ProductID: "p2", Qty: 3}))

	o, err := svc.CreateOrder(ctx, "u1", orders.PayNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2*1500+3*700), o.TotalCents)

	got, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, got.Status)
	assert.Len(t, got.Items, 2)
	require.NotNil(t, got.Payment)
	assert.Equal(t, orders.PaymentPending, got.Payment.Status)

	stock, err := store.Stock(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, 2, stock)

	_, err = svc.CreateOrder(ctx, "u1", orders.PayLater)
	assert.ErrorIs(t, err, orders.ErrEmptyCart)

	cancelled, err := svc.Cancel(ctx, o.ID, orders.Actor{UserID: "u1", Role: orders.RoleCustomer})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, cancelled.Status)

	got, err = store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.CancelledBy)
	assert.Equal(t, orders.CancelByCustomer, got.CancelReason)
	require.NotNil(t, got.CancelledAt)

	for id, want := range map[string]int{"p1": 10, "p2": 5} {
		stock, err := store.Stock(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, stock, id)
	}

	mine, err := store.ListOrdersByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Len(t, mine[0].Items, 2)
	assert.NotNil(t, mine[0].Payment)
}

func TestStore_InsufficientStockLeavesNoTrace(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	svc := orders.NewService(store, zaptest.NewLogger(t))

	require.NoError(t, store.AddProduct(ctx, orders.Product{ID: "a", Name: "A", Stock: 10, PriceCents: 100}))
	require.NoError(t, store.AddProduct(ctx, orders.Product{ID: "b", Name: "B", Stock: 1, PriceCents: 100}))
	require.NoError(t, store.PutCartItem(ctx, "u1", orders.CartItem{ProductID: "a", Qty: 4}))
	require.NoError(t, store.PutCartItem(ctx, "u1", orders.CartItem{ProductID: "b", Qty: 2}))

	_, err := svc.CreateOrder(ctx, "u1", orders.PayLater)
	var short *orders.InsufficientStockError
	require.True(t, errors.As(err, &short))
	assert.Equal(t, "b", short.Shortfall.ProductID)

	stock, err := store.Stock(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 10, stock)

	all, err := store.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_ConcurrentBuyersNeverOversell(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	svc := orders.NewService(store, zaptest.NewLogger(t))

	require.NoError(t, store.AddProduct(ctx, orders.Product{ID: "hot", Name: "Hot", Stock: 5, PriceCents: 100}))
	const buyers = 12
	for i := 0; i < buyers; i++ {
		require.NoError(t, store.PutCartItem(ctx, fmt.Sprintf("u%d", i), orders.CartItem{ProductID: "hot", Qty: 1}))
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.CreateOrder(ctx, fmt.Sprintf("u%d", i), orders.PayLater)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, orders.ErrInsufficientStock) {
				fail++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, ok)
	assert.Equal(t, buyers-5, fail)
	stock, err := store.Stock(ctx, "hot")
	require.NoError(t, err)
	assert.Equal(t, 0, stock)
}

func TestStore_ListExpiredPendingSkipsPaid(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := orders.NewService(store, zaptest.NewLogger(t), orders.WithClock(func() time.Time { return now }))

	require.NoError(t, store.AddProduct(ctx, orders.Product{ID: "p1", Name: "P", Stock: 10, PriceCents: 100}))
	require.NoError(t, store.PutCartItem(ctx, "u1", orders.CartItem{ProductID: "p1", Qty: 1}))
	unpaid, err := svc.CreateOrder(ctx, "u1", orders.PayLater)
	require.NoError(t, err)
	require.NoError(t, store.PutCartItem(ctx, "u2", orders.CartItem{ProductID: "p1", Qty: 1}))
	paid, err := svc.CreateOrder(ctx, "u2", orders.PayNow)
	require.NoError(t, err)

	require.NoError(t, store.WithTx(ctx, func(tx orders.Tx) error {
		p, err := tx.GetPaymentForUpdate(ctx, paid.ID)
		if err != nil {
			return err
		}
		p.Status = orders.PaymentCompleted
		p.TransactionID = "cs_test"
		p.UpdatedAt = now
		return tx.UpdatePayment(ctx, p)
	}))

	ids, err := store.ListExpiredPending(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{unpaid.ID}, ids)

	_, err = store.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestStore_ConcurrentCreationsBySameUserRespectPendingCeiling(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	svc := orders.NewService(store, zaptest.NewLogger(t))

	require.NoError(t, store.AddProduct(ctx, orders.Product{ID: "p1", Name: "P", Stock: 100, PriceCents: 100}))
	for i := 0; i < 4; i++ {
		require.NoError(t, store.PutCartItem(ctx, "u1", orders.CartItem{ProductID: "p1", Qty: 1}))
		_, err := svc.CreateOrder(ctx, "u1", orders.PayLater)
		require.NoError(t, err)
	}

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.PutCartItem(ctx, "u1", orders.CartItem{ProductID: "p1", Qty: 1}); err != nil {
				t.Errorf("refill cart: %v", err)
				return
			}
			_, err := svc.CreateOrder(ctx, "u1", orders.PayLater)
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
			case errors.Is(err, orders.ErrTooManyPendingOrders), errors.Is(err, orders.ErrEmptyCart):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	mine, err := store.ListOrdersByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, mine, 5)
	stock, err := store.Stock(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 95, stock)
}
