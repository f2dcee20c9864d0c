package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ariefcatur/go-order-reservations/internal/config"
	kafkax "github.com/ariefcatur/go-order-reservations/internal/kafka"
	"github.com/ariefcatur/go-order-reservations/internal/observability"
	"github.com/ariefcatur/go-order-reservations/internal/orders"
	"github.com/ariefcatur/go-order-reservations/internal/payments"
	"github.com/ariefcatur/go-order-reservations/internal/postgres"
	"github.com/ariefcatur/go-order-reservations/internal/redisx"
	"github.com/ariefcatur/go-order-reservations/internal/sweeper"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// worker runs the expiry sweep and, when webhooks are queued, the
// payment.events consumer.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.ServiceName+"-worker")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName+"-worker", cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger.Named("kafka"))
	prod.Start()

	store := postgres.NewStore(db)
	ordersSvc := orders.NewService(store, logger.Named("orders"),
		orders.WithPublisher(prod, cfg.ServiceName+"-worker"),
		orders.WithLimits(orders.Limits{
			MaxPendingOrders:      cfg.MaxPendingOrders,
			MaxDailyCancellations: cfg.MaxDailyCancellations,
		}),
	)

	g, gctx := errgroup.WithContext(ctx)

	sw := sweeper.New(ordersSvc, store, cfg.SweepInterval, cfg.PaymentWindow, cfg.SweepBatch, logger.Named("sweeper"))
	g.Go(func() error {
		// satu kali saat start, supaya order yg expired selama downtime langsung dibereskan
		sw.ReclaimExpiredOrders(gctx)
		sw.Run(gctx)
		return nil
	})

	if cfg.WebhookDispatch == "kafka" {
		paySvc := payments.NewService(ordersSvc, nil, logger.Named("payments"),
			payments.WithPublisher(prod, cfg.ServiceName+"-worker"),
		)
		proc := payments.NewProcessor(paySvc, redisx.NewDedup(rdb, "payments"), logger.Named("payments"))

		group := getenv("PAYMENT_EVENTS_GROUP", "payment-reconciler")
		workers := mustAtoi(os.Getenv("PAYMENT_EVENTS_WORKERS"), "4")
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicPaymentEvents, workers, logger.Named("consumer"))
		g.Go(func() error {
			logger.Info("payment consumer started",
				zap.String("group", group),
				zap.String("topic", orders.TopicPaymentEvents),
				zap.Int("workers", workers))
			return cons.Start(gctx, proc.HandleMessage)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("worker exit", zap.Error(err))
	}
	logger.Info("shutting down worker...")
	prod.Close()
	prod.WaitClosed()
	if shutdownTracing != nil {
		_ = shutdownTracing(context.Background())
	}
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
