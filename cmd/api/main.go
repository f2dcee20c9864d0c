package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-reservations/internal/config"
	"github.com/ariefcatur/go-order-reservations/internal/httpx"
	kafkax "github.com/ariefcatur/go-order-reservations/internal/kafka"
	"github.com/ariefcatur/go-order-reservations/internal/observability"
	"github.com/ariefcatur/go-order-reservations/internal/orders"
	"github.com/ariefcatur/go-order-reservations/internal/payments"
	"github.com/ariefcatur/go-order-reservations/internal/postgres"
	"github.com/ariefcatur/go-order-reservations/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}

	// DB
	if cfg.RunMigrations {
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger.Named("kafka"))
	prod.Start()

	// Services
	ordersSvc := orders.NewService(postgres.NewStore(db), logger.Named("orders"),
		orders.WithPublisher(prod, cfg.ServiceName),
		orders.WithLimits(orders.Limits{
			MaxPendingOrders:      cfg.MaxPendingOrders,
			MaxDailyCancellations: cfg.MaxDailyCancellations,
		}),
	)
	stripe := payments.NewStripeClient(cfg.StripeAPIURL, cfg.StripeSecretKey, cfg.FrontendURL)
	paySvc := payments.NewService(ordersSvc, stripe, logger.Named("payments"),
		payments.WithPublisher(prod, cfg.ServiceName),
		payments.WithCurrency(cfg.Currency),
	)

	var dispatcher payments.Dispatcher
	if cfg.WebhookDispatch == "kafka" {
		dispatcher = payments.NewQueueDispatcher(prod, cfg.ServiceName)
	} else {
		dispatcher = payments.NewProcessor(paySvc, redisx.NewDedup(rdb, "payments"), logger.Named("payments"))
	}

	// Router & handlers
	router := httpx.NewRouter(logger.Named("http"))
	(&httpx.OrdersHandler{
		Orders:   ordersSvc,
		Payments: paySvc,
		Idem:     redisx.NewIdempotency(rdb),
		Log:      logger.Named("http"),
	}).Register(router)
	(&httpx.WebhookHandler{
		Verifier:   payments.NewWebhookVerifier(cfg.StripeWebhookSecret),
		Dispatcher: dispatcher,
		Log:        logger.Named("webhook"),
	}).Register(router)

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.Instrument(router, cfg.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// graceful shutdown
	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr), zap.String("webhook_dispatch", cfg.WebhookDispatch))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		// handler yg masih jalan bisa publish setelah Close; Publish akan drop + log
		logger.Warn("http shutdown", zap.Error(err))
	}
	prod.Close()      // tutup inbox -> flush & close writer
	prod.WaitClosed() // drain
	if shutdownTracing != nil {
		_ = shutdownTracing(ctx2)
	}
}
