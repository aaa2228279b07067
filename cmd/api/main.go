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

	"github.com/ariefcatur/go-recycling-market/internal/config"
	"github.com/ariefcatur/go-recycling-market/internal/httpx"
	kafkax "github.com/ariefcatur/go-recycling-market/internal/kafka"
	"github.com/ariefcatur/go-recycling-market/internal/logging"
	"github.com/ariefcatur/go-recycling-market/internal/market"
	"github.com/ariefcatur/go-recycling-market/internal/payments"
	"github.com/ariefcatur/go-recycling-market/internal/postgres"
	"github.com/ariefcatur/go-recycling-market/internal/purchase"
	"github.com/ariefcatur/go-recycling-market/internal/redisx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format).With("service", cfg.ServiceName)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.ServiceName)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := &redisx.PurchaseCache{RDB: rdb, Log: logger}

	// Kafka producers: outcome (webhook -> reconciler) ditulis sinkron, lifecycle async
	outcomes := kafkax.NewSyncProducer(cfg.KafkaBrokers, market.TopicPaymentOutcome)
	finalized := kafkax.NewProducer(cfg.KafkaBrokers, market.TopicPurchaseFinalized, 1024, logger)
	finalized.Start(ctx)

	// Service & handlers
	stripe := payments.NewStripe(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.Stripe.MaxRetries, logger)
	registry := &payments.Registry{DB: db}
	svc := &purchase.Service{
		Store:      &market.Repo{DB: db},
		Registry:   registry,
		Processor:  stripe,
		Events:     finalized,
		Cache:      cache,
		Prices:     market.DefaultPriceTable,
		Commission: cfg.Market.CommissionRate,
		Currency:   cfg.Market.Currency,
		Name:       cfg.ServiceName,
		Log:        logger,
	}

	auth := httpx.AuthRequired(cfg.JWTSecret)
	router := httpx.NewRouter()
	(&httpx.PurchasesHandler{Service: svc, Cache: cache, Idem: &redisx.Idempotency{RDB: rdb}, Log: logger}).Register(router, auth)
	(&httpx.WebhookHandler{
		Parser:   stripe,
		Dedup:    &redisx.Deduper{RDB: rdb},
		Outcomes: outcomes,
		Accounts: registry,
		Service:  cfg.ServiceName,
		Log:      logger,
	}).Register(router)
	(&httpx.AdminHandler{Service: svc, Log: logger}).Register(router, auth)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		logger.Info("HTTP listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	if err := outcomes.Close(); err != nil {
		logger.Error("kafka writer close", "err", err)
	}
	finalized.Close() // tutup inbox -> flush & close writer
	cancel()
	finalized.WaitClosed()
}
