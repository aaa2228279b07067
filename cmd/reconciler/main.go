package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ariefcatur/go-recycling-market/internal/config"
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
	name := cfg.ServiceName + "-reconciler"
	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format).With("service", name)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, name)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer: purchase.finalized
	// hidup lebih lama dari consumer supaya event terakhir tetap terkirim
	pctx, pcancel := context.WithCancel(context.Background())
	defer pcancel()
	finalized := kafkax.NewProducer(cfg.KafkaBrokers, market.TopicPurchaseFinalized, 1024, logger)
	finalized.Start(pctx)

	// Service
	svc := &purchase.Service{
		Store:      &market.Repo{DB: db},
		Registry:   &payments.Registry{DB: db},
		Processor:  payments.NewStripe(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.Stripe.MaxRetries, logger),
		Events:     finalized,
		Cache:      &redisx.PurchaseCache{RDB: rdb, Log: logger},
		Prices:     market.DefaultPriceTable,
		Commission: cfg.Market.CommissionRate,
		Currency:   cfg.Market.Currency,
		Name:       name,
		Log:        logger,
	}
	handler := &purchase.OutcomeHandler{Service: svc, Dedup: &redisx.Deduper{RDB: rdb}}

	// Consumer + background loops
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.Reconciler.Group, market.TopicPaymentOutcome, cfg.Reconciler.Workers, logger)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		logger.Info("reconciler consumer started",
			"group", cfg.Reconciler.Group, "topic", market.TopicPaymentOutcome, "workers", cfg.Reconciler.Workers)
		if err := cons.Start(ctx, handler.Handle); err != nil {
			logger.Error("consumer exit", "err", err)
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		svc.RunSweeper(ctx, cfg.Market.SweepInterval, cfg.Market.ReservationTTL)
	}()
	go func() {
		defer wg.Done()
		svc.RunAuditor(ctx, cfg.Market.AuditInterval)
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down reconciler")
	cancel()
	wg.Wait()
	finalized.Close()
	pcancel()
	finalized.WaitClosed()
}
