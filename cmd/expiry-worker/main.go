package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/robertarktes/seat-holds/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/seat-holds/internal/adapters/redis"
	"github.com/robertarktes/seat-holds/internal/bootstrap"
	"github.com/robertarktes/seat-holds/internal/config"
	"github.com/robertarktes/seat-holds/internal/expiry"
	"github.com/robertarktes/seat-holds/internal/notify"
	"github.com/robertarktes/seat-holds/internal/observability"
	"golang.org/x/sync/errgroup"
)

// The expiry worker applies hold expirations for API processes started with
// EXPIRY_WATCHER=false. Change events reach viewers through the broker.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := observability.NewLogger(cfg.LogLevel).WithField("service", "seats-expiry-worker")

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "seats-expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger, closeLedger, err := bootstrap.OpenLedger(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open %s ledger: %v", cfg.LedgerDriver, err)
	}
	defer closeLedger()

	redisClient := bootstrap.NewRedisClient(cfg)
	defer redisClient.Close()
	registry := redisadapter.NewHoldRegistry(redisClient)
	subscription := redisadapter.NewExpirySubscription(redisClient)
	if cfg.RedisConfigureNotifications {
		if err := subscription.EnableNotifications(ctx); err != nil {
			logger.WithError(err).Warn("could not enable keyspace notifications, relying on server config")
		}
	}

	var notifier notify.Notifier = notify.Multi{}
	if cfg.RabbitURL != "" {
		rabbitPub, err := rabbit.NewPublisher(cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer rabbitPub.Close()
		notifier = notify.NewBroker(rabbitPub, "expiry-worker/"+uuid.NewString(), logger)
	} else {
		logger.Warn("RABBIT_URL not set, expirations will not be announced to viewers")
	}

	watcher := expiry.NewWatcher(subscription, registry, ledger, notifier, logger, cfg.HoldTTL)
	sweeper := expiry.NewSweeper(registry, ledger, notifier, logger, cfg.HoldTTL, cfg.SweepGrace)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx, cfg.SweepInterval) })

	logger.Info("expiry worker started")
	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("expiry worker stopped with error")
	}
	logger.Info("Shutdown expiry worker")
}
