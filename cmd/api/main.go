package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	mongoadapter "github.com/robertarktes/seat-holds/internal/adapters/mongo"
	"github.com/robertarktes/seat-holds/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/seat-holds/internal/adapters/redis"
	"github.com/robertarktes/seat-holds/internal/bootstrap"
	"github.com/robertarktes/seat-holds/internal/config"
	"github.com/robertarktes/seat-holds/internal/expiry"
	httphandler "github.com/robertarktes/seat-holds/internal/http"
	"github.com/robertarktes/seat-holds/internal/idempotency"
	"github.com/robertarktes/seat-holds/internal/notify"
	"github.com/robertarktes/seat-holds/internal/observability"
	"github.com/robertarktes/seat-holds/internal/rateLimit"
	"github.com/robertarktes/seat-holds/internal/reservation"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := observability.NewLogger(cfg.LogLevel).WithField("service", "seats-api")

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "seats-api")
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
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisClient)

	checks := []httphandler.ReadinessCheck{
		{Name: "ledger", Ping: ledger.Ping},
		{Name: "redis", Ping: registry.Ping},
	}

	opts := []reservation.Option{
		reservation.WithHoldTTL(cfg.HoldTTL),
		reservation.WithSeatsPerShow(cfg.SeatsPerShow),
		reservation.WithLogger(logger),
	}
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		audit := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)
		if err := audit.EnsureIndexes(ctx); err != nil {
			logger.WithError(err).Warn("audit index not created")
		}
		opts = append(opts, reservation.WithAuditor(audit))
	}

	g, gctx := errgroup.WithContext(ctx)

	// Viewers of this process are fed from the hub directly. With a broker,
	// changes also go to the exchange and the relay brings in events from
	// other processes, skipping the ones this process sent.
	hub := notify.NewHub()
	var notifier notify.Notifier = hub
	if cfg.RabbitURL != "" {
		origin := "seats-api/" + uuid.NewString()
		rabbitPub, err := rabbit.NewPublisher(cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer rabbitPub.Close()
		consumer := rabbit.NewConsumer(cfg.RabbitURL, rabbit.ChangedKey)
		defer consumer.Close()

		notifier = notify.Multi{hub, notify.NewBroker(rabbitPub, origin, logger)}
		relay := notify.NewRelay(consumer, hub, origin, logger)
		g.Go(func() error { return relay.Run(gctx) })
	}

	svc := reservation.NewCoordinator(registry, ledger, notifier, opts...)

	if cfg.RunExpiryWatch {
		subscription := redisadapter.NewExpirySubscription(redisClient)
		if cfg.RedisConfigureNotifications {
			if err := subscription.EnableNotifications(ctx); err != nil {
				logger.WithError(err).Warn("could not enable keyspace notifications, relying on server config")
			}
		}
		watcher := expiry.NewWatcher(subscription, registry, ledger, notifier, logger, cfg.HoldTTL)
		sweeper := expiry.NewSweeper(registry, ledger, notifier, logger, cfg.HoldTTL, cfg.SweepGrace)
		g.Go(func() error { return watcher.Run(gctx) })
		g.Go(func() error { return sweeper.Run(gctx, cfg.SweepInterval) })
	}

	handlers := httphandler.NewHandlers(svc, hub, checks...)
	r := httphandler.SetupRouter(handlers, logger, httphandler.RouterOptions{
		RateLimiter:        rl,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Idempotency:        idemp,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped with error")
	}
	logger.Info("Server exiting")
}
