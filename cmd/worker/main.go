package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tidehook/tidehook/internal/auth"
	"github.com/tidehook/tidehook/internal/circuitbreaker"
	"github.com/tidehook/tidehook/internal/config"
	"github.com/tidehook/tidehook/internal/dlq"
	"github.com/tidehook/tidehook/internal/engine"
	"github.com/tidehook/tidehook/internal/health"
	"github.com/tidehook/tidehook/internal/hook"
	"github.com/tidehook/tidehook/internal/logging"
	"github.com/tidehook/tidehook/internal/metrics"
	"github.com/tidehook/tidehook/internal/ops"
	"github.com/tidehook/tidehook/internal/ratelimit"
	"github.com/tidehook/tidehook/internal/signature"
	"github.com/tidehook/tidehook/internal/storage"
	"github.com/tidehook/tidehook/internal/tracing"
)

// logAlerter surfaces repeatedly failing deliveries in the logs. A real
// pager integration would live behind the same interface.
type logAlerter struct {
	log *logging.Logger
}

func (a *logAlerter) Alert(ctx context.Context, d *hook.Delivery, sub *hook.Subscription) {
	a.log.WithDelivery(ctx, d.ID).WithFields(map[string]any{
		"subscription_id": sub.ID,
		"url":             sub.URL,
		"attempts":        d.Attempts,
		"last_error":      d.ErrorMessage,
	}).Warn("delivery failing repeatedly")
}

// loadSubscriptions seeds the in-memory store from SUBSCRIPTIONS_FILE, a
// JSON array of subscriptions. Used for local and test deployments.
func loadSubscriptions(path string, logger *logging.Logger) *storage.MemorySubscriptions {
	store := storage.NewMemorySubscriptions()
	if path == "" {
		return store
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Plain().WithError(err).Fatal("read subscriptions file failed")
	}
	var subs []hook.Subscription
	if err := json.Unmarshal(raw, &subs); err != nil {
		logger.Plain().WithError(err).Fatal("parse subscriptions file failed")
	}
	for i := range subs {
		store.Put(subs[i])
	}
	logger.Plain().WithField("count", len(subs)).Info("subscriptions loaded")
	return store
}

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.New("tidehook-worker")

	shutdown, err := tracing.InitTracing(ctx, "tidehook-worker")
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdown()

	// Storage backend
	var (
		pool     *pgxpool.Pool
		subStore storage.SubscriptionStore
		delStore storage.DeliveryStore
		dlqStore storage.DeadLetterStore
	)
	if cfg.Storage == "postgres" {
		pool, err = storage.Connect(ctx, cfg.DSN())
		if err != nil {
			logger.Plain().WithError(err).Fatal("db connect failed")
		}
		defer pool.Close()
		if err := storage.EnsureSchema(ctx, pool); err != nil {
			logger.Plain().WithError(err).Fatal("schema setup failed")
		}
		subStore = storage.NewPostgresSubscriptions(pool)
		delStore = storage.NewPostgresDeliveries(pool)
		dlqStore = storage.NewPostgresDeadLetters(pool)
	} else {
		subStore = loadSubscriptions(os.Getenv("SUBSCRIPTIONS_FILE"), logger)
		delStore = storage.NewMemoryDeliveries()
		dlqStore = storage.NewMemoryDeadLetters()
	}

	// Rate limiter: Redis-backed when configured, in-process otherwise
	var (
		rdb     *redis.Client
		limiter ratelimit.Limiter
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		limiter = ratelimit.NewRedisLimiter(rdb, "")
		logger.Plain().WithField("addr", cfg.Redis.Addr).Info("using redis rate limiter")
	} else {
		limiter = ratelimit.NewLocalLimiter()
	}

	// Optional DLQ topic mirror
	var publisher *dlq.Publisher
	if cfg.NSQ.PublishDLQ {
		publisher, err = dlq.NewPublisher(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.DLQTopic)
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer for DLQ creation failed")
		}
		defer publisher.Stop()
	}
	queue := dlq.NewQueue(dlqStore, publisher, logger)

	signer := signature.NewSigner(signature.Config{
		Algorithm:           signature.Algorithm(cfg.Signing.Algorithm),
		HeaderName:          cfg.Signing.SignatureHeader,
		TimestampHeaderName: cfg.Signing.TimestampHeader,
		ToleranceSeconds:    cfg.Signing.ToleranceSeconds,
	})
	minter := auth.NewTokenMinter(cfg.AppName, 5*time.Minute)
	executor := engine.NewExecutor(signer, minter, cfg.Engine.AttemptTimeout)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	eng := engine.New(engine.Config{
		Workers:        cfg.Engine.Workers,
		AlertThreshold: cfg.Engine.AlertThreshold,
		RetryDefaults: hook.RetryPolicy{
			MaxAttempts:  cfg.Engine.MaxAttempts,
			InitialDelay: cfg.Engine.InitialDelay,
			Multiplier:   cfg.Engine.Multiplier,
			MaxDelay:     cfg.Engine.MaxDelay,
		},
		RateLimitDefaults: hook.RateLimit{
			Window:      cfg.Engine.RateLimitWindow,
			MaxRequests: cfg.Engine.RateLimitMax,
		},
		BreakerDefaults: circuitbreaker.Config{
			Threshold:    cfg.Engine.BreakerThreshold,
			ResetTimeout: cfg.Engine.BreakerResetTimeout,
		},
	}, engine.Deps{
		Subscriptions: subStore,
		Deliveries:    delStore,
		DLQ:           queue,
		Limiter:       limiter,
		Egress:        ratelimit.NewEgress(cfg.Engine.EgressRPS, cfg.Engine.EgressBurst),
		Executor:      executor,
		Alerter:       &logAlerter{log: logger},
		Logger:        logger,
	})
	eng.Start(ctx)

	// Policy-driven DLQ replay
	if cfg.Engine.ReplayCron != "" {
		replayer := dlq.NewReplayer(queue, eng.ReplayDeadLetter, 0, logger)
		if err := replayer.Start(cfg.Engine.ReplayCron); err != nil {
			logger.Plain().WithError(err).Fatal("dlq replay cron setup failed")
		}
		defer replayer.Stop()
		logger.Plain().WithField("spec", cfg.Engine.ReplayCron).Info("dlq replay schedule active")
	}

	// Ops HTTP server
	srv := ops.NewServer(eng, subStore, health.HTTPHandler(pool, rdb), reg, logger)
	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: srv.Router()}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	logger.Plain().Info("worker service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down worker service")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("worker service stopped")
}
