// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shivanand-hulikatti/harvest-reservations/internal/cache"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/config"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/database"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/events"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/handler"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/metrics"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/repository"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/service"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/tracing"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const serviceName = "harvest-reservations"

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// ── 1. Tracing ────────────────────────────────────────────────────────
	shutdownTracing, err := tracing.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	// ── 2. Connect to the store ───────────────────────────────────────────
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Warn("store close", zap.Error(err))
		}
	}()

	// ── 3. Caches, events, metrics ────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var (
		capacityCache cache.CapacityCache    = cache.NewCapacityMemory(cfg.CapacityCacheTTL)
		idempotency   cache.IdempotencyStore = cache.NewIdempotencyMemory()
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, using in-process caches", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = rdb.Close()
		} else {
			defer rdb.Close()
			capacityCache = cache.NewCapacityRedis(rdb, cfg.CapacityCacheTTL)
			idempotency = cache.NewIdempotencyRedis(rdb)
			logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		}
	}

	feed := events.NewFeed(256)
	publishers := events.Multi{feed}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := kp.Close(); err != nil {
				logger.Warn("kafka writer close", zap.Error(err))
			}
		}()
		publishers = append(publishers, kp)
		logger.Info("publishing booking events to kafka",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic))
	}
	feedEvents, unsubscribe := feed.Subscribe()
	defer unsubscribe()
	go func() {
		for e := range feedEvents {
			logger.Debug("booking event",
				zap.String("type", string(e.Type)),
				zap.String("booking_id", e.BookingID),
				zap.String("status", string(e.Status)))
		}
	}()

	// ── 4. Wire up layers ─────────────────────────────────────────────────
	svc := service.NewReservationService(store,
		service.WithCapacityCache(capacityCache),
		service.WithIdempotency(idempotency),
		service.WithPublisher(publishers),
		service.WithMetrics(m),
		service.WithLogger(logger),
		service.WithMaxAttempts(cfg.TxMaxAttempts),
	)
	reservationHandler := handler.NewReservationHandler(svc, logger)

	// ── 5. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(handler.Logger(logger))  // structured access log
	r.Use(handler.CORS)            // browser front-ends on other origins
	r.Use(tracing.Middleware)
	r.Use(m.Middleware)
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", handler.HealthCheck)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	reservationHandler.Mount(r)

	// ── 6. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (repository.Store, error) {
	switch cfg.Store {
	case config.StoreMongo:
		client, err := database.NewMongoClient(ctx, cfg.Mongo, logger)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		store := repository.NewMongoStore(client, cfg.Mongo.Database)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = store.Close(ctx)
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		logger.Info("connected to mongodb", zap.String("database", cfg.Mongo.Database))
		return store, nil
	case config.StoreMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		return repository.NewMemoryStore(), nil
	default:
		pool, err := database.NewPool(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("database: %w", err)
		}
		logger.Info("connected to postgresql", zap.String("host", cfg.Postgres.Host), zap.String("db", cfg.Postgres.DBName))
		return repository.NewPostgresStore(pool), nil
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
