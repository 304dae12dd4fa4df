package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"pkt.systems/pslog"

	"github.com/parking-reservation/backend/internal/api"
	"github.com/parking-reservation/backend/internal/api/handlers"
	"github.com/parking-reservation/backend/internal/api/middleware"
	"github.com/parking-reservation/backend/internal/auth"
	"github.com/parking-reservation/backend/internal/config"
	"github.com/parking-reservation/backend/internal/metrics"
	"github.com/parking-reservation/backend/internal/parking"
	"github.com/parking-reservation/backend/internal/relay"
	"github.com/parking-reservation/backend/internal/reservation"
	"github.com/parking-reservation/backend/internal/storage"
	"github.com/parking-reservation/backend/internal/websocket"
)

const (
	shutdownTimeout = 30 * time.Second
	limiterJanitor  = 2 * time.Minute
)

func runServer(ctx context.Context, cfg *config.Config, logger pslog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Info("server.starting", "version", version, "pid", os.Getpid(), "addr", cfg.Addr)

	// Initialize database
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %q: %w", cfg.DataDir, err)
	}
	db, err := storage.NewDB(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := storage.RunMigrations(ctx, db, logger.With("sys", "storage.migrations")); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	store := storage.NewStore(db)

	var collector *metrics.Collector
	var metricsHandler http.Handler
	if cfg.Metrics {
		collector = metrics.New()
		metricsHandler = collector.Handler()
	}

	// The hub outlives the HTTP server so in-flight handlers can still publish.
	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := websocket.NewHub(
		websocket.WithHubLogger(logger.With("sys", "ws.hub")),
		websocket.WithHubMetrics(collector),
	)
	go hub.Run(hubCtx)
	defer func() {
		stopHub()
		<-hub.Done()
	}()

	var notifier parking.Notifier = websocket.NewEventBroadcaster(hub)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}

		rl := relay.New(rdb, cfg.RedisChannel, notifier, relay.WithLogger(logger.With("sys", "relay")))
		notifier = rl
		go func() {
			if err := rl.Run(ctx); err != nil {
				logger.Error("relay.stopped", "error", err)
			}
		}()
	}

	opts := []parking.Option{
		parking.WithHoldDuration(cfg.HoldDuration),
		parking.WithLogger(logger.With("sys", "parking")),
		parking.WithMetrics(collector),
	}
	engine := parking.NewEngine(store, notifier, opts...)
	reconciler := parking.NewReconciler(store, notifier, opts...)

	scheduler := reservation.NewExpiryScheduler(engine, cfg.SweepInterval, logger.With("sys", "reservation.expiry"))
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	limiter := middleware.NewLimiterStore(cfg.BookRate, cfg.BookBurst)
	limiter.StartJanitor(ctx, limiterJanitor)

	router := api.NewRouter(api.RouterConfig{
		Services: &handlers.Services{
			Engine:     engine,
			Reconciler: reconciler,
			Logger:     logger.With("sys", "http.handlers"),
		},
		DB:        store,
		Hub:       hub,
		Verifier:  auth.NewTokenVerifier(cfg.JWTSecret),
		Limiter:   limiter,
		Metrics:   metricsHandler,
		StaticDir: cfg.StaticDir,
		Logger:    logger.With("sys", "http"),
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server.listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serving http: %w", err)
		}
	}

	logger.Info("server.shutdown.begin")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	logger.Info("server.shutdown.complete")
	return nil
}
