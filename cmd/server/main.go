// Package main is the flower shop live chat relay entry point
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roykane/flower-shop-sub000/internal/adapters/auth"
	"github.com/roykane/flower-shop-sub000/internal/adapters/gateway"
	"github.com/roykane/flower-shop-sub000/internal/adapters/handler"
	"github.com/roykane/flower-shop-sub000/internal/adapters/repository"
	"github.com/roykane/flower-shop-sub000/internal/adapters/websocket"
	"github.com/roykane/flower-shop-sub000/internal/config"
	"github.com/roykane/flower-shop-sub000/internal/core/ports"
	"github.com/roykane/flower-shop-sub000/internal/core/services"
)

const version = "1.0.0"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// ==================================================================
	// Infrastructure
	// ==================================================================

	conversations, closeStore, err := openConversationStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var audit ports.ChatAuditRepository = repository.NoopAuditRepository{}
	var auditReader handler.AuditReader
	if cfg.DB.Enabled() {
		db, err := connectMariaDB(cfg.DB, 5, 2*time.Second)
		if err != nil {
			return err
		}
		defer db.Close()

		mariadbRepo := repository.NewMariaDBRepository(db)
		if err := mariadbRepo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure audit schema: %w", err)
		}
		audit = mariadbRepo
		auditReader = mariadbRepo
		logger.Info("MariaDB audit log enabled", "host", cfg.DB.Host, "database", cfg.DB.Database)
	} else {
		logger.Warn("DB_PASS not set, chat audit log disabled")
	}

	rdb, err := connectRedis(cfg.Redis, 5, 2*time.Second)
	if err != nil {
		return err
	}
	defer rdb.Close()
	redisRepo := repository.NewRedisRepository(rdb)
	logger.Info("Redis connection established", "addr", cfg.Redis.Addr)

	// ==================================================================
	// Services
	// ==================================================================

	var notifier ports.StaffNotifier
	if cfg.Chat.AlertWebhookURL != "" {
		notifier = gateway.NewAlertClient(cfg.Chat.AlertWebhookURL, cfg.Chat.AlertSecret)
	}

	registry := services.NewConnectionRegistry(logger)
	router := services.NewRouter(services.RouterDeps{
		Conversations: conversations,
		Audit:         audit,
		Dedup:         redisRepo,
		Limiter:       redisRepo,
		Notifier:      notifier,
		Registry:      registry,
		Responder:     services.NewAutoResponder(),
		Switch:        services.NewAutoReplySwitch(cfg.Chat.AutoReplyEnabled),
		Stats:         services.NewStatsAggregator(conversations, cfg.Chat.Location),
		Logger:        logger,
	}, services.RouterConfig{
		AutoReplyDelay: services.DelayPolicy{
			Min: cfg.Chat.AutoReplyMinDelay,
			Max: cfg.Chat.AutoReplyMaxDelay,
		},
		MessageRateLimit:  cfg.Chat.MessageRateLimit,
		MessageRateWindow: cfg.Chat.MessageRateWindow,
		AlertCooldown:     cfg.Chat.AlertCooldown,
	})

	// Watchdog (self-healing audit purge)
	watchdog := services.NewWatchdog(audit, services.WatchdogConfig{
		Interval:      cfg.Watchdog.Interval,
		DiskThreshold: cfg.Watchdog.DiskThreshold,
		Retention:     cfg.Watchdog.Retention,
	}, logger)
	if cfg.DB.Enabled() {
		go watchdog.Run(ctx)
	}

	// ==================================================================
	// HTTP
	// ==================================================================

	authenticator := auth.NewJWTAuthenticator([]byte(cfg.JWTSecret))
	hub := websocket.NewHub(router, authenticator, cfg.App.CORSOrigins, logger)
	dashboard := handler.NewDashboardHandler(router, auditReader, cfg.Watchdog.DiskThreshold, version)

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.App.Port),
		Handler: handler.NewRouter(handler.RouterOptions{
			Dashboard:      dashboard,
			Realtime:       hub.ServeWS,
			Auth:           authenticator,
			AllowedOrigins: cfg.App.CORSOrigins,
			Logger:         logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting chat server",
			"port", cfg.App.Port,
			"env", cfg.App.Env,
			"store", cfg.App.StoreDriver,
			"version", version,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutting down server", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Hijacked websocket connections are not closed by Shutdown
	registry.CloseAll()
	router.Shutdown()

	logger.Info("Server stopped")
	return nil
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.App.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// openConversationStore returns the configured store and its close function
func openConversationStore(ctx context.Context, cfg *config.Config) (ports.ConversationRepository, func(), error) {
	if cfg.App.StoreDriver == "memory" {
		slog.Warn("Using in-memory conversation store, data is lost on restart")
		return repository.NewMemoryRepository(), func() {}, nil
	}

	client, err := connectMongo(ctx, cfg.Mongo, 5, 2*time.Second)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			slog.Error("Failed to disconnect MongoDB", "error", err)
		}
	}

	repo := repository.NewMongoRepository(client.Database(cfg.Mongo.Database))
	if err := repo.EnsureIndexes(ctx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("ensure conversation indexes: %w", err)
	}
	slog.Info("MongoDB connection established", "database", cfg.Mongo.Database)
	return repo, closeFn, nil
}

// connectMongo retries because containers may still be initializing
func connectMongo(ctx context.Context, cfg config.MongoConfig, maxRetries int, retryDelay time.Duration) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("configure mongo client: %w", err)
	}

	for i := 1; i <= maxRetries; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Ping(pingCtx, nil)
		cancel()
		if err == nil {
			return client, nil
		}

		slog.Warn("Cannot ping MongoDB", "attempt", i, "max_attempts", maxRetries, "error", err)
		if i < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	_ = client.Disconnect(context.Background())
	return nil, fmt.Errorf("connect mongo after %d attempts: %w", maxRetries, err)
}

// connectMariaDB attempts to connect to MariaDB with retry logic
func connectMariaDB(cfg config.DBConfig, maxRetries int, retryDelay time.Duration) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("configure db driver: %w", err)
	}

	for i := 1; i <= maxRetries; i++ {
		if err = db.Ping(); err == nil {
			return db, nil
		}

		slog.Warn("Cannot ping MariaDB", "attempt", i, "max_attempts", maxRetries, "error", err)
		if i < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	db.Close()
	return nil, fmt.Errorf("connect mariadb after %d attempts: %w", maxRetries, err)
}

// connectRedis attempts to connect to Redis with retry logic
func connectRedis(cfg config.RedisConfig, maxRetries int, retryDelay time.Duration) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx := context.Background()
	var err error

	for i := 1; i <= maxRetries; i++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			return rdb, nil
		}

		slog.Warn("Cannot ping Redis", "attempt", i, "max_attempts", maxRetries, "error", err)
		if i < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	rdb.Close()
	return nil, fmt.Errorf("connect redis after %d attempts: %w", maxRetries, err)
}
