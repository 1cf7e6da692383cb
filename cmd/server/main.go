package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4" // Echo web framework
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/iliyamo/venue-dashboard/internal/client"
	"github.com/iliyamo/venue-dashboard/internal/config" // Internal config loader
	"github.com/iliyamo/venue-dashboard/internal/database"
	"github.com/iliyamo/venue-dashboard/internal/handler"
	"github.com/iliyamo/venue-dashboard/internal/purchasecache"
	"github.com/iliyamo/venue-dashboard/internal/queue"
	"github.com/iliyamo/venue-dashboard/internal/router" // Internal router setup
	"github.com/iliyamo/venue-dashboard/internal/storage"
)

func main() {
	cfg, err := config.Load() // Load environment config
	if err != nil {
		// no logger yet; fall back to a development logger for the fatal line
		zap.Must(zap.NewDevelopment()).Fatal("load config", zap.Error(err))
	}
	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, closeKV := openStorage(ctx, cfg, logger)
	defer closeKV()

	api := client.NewPurchaseClient(client.Config{
		BaseURL:  cfg.PurchaseAPI.BaseURL,
		Token:    cfg.PurchaseAPI.Token,
		Timeout:  cfg.PurchaseAPI.Timeout,
		PageSize: cfg.PurchaseAPI.PageSize,
	}, logger.Named("purchase-api"))
	defer func() { _ = api.Close() }()

	// one store per caller scope, created on first request
	caches := purchasecache.NewRegistry(api, kv, purchasecache.Options{
		Name:   cfg.Cache.Name,
		MaxAge: cfg.Cache.MaxAge,
		Logger: logger.Named("purchase-cache"),
	})

	var events handler.EventPublisher
	consumerDone := make(chan struct{})
	if cfg.RabbitMQ.Enabled {
		events = queue.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, logger)
		consumer := queue.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, caches, logger)
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(ctx); err != nil {
				logger.Error("purchase consumer stopped", zap.Error(err))
			}
		}()
	} else {
		close(consumerDone)
	}

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	router.RegisterRoutes(e) // Register application routes
	router.RegisterDashboard(e, handler.NewPurchaseHandler(caches, api, events, logger.Named("http")), cfg.JWTSecret)

	addr := ":" + cfg.Port // Address string with port
	go func() {
		logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("cache_backend", cfg.Cache.Backend))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	<-consumerDone
	caches.Wait()
}

func newLogger(cfg config.Config) *zap.Logger {
	zc := zap.NewProductionConfig()
	if cfg.Env == "dev" {
		zc = zap.NewDevelopmentConfig()
	}
	if lvl, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zc.Build()
	if err != nil {
		return zap.NewExample()
	}
	return logger
}

// openStorage builds the cache region backend.  Any backend that cannot be
// reached leaves the cache in storage-unavailable mode rather than stopping
// the server.
func openStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.KV, func()) {
	noop := func() {}
	switch cfg.Cache.Backend {
	case config.BackendMemory:
		return storage.NewMemoryKV(), noop
	case config.BackendNone:
		return nil, noop
	case config.BackendRedis:
		rdb := config.NewRedisClient(cfg.Redis)
		if rdb == nil {
			logger.Warn("redis unreachable", zap.String("addr", cfg.Redis.Address()))
			return nil, noop
		}
		return storage.NewRedisKV(rdb, cfg.Cache.Prefix), func() { _ = rdb.Close() }
	case config.BackendSQLite:
		db, err := database.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			logger.Warn("sqlite unavailable", zap.Error(err), zap.String("path", cfg.SQLite.Path))
			return nil, noop
		}
		return sqlStorage(ctx, db, storage.DialectSQLite, logger)
	case config.BackendMySQL:
		db, err := database.OpenMySQL(cfg.DB.User, cfg.DB.Pass, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
		if err != nil {
			logger.Warn("mysql unavailable", zap.Error(err), zap.String("host", cfg.DB.Host))
			return nil, noop
		}
		return sqlStorage(ctx, db, storage.DialectMySQL, logger)
	}
	return nil, noop
}

func sqlStorage(ctx context.Context, db *sql.DB, d storage.Dialect, logger *zap.Logger) (storage.KV, func()) {
	kv, err := storage.NewSQLKV(ctx, db, d)
	if err != nil {
		logger.Warn("cache table unavailable", zap.Error(err), zap.String("dialect", string(d)))
		_ = db.Close()
		return nil, func() {}
	}
	return kv, func() { _ = db.Close() }
}
