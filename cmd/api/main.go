package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-book-orders/internal/config"
	"github.com/ariefcatur/go-book-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-book-orders/internal/kafka"
	"github.com/ariefcatur/go-book-orders/internal/orders"
	"github.com/ariefcatur/go-book-orders/internal/postgres"
	"github.com/ariefcatur/go-book-orders/internal/redisx"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.PoolOptions{
		MaxConns:       cfg.DBMaxConns,
		ConnectTimeout: cfg.DBConnectTimeout,
	})
	if err != nil {
		logger.Error("database connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := postgres.EnsureSchema(ctx, db, logger); err != nil {
		logger.Error("schema init failed", slog.Any("error", err))
		os.Exit(1)
	}

	repo := &orders.Repo{
		Store:   &postgres.OrderStore{DB: db},
		Service: cfg.ServiceName,
		Log:     logger,
	}

	// Redis read cache (optional)
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		repo.Cache = &redisx.OrderCache{RDB: rdb, TTL: cfg.CacheTTL}
	}

	// Kafka change events (optional)
	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrdersChanged, 1024, logger)
		prod.Start(ctx)
		repo.Producer = prod
	}

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Repo:      repo,
		Catalog:   orders.DefaultCatalog,
		ListLimit: cfg.ListLimit,
		Log:       logger,
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
	}

	if prod != nil {
		prod.Close() // flush buffered events
		prod.WaitClosed()
		if n := prod.Dropped(); n > 0 {
			logger.Warn("change events dropped", slog.Int64("count", n))
		}
	}
}
