package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-book-orders/internal/config"
	kafkax "github.com/ariefcatur/go-book-orders/internal/kafka"
	"github.com/ariefcatur/go-book-orders/internal/orders"
	"github.com/ariefcatur/go-book-orders/internal/postgres"
	"github.com/ariefcatur/go-book-orders/internal/redisx"
	"github.com/ariefcatur/go-book-orders/internal/summary"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := cfg.Logger().With(slog.String("component", "summary"))
	slog.SetDefault(logger)

	if cfg.RedisAddr == "" || len(cfg.KafkaBrokers) == 0 {
		logger.Error("summary worker needs REDIS_ADDR and KAFKA_BROKERS")
		os.Exit(1)
	}

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

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &summary.Service{
		Store:       &postgres.OrderStore{DB: db},
		Cache:       &redisx.OrderCache{RDB: rdb, TTL: cfg.CacheTTL},
		Redis:       rdb,
		Limit:       cfg.ListLimit,
		ServiceName: cfg.ServiceName + "-summary",
		Log:         logger,
	}
	// warm the cache before the first event arrives
	if _, err := svc.Refresh(ctx); err != nil {
		logger.Warn("initial summary refresh failed", slog.Any("error", err))
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.SummaryGroup, orders.TopicOrdersChanged, cfg.SummaryWorkers, logger)
	logger.Info("summary consumer started",
		slog.String("group", cfg.SummaryGroup),
		slog.String("topic", orders.TopicOrdersChanged),
		slog.Int("workers", cfg.SummaryWorkers))
	if err := cons.Start(ctx, svc.HandleOrderChanged); err != nil {
		logger.Error("consumer exit", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("shutting down consumer...")
}
