// cmd/historian/main.go drains journaled room events from Redis into Postgres.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/trivia/internal/cache"
	"github.com/jason-s-yu/trivia/internal/config"
	"github.com/jason-s-yu/trivia/internal/database"
	"github.com/jason-s-yu/trivia/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to redis")
	}
	defer rdb.Close()

	store, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer store.Close()

	svc := historian.New(
		historian.RedisQueue{Client: rdb, Name: cfg.HistorianQueue},
		store,
		cfg.HistorianBatchSize,
		cfg.HistorianFlush,
		logger,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })

	logger.WithField("queue", cfg.HistorianQueue).Info("trivia-historian service started")
	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("historian exited")
	}
	logger.WithField("flushed", svc.Flushed()).Info("trivia-historian service stopped")
}
