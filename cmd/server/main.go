// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/trivia/internal/auth"
	"github.com/jason-s-yu/trivia/internal/cache"
	"github.com/jason-s-yu/trivia/internal/config"
	"github.com/jason-s-yu/trivia/internal/database"
	"github.com/jason-s-yu/trivia/internal/database/migrations"
	"github.com/jason-s-yu/trivia/internal/handlers"
	"github.com/jason-s-yu/trivia/internal/outcome"
	"github.com/jason-s-yu/trivia/internal/room"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	journalBuffer   = 1024
	outcomeTimeout  = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	logger := cfg.NewLogger()

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

func run(cfg config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ttl, err := auth.ParseTokenTTL(cfg.TokenTTL)
	if err != nil {
		return err
	}
	if err := auth.Init(ttl); err != nil {
		return err
	}

	if cfg.MigrateOnStart {
		if err := migrations.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return err
		}
	}
	store, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	persister := outcome.NewPersister(store, logger, outcomeTimeout)
	deps := room.Deps{
		Content:  store,
		Outcomes: persister,
		Timings: room.Timings{
			DeadlineGrace:  cfg.DeadlineGrace,
			ResultsDelay:   cfg.ResultsDelay,
			CleanupDelay:   cfg.CleanupDelay,
			ContentTimeout: cfg.ContentTimeout,
		},
	}

	// The journal is optional; rooms run without it when Redis is down.
	var journal *cache.Journal
	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.WithError(err).Warn("redis unavailable, room events will not be journaled")
	} else {
		defer rdb.Close()
		journal = cache.NewJournal(rdb, cfg.HistorianQueue, journalBuffer, logger)
		deps.Journal = journal
	}

	registry := room.NewRegistry(deps, logger)
	manager := room.NewManager(registry, logger)

	api := &handlers.Server{
		Accounts:       store,
		Questions:      store,
		Rooms:          manager,
		Resolver:       auth.TokenResolver{},
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
		TokenTTL:       ttl,
	}

	// Websocket handlers outlive Shutdown, so they watch this context instead.
	connCtx, closeConns := context.WithCancel(context.Background())
	defer closeConns()
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return connCtx },
	}

	journalCtx, stopJournal := context.WithCancel(context.Background())
	defer stopJournal()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if journal != nil {
		g.Go(func() error {
			return journal.Run(journalCtx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		// Rooms queue room-closed to every member, then connections flush
		// their outboxes and close. The store stays open until outcome
		// writes finish.
		registry.Shutdown()
		closeConns()
		if werr := api.WaitConnections(shutdownCtx); werr != nil {
			logger.WithError(werr).Warn("websocket connections did not close in time")
		}
		if werr := persister.Wait(shutdownCtx); werr != nil {
			logger.WithError(werr).Warn("outcome writes did not finish in time")
		}
		stopJournal()
		return err
	})

	return g.Wait()
}
