package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"leaderboard/internal/broadcast"
	"leaderboard/internal/config"
	"leaderboard/internal/httpapi"
	"leaderboard/internal/ingest"
	"leaderboard/internal/session"
	"leaderboard/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}

	authority := session.NewAuthority(st, logger)
	hub := broadcast.NewHub(ctx, authority, logger)
	authority.SetPublisher(hub)
	ingester := ingest.NewService(st, hub, logger)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpapi.SetupRoutes(authority, ingester, hub, logger),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		// In-flight handlers may post to the hub right up to the end of
		// the drain, so it stops last.
		hub.Shutdown()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Dev() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
