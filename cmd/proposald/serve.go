package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/go-proposal-backend/internal/broker"
	"github.com/tbourn/go-proposal-backend/internal/config"
	httpapi "github.com/tbourn/go-proposal-backend/internal/http"
	"github.com/tbourn/go-proposal-backend/internal/notify"
	"github.com/tbourn/go-proposal-backend/internal/observability"
	"github.com/tbourn/go-proposal-backend/internal/repo"
	"github.com/tbourn/go-proposal-backend/internal/services"
)

const (
	shutdownTimeout = 15 * time.Second
	resubscribeWait = 5 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, completion consumer and retry sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, appVersion())
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}

	pub, sub, err := broker.New(cfg.Broker)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	defer pub.Close()
	defer sub.Close()

	hub := notify.NewHub(cfg.WS)
	defer hub.Close()

	var wg sync.WaitGroup

	// Completion consumer
	completions := services.NewCompletionService(db, hub)
	wg.Add(1)
	go func() {
		defer wg.Done()
		broker.ConsumeForever(ctx, sub, completions.Handle, resubscribeWait)
	}()

	// Retry sweep
	if cfg.Pipeline.SweepEnabled {
		sw := newSweeper(db, pub, cfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sw.Run(ctx)
		}()
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, pub, hub, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("broker", cfg.Broker.Driver).Str("db", cfg.DB.Driver).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	wg.Wait()
	log.Info().Msg("stopped")
	return nil
}

func openDB(cfg config.Config) (*gorm.DB, error) {
	db, err := repo.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func newSweeper(db *gorm.DB, pub broker.Publisher, cfg config.Config) *services.Sweeper {
	sw := services.NewSweeper(db, pub, cfg.Broker.PendingExchange)
	sw.Interval = cfg.Pipeline.SweepInterval
	sw.HighIncomeThreshold = cfg.Pipeline.HighIncomeThreshold
	return sw
}
