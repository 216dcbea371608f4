package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-proposal-backend/internal/broker"
	"github.com/tbourn/go-proposal-backend/internal/repo"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Republish pending proposals once and purge expired idempotency keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			pub, _, err := broker.New(cfg.Broker)
			if err != nil {
				return fmt.Errorf("broker: %w", err)
			}
			defer pub.Close()

			res, err := newSweeper(db, pub, cfg).SweepOnce(ctx)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			purged, err := repo.PurgeExpiredIdempotency(ctx, db, time.Now().UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency keys")
			}
			log.Info().
				Int("pending", res.Pending).
				Int("integrated", res.Integrated).
				Int("failed", res.Failed).
				Int64("idempotency_purged", purged).
				Msg("sweep done")
			return nil
		},
	}
}

func topologyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Declare the AMQP exchanges and queues",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.Broker.Driver != "amqp" {
				return errors.New("topology: only the amqp broker driver has a declarable topology")
			}
			pub := broker.NewAMQPPublisher(cfg.Broker)
			defer pub.Close()
			if err := pub.Declare(cmd.Context()); err != nil {
				return fmt.Errorf("topology: %w", err)
			}
			t := broker.TopologyFrom(cfg.Broker)
			log.Info().
				Str("pending_exchange", t.PendingExchange).
				Str("completed_exchange", t.CompletedExchange).
				Msg("topology declared")
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := openDB(cfg); err != nil {
				return err
			}
			log.Info().Str("driver", cfg.DB.Driver).Msg("schema up to date")
			return nil
		},
	}
}
