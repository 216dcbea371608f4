// Package services – Sweeper
//
// The retry sweep repairs failed intake publishes. Each run loads every
// pending proposal, republishes it with the same income-derived priority, and
// records the attempt. Proposals are handled independently; one failure never
// aborts the run. Runs are spaced by a fixed delay measured from the end of
// the previous run.
//
// There is no cross-replica lock. Two sweeps racing on the same row may
// publish it twice; downstream consumers must tolerate duplicates.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-proposal-backend/internal/broker"
	"github.com/tbourn/go-proposal-backend/internal/domain"
	"github.com/tbourn/go-proposal-backend/internal/observability"
	"github.com/tbourn/go-proposal-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Pending    int // pending proposals found at the start of the run
	Integrated int // republished and marked Integrated
	Failed     int // still pending after this run
}

// Sweeper republishes pending proposals.
type Sweeper struct {
	DB        *gorm.DB
	Publisher broker.Publisher

	Exchange            string
	HighIncomeThreshold float64
	Interval            time.Duration
}

// NewSweeper returns a sweeper with the default 10s interval.
func NewSweeper(db *gorm.DB, pub broker.Publisher, exchange string) *Sweeper {
	return &Sweeper{
		DB:                  db,
		Publisher:           pub,
		Exchange:            exchange,
		HighIncomeThreshold: domain.DefaultHighIncomeThreshold,
		Interval:            10 * time.Second,
	}
}

// Run sweeps until ctx is cancelled. The first run starts immediately.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	log.Info().Dur("interval", interval).Str("exchange", s.Exchange).Msg("retry sweep started")
	defer log.Info().Msg("retry sweep stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("retry sweep failed")
		}
		timer.Reset(interval)
	}
}

// SweepOnce performs a single pass. The returned error covers only the
// initial load and cancellation; per-proposal failures are counted in Failed.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	tr := otel.Tracer("services/Sweeper")
	ctx, span := tr.Start(ctx, "SweepOnce")
	defer span.End()

	var res SweepResult
	pending, err := repo.ListProposalsByIntegrated(ctx, s.DB, false)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	res.Pending = len(pending)
	span.SetAttributes(attribute.Int("sweep.pending", res.Pending))
	if res.Pending == 0 {
		observability.ObserveSweep(0)
		return res, nil
	}

	threshold := s.HighIncomeThreshold
	if threshold <= 0 {
		threshold = domain.DefaultHighIncomeThreshold
	}

	for i := range pending {
		if err := ctx.Err(); err != nil {
			res.Failed = res.Pending - res.Integrated
			return res, err
		}
		p := &pending[i]
		prio := domain.PriorityFor(p.User.FinancialIncome, threshold)

		perr := s.Publisher.Publish(ctx, p, s.Exchange, prio)
		observability.ObservePublish(s.Exchange, perr)

		lg := log.With().
			Uint64("proposal_id", p.ID).
			Str("priority", prio.String()).
			Int("attempt", p.PublishAttempts+1).
			Logger()
		if perr != nil {
			lg.Warn().Err(perr).Msg("retry publish failed")
		}
		if werr := repo.RecordPublishAttempt(ctx, s.DB, p.ID, perr); werr != nil {
			lg.Error().Err(werr).Msg("record publish attempt failed")
			res.Failed++
			continue
		}
		if perr != nil {
			res.Failed++
			continue
		}
		res.Integrated++
	}

	observability.ObserveSweep(res.Pending)
	span.SetAttributes(
		attribute.Int("sweep.integrated", res.Integrated),
		attribute.Int("sweep.failed", res.Failed),
	)
	log.Info().
		Int("pending", res.Pending).
		Int("integrated", res.Integrated).
		Int("failed", res.Failed).
		Msg("retry sweep finished")
	return res, nil
}
