// Package services – CompletionService
//
// CompletionService applies verdicts coming back from the analysis pipeline.
// The stored proposal is overwritten with the message contents (except the
// integration flag, which only publishes may change) and the refreshed view
// is pushed to live observers. Every failure is logged and absorbed so that
// the subscriber can acknowledge the delivery unconditionally.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-proposal-backend/internal/domain"
	"github.com/tbourn/go-proposal-backend/internal/notify"
	"github.com/tbourn/go-proposal-backend/internal/observability"
	"github.com/tbourn/go-proposal-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CompletionService consumes completion messages.
type CompletionService struct {
	DB         *gorm.DB
	Dispatcher notify.Dispatcher
}

// NewCompletionService wires a completion consumer.
func NewCompletionService(db *gorm.DB, d notify.Dispatcher) *CompletionService {
	return &CompletionService{DB: db, Dispatcher: d}
}

// Handle applies msg. It never returns an error or panics; outcomes are
// logged and counted. Its signature matches broker.Handler.
func (s *CompletionService) Handle(ctx context.Context, msg domain.Proposal) {
	tr := otel.Tracer("services/CompletionService")
	ctx, span := tr.Start(ctx, "Handle", trace.WithAttributes(attribute.Int64("proposal.id", int64(msg.ID))))
	defer span.End()

	lg := log.With().Uint64("proposal_id", msg.ID).Logger()
	defer func() {
		if r := recover(); r != nil {
			span.SetStatus(codes.Error, "panic")
			observability.ObserveCompletion(observability.OutcomeFailure)
			lg.Error().Interface("panic", r).Msg("completion handling panicked")
		}
	}()

	view, err := s.Apply(ctx, msg)
	switch {
	case errors.Is(err, ErrProposalNotFound):
		observability.ObserveCompletion(observability.OutcomeSkipped)
		lg.Warn().Msg("completion for unknown proposal ignored")
		return
	case err != nil:
		span.RecordError(err)
		observability.ObserveCompletion(observability.OutcomeFailure)
		lg.Error().Err(err).Msg("completion not applied")
		return
	}
	observability.ObserveCompletion(observability.OutcomeSuccess)

	if s.Dispatcher == nil {
		return
	}
	if err := s.Dispatcher.Notify(ctx, view); err != nil {
		span.RecordError(err)
		lg.Warn().Err(err).Msg("completion stored but observers not notified")
	}
}

// Apply validates and stores msg, returning the public view of the stored row.
func (s *CompletionService) Apply(ctx context.Context, msg domain.Proposal) (domain.ProposalView, error) {
	if msg.ID == 0 {
		return domain.ProposalView{}, fmt.Errorf("%w: missing id", ErrInvalidCompletion)
	}
	if !msg.Decided() {
		return domain.ProposalView{}, fmt.Errorf("%w: proposal %d carries no verdict", ErrInvalidCompletion, msg.ID)
	}
	if msg.PaymentTerm < 1 {
		return domain.ProposalView{}, fmt.Errorf("%w: proposal %d has payment term %d", ErrInvalidCompletion, msg.ID, msg.PaymentTerm)
	}

	stored, err := repo.SaveCompletion(ctx, s.DB, &msg)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ProposalView{}, ErrProposalNotFound
	}
	if err != nil {
		return domain.ProposalView{}, err
	}
	return domain.NewProposalView(stored), nil
}
