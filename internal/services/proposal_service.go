// Package services – ProposalService
//
// This file implements ProposalService, the intake side of the integration
// pipeline. A submission is validated, stored optimistically as Integrated,
// and published to the pending-proposal exchange with a priority derived from
// the applicant's income. When the publish fails the row is flipped back to
// pending before the error is returned, so the retry sweep picks it up.
//
// Observability: public methods are OpenTelemetry-instrumented and publish
// outcomes feed the proposal_publish_total counter.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-proposal-backend/internal/broker"
	"github.com/tbourn/go-proposal-backend/internal/domain"
	"github.com/tbourn/go-proposal-backend/internal/observability"
	"github.com/tbourn/go-proposal-backend/internal/repo"
	"github.com/tbourn/go-proposal-backend/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ProposalRepo defines the repository contract required by ProposalService.
type ProposalRepo interface {
	// CreateProposal inserts a proposal and its user in the Integrated state.
	CreateProposal(ctx context.Context, db *gorm.DB, user domain.User, value float64, term int) (*domain.Proposal, error)

	// GetProposal fetches one proposal with its user.
	GetProposal(ctx context.Context, db *gorm.DB, id uint64) (*domain.Proposal, error)

	// ListProposals returns proposals, optionally filtered by integration state.
	ListProposals(ctx context.Context, db *gorm.DB, integrated *bool) ([]domain.Proposal, error)

	// CountProposals returns the total number of matching proposals.
	CountProposals(ctx context.Context, db *gorm.DB, integrated *bool) (int64, error)

	// ListProposalsPage returns a page of matching proposals.
	ListProposalsPage(ctx context.Context, db *gorm.DB, integrated *bool, offset, limit int) ([]domain.Proposal, error)

	// UpdateIntegrationStatus performs the corrective flag write.
	UpdateIntegrationStatus(ctx context.Context, db *gorm.DB, id uint64, integrated bool, cause error) error
}

// correctiveWriteTimeout bounds the pending-flag write after a failed publish.
const correctiveWriteTimeout = 5 * time.Second

// ProposalService accepts submissions and hands them to the analysis pipeline.
type ProposalService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the proposal repository used by this service.
	Repo ProposalRepo
	// Publisher delivers proposals to the broker.
	Publisher broker.Publisher

	// Exchange is the pending-proposal exchange.
	Exchange string
	// HighIncomeThreshold is the income above which delivery is high priority.
	HighIncomeThreshold float64
	// IdempotencyTTL bounds how long an Idempotency-Key is honoured.
	IdempotencyTTL time.Duration
}

// NewProposalService constructs a ProposalService with the default priority threshold.
func NewProposalService(db *gorm.DB, r ProposalRepo, pub broker.Publisher, exchange string) *ProposalService {
	return &ProposalService{
		DB:                  db,
		Repo:                r,
		Publisher:           pub,
		Exchange:            exchange,
		HighIncomeThreshold: domain.DefaultHighIncomeThreshold,
		IdempotencyTTL:      24 * time.Hour,
	}
}

// Create validates in, persists it and publishes it.
//
// On success the stored proposal is returned with Integrated=true. When the
// publish fails, the proposal has already been marked pending; Create returns
// it together with an error wrapping ErrDeliveryFailed. If even the
// corrective write fails, the returned error wraps both failures and does not
// match ErrDeliveryFailed.
func (s *ProposalService) Create(ctx context.Context, in CreateProposalInput) (*domain.Proposal, error) {
	tr := otel.Tracer("services/ProposalService")
	ctx, span := tr.Start(ctx, "Create")
	defer span.End()

	in = in.normalized()
	if err := ValidateProposal(in); err != nil {
		span.SetStatus(codes.Error, "validation")
		return nil, err
	}

	p, err := s.Repo.CreateProposal(ctx, s.DB, in.user(), in.ProposalValue, in.PaymentTerm)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	prio := domain.PriorityFor(p.User.FinancialIncome, s.threshold())
	span.SetAttributes(
		attribute.Int64("proposal.id", int64(p.ID)),
		attribute.String("proposal.priority", prio.String()),
	)

	perr := s.Publisher.Publish(ctx, p, s.Exchange, prio)
	observability.ObservePublish(s.Exchange, perr)
	if perr == nil {
		return p, nil
	}

	span.RecordError(perr)
	span.SetStatus(codes.Error, "publish failed")
	log.Ctx(ctx).Warn().Err(perr).
		Uint64("proposal_id", p.ID).
		Str("exchange", s.Exchange).
		Str("priority", prio.String()).
		Msg("publish failed at intake; proposal left for retry sweep")

	// The request may already be cancelled; the row must still leave intake
	// marked pending or the sweeper never sees it.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), correctiveWriteTimeout)
	defer cancel()
	if uerr := s.Repo.UpdateIntegrationStatus(wctx, s.DB, p.ID, false, perr); uerr != nil {
		return nil, fmt.Errorf("proposal %d: mark pending after publish failure: %w (publish: %w)", p.ID, uerr, perr)
	}
	p.Integrated = false
	p.LastPublishError = strPtr(perr.Error())
	return p, fmt.Errorf("%w: proposal %d: %w", ErrDeliveryFailed, p.ID, perr)
}

// Get returns a proposal by id or ErrProposalNotFound.
func (s *ProposalService) Get(ctx context.Context, id uint64) (*domain.Proposal, error) {
	tr := otel.Tracer("services/ProposalService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(attribute.Int64("proposal.id", int64(id))))
	defer span.End()

	p, err := s.Repo.GetProposal(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProposalNotFound
	}
	return p, err
}

// List returns every proposal (non-paginated), optionally filtered.
func (s *ProposalService) List(ctx context.Context, integrated *bool) ([]domain.Proposal, error) {
	return s.Repo.ListProposals(ctx, s.DB, integrated)
}

// ListPage returns a page of proposals and the total count.
// It applies defaults for invalid page/pageSize.
func (s *ProposalService) ListPage(ctx context.Context, integrated *bool, page, pageSize int) ([]domain.Proposal, int64, error) {
	tr := otel.Tracer("services/ProposalService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	p := utils.NewPage(page, pageSize)

	total, err := s.Repo.CountProposals(ctx, s.DB, integrated)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Proposal{}, 0, nil
	}
	items, err := s.Repo.ListProposalsPage(ctx, s.DB, integrated, p.Offset(), p.Size)
	return items, total, err
}

// Stats returns the count and latest update time used for list ETags.
func (s *ProposalService) Stats(ctx context.Context, integrated *bool) (int64, *time.Time, error) {
	return repo.ProposalsStats(ctx, s.DB, integrated)
}

// Replay returns the proposal previously created under (clientID, key), if
// the key is still valid.
func (s *ProposalService) Replay(ctx context.Context, clientID, key string) (*domain.Proposal, bool) {
	rec, err := repo.GetIdempotency(ctx, s.DB, clientID, key, time.Now().UTC())
	if err != nil || rec == nil {
		return nil, false
	}
	p, err := s.Repo.GetProposal(ctx, s.DB, rec.ProposalID)
	if err != nil {
		return nil, false
	}
	return p, true
}

// Remember records that (clientID, key) produced proposalID. Failures are
// logged; a lost record only weakens replay protection.
func (s *ProposalService) Remember(ctx context.Context, clientID, key string, proposalID uint64, status int) {
	ttl := s.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if _, err := repo.CreateIdempotency(ctx, s.DB, clientID, key, proposalID, status, ttl); err != nil && !errors.Is(err, repo.ErrDuplicate) {
		log.Ctx(ctx).Warn().Err(err).Uint64("proposal_id", proposalID).Msg("idempotency record not stored")
	}
}

func (s *ProposalService) threshold() float64 {
	if s.HighIncomeThreshold > 0 {
		return s.HighIncomeThreshold
	}
	return domain.DefaultHighIncomeThreshold
}

func strPtr(s string) *string { return &s }
