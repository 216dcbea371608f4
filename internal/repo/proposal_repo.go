// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Proposal
// model and its owned User.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a proposal is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Integration flag writes are single-row updates keyed by id; no function
// here holds a lock across rows.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-proposal-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateProposal inserts a proposal together with its user. The row starts
// out Integrated with one recorded publish attempt and no verdict; callers
// flip it back with UpdateIntegrationStatus when the publish fails.
func CreateProposal(ctx context.Context, db *gorm.DB, user domain.User, value float64, term int) (*domain.Proposal, error) {
	p := &domain.Proposal{
		ProposalValue:   value,
		PaymentTerm:     term,
		Integrated:      true,
		PublishAttempts: 1,
		User:            user,
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// GetProposal fetches a single proposal with its user, or ErrNotFound.
func GetProposal(ctx context.Context, db *gorm.DB, id uint64) (*domain.Proposal, error) {
	var p domain.Proposal
	err := db.WithContext(ctx).
		Preload("User").
		Where("id = ?", id).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// integratedScope narrows a query to one integration state when filter is set.
func integratedScope(filter *bool) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if filter == nil {
			return q
		}
		return q.Where("integrated = ?", *filter)
	}
}

// ListProposals returns all proposals (optionally filtered by integration
// state) ordered by id ascending, users preloaded.
func ListProposals(ctx context.Context, db *gorm.DB, integrated *bool) ([]domain.Proposal, error) {
	var out []domain.Proposal
	err := db.WithContext(ctx).
		Scopes(integratedScope(integrated)).
		Preload("User").
		Order("id asc").
		Find(&out).Error
	return out, err
}

// CountProposals returns the number of proposals matching the filter.
func CountProposals(ctx context.Context, db *gorm.DB, integrated *bool) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Proposal{}).
		Scopes(integratedScope(integrated)).
		Count(&total).Error
	return total, err
}

// ListProposalsPage returns a page of proposals ordered by id ascending.
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListProposalsPage(ctx context.Context, db *gorm.DB, integrated *bool, offset, limit int) ([]domain.Proposal, error) {
	var out []domain.Proposal
	err := db.WithContext(ctx).
		Scopes(integratedScope(integrated)).
		Preload("User").
		Order("id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListProposalsByIntegrated returns every proposal whose flag equals
// integrated. The retry sweep calls it with false.
func ListProposalsByIntegrated(ctx context.Context, db *gorm.DB, integrated bool) ([]domain.Proposal, error) {
	return ListProposals(ctx, db, &integrated)
}

// UpdateIntegrationStatus sets the integration flag of one proposal. A non-nil
// cause is stored as the last publish error; nil clears it. The attempt
// counter is left untouched.
func UpdateIntegrationStatus(ctx context.Context, db *gorm.DB, id uint64, integrated bool, cause error) error {
	res := db.WithContext(ctx).
		Model(&domain.Proposal{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"integrated":         integrated,
			"last_publish_error": errorText(cause),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RecordPublishAttempt bumps the attempt counter after a retry. A nil cause
// marks the proposal Integrated and clears the last error; otherwise the flag
// is left as-is and the cause is recorded.
func RecordPublishAttempt(ctx context.Context, db *gorm.DB, id uint64, cause error) error {
	updates := map[string]any{
		"publish_attempts":   gorm.Expr("publish_attempts + ?", 1),
		"last_publish_error": errorText(cause),
	}
	if cause == nil {
		updates["integrated"] = true
	}
	res := db.WithContext(ctx).
		Model(&domain.Proposal{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateApprovalStatus records a verdict and observation on one proposal.
func UpdateApprovalStatus(ctx context.Context, db *gorm.DB, id uint64, approved bool, observation *string) error {
	res := db.WithContext(ctx).
		Model(&domain.Proposal{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"approved":    approved,
			"observation": observation,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SaveCompletion overwrites the stored proposal identified by in.ID with the
// values carried by a completion message: value, term, verdict, observation
// and the owned user's fields. A nil verdict leaves the stored one untouched.
// The integration flag and the outbox counters are never taken from in. Both
// rows are written in one transaction and the refreshed proposal is returned.
// Unknown ids yield ErrNotFound.
func SaveCompletion(ctx context.Context, db *gorm.DB, in *domain.Proposal) (*domain.Proposal, error) {
	var out *domain.Proposal
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored, err := GetProposal(ctx, tx, in.ID)
		if err != nil {
			return err
		}
		if err := tx.Model(&domain.Proposal{}).
			Where("id = ?", stored.ID).
			Updates(map[string]any{
				"proposal_value": in.ProposalValue,
				"payment_term":   in.PaymentTerm,
			}).Error; err != nil {
			return err
		}
		if in.Approved != nil {
			if err := UpdateApprovalStatus(ctx, tx, stored.ID, *in.Approved, in.Observation); err != nil {
				return err
			}
		}
		if err := tx.Model(&domain.User{}).
			Where("id = ?", stored.UserID).
			Updates(map[string]any{
				"name":             in.User.Name,
				"last_name":        in.User.LastName,
				"cpf":              in.User.CPF,
				"phone_number":     in.User.PhoneNumber,
				"financial_income": in.User.FinancialIncome,
			}).Error; err != nil {
			return err
		}
		out, err = GetProposal(ctx, tx, stored.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}
