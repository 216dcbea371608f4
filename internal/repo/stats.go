// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer and for the retry sweep's gauges.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-proposal-backend/internal/domain"
)

// ProposalsStats returns aggregate metadata for proposals matching the
// integration filter (nil means all): the total number of rows and the
// maximum UpdatedAt timestamp among those rows.
//
// When no rows match, the returned count is 0 and maxUpdatedAt is nil.
//
// Return values:
//   - count:        total matching proposals
//   - maxUpdatedAt: pointer to the greatest UpdatedAt, or nil if no rows
//   - err:          database error, if any
func ProposalsStats(ctx context.Context, db *gorm.DB, integrated *bool) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Proposal{}).Scopes(integratedScope(integrated))

	// Count
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.Proposal{}).Scopes(integratedScope(integrated)).
		Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
