package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-proposal-backend/internal/domain"
	"github.com/tbourn/go-proposal-backend/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:svc_%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// repoShim proxies the repo package and lets tests inject a failing
// corrective write.
type repoShim struct {
	updateErr    error
	updateCalls  int
	updateCtxErr error
}

func (r *repoShim) CreateProposal(ctx context.Context, db *gorm.DB, user domain.User, value float64, term int) (*domain.Proposal, error) {
	return repo.CreateProposal(ctx, db, user, value, term)
}

func (r *repoShim) GetProposal(ctx context.Context, db *gorm.DB, id uint64) (*domain.Proposal, error) {
	return repo.GetProposal(ctx, db, id)
}

func (r *repoShim) ListProposals(ctx context.Context, db *gorm.DB, integrated *bool) ([]domain.Proposal, error) {
	return repo.ListProposals(ctx, db, integrated)
}

func (r *repoShim) CountProposals(ctx context.Context, db *gorm.DB, integrated *bool) (int64, error) {
	return repo.CountProposals(ctx, db, integrated)
}

func (r *repoShim) ListProposalsPage(ctx context.Context, db *gorm.DB, integrated *bool, offset, limit int) ([]domain.Proposal, error) {
	return repo.ListProposalsPage(ctx, db, integrated, offset, limit)
}

func (r *repoShim) UpdateIntegrationStatus(ctx context.Context, db *gorm.DB, id uint64, integrated bool, cause error) error {
	r.updateCalls++
	r.updateCtxErr = ctx.Err()
	if r.updateErr != nil {
		return r.updateErr
	}
	return repo.UpdateIntegrationStatus(ctx, db, id, integrated, cause)
}

func validInput(income float64) CreateProposalInput {
	return CreateProposalInput{
		Name:            "john",
		LastName:        "doe",
		CPF:             "123.456.789-00",
		PhoneNumber:     "5585989924491",
		FinancialIncome: income,
		ProposalValue:   10000,
		PaymentTerm:     36,
	}
}
