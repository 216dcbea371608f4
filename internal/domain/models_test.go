package domain

import (
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func TestTableNames(t *testing.T) {
	if (User{}).TableName() != "users" {
		t.Fatalf("User.TableName() = %q; want %q", (User{}).TableName(), "users")
	}
	if (Proposal{}).TableName() != "proposals" {
		t.Fatalf("Proposal.TableName() = %q; want %q", (Proposal{}).TableName(), "proposals")
	}
}

func TestMigrations_Indexes_AndCascades(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(&User{}, &Proposal{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	for _, tbl := range []any{&User{}, &Proposal{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}
	if !m.HasIndex(&Proposal{}, "idx_proposals_integrated") {
		t.Fatalf("expected index idx_proposals_integrated on proposals")
	}

	// Creating a proposal persists the owned user through the association.
	p := &Proposal{
		ProposalValue: 10000,
		PaymentTerm:   36,
		Integrated:    true,
		User:          User{Name: "john", LastName: "doe", CPF: "12345678900", PhoneNumber: "5585989924491", FinancialIncome: 5000},
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("insert proposal: %v", err)
	}
	if p.ID == 0 || p.User.ID == 0 || p.UserID != p.User.ID {
		t.Fatalf("ids not assigned: %+v", p)
	}
	if p.Decided() {
		t.Fatalf("fresh proposal must not carry a verdict")
	}

	// payment_term check constraint
	bad := &Proposal{ProposalValue: 1, PaymentTerm: 0, User: User{Name: "a", LastName: "b", CPF: "1", PhoneNumber: "2", FinancialIncome: 1}}
	if err := db.Create(bad).Error; err == nil {
		t.Fatalf("expected check violation for payment_term = 0")
	}

	// CASCADE: deleting the user removes the proposal that owns it.
	if err := db.Delete(&User{}, p.User.ID).Error; err != nil {
		t.Fatalf("delete user: %v", err)
	}
	var cnt int64
	if err := db.Model(&Proposal{}).Where("id = ?", p.ID).Count(&cnt).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if cnt != 0 {
		t.Fatalf("expected proposal to cascade-delete with its user, got count=%d", cnt)
	}
}
