// Package domain defines the persistence models for proposals and their
// owning users. These types are mapped with GORM and double as the wire
// shape exchanged with the analysis pipeline over the broker.
package domain

import "time"

// User is the applicant behind a proposal. It is owned exclusively by one
// Proposal and has no lifecycle of its own.
//
// Fields:
//   - ID: auto-increment primary key.
//   - Name / LastName: applicant names as submitted.
//   - CPF: national tax identifier (Brazilian CPF).
//   - PhoneNumber: international format, e.g. 5585989924491.
//   - FinancialIncome: monthly income; drives delivery priority.
type User struct {
	ID              uint64  `json:"id"              gorm:"primaryKey;autoIncrement"`
	Name            string  `json:"name"            gorm:"type:varchar(120);not null"`
	LastName        string  `json:"lastName"        gorm:"type:varchar(120);not null"`
	CPF             string  `json:"cpf"             gorm:"column:cpf;type:varchar(14);not null"`
	PhoneNumber     string  `json:"phoneNumber"     gorm:"type:varchar(16);not null"`
	FinancialIncome float64 `json:"financialIncome" gorm:"not null"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Proposal is the unit of work handed to the external analysis pipeline.
//
// Fields:
//   - ID: auto-increment primary key, immutable once assigned.
//   - ProposalValue / PaymentTerm: requested amount and term in months.
//   - Integrated: true once the proposal is known to have reached the
//     pending-proposal exchange; false means the retry sweep must pick it up.
//   - Approved: nil until a completion verdict is applied.
//   - Observation: analyst note carried by the completion, nil until then.
//   - PublishAttempts / LastPublishError: outbox bookkeeping for operators.
//   - User: owned applicant record (cascade on update/delete).
type Proposal struct {
	ID               uint64    `json:"id"                         gorm:"primaryKey;autoIncrement"`
	ProposalValue    float64   `json:"proposalValue"              gorm:"not null"`
	PaymentTerm      int       `json:"paymentTerm"                gorm:"not null;check:payment_term >= 1"`
	Approved         *bool     `json:"approved"`
	Integrated       bool      `json:"integrated"                 gorm:"not null;index:idx_proposals_integrated"`
	Observation      *string   `json:"observation"                gorm:"type:text"`
	PublishAttempts  int       `json:"-"                          gorm:"not null;default:0"`
	LastPublishError *string   `json:"-"                          gorm:"type:text"`
	UserID           uint64    `json:"-"                          gorm:"not null;uniqueIndex"`
	CreatedAt        time.Time `json:"-"`
	UpdatedAt        time.Time `json:"-"`

	User User `json:"user" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Proposal.
func (Proposal) TableName() string { return "proposals" }

// Decided reports whether a completion verdict has been recorded.
func (p *Proposal) Decided() bool { return p.Approved != nil }
