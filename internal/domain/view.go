package domain

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// ProposalView is the outward-facing representation of a proposal used by
// the REST API and the real-time notification topic. It never exposes the
// persistence entity or the outbox bookkeeping.
type ProposalView struct {
	ID                     uint64  `json:"id"                     example:"42"`
	Name                   string  `json:"name"                   example:"JOHN"`
	LastName               string  `json:"lastName"               example:"DOE"`
	PhoneNumber            string  `json:"phoneNumber"            example:"5585989924491"`
	CPF                    string  `json:"cpf"                    example:"123.456.789-00"`
	FinancialIncome        float64 `json:"financialIncome"        example:"5000"`
	ProposalValueFormatted string  `json:"proposalValueFormatted" example:"$10,000.00"`
	PaymentTerm            int     `json:"paymentTerm"            example:"36"`
	Approved               *bool   `json:"approved"`
	Observation            *string `json:"observation"`
}

var (
	viewUpper   = cases.Upper(language.Und)
	viewPrinter = message.NewPrinter(language.AmericanEnglish)
)

// NewProposalView maps a stored proposal to its public view. Names are
// uppercased and the value is rendered as a US-dollar amount with two
// decimals and thousands separators.
func NewProposalView(p *Proposal) ProposalView {
	return ProposalView{
		ID:                     p.ID,
		Name:                   viewUpper.String(p.User.Name),
		LastName:               viewUpper.String(p.User.LastName),
		PhoneNumber:            p.User.PhoneNumber,
		CPF:                    p.User.CPF,
		FinancialIncome:        p.User.FinancialIncome,
		ProposalValueFormatted: FormatCurrency(p.ProposalValue),
		PaymentTerm:            p.PaymentTerm,
		Approved:               p.Approved,
		Observation:            p.Observation,
	}
}

// NewProposalViews maps a slice of proposals, preserving order.
func NewProposalViews(ps []Proposal) []ProposalView {
	out := make([]ProposalView, 0, len(ps))
	for i := range ps {
		out = append(out, NewProposalView(&ps[i]))
	}
	return out
}

// FormatCurrency renders v as "$1,234.50".
func FormatCurrency(v float64) string {
	if v < 0 {
		return "-$" + viewPrinter.Sprint(number.Decimal(-v, number.Scale(2)))
	}
	return "$" + viewPrinter.Sprint(number.Decimal(v, number.Scale(2)))
}
