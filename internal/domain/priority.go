package domain

// Priority is the delivery priority attached to a pending-proposal message.
// The numeric value is the AMQP message priority; the analysis queue accepts
// priorities in [0, 10].
type Priority uint8

const (
	PriorityStandard Priority = 5
	PriorityHigh     Priority = 10

	// DefaultHighIncomeThreshold is the income above which a proposal is
	// delivered with PriorityHigh.
	DefaultHighIncomeThreshold = 10000.0
)

// PriorityFor derives the delivery priority from the applicant's income.
// Income strictly above threshold is high priority; everything else is
// standard. The result depends only on its inputs, so every retry of the same
// proposal is published with the same priority.
func PriorityFor(income, threshold float64) Priority {
	if income > threshold {
		return PriorityHigh
	}
	return PriorityStandard
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	return p == PriorityStandard || p == PriorityHigh
}

// String returns a label suitable for logs and metrics.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityStandard:
		return "standard"
	default:
		return "unknown"
	}
}
