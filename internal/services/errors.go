// Package services defines the business logic for proposal intake, the
// integration retry sweep, and completion handling.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import (
	"errors"
	"sort"
	"strings"
)

// Proposal-related errors.
var (
	// ErrProposalNotFound indicates that the requested proposal does not exist.
	ErrProposalNotFound = errors.New("proposal not found")

	// ErrDeliveryFailed is returned when a proposal was stored but could not be
	// handed to the analysis pipeline. The proposal stays pending and the retry
	// sweep will deliver it later.
	ErrDeliveryFailed = errors.New("proposal stored but not delivered for analysis")

	// ErrInvalidCompletion is returned for completion messages that cannot be
	// applied (missing id or missing verdict).
	ErrInvalidCompletion = errors.New("invalid completion message")
)

// ValidationError reports every invalid field of a submission.
type ValidationError struct {
	// Fields maps the JSON field name to a human-readable reason.
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
