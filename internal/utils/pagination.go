// Package utils provides small helpers shared by the HTTP and service layers.
// Nothing here knows about proposals.
package utils

import "strconv"

// Pagination bounds shared by handlers and services.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// NewPage bounds number and size: number is at least 1, size falls back to
// DefaultPageSize when not positive and is capped at MaxPageSize.
func NewPage(number, size int) Page {
	if number < 1 {
		number = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return Page{Number: number, Size: size}
}

// ParsePage builds a Page from raw query values. Unparseable input falls back
// to the defaults.
func ParsePage(number, size string) Page {
	return NewPage(AtoiDefault(number, 1), AtoiDefault(size, DefaultPageSize))
}

// Offset is the number of rows to skip.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// AtoiDefault converts s with strconv.Atoi, returning def when s is empty or
// not an integer.
//
//	n := utils.AtoiDefault("42", 0) // 42
//	n = utils.AtoiDefault("x", 5)   // 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
