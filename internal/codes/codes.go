// Package codes provides stock code canonicalization for the market data plane.
//
// The upstream market API identifies listed instruments by five-character codes:
// the legacy four-character code with a trailing "0" appended (e.g. "72030" for
// "7203", "131A0" for "131A"). Internally and in storage the four-character form
// is canonical; the five-character form exists only on the upstream wire.
//
// This package provides pure utility functions that operate on primitives
// (strings) rather than domain types, making them reusable from the ingestion
// pipeline, the storage layer, and request validation.
//
// Key functions:
//   - Canonicalize: Converts an upstream code to the four-character storage form
//   - Expand: Converts a canonical code to the five-character upstream form
//   - QueryForms: Both forms to try when querying storage, canonical first
package codes

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// CanonicalLength is the length of the internal storage form.
	CanonicalLength = 4

	// ExpandedLength is the length of the upstream wire form.
	ExpandedLength = 5
)

// Sentinel errors for code validation.
var (
	// ErrEmptyCode is returned when a code is empty or whitespace.
	ErrEmptyCode = errors.New("stock code cannot be empty")

	// ErrInvalidCode is returned when a code has an unexpected length or
	// contains characters outside [0-9A-Z].
	ErrInvalidCode = errors.New("invalid stock code")
)

// Canonicalize converts a stock code to its four-character canonical form.
//
// Rules:
//   - Input is trimmed and uppercased before inspection.
//   - A four-character code is already canonical and passes through.
//   - A five-character code ending in "0" is the expanded legacy form; the
//     trailing "0" is stripped ("72030" → "7203", "131A0" → "131A").
//   - A five-character code NOT ending in "0" is kept as-is: the fifth
//     character is significant (preferred shares and similar listings).
//
// Examples:
//   - Canonicalize("7203") → ("7203", nil)
//   - Canonicalize("72030") → ("7203", nil)
//   - Canonicalize("131A0") → ("131A", nil)
//   - Canonicalize("25935") → ("25935", nil)
//   - Canonicalize("") → ("", ErrEmptyCode)
//
// Returns: the canonical code, or an error for empty/malformed input.
func Canonicalize(code string) (string, error) {
	normalized, err := normalize(code)
	if err != nil {
		return "", err
	}

	if len(normalized) == ExpandedLength && strings.HasSuffix(normalized, "0") {
		return normalized[:CanonicalLength], nil
	}

	return normalized, nil
}

// Expand converts a canonical stock code to the five-character upstream form.
//
// The upstream API only understands expanded codes, so expansion happens at the
// client boundary and nowhere else. A code that is already five characters long
// passes through unchanged.
//
// Examples:
//   - Expand("7203") → ("72030", nil)
//   - Expand("131A") → ("131A0", nil)
//   - Expand("72030") → ("72030", nil)
//
// Round-trip: Canonicalize(Expand(c)) == c for every canonical code c.
//
// Returns: the expanded code, or an error for empty/malformed input.
func Expand(code string) (string, error) {
	normalized, err := normalize(code)
	if err != nil {
		return "", err
	}

	if len(normalized) == CanonicalLength {
		return normalized + "0", nil
	}

	return normalized, nil
}

// QueryForms returns the code forms to try when querying storage, canonical
// form first. Storage may hold either form depending on which pipeline wrote
// the row, so reads try both; callers that merge rows by date must prefer the
// first (canonical) form on ties.
//
// Examples:
//   - QueryForms("7203") → (["7203", "72030"], nil)
//   - QueryForms("72030") → (["7203", "72030"], nil)
//
// Returns: a two-element slice, or an error for empty/malformed input.
func QueryForms(code string) ([]string, error) {
	canonical, err := Canonicalize(code)
	if err != nil {
		return nil, err
	}

	expanded, err := Expand(canonical)
	if err != nil {
		return nil, err
	}

	if canonical == expanded {
		return []string{canonical}, nil
	}

	return []string{canonical, expanded}, nil
}

// IsCanonical reports whether the code is already in canonical form.
func IsCanonical(code string) bool {
	normalized, err := normalize(code)
	if err != nil {
		return false
	}

	return len(normalized) == CanonicalLength
}

// normalize trims, uppercases, and validates a raw code string.
//
// Accepted shapes are four or five characters drawn from [0-9A-Z]; everything
// else is rejected with ErrInvalidCode so callers can map it to a validation
// failure at the boundary.
func normalize(code string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		return "", ErrEmptyCode
	}

	if len(trimmed) != CanonicalLength && len(trimmed) != ExpandedLength {
		return "", fmt.Errorf("%w: %q has length %d, want %d or %d",
			ErrInvalidCode, trimmed, len(trimmed), CanonicalLength, ExpandedLength)
	}

	for _, r := range trimmed {
		isDigit := r >= '0' && r <= '9'
		isUpper := r >= 'A' && r <= 'Z'

		if !isDigit && !isUpper {
			return "", fmt.Errorf("%w: %q contains invalid character %q", ErrInvalidCode, trimmed, r)
		}
	}

	return trimmed, nil
}
