/*
errors.go - Error taxonomy for the NAV engine

PURPOSE:
  All error types in one place. Callers classify with errors.Is against the
  sentinels; structured errors carry the scheme or field that failed and
  unwrap to their sentinel.

ERROR CATEGORIES:
  1. Validation - bad identifier, bad units (client fault, no mutation)
  2. Not found - unknown scheme, missing holding
  3. Upstream - price source unreachable, malformed or empty payload
  4. Duplicate key - expected outcome of bulk catalogue inserts
  5. Fatal list - the distinct-scheme query failed, aborts a cycle
  6. Cycle in progress - overlapping ingestion run rejected

SEE ALSO:
  - api/handlers.go: HTTP status mapping
  - ingest/ingestor.go: per-scheme failure recording
*/
package nav

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation      = errors.New("validation failed")
	ErrSchemeNotFound  = errors.New("scheme not found")
	ErrHoldingNotFound = errors.New("holding not found")
	ErrPriceNotFound   = errors.New("price not found")

	// ErrUpstreamFetch is returned by price sources for any failed fetch.
	ErrUpstreamFetch = errors.New("upstream fetch failed")

	// ErrDuplicateKey is returned when a unique key already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrFatalList is returned when the distinct scheme set cannot be read.
	ErrFatalList = errors.New("cannot list held schemes")

	// ErrCycleInProgress is returned when an ingestion run is already active.
	ErrCycleInProgress = errors.New("ingestion cycle already in progress")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes rejected input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// FetchError is a failed price-source call for one scheme.
// Code is zero for catalogue-wide calls.
type FetchError struct {
	Code SchemeCode
	Op   string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s scheme %d: %v", e.Op, e.Code, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *FetchError) Unwrap() []error { return []error{ErrUpstreamFetch, e.Err} }

// ListError wraps the store failure that aborted a cycle.
type ListError struct {
	Err error
}

func (e *ListError) Error() string { return fmt.Sprintf("%v: %v", ErrFatalList, e.Err) }

func (e *ListError) Unwrap() []error { return []error{ErrFatalList, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSchemeNotFound) ||
		errors.Is(err, ErrHoldingNotFound) ||
		errors.Is(err, ErrPriceNotFound)
}

// IsUpstream returns true if the error came from the price source.
func IsUpstream(err error) bool {
	return errors.Is(err, ErrUpstreamFetch)
}
