/*
errors.go - Centralized error types for the forecasting core

PURPOSE:
  All error types in one place for consistency and discoverability.
  The engine and ledgers are pure and rarely fail; these errors are mostly
  raised by the edit orchestration in the dashboard package and mapped to
  HTTP status codes by the api package.

ERROR CATEGORIES:
  1. Invalid edits - rejected locally, no state change, user is told why
  2. Persistence - upstream push failed after the optimistic local update
  3. Stale fetch - a superseded fetch tried to apply its results; discarded
  4. Precondition violations - programming errors (unordered forecast years)

USAGE:
  if errors.Is(err, forecast.ErrInvalidEdit) {
      // show the message, keep the cell as it was
  }

SEE ALSO:
  - projection.go: BackDeriveGrowthRate returns InvalidEditError
  - dashboard/editor.go: Raises and reports these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package forecast

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidEdit is the category for edits rejected before any mutation.
	ErrInvalidEdit = errors.New("invalid edit")

	// ErrNoPriorSales is returned when growth rate cannot be back-derived
	// because last year's sales for the week are zero.
	ErrNoPriorSales = errors.New("no prior-year sales to derive growth rate from")

	// ErrPastWeek is returned for edits to weeks before the current week.
	ErrPastWeek = errors.New("week is in the past")

	// ErrYearLocked is returned for forecast years two or more years back.
	ErrYearLocked = errors.New("forecast year is locked")

	// ErrOutOfRange is returned for values outside what a field accepts.
	ErrOutOfRange = errors.New("value out of range")

	// ErrUnknownField is returned for reverts of a field without a ledger.
	ErrUnknownField = errors.New("unknown field")

	// ErrPersistence is the category for failed upstream pushes.
	ErrPersistence = errors.New("persistence failed")

	// ErrStaleFetch is returned when a superseded fetch tries to apply.
	ErrStaleFetch = errors.New("stale fetch discarded")

	// ErrPreconditionViolation marks malformed engine input.
	ErrPreconditionViolation = errors.New("precondition violation")

	// ErrVariantNotFound is returned when a variant is not in the product store.
	ErrVariantNotFound = errors.New("variant not found")

	// ErrWeekNotFound is returned when a variant has no forecast cell for a week.
	ErrWeekNotFound = errors.New("week not found in forecast")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidEditError describes why an edit was refused.
type InvalidEditError struct {
	VariantID VariantID
	Week      WeekKey
	Field     Field
	Reason    error
}

func (e *InvalidEditError) Error() string {
	if e.VariantID == "" {
		return fmt.Sprintf("invalid edit: %v", e.Reason)
	}
	if e.Week == (WeekKey{}) {
		return fmt.Sprintf("invalid edit of %s for variant %s: %v", e.Field, e.VariantID, e.Reason)
	}
	return fmt.Sprintf("invalid edit of %s for variant %s week %s: %v", e.Field, e.VariantID, e.Week, e.Reason)
}

// Unwrap exposes both the category and the concrete reason to errors.Is.
func (e *InvalidEditError) Unwrap() []error {
	return []error{ErrInvalidEdit, e.Reason}
}

// PersistenceError records a failed push for one or more variants.
type PersistenceError struct {
	VariantIDs []VariantID
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %d variant(s): %v", len(e.VariantIDs), e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// StaleFetchError is returned when a fetch from an older generation tries to
// write into the product store.
type StaleFetchError struct {
	Generation uint64
	Current    uint64
}

func (e *StaleFetchError) Error() string {
	return fmt.Sprintf("fetch generation %d superseded by %d", e.Generation, e.Current)
}

func (e *StaleFetchError) Unwrap() error {
	return ErrStaleFetch
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidEdit)
}

// IsNotFound returns true if the error indicates a missing variant or week.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrVariantNotFound) ||
		errors.Is(err, ErrWeekNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}
