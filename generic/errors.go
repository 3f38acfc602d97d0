/*
errors.go - Centralized error types for the leave engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context; the HTTP
  layer maps them to status codes with errors.Is.

ERROR CATEGORIES:
  1. Validation   - Bad input shape or value (non-positive duration, bad dates)
  2. Not found    - Missing, soft-deleted, or in a status the action cannot apply to
  3. Forbidden    - Actor lacks rights on the target record
  4. Balance      - Approval would overdraw, or a refund would underflow
  5. Store        - Optimistic-lock conflicts, uniqueness conflicts

NOT-FOUND IS COARSE:
  "missing", "already deleted" and "wrong status for this action" all
  unwrap to ErrNotFound. Callers cannot tell them apart, so probing a
  request id reveals nothing about its state.

SEE ALSO:
  - ledger.go: Returns InsufficientBalanceError and UnderflowError
  - policy.go: Returns ErrForbidden
  - api/errors.go: Maps these to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when input has a bad shape or value.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound covers missing, soft-deleted and not-applicable records.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the actor may not perform the action.
	ErrForbidden = errors.New("forbidden")

	// ErrInsufficientBalance is returned when a reservation exceeds the remaining balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrBalanceUnderflow is returned when a refund is larger than the used balance.
	ErrBalanceUnderflow = errors.New("refund exceeds used balance")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrConflict is returned when a uniqueness rule is violated (e.g. duplicate email).
	ErrConflict = errors.New("conflict")

	// ErrUnauthenticated is returned when credentials or tokens do not identify an active user.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError identifies the resource kind and id that could not be acted on.
// The message is the same for every cause.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found or already processed", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	UserID    string
	Available decimal.Decimal
	Requested decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %v, requested %v, shortfall %v",
		e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// UnderflowError reports a refund that would drive used below zero.
type UnderflowError struct {
	UserID string
	Used   decimal.Decimal
	Refund decimal.Decimal
}

func (e *UnderflowError) Error() string {
	return fmt.Sprintf("refund of %v exceeds used balance %v", e.Refund, e.Used)
}

func (e *UnderflowError) Unwrap() error {
	return ErrBalanceUnderflow
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the caller's input or rights.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrUnauthenticated)
}

// IsNotFound returns true if the error indicates a missing or inapplicable record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
