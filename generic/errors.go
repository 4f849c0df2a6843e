/*
errors.go - Error taxonomy shared by the calculators, the ledger and the workflow

ERROR CATEGORIES:
  1. Business-rule rejections - InsufficientBalance (surfaced to the requester)
  2. Workflow errors          - InvalidState, NotAuthorized (user / permission errors)
  3. Transient store errors   - ConcurrencyConflict (retry with fresh data)
  4. Bugs                     - InvariantViolation (logged fatal, balance key halted)

USAGE:
  Domain packages return the structured types below; callers match with
  errors.Is against the sentinels:

    if errors.Is(err, generic.ErrInsufficientBalance) {
        // 409 to the requester
    }

Calculators never return errors for well-typed input.
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
	// ErrInsufficientBalance is returned when a reservation exceeds the available days.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidState is returned for a transition that the current state does not allow.
	ErrInvalidState = errors.New("invalid state")

	// ErrNotAuthorized is returned when the actor lacks the required capability.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrConcurrencyConflict is returned by a store when a versioned write lost a race.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrInvariantViolation means total = used + pending + available no longer holds.
	ErrInvariantViolation = errors.New("internal invariant violation")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned by constructors that reject a malformed record.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Year        int
	Available   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s, shortfall %s",
		e.Available, e.Requested, e.Requested.Sub(e.Available))
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// InvalidStateError reports a transition attempted from the wrong state.
type InvalidStateError struct {
	Entity string
	ID     string
	State  string
	Action string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state: cannot %s %s %s in state %q", e.Action, e.Entity, e.ID, e.State)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// NotAuthorizedError names the missing capability.
type NotAuthorizedError struct {
	ActorID EmployeeID
	Needs   Capability
	Action  string
}

func (e *NotAuthorizedError) Error() string {
	if e.Needs == "" {
		return fmt.Sprintf("not authorized: %s may not %s", e.ActorID, e.Action)
	}
	return fmt.Sprintf("not authorized: %s lacks %q to %s", e.ActorID, e.Needs, e.Action)
}

func (e *NotAuthorizedError) Unwrap() error {
	return ErrNotAuthorized
}

// InvariantViolationError carries the numbers that broke the ledger identity.
type InvariantViolationError struct {
	Key       string
	Operation string
	Detail    string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("internal invariant violation on %s after %s: %s", e.Key, e.Operation, e.Detail)
}

func (e *InvariantViolationError) Unwrap() error {
	return ErrInvariantViolation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
