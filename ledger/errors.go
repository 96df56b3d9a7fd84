/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  The complete error taxonomy in one place. Callers classify with
  errors.Is against the sentinels; structured types carry the ids and
  amounts needed for diagnostics and unwrap to their sentinel.

CATEGORIES:
  1. Input errors    - malformed/missing input, never retried
  2. Business errors - rule violations (unbalanced, insufficient balance)
  3. Lifecycle errors - invalid state transitions, frozen vouchers
  4. Transient errors - write conflicts, retried internally first

SEE ALSO:
  - service.go: retry policy for ErrConcurrencyConflict
  - api/handlers.go: HTTP status mapping via the classification helpers
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or missing input. Local and
	// never retried.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced account, party, invoice,
	// voucher or category does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnbalanced is returned when a voucher's debits do not equal its
	// credits. An unbalanced voucher is never persisted.
	ErrUnbalanced = errors.New("debits do not equal credits")

	// ErrInsufficientBalance is returned when a contra transfer exceeds the
	// source account's current balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAllocationExceedsOutstanding is returned when an allocation is
	// larger than the invoice's outstanding amount.
	ErrAllocationExceedsOutstanding = errors.New("allocation exceeds outstanding")

	// ErrPartyMismatch is returned when an invoice does not belong to the
	// stated party.
	ErrPartyMismatch = errors.New("invoice does not belong to party")

	// ErrAccountInactive is returned when a posting targets a
	// deactivated account.
	ErrAccountInactive = errors.New("account is inactive")

	// ErrDirectPostingDisallowed is returned when a manual posting targets
	// a summary/control account.
	ErrDirectPostingDisallowed = errors.New("direct posting disallowed")

	// ErrInvalidStateTransition is returned for a disallowed voucher
	// lifecycle transition.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrImmutableApprovedVoucher is returned when updating an approved
	// voucher's monetary fields without the force flag.
	ErrImmutableApprovedVoucher = errors.New("approved voucher is immutable")

	// ErrMissingPaymentDetail is returned when a non-cash payment mode
	// lacks its reference detail.
	ErrMissingPaymentDetail = errors.New("missing payment detail")

	// ErrConcurrencyConflict is returned after a write conflict exhausts
	// its internal retries. Never silently dropped.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrDuplicateCode is returned by stores on an account code or voucher
	// number uniqueness violation. The chart treats it as "already exists,
	// reload" during get-or-create.
	ErrDuplicateCode = errors.New("duplicate code")

	// ErrAccountCycle is returned when a parent link would create a cycle
	// in the account tree.
	ErrAccountCycle = errors.New("account hierarchy cycle")

	// ErrAccountInUse is returned when deleting an account that has
	// postings or children.
	ErrAccountInUse = errors.New("account has postings or children")

	// ErrSystemAccount is returned when deleting a protected system
	// account.
	ErrSystemAccount = errors.New("system account is protected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a specific bad input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// AllocationError reports an allocation bound violation for one invoice.
type AllocationError struct {
	InvoiceID   string
	Requested   decimal.Decimal
	Outstanding decimal.Decimal
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocation %s exceeds outstanding %s on invoice %s",
		e.Requested, e.Outstanding, e.InvoiceID)
}

func (e *AllocationError) Unwrap() error { return ErrAllocationExceedsOutstanding }

// InsufficientBalanceError reports a balance shortfall on one account.
type InsufficientBalanceError struct {
	AccountID string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on account %s: available %s, requested %s",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// StateTransitionError reports a disallowed lifecycle transition.
type StateTransitionError struct {
	VoucherID string
	From      VoucherStatus
	To        VoucherStatus
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("voucher %s: cannot transition %s -> %s", e.VoucherID, e.From, e.To)
}

func (e *StateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "account", "voucher", "invoice", "party", "category"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is due to invalid input or a
// business-rule violation (a 4xx-equivalent).
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnbalanced) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAllocationExceedsOutstanding) ||
		errors.Is(err, ErrPartyMismatch) ||
		errors.Is(err, ErrAccountInactive) ||
		errors.Is(err, ErrDirectPostingDisallowed) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrImmutableApprovedVoucher) ||
		errors.Is(err, ErrMissingPaymentDetail) ||
		errors.Is(err, ErrAccountCycle) ||
		errors.Is(err, ErrAccountInUse) ||
		errors.Is(err, ErrSystemAccount) ||
		errors.Is(err, ErrDuplicateCode)
}

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether the error is a surfaced concurrency conflict
// (a 409-equivalent).
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
