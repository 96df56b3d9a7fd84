/*
store.go - Persistence and collaborator interfaces

PURPOSE:
  Defines the boundary between the ledger engine and everything that
  holds state: the engine's own store (accounts, vouchers, entries) and
  the external collaborators it consumes (invoice book, party directory,
  category budgets).

ATOMIC UNIT:
  Every mutating operation runs inside TxStore.WithTx. The store passed
  to the callback is transaction-scoped: either every write in the
  callback commits, or none are visible. Stores signal transient write
  conflicts with ErrTxConflict; the service retries those with backoff
  before surfacing ErrConcurrencyConflict.

COLLABORATOR COUPLING:
  InvoiceBook, PartyDirectory and CategoryBook are external systems from
  the engine's point of view. A transaction-scoped store MAY additionally
  implement them (the bundled sqlite/postgres stores do, against local
  tables); the service capability-asserts and prefers the tx-scoped
  implementation so invoice and party mutations join the same atomic
  unit as the voucher write.

IMPLEMENTATIONS:
  - store/sqlite:  production default
  - store/postgres: serializable-isolation variant
  - ledger/store:  in-memory, for tests and dev
*/
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrTxConflict is reported by stores when a unit of work hits a
// transient, retryable write conflict (serialization failure, busy
// database). The service translates exhausted retries into
// ErrConcurrencyConflict.
var ErrTxConflict = errors.New("transaction conflict")

// =============================================================================
// ENGINE STORE
// =============================================================================

// AccountStore persists the chart of accounts.
type AccountStore interface {
	// SaveAccount inserts or updates an account. Insert of a duplicate
	// code returns ErrDuplicateCode.
	SaveAccount(ctx context.Context, a *Account) error

	// GetAccount returns the account or (nil, nil) when absent.
	GetAccount(ctx context.Context, id string) (*Account, error)

	// GetAccountByCode returns the account with the code or (nil, nil).
	GetAccountByCode(ctx context.Context, code string) (*Account, error)

	// ListAccounts returns all accounts ordered by code.
	ListAccounts(ctx context.Context) ([]Account, error)

	// HasChildren reports whether any account has id as its parent.
	HasChildren(ctx context.Context, id string) (bool, error)

	// DeleteAccount hard-deletes an account. Guards (postings, children,
	// system flag) live in the chart service, not here.
	DeleteAccount(ctx context.Context, id string) error
}

// VoucherFilter narrows voucher list queries. Zero values mean "any".
type VoucherFilter struct {
	Type     VoucherType
	Status   VoucherStatus
	PartyID  string
	DateFrom *time.Time
	DateTo   *time.Time
}

// VoucherStore persists vouchers.
type VoucherStore interface {
	// SaveVoucher inserts or updates a voucher. Insert of a duplicate
	// voucher number returns ErrDuplicateCode.
	SaveVoucher(ctx context.Context, v *Voucher) error

	// GetVoucher returns the voucher or (nil, nil) when absent.
	GetVoucher(ctx context.Context, id string) (*Voucher, error)

	// ListVouchers returns vouchers matching the filter, newest first.
	ListVouchers(ctx context.Context, f VoucherFilter) ([]Voucher, error)

	// NextSequence returns the next per-type, per-day sequence number
	// used for voucher numbering. Starts at 1.
	NextSequence(ctx context.Context, t VoucherType, day time.Time) (int, error)
}

// EntryStore persists ledger entries. Append-only except for the
// reversal markers.
type EntryStore interface {
	// AppendEntry writes one immutable entry.
	AppendEntry(ctx context.Context, e *Entry) error

	// EntriesByVoucher returns all entries of a voucher in write order.
	EntriesByVoucher(ctx context.Context, voucherID string) ([]Entry, error)

	// HasActiveEntries reports whether the voucher has non-reversed
	// entries. The poster's idempotency guard.
	HasActiveEntries(ctx context.Context, voucherID string) (bool, error)

	// MarkReversed sets Reversed/ReversedAt on all non-reversed entries
	// of the voucher.
	MarkReversed(ctx context.Context, voucherID string, at time.Time) error

	// EntriesByAccount returns entries against an account in [from, to],
	// ordered by date then write order.
	EntriesByAccount(ctx context.Context, accountID string, from, to time.Time) ([]Entry, error)

	// EntriesByParty returns entries carrying the party in [from, to],
	// ordered by date then write order.
	EntriesByParty(ctx context.Context, partyID string, partyType PartyType, from, to time.Time) ([]Entry, error)

	// EntriesInRange returns all entries in [from, to] for aggregation.
	EntriesInRange(ctx context.Context, from, to time.Time) ([]Entry, error)
}

// Store is the persistence surface of one atomic unit.
type Store interface {
	AccountStore
	VoucherStore
	EntryStore
}

// TxStore wraps Store with transaction support. The Store handed to fn is
// scoped to the transaction: fn returning an error rolls everything back.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// EXTERNAL COLLABORATORS
// =============================================================================

// InvoiceBook is the order/invoice subsystem. The engine only reads an
// invoice's outstanding amount and moves it up or down.
type InvoiceBook interface {
	// GetInvoice returns the invoice or (nil, nil) when absent.
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)

	// ApplyAllocation decreases the invoice's outstanding amount and
	// updates its settlement status. Returns the new outstanding amount.
	ApplyAllocation(ctx context.Context, invoiceID string, amount decimal.Decimal) (decimal.Decimal, error)

	// ReverseAllocation adds the amount back to the invoice's
	// outstanding balance, clamped to [0, invoice total], and restores
	// the settlement status.
	ReverseAllocation(ctx context.Context, invoiceID string, amount decimal.Decimal) error
}

// PartyDirectory is the customer/vendor directory. The engine never
// mutates parties except the on-account running balance hook.
type PartyDirectory interface {
	// GetDisplayName returns the party's display name.
	GetDisplayName(ctx context.Context, partyID string, partyType PartyType) (string, error)

	// AdjustCashBalance moves the party's on-account (advance) balance
	// by delta.
	AdjustCashBalance(ctx context.Context, partyID string, partyType PartyType, delta decimal.Decimal) error
}

// CategoryBook supplies expense category budgets and approval thresholds.
type CategoryBook interface {
	// GetCategory returns the category or (nil, nil) when absent.
	GetCategory(ctx context.Context, categoryID string) (*ExpenseCategory, error)

	// AddSpent moves the category's current-spent counter by delta.
	AddSpent(ctx context.Context, categoryID string, delta decimal.Decimal) error
}
