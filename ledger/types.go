/*
Package ledger implements a double-entry financial ledger engine.

PURPOSE:
  Turns business events (receipts, payments, journals, contra transfers,
  expenses) into balanced sets of debit/credit postings, maintains running
  account balances, reconciles payments against outstanding invoices, and
  enforces an approval workflow before funds move.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: a node in the chart of accounts with a cached running balance
  - Voucher: a financial transaction document producing ledger postings
  - Entry: one immutable debit or credit posting against one account
  - Payload: a sum type over the five voucher kinds

DESIGN PRINCIPLES:
  1. Immutability: ledger entries are never edited, only reversed
  2. Precision: decimal.Decimal everywhere money is involved
  3. Type safety: one payload type per voucher kind so the compiler,
     not runtime checks, prevents cross-kind field misuse
  4. Auditability: entries denormalize account and party identity so the
     audit trail survives renames

SEE ALSO:
  - processor.go: per-kind strategies producing balanced entry lines
  - poster.go: entry persistence and balance maintenance
  - approval.go: voucher lifecycle state machine
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT TOLERANCE
// =============================================================================

// Epsilon is the tolerance for debit/credit equality and allocation bounds:
// 0.01 currency units.
var Epsilon = decimal.NewFromFloat(0.01)

// withinEpsilon reports whether a and b differ by at most Epsilon.
func withinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Epsilon)
}

// =============================================================================
// CHART OF ACCOUNTS
// =============================================================================

type AccountType string

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountEquity    AccountType = "equity"
	AccountIncome    AccountType = "income"
	AccountExpense   AccountType = "expense"
)

// DebitIncreases reports whether a debit increases balances of this type.
// Assets and expenses grow on the debit side; liabilities, equity and
// income grow on the credit side.
func (t AccountType) DebitIncreases() bool {
	return t == AccountAsset || t == AccountExpense
}

// Valid reports whether t is one of the five accounting-equation types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountAsset, AccountLiability, AccountEquity, AccountIncome, AccountExpense:
		return true
	}
	return false
}

// Account is a node in the chart of accounts.
//
// INVARIANT: CurrentBalance always equals the signed sum of all non-reversed
// entries against the account since creation (see poster.go for the sign
// convention). Only the poster mutates CurrentBalance.
type Account struct {
	ID                 string
	Code               string // unique
	Name               string
	Type               AccountType
	SubType            string
	ParentID           string // empty = root; owned tree, no cycles
	Level              int    // depth, derived from parent
	Active             bool
	AllowDirectPosting bool // false blocks manual journal/contra postings
	SystemAccount      bool // protects well-known accounts from deletion
	CurrentBalance     decimal.Decimal
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// =============================================================================
// PARTIES AND PAYMENT MODES
// =============================================================================

type PartyType string

const (
	PartyCustomer PartyType = "customer"
	PartyVendor   PartyType = "vendor"
)

type PaymentMode string

const (
	ModeCash   PaymentMode = "cash"
	ModeBank   PaymentMode = "bank"
	ModeCheque PaymentMode = "cheque"
	ModeOnline PaymentMode = "online"
)

// PaymentDetails carries the mode-specific sub-details of a payment.
// Non-cash modes require their reference field (see processor.go).
type PaymentDetails struct {
	Mode          PaymentMode
	ChequeNo      string
	BankAccountNo string
	TransactionID string
}

// =============================================================================
// VOUCHERS
// =============================================================================

type VoucherType string

const (
	VoucherReceipt VoucherType = "receipt"
	VoucherPayment VoucherType = "payment"
	VoucherJournal VoucherType = "journal"
	VoucherContra  VoucherType = "contra"
	VoucherExpense VoucherType = "expense"
)

type VoucherStatus string

const (
	StatusDraft     VoucherStatus = "draft"
	StatusPending   VoucherStatus = "pending"
	StatusApproved  VoucherStatus = "approved"
	StatusRejected  VoucherStatus = "rejected"
	StatusCancelled VoucherStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s VoucherStatus) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled
}

// Line is one debit or credit leg of a voucher. Exactly one of Debit and
// Credit is non-zero.
type Line struct {
	AccountID   string
	AccountCode string
	AccountName string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// Allocation records how much of a payment was applied to one invoice.
type Allocation struct {
	InvoiceID       string
	Amount          decimal.Decimal
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal
}

// Voucher is a single financial transaction document.
//
// INVARIANT: sum of line debits equals sum of line credits within Epsilon
// at all times the voucher is persisted. Once Status is approved the lines
// are logically frozen; edits reverse-then-repost.
type Voucher struct {
	ID              string
	VoucherNo       string // unique, human-readable: prefix + date + sequence
	Type            VoucherType
	Date            time.Time
	PartyID         string // receipt/payment only
	PartyType       PartyType
	PartyName       string
	Allocations     []Allocation
	OnAccountAmount decimal.Decimal // unallocated remainder tracked as advance
	FromAccountID   string          // contra only
	ToAccountID     string          // contra only
	CategoryID      string          // expense only
	TotalAmount     decimal.Decimal
	Lines           []Line
	Payment         PaymentDetails
	Status          VoucherStatus
	Narration       string
	Attachments     []string
	CreatedBy       string
	UpdatedBy       string
	ApprovedBy      string
	ApprovedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DebitTotal returns the sum of all debit legs.
func (v *Voucher) DebitTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range v.Lines {
		total = total.Add(l.Debit)
	}
	return total
}

// CreditTotal returns the sum of all credit legs.
func (v *Voucher) CreditTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range v.Lines {
		total = total.Add(l.Credit)
	}
	return total
}

// Balanced reports whether debits equal credits within Epsilon.
func (v *Voucher) Balanced() bool {
	return withinEpsilon(v.DebitTotal(), v.CreditTotal())
}

// AllocatedTotal returns the sum applied to invoices.
func (v *Voucher) AllocatedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, a := range v.Allocations {
		total = total.Add(a.Amount)
	}
	return total
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

// Entry is one immutable posting against one account. Only Reversed and
// ReversedAt may change after the entry is written; a reversal appends a
// mirror entry with debit/credit swapped, it never edits or deletes.
type Entry struct {
	ID          string
	VoucherID   string
	VoucherNo   string
	VoucherType VoucherType
	AccountID   string
	AccountCode string // denormalized for audit durability
	AccountName string
	Date        time.Time
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Narration   string
	PartyID     string
	PartyType   PartyType
	// RunningBalance is the account balance immediately after this entry
	// was applied.
	RunningBalance decimal.Decimal
	Reversed       bool
	ReversedAt     *time.Time
	CreatedAt      time.Time
}

// SignedDelta returns the effect of this entry on its account's balance
// under the accounting-equation sign convention.
func (e *Entry) SignedDelta(accountType AccountType) decimal.Decimal {
	if accountType.DebitIncreases() {
		return e.Debit.Sub(e.Credit)
	}
	return e.Credit.Sub(e.Debit)
}

// =============================================================================
// EXTERNAL CONFIG (read-mostly collaborator records)
// =============================================================================

// ExpenseCategory is external budget configuration consumed by the expense
// strategy. Read-only here except for the CurrentSpent counter.
type ExpenseCategory struct {
	ID               string
	Name             string
	MonthlyBudget    decimal.Decimal
	YearlyBudget     decimal.Decimal
	RequiresApproval bool
	// ApprovalLimit zero means every expense in the category requires
	// approval when RequiresApproval is set.
	ApprovalLimit    decimal.Decimal
	DefaultAccountID string
	CurrentSpent     decimal.Decimal
}

// InvoiceStatus mirrors the invoice collaborator's settlement states.
type InvoiceStatus string

const (
	InvoiceUnpaid  InvoiceStatus = "UNPAID"
	InvoicePartial InvoiceStatus = "PARTIAL"
	InvoicePaid    InvoiceStatus = "PAID"
)

// Invoice is the collaborator's view of one outstanding invoice.
type Invoice struct {
	ID          string
	PartyID     string
	PartyType   PartyType
	TotalAmount decimal.Decimal
	Outstanding decimal.Decimal
	Status      InvoiceStatus
}

// =============================================================================
// PAYLOADS - Sum type over the five voucher kinds
// =============================================================================

// AllocationRequest names one invoice and the amount to apply to it.
type AllocationRequest struct {
	InvoiceID string
	Amount    decimal.Decimal
}

// Payload is the kind-specific input of a voucher. Exactly one concrete
// payload type exists per voucher kind; the marker method keeps foreign
// structs out.
type Payload interface {
	Kind() VoucherType
}

// ReceiptPayload records money in from a customer.
type ReceiptPayload struct {
	CustomerID    string
	Amount        decimal.Decimal
	Payment       PaymentDetails
	Invoices      []AllocationRequest
	DeferApproval bool // request manager approval instead of posting now
}

func (ReceiptPayload) Kind() VoucherType { return VoucherReceipt }

// PaymentPayload records money out to a vendor.
type PaymentPayload struct {
	VendorID      string
	Amount        decimal.Decimal
	Payment       PaymentDetails
	Invoices      []AllocationRequest
	DeferApproval bool
}

func (PaymentPayload) Kind() VoucherType { return VoucherPayment }

// JournalPayload is a manual entry: either one debit account, one credit
// account and an amount, or an arbitrary balanced line list.
type JournalPayload struct {
	DebitAccountID  string
	CreditAccountID string
	Amount          decimal.Decimal
	// Lines, when non-empty, replaces the two-account form entirely.
	Lines []Line
}

func (JournalPayload) Kind() VoucherType { return VoucherJournal }

// ContraPayload transfers between two internal cash/bank accounts.
type ContraPayload struct {
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
}

func (ContraPayload) Kind() VoucherType { return VoucherContra }

// ExpensePayload records an expense against a budget category.
type ExpensePayload struct {
	CategoryID string
	Amount     decimal.Decimal
	Payment    PaymentDetails
}

func (ExpensePayload) Kind() VoucherType { return VoucherExpense }

// Input is the full request to create or update a voucher.
type Input struct {
	Date        time.Time
	Narration   string
	Attachments []string
	Payload     Payload
}
