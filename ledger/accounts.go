/*
accounts.go - Chart-of-accounts service

PURPOSE:
  Manages the hierarchical ledger account tree: explicit administration
  (create/update/delete with guards) and the lazy get-or-create used for
  synthetic accounts like "Customer - X" cash/bank and advance accounts.

INVARIANTS:
  1. Account codes are unique. Concurrent get-or-create relies on the
     store's unique index: a duplicate-code insert is treated as
     "already exists, reload", not as an error.
  2. The parent tree is acyclic. Parent links are validated at write
     time and Level is derived from the parent.
  3. System accounts (Cash in Hand, Bank Account, ...) cannot be
     deleted; accounts with postings or children cannot be hard-deleted.

WELL-KNOWN CODES:
  1001  Cash in Hand          asset/cash
  1002  Bank Account          asset/bank
  AR-*  per-customer receivable   asset/receivable
  AP-*  per-vendor payable        liability/payable
  CADV-* customer advances        liability/advance
  VADV-* vendor advances          asset/advance
  5000  General Expenses      expense/general (fallback)

SEE ALSO:
  - poster.go: the only mutator of CurrentBalance
  - processor.go: strategies resolving accounts through this service
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Well-known system account codes.
const (
	CodeCashInHand      = "1001"
	CodeBankAccount     = "1002"
	CodeGeneralExpenses = "5000"
)

// Chart manages the account tree on top of an AccountStore.
type Chart struct{}

// NewChart creates a chart-of-accounts service.
func NewChart() *Chart { return &Chart{} }

// AccountInput is the administrator-facing account definition.
type AccountInput struct {
	Code               string
	Name               string
	Type               AccountType
	SubType            string
	ParentID           string
	AllowDirectPosting bool
}

// =============================================================================
// EXPLICIT ADMINISTRATION
// =============================================================================

// Create adds an account explicitly. Fails with ErrDuplicateCode when the
// code is taken and ErrAccountCycle when the parent link would loop.
func (c *Chart) Create(ctx context.Context, s Store, in AccountInput) (*Account, error) {
	if in.Code == "" {
		return nil, &ValidationError{Field: "code", Message: "required"}
	}
	if in.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "required"}
	}
	if !in.Type.Valid() {
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown account type %q", in.Type)}
	}

	level, err := c.resolveLevel(ctx, s, "", in.ParentID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	a := &Account{
		ID:                 uuid.NewString(),
		Code:               in.Code,
		Name:               in.Name,
		Type:               in.Type,
		SubType:            in.SubType,
		ParentID:           in.ParentID,
		Level:              level,
		Active:             true,
		AllowDirectPosting: in.AllowDirectPosting,
		CurrentBalance:     decimal.Zero,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.SaveAccount(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Reparent moves an account under a new parent, re-validating acyclicity
// and recomputing the level.
func (c *Chart) Reparent(ctx context.Context, s Store, accountID, newParentID string) (*Account, error) {
	a, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, &NotFoundError{Kind: "account", ID: accountID}
	}

	level, err := c.resolveLevel(ctx, s, accountID, newParentID)
	if err != nil {
		return nil, err
	}

	a.ParentID = newParentID
	a.Level = level
	a.UpdatedAt = time.Now().UTC()
	if err := s.SaveAccount(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Delete removes an account. System accounts, accounts with children and
// accounts with postings are protected.
func (c *Chart) Delete(ctx context.Context, s Store, accountID string) error {
	a, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if a == nil {
		return &NotFoundError{Kind: "account", ID: accountID}
	}
	if a.SystemAccount {
		return fmt.Errorf("account %s (%s): %w", a.Code, a.Name, ErrSystemAccount)
	}

	children, err := s.HasChildren(ctx, accountID)
	if err != nil {
		return err
	}
	if children {
		return fmt.Errorf("account %s: %w", a.Code, ErrAccountInUse)
	}

	entries, err := s.EntriesByAccount(ctx, accountID, time.Time{}, farFuture)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("account %s: %w", a.Code, ErrAccountInUse)
	}

	return s.DeleteAccount(ctx, accountID)
}

// resolveLevel walks the parent chain, rejecting cycles and missing
// parents, and returns the depth of the new node. selfID is excluded from
// the chain when creating (empty) and checked against when reparenting.
func (c *Chart) resolveLevel(ctx context.Context, s Store, selfID, parentID string) (int, error) {
	if parentID == "" {
		return 0, nil
	}
	seen := map[string]bool{}
	if selfID != "" {
		seen[selfID] = true
	}

	level := 1
	cur := parentID
	for cur != "" {
		if seen[cur] {
			return 0, fmt.Errorf("parent %s: %w", parentID, ErrAccountCycle)
		}
		seen[cur] = true

		p, err := s.GetAccount(ctx, cur)
		if err != nil {
			return 0, err
		}
		if p == nil {
			return 0, &NotFoundError{Kind: "account", ID: cur}
		}
		cur = p.ParentID
		if cur != "" {
			level++
		}
	}
	return level, nil
}

var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// =============================================================================
// GET-OR-CREATE (system and synthetic party accounts)
// =============================================================================

type accountSpec struct {
	Code               string
	Name               string
	Type               AccountType
	SubType            string
	AllowDirectPosting bool
	SystemAccount      bool
}

// ensure is the idempotent upsert behind every lazily-created account.
// It runs inside the caller's atomic unit; a unique-code race with a
// concurrent unit surfaces as ErrDuplicateCode and is resolved by
// reloading the winner's row.
func (c *Chart) ensure(ctx context.Context, s Store, spec accountSpec) (*Account, error) {
	existing, err := s.GetAccountByCode(ctx, spec.Code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	a := &Account{
		ID:                 uuid.NewString(),
		Code:               spec.Code,
		Name:               spec.Name,
		Type:               spec.Type,
		SubType:            spec.SubType,
		Active:             true,
		AllowDirectPosting: spec.AllowDirectPosting,
		SystemAccount:      spec.SystemAccount,
		CurrentBalance:     decimal.Zero,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err = s.SaveAccount(ctx, a)
	if errors.Is(err, ErrDuplicateCode) {
		// Lost the race; the row exists now.
		return s.GetAccountByCode(ctx, spec.Code)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CashOrBank resolves the cash/bank account for a payment mode,
// auto-creating it when absent. Cash mode maps to Cash in Hand; bank,
// cheque and online map to Bank Account.
func (c *Chart) CashOrBank(ctx context.Context, s Store, mode PaymentMode) (*Account, error) {
	switch mode {
	case ModeCash:
		return c.ensure(ctx, s, accountSpec{
			Code: CodeCashInHand, Name: "Cash in Hand",
			Type: AccountAsset, SubType: "cash",
			AllowDirectPosting: true, SystemAccount: true,
		})
	case ModeBank, ModeCheque, ModeOnline:
		return c.ensure(ctx, s, accountSpec{
			Code: CodeBankAccount, Name: "Bank Account",
			Type: AccountAsset, SubType: "bank",
			AllowDirectPosting: true, SystemAccount: true,
		})
	default:
		return nil, &ValidationError{Field: "payment.mode", Message: fmt.Sprintf("unknown payment mode %q", mode)}
	}
}

// Receivable resolves the customer's receivable account.
func (c *Chart) Receivable(ctx context.Context, s Store, customerID, displayName string) (*Account, error) {
	return c.ensure(ctx, s, accountSpec{
		Code: "AR-" + customerID, Name: "Receivable - " + displayName,
		Type: AccountAsset, SubType: "receivable",
	})
}

// CustomerAdvance resolves the customer-advance liability account used
// for on-account receipts.
func (c *Chart) CustomerAdvance(ctx context.Context, s Store, customerID, displayName string) (*Account, error) {
	return c.ensure(ctx, s, accountSpec{
		Code: "CADV-" + customerID, Name: "Advances - " + displayName,
		Type: AccountLiability, SubType: "advance",
	})
}

// Payable resolves the vendor's payable account.
func (c *Chart) Payable(ctx context.Context, s Store, vendorID, displayName string) (*Account, error) {
	return c.ensure(ctx, s, accountSpec{
		Code: "AP-" + vendorID, Name: "Payable - " + displayName,
		Type: AccountLiability, SubType: "payable",
	})
}

// VendorAdvance resolves the vendor-advance asset account used for
// on-account payments.
func (c *Chart) VendorAdvance(ctx context.Context, s Store, vendorID, displayName string) (*Account, error) {
	return c.ensure(ctx, s, accountSpec{
		Code: "VADV-" + vendorID, Name: "Advances - " + displayName,
		Type: AccountAsset, SubType: "advance",
	})
}

// ExpenseAccount resolves the posting account for an expense category:
// the category's default account when set, otherwise the first active
// expense account, otherwise a general fallback.
func (c *Chart) ExpenseAccount(ctx context.Context, s Store, cat *ExpenseCategory) (*Account, error) {
	if cat != nil && cat.DefaultAccountID != "" {
		a, err := s.GetAccount(ctx, cat.DefaultAccountID)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return nil, &NotFoundError{Kind: "account", ID: cat.DefaultAccountID}
		}
		return a, nil
	}

	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if accounts[i].Type == AccountExpense && accounts[i].Active {
			return &accounts[i], nil
		}
	}

	return c.ensure(ctx, s, accountSpec{
		Code: CodeGeneralExpenses, Name: "General Expenses",
		Type: AccountExpense, SubType: "general",
		AllowDirectPosting: true, SystemAccount: true,
	})
}
