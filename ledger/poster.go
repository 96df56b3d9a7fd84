/*
poster.go - Ledger posting and reversal

PURPOSE:
  Converts an approved voucher's lines into immutable ledger entries and
  maintains account running balances, and performs the inverse (reversal)
  when a voucher is edited, cancelled or deleted.

SIGN CONVENTION (the accounting equation):
  asset, expense:             balance += debit - credit
  liability, equity, income:  balance += credit - debit

CRITICAL INVARIANTS:
  1. ENTRIES ARE IMMUTABLE: a reversal appends mirror entries with
     debit/credit swapped; it never edits or deletes.
  2. AT-MOST-ONCE: posting a voucher that already has non-reversed
     entries is a no-op, checked by an existence query before writing.
  3. BALANCE = SUM OF ENTRIES: every entry records the account balance
     immediately after it was applied, and the account's cached balance
     is updated in the same atomic unit.
  4. REVERSAL IS COMPLETE: reversing also deallocates linked invoices
     and restores any on-account balance held against the party.

SEE ALSO:
  - approval.go: the transitions that trigger Post and Reverse
  - allocator.go: Deallocate, invoked on reversal
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Poster writes ledger entries and maintains balances. Stateless; every
// call runs against the atomic unit handed to it.
type Poster struct{}

// NewPoster creates a ledger poster.
func NewPoster() *Poster { return &Poster{} }

// Post writes one entry per voucher line and applies the balance deltas.
// Idempotent: a voucher with live entries is left untouched.
func (p *Poster) Post(ctx context.Context, d processorDeps, v *Voucher) error {
	if !v.Balanced() {
		return fmt.Errorf("voucher %s: debits %s, credits %s: %w",
			v.VoucherNo, v.DebitTotal(), v.CreditTotal(), ErrUnbalanced)
	}

	posted, err := d.store.HasActiveEntries(ctx, v.ID)
	if err != nil {
		return err
	}
	if posted {
		return nil
	}

	now := time.Now().UTC()
	for _, line := range v.Lines {
		account, err := d.store.GetAccount(ctx, line.AccountID)
		if err != nil {
			return err
		}
		if account == nil {
			return &NotFoundError{Kind: "account", ID: line.AccountID}
		}

		entry := &Entry{
			ID:          uuid.NewString(),
			VoucherID:   v.ID,
			VoucherNo:   v.VoucherNo,
			VoucherType: v.Type,
			AccountID:   account.ID,
			AccountCode: account.Code,
			AccountName: account.Name,
			Date:        v.Date,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Narration:   line.Description,
			PartyID:     v.PartyID,
			PartyType:   v.PartyType,
			CreatedAt:   now,
		}

		account.CurrentBalance = account.CurrentBalance.Add(entry.SignedDelta(account.Type))
		account.UpdatedAt = now
		entry.RunningBalance = account.CurrentBalance

		if err := d.store.SaveAccount(ctx, account); err != nil {
			return fmt.Errorf("update balance of account %s: %w", account.Code, err)
		}
		if err := d.store.AppendEntry(ctx, entry); err != nil {
			return fmt.Errorf("append entry for account %s: %w", account.Code, err)
		}
	}

	if v.Type == VoucherExpense && v.CategoryID != "" {
		if err := d.categories.AddSpent(ctx, v.CategoryID, v.TotalAmount); err != nil {
			return fmt.Errorf("update spent for category %s: %w", v.CategoryID, err)
		}
	}
	return nil
}

// Reverse appends a mirror entry for every non-reversed entry of the
// voucher, applies the inverse balance updates, marks the originals
// reversed, and releases the voucher's external effects (invoice
// allocations, on-account party balance, category spend).
func (p *Poster) Reverse(ctx context.Context, d processorDeps, v *Voucher) error {
	entries, err := d.store.EntriesByVoucher(ctx, v.ID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	reversedAny := false
	for i := range entries {
		e := &entries[i]
		if e.Reversed {
			continue
		}
		reversedAny = true

		account, err := d.store.GetAccount(ctx, e.AccountID)
		if err != nil {
			return err
		}
		if account == nil {
			return &NotFoundError{Kind: "account", ID: e.AccountID}
		}

		mirror := &Entry{
			ID:          uuid.NewString(),
			VoucherID:   v.ID,
			VoucherNo:   v.VoucherNo,
			VoucherType: v.Type,
			AccountID:   account.ID,
			AccountCode: e.AccountCode,
			AccountName: e.AccountName,
			Date:        now,
			Debit:       e.Credit, // swapped
			Credit:      e.Debit,
			Narration:   "Reversal: " + e.Narration,
			PartyID:     e.PartyID,
			PartyType:   e.PartyType,
			Reversed:    true, // a reversal entry is never itself reversed
			ReversedAt:  &now,
			CreatedAt:   now,
		}

		account.CurrentBalance = account.CurrentBalance.Add(mirror.SignedDelta(account.Type))
		account.UpdatedAt = now
		mirror.RunningBalance = account.CurrentBalance

		if err := d.store.SaveAccount(ctx, account); err != nil {
			return fmt.Errorf("update balance of account %s: %w", account.Code, err)
		}
		if err := d.store.AppendEntry(ctx, mirror); err != nil {
			return fmt.Errorf("append reversal entry for account %s: %w", account.Code, err)
		}
	}

	if reversedAny {
		if err := d.store.MarkReversed(ctx, v.ID, now); err != nil {
			return fmt.Errorf("mark entries reversed for voucher %s: %w", v.VoucherNo, err)
		}
		if v.Type == VoucherExpense && v.CategoryID != "" {
			if err := d.categories.AddSpent(ctx, v.CategoryID, v.TotalAmount.Neg()); err != nil {
				return fmt.Errorf("restore spent for category %s: %w", v.CategoryID, err)
			}
		}
	}

	return p.ReleaseExternal(ctx, d, v)
}

// ReleaseExternal undoes the voucher's effects outside the ledger:
// invoice allocations go back to outstanding and the party's on-account
// balance is restored. Safe on vouchers that never allocated anything.
// Also used directly for never-posted vouchers (rejected or cancelled
// before approval).
func (p *Poster) ReleaseExternal(ctx context.Context, d processorDeps, v *Voucher) error {
	if len(v.Allocations) > 0 {
		if err := d.alloc.Deallocate(ctx, v.Allocations); err != nil {
			return err
		}
	}
	if v.OnAccountAmount.IsPositive() && v.PartyID != "" {
		if err := d.parties.AdjustCashBalance(ctx, v.PartyID, v.PartyType, v.OnAccountAmount.Neg()); err != nil {
			return fmt.Errorf("restore on-account balance for %s %s: %w", v.PartyType, v.PartyID, err)
		}
	}
	return nil
}
