/*
journal.go - Journal voucher strategy (manual entry)

Two forms: one debit account, one credit account and an amount, or an
arbitrary balanced line list. Every targeted account must allow direct
posting; summary/control accounts are rejected. Journals default to
draft and require explicit approval before they post.
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

type journalProcessor struct {
	payload JournalPayload
}

func (p *journalProcessor) process(ctx context.Context, d processorDeps, v *Voucher) error {
	in := p.payload

	if len(in.Lines) > 0 {
		return p.processLines(ctx, d, v, in.Lines)
	}
	return p.processPair(ctx, d, v)
}

// processPair handles the simple one-debit one-credit form.
func (p *journalProcessor) processPair(ctx context.Context, d processorDeps, v *Voucher) error {
	in := p.payload
	if in.DebitAccountID == "" || in.CreditAccountID == "" {
		return &ValidationError{Field: "accounts", Message: "debit and credit accounts required"}
	}
	if in.DebitAccountID == in.CreditAccountID {
		return &ValidationError{Field: "accounts", Message: "debit and credit accounts must differ"}
	}
	if err := requirePositive("amount", in.Amount); err != nil {
		return err
	}

	debit, err := directPostingAccount(ctx, d.store, in.DebitAccountID)
	if err != nil {
		return err
	}
	credit, err := directPostingAccount(ctx, d.store, in.CreditAccountID)
	if err != nil {
		return err
	}

	v.TotalAmount = in.Amount
	v.Lines = append(v.Lines,
		debitLine(debit, in.Amount, v.Narration),
		creditLine(credit, in.Amount, v.Narration),
	)
	v.Status = StatusDraft
	return nil
}

// processLines handles the arbitrary balanced list form.
func (p *journalProcessor) processLines(ctx context.Context, d processorDeps, v *Voucher, lines []Line) error {
	debits := decimal.Zero
	credits := decimal.Zero
	for i, l := range lines {
		oneSided := (l.Debit.IsPositive() && l.Credit.IsZero()) ||
			(l.Credit.IsPositive() && l.Debit.IsZero())
		if !oneSided {
			return &ValidationError{
				Field:   fmt.Sprintf("lines[%d]", i),
				Message: "exactly one of debit and credit must be positive",
			}
		}

		a, err := directPostingAccount(ctx, d.store, l.AccountID)
		if err != nil {
			return err
		}
		v.Lines = append(v.Lines, Line{
			AccountID:   a.ID,
			AccountCode: a.Code,
			AccountName: a.Name,
			Debit:       l.Debit,
			Credit:      l.Credit,
			Description: l.Description,
		})
		debits = debits.Add(l.Debit)
		credits = credits.Add(l.Credit)
	}

	if !withinEpsilon(debits, credits) {
		return fmt.Errorf("journal lines: debits %s, credits %s: %w", debits, credits, ErrUnbalanced)
	}

	v.TotalAmount = debits
	v.Status = StatusDraft
	return nil
}

// directPostingAccount loads an account and rejects unknown ids,
// deactivated accounts, and summary/control accounts.
func directPostingAccount(ctx context.Context, s Store, accountID string) (*Account, error) {
	a, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, &NotFoundError{Kind: "account", ID: accountID}
	}
	if !a.Active {
		return nil, fmt.Errorf("account %s (%s): %w", a.Code, a.Name, ErrAccountInactive)
	}
	if !a.AllowDirectPosting {
		return nil, fmt.Errorf("account %s (%s): %w", a.Code, a.Name, ErrDirectPostingDisallowed)
	}
	return a, nil
}
