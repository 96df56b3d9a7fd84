/*
contra.go - Contra voucher strategy (internal cash/bank transfer)

Moves funds between two internal cash/bank accounts: debit the
destination, credit the source. Both accounts must be cash/bank
classified and open to direct posting, and the source must cover the
amount from its current balance. Contra vouchers post immediately.
*/
package ledger

import (
	"context"
	"fmt"
)

type contraProcessor struct {
	payload ContraPayload
}

func (p *contraProcessor) process(ctx context.Context, d processorDeps, v *Voucher) error {
	in := p.payload
	if in.FromAccountID == "" || in.ToAccountID == "" {
		return &ValidationError{Field: "accounts", Message: "from and to accounts required"}
	}
	if in.FromAccountID == in.ToAccountID {
		return &ValidationError{Field: "accounts", Message: "from and to accounts must differ"}
	}
	if err := requirePositive("amount", in.Amount); err != nil {
		return err
	}

	from, err := cashBankAccount(ctx, d.store, in.FromAccountID)
	if err != nil {
		return err
	}
	to, err := cashBankAccount(ctx, d.store, in.ToAccountID)
	if err != nil {
		return err
	}

	if from.CurrentBalance.LessThan(in.Amount) {
		return &InsufficientBalanceError{
			AccountID: from.ID,
			Available: from.CurrentBalance,
			Requested: in.Amount,
		}
	}

	v.FromAccountID = from.ID
	v.ToAccountID = to.ID
	v.TotalAmount = in.Amount
	v.Lines = append(v.Lines,
		debitLine(to, in.Amount, "Transfer from "+from.Name),
		creditLine(from, in.Amount, "Transfer to "+to.Name),
	)
	v.Status = StatusApproved
	return nil
}

// cashBankAccount loads an account and rejects anything that is not an
// active, direct-postable cash or bank account.
func cashBankAccount(ctx context.Context, s Store, accountID string) (*Account, error) {
	a, err := directPostingAccount(ctx, s, accountID)
	if err != nil {
		return nil, err
	}
	if a.Type != AccountAsset || (a.SubType != "cash" && a.SubType != "bank") {
		return nil, &ValidationError{
			Field:   "accounts",
			Message: fmt.Sprintf("account %s (%s) is not a cash/bank account", a.Code, a.Name),
		}
	}
	return a, nil
}
