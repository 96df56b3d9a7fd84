/*
expense.go - Expense voucher strategy

  debit  expense account (category default or first active expense)
  credit cash/bank (by payment mode)

Initial status follows the category's approval policy: pending when the
category requires approval and the amount exceeds its limit (a zero
limit means every expense needs approval), approved otherwise. The
category's spent counter moves when the voucher posts, not here.
*/
package ledger

import (
	"context"
	"fmt"
)

type expenseProcessor struct {
	payload ExpensePayload
}

func (p *expenseProcessor) process(ctx context.Context, d processorDeps, v *Voucher) error {
	in := p.payload
	if err := requirePositive("amount", in.Amount); err != nil {
		return err
	}
	if err := validatePaymentDetails(in.Payment); err != nil {
		return err
	}

	var cat *ExpenseCategory
	if in.CategoryID != "" {
		var err error
		cat, err = d.categories.GetCategory(ctx, in.CategoryID)
		if err != nil {
			return fmt.Errorf("fetch category %s: %w", in.CategoryID, err)
		}
		if cat == nil {
			return &NotFoundError{Kind: "category", ID: in.CategoryID}
		}
	}

	expenseAcct, err := d.chart.ExpenseAccount(ctx, d.store, cat)
	if err != nil {
		return err
	}
	cashBank, err := d.chart.CashOrBank(ctx, d.store, in.Payment.Mode)
	if err != nil {
		return err
	}

	v.CategoryID = in.CategoryID
	v.Payment = in.Payment
	v.TotalAmount = in.Amount

	description := "Expense"
	if cat != nil {
		description = "Expense: " + cat.Name
	}
	v.Lines = append(v.Lines,
		debitLine(expenseAcct, in.Amount, description),
		creditLine(cashBank, in.Amount, description),
	)

	v.Status = StatusApproved
	if cat != nil && cat.RequiresApproval {
		// A zero approval limit means every amount needs sign-off.
		if cat.ApprovalLimit.IsZero() || in.Amount.GreaterThan(cat.ApprovalLimit) {
			v.Status = StatusPending
		}
	}
	return nil
}
