/*
receipt.go - Receipt voucher strategy (money in from a customer)

ENTRIES:
  debit  cash/bank (by payment mode)        total amount
  credit customer receivable                allocated portion
  credit customer advances (liability)      on-account remainder

Receipts post immediately (approved) unless the caller defers approval.
The on-account remainder is mirrored into the party directory's cash
balance so it can be drawn down later and restored on reversal.
*/
package ledger

import (
	"context"
	"fmt"
)

type receiptProcessor struct {
	payload ReceiptPayload
}

func (p *receiptProcessor) process(ctx context.Context, d processorDeps, v *Voucher) error {
	in := p.payload
	if in.CustomerID == "" {
		return &ValidationError{Field: "customerId", Message: "required"}
	}
	if err := requirePositive("amount", in.Amount); err != nil {
		return err
	}
	if err := validatePaymentDetails(in.Payment); err != nil {
		return err
	}

	name, err := d.parties.GetDisplayName(ctx, in.CustomerID, PartyCustomer)
	if err != nil {
		return fmt.Errorf("resolve customer %s: %w", in.CustomerID, err)
	}

	alloc, err := d.alloc.Allocate(ctx, in.CustomerID, PartyCustomer, in.Invoices, in.Amount)
	if err != nil {
		return err
	}

	cashBank, err := d.chart.CashOrBank(ctx, d.store, in.Payment.Mode)
	if err != nil {
		return err
	}

	v.PartyID = in.CustomerID
	v.PartyType = PartyCustomer
	v.PartyName = name
	v.Payment = in.Payment
	v.TotalAmount = in.Amount
	v.Allocations = alloc.Allocations
	v.OnAccountAmount = alloc.OnAccount

	v.Lines = append(v.Lines, debitLine(cashBank, in.Amount, "Receipt from "+name))
	if alloc.AllocatedTotal.IsPositive() {
		receivable, err := d.chart.Receivable(ctx, d.store, in.CustomerID, name)
		if err != nil {
			return err
		}
		v.Lines = append(v.Lines, creditLine(receivable, alloc.AllocatedTotal, "Settlement of invoices"))
	}
	if alloc.OnAccount.IsPositive() {
		advance, err := d.chart.CustomerAdvance(ctx, d.store, in.CustomerID, name)
		if err != nil {
			return err
		}
		v.Lines = append(v.Lines, creditLine(advance, alloc.OnAccount, "On-account receipt"))

		if err := d.parties.AdjustCashBalance(ctx, in.CustomerID, PartyCustomer, alloc.OnAccount); err != nil {
			return fmt.Errorf("record on-account balance for customer %s: %w", in.CustomerID, err)
		}
	}

	v.Status = StatusApproved
	if in.DeferApproval {
		v.Status = StatusPending
	}
	return nil
}
