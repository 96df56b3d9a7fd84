/*
payment.go - Payment voucher strategy (money out to a vendor)

The mirror of receipt.go:

  credit cash/bank (by payment mode)        total amount
  debit  vendor payable                     allocated portion
  debit  vendor advances (asset)            on-account remainder
*/
package ledger

import (
	"context"
	"fmt"
)

type paymentProcessor struct {
	payload PaymentPayload
}

func (p *paymentProcessor) process(ctx context.Context, d processorDeps, v *Voucher) error {
	in := p.payload
	if in.VendorID == "" {
		return &ValidationError{Field: "vendorId", Message: "required"}
	}
	if err := requirePositive("amount", in.Amount); err != nil {
		return err
	}
	if err := validatePaymentDetails(in.Payment); err != nil {
		return err
	}

	name, err := d.parties.GetDisplayName(ctx, in.VendorID, PartyVendor)
	if err != nil {
		return fmt.Errorf("resolve vendor %s: %w", in.VendorID, err)
	}

	alloc, err := d.alloc.Allocate(ctx, in.VendorID, PartyVendor, in.Invoices, in.Amount)
	if err != nil {
		return err
	}

	cashBank, err := d.chart.CashOrBank(ctx, d.store, in.Payment.Mode)
	if err != nil {
		return err
	}

	v.PartyID = in.VendorID
	v.PartyType = PartyVendor
	v.PartyName = name
	v.Payment = in.Payment
	v.TotalAmount = in.Amount
	v.Allocations = alloc.Allocations
	v.OnAccountAmount = alloc.OnAccount

	if alloc.AllocatedTotal.IsPositive() {
		payable, err := d.chart.Payable(ctx, d.store, in.VendorID, name)
		if err != nil {
			return err
		}
		v.Lines = append(v.Lines, debitLine(payable, alloc.AllocatedTotal, "Settlement of invoices"))
	}
	if alloc.OnAccount.IsPositive() {
		advance, err := d.chart.VendorAdvance(ctx, d.store, in.VendorID, name)
		if err != nil {
			return err
		}
		v.Lines = append(v.Lines, debitLine(advance, alloc.OnAccount, "On-account payment"))

		if err := d.parties.AdjustCashBalance(ctx, in.VendorID, PartyVendor, alloc.OnAccount); err != nil {
			return fmt.Errorf("record on-account balance for vendor %s: %w", in.VendorID, err)
		}
	}
	v.Lines = append(v.Lines, creditLine(cashBank, in.Amount, "Payment to "+name))

	v.Status = StatusApproved
	if in.DeferApproval {
		v.Status = StatusPending
	}
	return nil
}
