/*
allocator.go - Invoice allocation and deallocation

PURPOSE:
  Matches a payment amount against a set of outstanding invoices. Each
  requested allocation is validated against the invoice's current
  outstanding amount, applied through the invoice collaborator, and
  recorded as {allocated, previousBalance, newBalance}. Whatever the
  payment does not cover becomes the on-account remainder, tracked as an
  advance against the party.

INVARIANTS:
  1. requestedAllocation <= outstanding + Epsilon, per invoice
  2. sum(allocations) <= payment total + Epsilon; the excess of the
     payment over the allocations is the on-account amount
  3. outstanding == 0 after allocation marks the invoice PAID,
     otherwise PARTIAL
  4. deallocation restores outstanding clamped to [0, invoice total]
     and the settlement status that balance implies

The caller is responsible for running Allocate/Deallocate inside the
same atomic unit as the voucher write; partial allocation visible
without a voucher is not permitted.

SEE ALSO:
  - receipt.go, payment.go: the two strategies that allocate
  - poster.go: reversal path invoking Deallocate
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Allocator applies payments to outstanding invoices through the invoice
// collaborator.
type Allocator struct {
	invoices InvoiceBook
}

// NewAllocator creates an allocator over the invoice collaborator.
func NewAllocator(invoices InvoiceBook) *Allocator {
	return &Allocator{invoices: invoices}
}

// AllocationResult is the outcome of matching one payment against
// invoices.
type AllocationResult struct {
	Allocations []Allocation
	// AllocatedTotal is the portion of the payment applied to invoices.
	AllocatedTotal decimal.Decimal
	// OnAccount is the unapplied remainder of the payment, tracked as an
	// advance.
	OnAccount decimal.Decimal
}

// Allocate validates every requested allocation and then applies them in
// order. Validation happens for the whole set before the first mutation
// so an oversized request never leaves a half-applied batch behind.
func (al *Allocator) Allocate(
	ctx context.Context,
	partyID string,
	partyType PartyType,
	requests []AllocationRequest,
	paymentTotal decimal.Decimal,
) (*AllocationResult, error) {
	type pending struct {
		req     AllocationRequest
		invoice *Invoice
	}

	var validated []pending
	allocated := decimal.Zero
	for _, req := range requests {
		if !req.Amount.IsPositive() {
			return nil, &ValidationError{Field: "invoices", Message: fmt.Sprintf("allocation for invoice %s must be positive", req.InvoiceID)}
		}

		inv, err := al.invoices.GetInvoice(ctx, req.InvoiceID)
		if err != nil {
			return nil, fmt.Errorf("fetch invoice %s: %w", req.InvoiceID, err)
		}
		if inv == nil {
			return nil, &NotFoundError{Kind: "invoice", ID: req.InvoiceID}
		}
		if inv.PartyID != partyID || inv.PartyType != partyType {
			return nil, fmt.Errorf("invoice %s belongs to %s %s: %w",
				req.InvoiceID, inv.PartyType, inv.PartyID, ErrPartyMismatch)
		}
		if req.Amount.GreaterThan(inv.Outstanding.Add(Epsilon)) {
			return nil, &AllocationError{
				InvoiceID:   req.InvoiceID,
				Requested:   req.Amount,
				Outstanding: inv.Outstanding,
			}
		}

		allocated = allocated.Add(req.Amount)
		validated = append(validated, pending{req: req, invoice: inv})
	}

	if allocated.GreaterThan(paymentTotal.Add(Epsilon)) {
		return nil, &ValidationError{
			Field:   "invoices",
			Message: fmt.Sprintf("allocations %s exceed payment total %s", allocated, paymentTotal),
		}
	}

	result := &AllocationResult{
		AllocatedTotal: allocated,
		OnAccount:      paymentTotal.Sub(allocated),
	}
	for _, p := range validated {
		previous := p.invoice.Outstanding
		newOutstanding, err := al.invoices.ApplyAllocation(ctx, p.req.InvoiceID, p.req.Amount)
		if err != nil {
			return nil, fmt.Errorf("apply allocation to invoice %s: %w", p.req.InvoiceID, err)
		}
		result.Allocations = append(result.Allocations, Allocation{
			InvoiceID:       p.req.InvoiceID,
			Amount:          p.req.Amount,
			PreviousBalance: previous,
			NewBalance:      newOutstanding,
		})
	}
	return result, nil
}

// Deallocate adds each allocated amount back to its invoice's outstanding
// balance. Used by reversal and by reverse-then-reprocess updates. The
// collaborator clamps the restored balance to [0, invoice total].
func (al *Allocator) Deallocate(ctx context.Context, allocations []Allocation) error {
	for _, a := range allocations {
		if err := al.invoices.ReverseAllocation(ctx, a.InvoiceID, a.Amount); err != nil {
			return fmt.Errorf("reverse allocation on invoice %s: %w", a.InvoiceID, err)
		}
	}
	return nil
}

// SettlementStatus derives the invoice status implied by an outstanding
// balance.
func SettlementStatus(outstanding, total decimal.Decimal) InvoiceStatus {
	switch {
	case outstanding.LessThanOrEqual(Epsilon):
		return InvoicePaid
	case outstanding.GreaterThanOrEqual(total.Sub(Epsilon)):
		return InvoiceUnpaid
	default:
		return InvoicePartial
	}
}
