/*
processor.go - Per-kind voucher strategies (shared contract)

PURPOSE:
  Every voucher kind shares one contract: given the raw payload (plus, for
  receipts and payments, an allocation against outstanding invoices),
  produce a list of entry lines whose debit total equals the credit total,
  and an initial lifecycle status. The five strategies live in their own
  files; this file holds the contract, the dispatch table and the
  payment-detail validation common to the money-moving kinds.

STRATEGY OUTPUTS:
  - v.Lines:       balanced debit/credit legs
  - v.Status:      initial status (see approval.go for the machine)
  - v.TotalAmount: equal to both the debit and the credit total
  - v.Allocations / v.OnAccountAmount: receipt/payment only

SEE ALSO:
  - receipt.go, payment.go, journal.go, contra.go, expense.go
  - service.go: runs a strategy inside the atomic unit, then posts
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// processorDeps bundles everything a strategy may touch. All of it is
// scoped to the caller's atomic unit.
type processorDeps struct {
	store      Store
	chart      *Chart
	alloc      *Allocator
	parties    PartyDirectory
	categories CategoryBook
}

// processor builds the kind-specific parts of a voucher. The voucher
// arrives with identity fields (ID, number, type, date, narration, audit)
// already set.
type processor interface {
	process(ctx context.Context, d processorDeps, v *Voucher) error
}

// processorFor returns the strategy for a payload.
func processorFor(p Payload) (processor, error) {
	switch pl := p.(type) {
	case ReceiptPayload:
		return &receiptProcessor{payload: pl}, nil
	case *ReceiptPayload:
		return &receiptProcessor{payload: *pl}, nil
	case PaymentPayload:
		return &paymentProcessor{payload: pl}, nil
	case *PaymentPayload:
		return &paymentProcessor{payload: *pl}, nil
	case JournalPayload:
		return &journalProcessor{payload: pl}, nil
	case *JournalPayload:
		return &journalProcessor{payload: *pl}, nil
	case ContraPayload:
		return &contraProcessor{payload: pl}, nil
	case *ContraPayload:
		return &contraProcessor{payload: *pl}, nil
	case ExpensePayload:
		return &expenseProcessor{payload: pl}, nil
	case *ExpensePayload:
		return &expenseProcessor{payload: *pl}, nil
	default:
		return nil, &ValidationError{Field: "payload", Message: fmt.Sprintf("unsupported payload type %T", p)}
	}
}

// validatePaymentDetails enforces the mode-specific sub-detail: cheque
// number for cheque, bank account number for bank, transaction id for
// online. Cash needs nothing.
func validatePaymentDetails(p PaymentDetails) error {
	switch p.Mode {
	case ModeCash:
		return nil
	case ModeCheque:
		if p.ChequeNo == "" {
			return fmt.Errorf("cheque number: %w", ErrMissingPaymentDetail)
		}
	case ModeBank:
		if p.BankAccountNo == "" {
			return fmt.Errorf("bank account number: %w", ErrMissingPaymentDetail)
		}
	case ModeOnline:
		if p.TransactionID == "" {
			return fmt.Errorf("online transaction id: %w", ErrMissingPaymentDetail)
		}
	default:
		return &ValidationError{Field: "payment.mode", Message: fmt.Sprintf("unknown payment mode %q", p.Mode)}
	}
	return nil
}

// requirePositive validates a monetary amount field.
func requirePositive(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &ValidationError{Field: field, Message: "must be positive"}
	}
	return nil
}

// debitLine builds a debit leg against an account.
func debitLine(a *Account, amount decimal.Decimal, description string) Line {
	return Line{
		AccountID:   a.ID,
		AccountCode: a.Code,
		AccountName: a.Name,
		Debit:       amount,
		Credit:      decimal.Zero,
		Description: description,
	}
}

// creditLine builds a credit leg against an account.
func creditLine(a *Account, amount decimal.Decimal, description string) Line {
	return Line{
		AccountID:   a.ID,
		AccountCode: a.Code,
		AccountName: a.Name,
		Debit:       decimal.Zero,
		Credit:      amount,
		Description: description,
	}
}
