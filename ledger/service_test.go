package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestService(t *testing.T) (*ledger.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	svc := ledger.NewService(mem, mem, mem, mem)
	return svc, mem
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func cash() ledger.PaymentDetails {
	return ledger.PaymentDetails{Mode: ledger.ModeCash}
}

func seedCustomer(mem *store.Memory, id, name string) {
	mem.PutParty(id, ledger.PartyCustomer, name)
}

func seedVendor(mem *store.Memory, id, name string) {
	mem.PutParty(id, ledger.PartyVendor, name)
}

func seedInvoice(mem *store.Memory, id, partyID string, partyType ledger.PartyType, total, outstanding string) {
	mem.PutInvoice(ledger.Invoice{
		ID:          id,
		PartyID:     partyID,
		PartyType:   partyType,
		TotalAmount: d(total),
		Outstanding: d(outstanding),
	})
}

func accountBalance(t *testing.T, svc *ledger.Service, code string) decimal.Decimal {
	t.Helper()
	accounts, err := svc.ListAccounts(context.Background())
	require.NoError(t, err)
	for _, a := range accounts {
		if a.Code == code {
			return a.CurrentBalance
		}
	}
	t.Fatalf("no account with code %s", code)
	return decimal.Zero
}

func activeEntries(t *testing.T, svc *ledger.Service, voucherID string) []ledger.Entry {
	t.Helper()
	all, err := svc.VoucherEntries(context.Background(), voucherID)
	require.NoError(t, err)
	var live []ledger.Entry
	for _, e := range all {
		if !e.Reversed {
			live = append(live, e)
		}
	}
	return live
}

// =============================================================================
// RECEIPT SCENARIOS
// =============================================================================

func TestCreateVoucher_Receipt_SettlesInvoice(t *testing.T) {
	// GIVEN: Customer with an outstanding 1000 invoice
	// WHEN: A cash receipt of 1000 allocates the full invoice
	// THEN: Voucher posts immediately, invoice is PAID, entries balance

	svc, mem := newTestService(t)
	ctx := context.Background()
	seedCustomer(mem, "cust-1", "Acme Traders")
	seedInvoice(mem, "inv-1", "cust-1", ledger.PartyCustomer, "1000", "1000")

	v, err := svc.CreateVoucher(ctx, ledger.Input{
		Narration: "Invoice settlement",
		Payload: ledger.ReceiptPayload{
			CustomerID: "cust-1",
			Amount:     d("1000"),
			Payment:    cash(),
			Invoices:   []ledger.AllocationRequest{{InvoiceID: "inv-1", Amount: d("1000")}},
		},
	}, "clerk-1")
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusApproved, v.Status)
	assert.Equal(t, ledger.VoucherReceipt, v.Type)
	assert.Contains(t, v.VoucherNo, "RV-")
	assert.True(t, v.Balanced(), "debits should equal credits")
	assert.Equal(t, "clerk-1", v.CreatedBy)
	require.Len(t, v.Allocations, 1)
	assert.True(t, v.Allocations[0].NewBalance.IsZero())
	assert.True(t, v.OnAccountAmount.IsZero())

	inv, err := mem.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.InvoicePaid, inv.Status)
	assert.True(t, inv.Outstanding.IsZero())

	entries := activeEntries(t, svc, v.ID)
	require.Len(t, entries, 2)
	assert.True(t, accountBalance(t, svc, "1001").Equal(d("1000")), "cash should hold the receipt")
	assert.True(t, accountBalance(t, svc, "AR-cust-1").Equal(d("-1000")), "receivable drops by the settlement")
}

func TestCreateVoucher_Receipt_PartialAndOnAccount(t *testing.T) {
	// GIVEN: Customer with a 1000 invoice
	// WHEN: A 800 receipt allocates only 500
	// THEN: Invoice goes PARTIAL and 300 is held on account as an advance

	svc, mem := newTestService(t)
	ctx := context.Background()
	seedCustomer(mem, "cust-1", "Acme Traders")
	seedInvoice(mem, "inv-1", "cust-1", ledger.PartyCustomer, "1000", "1000")

	v, err := svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.ReceiptPayload{
			CustomerID: "cust-1",
			Amount:     d("800"),
			Payment:    cash(),
			Invoices:   []ledger.AllocationRequest{{InvoiceID: "inv-1", Amount: d("500")}},
		},
	}, "clerk-1")
	require.NoError(t, err)

	assert.True(t, v.OnAccountAmount.Equal(d("300")))

	inv, err := mem.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.InvoicePartial, inv.Status)
	assert.True(t, inv.Outstanding.Equal(d("500")))

	assert.True(t, mem.PartyCashBalance("cust-1", ledger.PartyCustomer).Equal(d("300")),
		"on-account remainder mirrors into the party balance")
	assert.True(t, accountBalance(t, svc, "CADV-cust-1").Equal(d("300")),
		"customer advance is a credit-side liability")
}

func TestCreateVoucher_Receipt_AllocationExceedsOutstanding(t *testing.T) {
	// GIVEN: Invoice with only 200 outstanding
	// WHEN: A receipt tries to allocate 500 against it
	// THEN: The whole unit fails; nothing is written

	svc, mem := newTestService(t)
	ctx := context.Background()
	seedCustomer(mem, "cust-1", "Acme Traders")
	seedInvoice(mem, "inv-1", "cust-1", ledger.PartyCustomer, "1000", "200")

	_, err := svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.ReceiptPayload{
			CustomerID: "cust-1",
			Amount:     d("500"),
			Payment:    cash(),
			Invoices:   []ledger.AllocationRequest{{InvoiceID: "inv-1", Amount: d("500")}},
		},
	}, "clerk-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrAllocationExceedsOutstanding)

	var allocErr *ledger.AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, "inv-1", allocErr.InvoiceID)
	assert.True(t, allocErr.Outstanding.Equal(d("200")))

	inv, err := mem.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.True(t, inv.Outstanding.Equal(d("200")), "outstanding untouched after rollback")

	vouchers, err := svc.ListVouchers(ctx, ledger.VoucherFilter{})
	require.NoError(t, err)
	assert.Empty(t, vouchers, "failed unit must not persist a voucher")
}

func TestCreateVoucher_Receipt_PartyMismatch(t *testing.T) {
	// GIVEN: Invoice belonging to cust-2
	// WHEN: cust-1's receipt allocates against it
	// THEN: ErrPartyMismatch

	svc, mem := newTestService(t)
	seedCustomer(mem, "cust-1", "Acme Traders")
	seedCustomer(mem, "cust-2", "Globex")
	seedInvoice(mem, "inv-9", "cust-2", ledger.PartyCustomer, "500", "500")

	_, err := svc.CreateVoucher(context.Background(), ledger.Input{
		Payload: ledger.ReceiptPayload{
			CustomerID: "cust-1",
			Amount:     d("500"),
			Payment:    cash(),
			Invoices:   []ledger.AllocationRequest{{InvoiceID: "inv-9", Amount: d("500")}},
		},
	}, "clerk-1")
	assert.ErrorIs(t, err, ledger.ErrPartyMismatch)
}

func TestCreateVoucher_Receipt_MissingChequeNo(t *testing.T) {
	svc, mem := newTestService(t)
	seedCustomer(mem, "cust-1", "Acme Traders")

	_, err := svc.CreateVoucher(context.Background(), ledger.Input{
		Payload: ledger.ReceiptPayload{
			CustomerID: "cust-1",
			Amount:     d("100"),
			Payment:    ledger.PaymentDetails{Mode: ledger.ModeCheque},
		},
	}, "clerk-1")
	assert.ErrorIs(t, err, ledger.ErrMissingPaymentDetail)
}

func TestCreateVoucher_Receipt_DeferApproval(t *testing.T) {
	// Deferred receipts park in pending and write no entries until approved.
	svc, mem := newTestService(t)
	ctx := context.Background()
	seedCustomer(mem, "cust-1", "Acme Traders")

	v, err := svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.ReceiptPayload{
			CustomerID:    "cust-1",
			Amount:        d("250"),
			Payment:       cash(),
			DeferApproval: true,
		},
	}, "clerk-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, v.Status)
	assert.Empty(t, activeEntries(t, svc, v.ID))

	approved, err := svc.ApproveOrReject(ctx, v.ID, ledger.ActionApprove, "manager-1", "")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, approved.Status)
	assert.Equal(t, "manager-1", approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)
	assert.Len(t, activeEntries(t, svc, v.ID), 2)
}

// =============================================================================
// PAYMENT SCENARIOS
// =============================================================================

func TestCreateVoucher_Payment_SettlesVendorInvoice(t *testing.T) {
	// GIVEN: Vendor bill of 500 outstanding
	// WHEN: A bank payment of 500 allocates it in full
	// THEN: Bill is PAID; payable debited, bank credited

	svc, mem := newTestService(t)
	ctx := context.Background()
	seedVendor(mem, "vend-1", "Office Supplies Co")
	seedInvoice(mem, "bill-1", "vend-1", ledger.PartyVendor, "500", "500")

	v, err := svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.PaymentPayload{
			VendorID: "vend-1",
			Amount:   d("500"),
			Payment:  ledger.PaymentDetails{Mode: ledger.ModeBank, BankAccountNo: "0042"},
			Invoices: []ledger.AllocationRequest{{InvoiceID: "bill-1", Amount: d("500")}},
		},
	}, "clerk-1")
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusApproved, v.Status)
	assert.Contains(t, v.VoucherNo, "PV-")

	inv, err := mem.GetInvoice(ctx, "bill-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.InvoicePaid, inv.Status)

	assert.True(t, accountBalance(t, svc, "1002").Equal(d("-500")), "bank drops by the payment")
	assert.True(t, accountBalance(t, svc, "AP-vend-1").Equal(d("-500")), "payable liability cleared")
}

func TestCreateVoucher_Payment_OnAccountAdvance(t *testing.T) {
	// An unallocated vendor payment becomes a vendor advance (asset).
	svc, mem := newTestService(t)
	seedVendor(mem, "vend-1", "Office Supplies Co")

	v, err := svc.CreateVoucher(context.Background(), ledger.Input{
		Payload: ledger.PaymentPayload{
			VendorID: "vend-1",
			Amount:   d("300"),
			Payment:  cash(),
		},
	}, "clerk-1")
	require.NoError(t, err)

	assert.True(t, v.OnAccountAmount.Equal(d("300")))
	assert.True(t, accountBalance(t, svc, "VADV-vend-1").Equal(d("300")))
	assert.True(t, mem.PartyCashBalance("vend-1", ledger.PartyVendor).Equal(d("300")))
}

// =============================================================================
// CONTRA SCENARIOS
// =============================================================================

// fundCash posts a receipt so the cash account has a balance to move.
func fundCash(t *testing.T, svc *ledger.Service, mem *store.Memory, amount string) {
	t.Helper()
	seedCustomer(mem, "funder", "Funding Customer")
	_, err := svc.CreateVoucher(context.Background(), ledger.Input{
		Payload: ledger.ReceiptPayload{
			CustomerID: "funder",
			Amount:     d(amount),
			Payment:    cash(),
		},
	}, "clerk-1")
	require.NoError(t, err)
}

func findAccountByCode(t *testing.T, svc *ledger.Service, code string) ledger.Account {
	t.Helper()
	accounts, err := svc.ListAccounts(context.Background())
	require.NoError(t, err)
	for _, a := range accounts {
		if a.Code == code {
			return a
		}
	}
	t.Fatalf("no account with code %s", code)
	return ledger.Account{}
}

func TestCreateVoucher_Contra_TransfersBetweenCashAndBank(t *testing.T) {
	// GIVEN: Cash holds 1000
	// WHEN: A contra moves 400 cash -> bank
	// THEN: Cash 600, bank 400, entries balanced

	svc, mem := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureSystemAccounts(ctx))
	fundCash(t, svc, mem, "1000")

	cashAcct := findAccountByCode(t, svc, "1001")
	bankAcct := findAccountByCode(t, svc, "1002")

	v, err := svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.ContraPayload{
			FromAccountID: cashAcct.ID,
			ToAccountID:   bankAcct.ID,
			Amount:        d("400"),
		},
	}, "clerk-1")
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusApproved, v.Status)
	assert.Contains(t, v.VoucherNo, "CV-")
	assert.True(t, accountBalance(t, svc, "1001").Equal(d("600")))
	assert.True(t, accountBalance(t, svc, "1002").Equal(d("400")))
}

func TestCreateVoucher_Contra_InsufficientBalance(t *testing.T) {
	// GIVEN: Cash holds 800
	// WHEN: A contra tries to move 1000
	// THEN: InsufficientBalanceError; no entries, balances untouched

	svc, mem := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureSystemAccounts(ctx))
	fundCash(t, svc, mem, "800")

	cashAcct := findAccountByCode(t, svc, "1001")
	bankAcct := findAccountByCode(t, svc, "1002")

	_, err := svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.ContraPayload{
			FromAccountID: cashAcct.ID,
			ToAccountID:   bankAcct.ID,
			Amount:        d("1000"),
		},
	}, "clerk-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	var balErr *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &balErr)
	assert.True(t, balErr.Available.Equal(d("800")))
	assert.True(t, balErr.Requested.Equal(d("1000")))

	assert.True(t, accountBalance(t, svc, "1001").Equal(d("800")))
	assert.True(t, accountBalance(t, svc, "1002").IsZero())

	vouchers, err := svc.ListVouchers(ctx, ledger.VoucherFilter{Type: ledger.VoucherContra})
	require.NoError(t, err)
	assert.Empty(t, vouchers)
}

func TestCreateVoucher_Contra_RejectsNonCashBankAccount(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureSystemAccounts(ctx))
	fundCash(t, svc, mem, "100")

	cashAcct := findAccountByCode(t, svc, "1001")
	expenseAcct := findAccountByCode(t, svc, "5000")

	_, err := svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.ContraPayload{
			FromAccountID: cashAcct.ID,
			ToAccountID:   expenseAcct.ID,
			Amount:        d("50"),
		},
	}, "clerk-1")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestCreateVoucher_Contra_RejectsInactiveAccount(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureSystemAccounts(ctx))
	fundCash(t, svc, mem, "100")

	cashAcct := findAccountByCode(t, svc, "1001")
	bankAcct := findAccountByCode(t, svc, "1002")
	bankAcct.Active = false
	require.NoError(t, mem.SaveAccount(ctx, &bankAcct))

	_, err := svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.ContraPayload{
			FromAccountID: cashAcct.ID,
			ToAccountID:   bankAcct.ID,
			Amount:        d("50"),
		},
	}, "clerk-1")
	assert.ErrorIs(t, err, ledger.ErrAccountInactive)
}

// =============================================================================
// EXPENSE SCENARIOS
// =============================================================================

func TestCreateVoucher_Expense_PostsAndTracksSpend(t *testing.T) {
	// Expense within the category's approval limit posts immediately and
	// moves the spent counter.
	svc, mem := newTestService(t)
	ctx := context.Background()
	mem.PutCategory(ledger.ExpenseCategory{
		ID:               "cat-travel",
		Name:             "Travel",
		RequiresApproval: true,
		ApprovalLimit:    d("500"),
	})

	v, err := svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.ExpensePayload{
			CategoryID: "cat-travel",
			Amount:     d("200"),
			Payment:    cash(),
		},
	}, "clerk-1")
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusApproved, v.Status)
	assert.Contains(t, v.VoucherNo, "EV-")

	cat, err := mem.GetCategory(ctx, "cat-travel")
	require.NoError(t, err)
	assert.True(t, cat.CurrentSpent.Equal(d("200")))
	assert.True(t, accountBalance(t, svc, "1001").Equal(d("-200")))
}

func TestCreateVoucher_Expense_OverLimitRequiresApproval(t *testing.T) {
	// GIVEN: Category with a 500 approval limit
	// WHEN: An 800 expense is filed, then approved, then cancelled
	// THEN: pending -> approved posts; cancel reverses and restores spend

	svc, mem := newTestService(t)
	ctx := context.Background()
	mem.PutCategory(ledger.ExpenseCategory{
		ID:               "cat-travel",
		Name:             "Travel",
		RequiresApproval: true,
		ApprovalLimit:    d("500"),
	})

	v, err := svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.ExpensePayload{
			CategoryID: "cat-travel",
			Amount:     d("800"),
			Payment:    cash(),
		},
	}, "clerk-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, v.Status)
	assert.Empty(t, activeEntries(t, svc, v.ID))

	cat, err := mem.GetCategory(ctx, "cat-travel")
	require.NoError(t, err)
	assert.True(t, cat.CurrentSpent.IsZero(), "spend moves only on posting")

	_, err = svc.ApproveOrReject(ctx, v.ID, ledger.ActionApprove, "manager-1", "ok")
	require.NoError(t, err)

	cat, err = mem.GetCategory(ctx, "cat-travel")
	require.NoError(t, err)
	assert.True(t, cat.CurrentSpent.Equal(d("800")))

	require.NoError(t, svc.DeleteVoucher(ctx, v.ID, "manager-1"))

	cat, err = mem.GetCategory(ctx, "cat-travel")
	require.NoError(t, err)
	assert.True(t, cat.CurrentSpent.IsZero(), "reversal restores the spent counter")
	assert.True(t, accountBalance(t, svc, "1001").IsZero())
}

func TestCreateVoucher_Expense_ZeroApprovalLimitAlwaysPends(t *testing.T) {
	svc, mem := newTestService(t)
	mem.PutCategory(ledger.ExpenseCategory{
		ID:               "cat-misc",
		Name:             "Miscellaneous",
		RequiresApproval: true,
	})

	v, err := svc.CreateVoucher(context.Background(), ledger.Input{
		Payload: ledger.ExpensePayload{
			CategoryID: "cat-misc",
			Amount:     d("1"),
			Payment:    cash(),
		},
	}, "clerk-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, v.Status)
}

// =============================================================================
// JOURNAL + APPROVAL FLOW
// =============================================================================

func TestCreateVoucher_Journal_DraftUntilApproved(t *testing.T) {
	// Journals default to draft; approving posts them.
	svc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureSystemAccounts(ctx))

	cashAcct := findAccountByCode(t, svc, "1001")
	expenseAcct := findAccountByCode(t, svc, "5000")

	v, err := svc.CreateVoucher(ctx, ledger.Input{
		Narration: "Year-end adjustment",
		Payload: ledger.JournalPayload{
			DebitAccountID:  expenseAcct.ID,
			CreditAccountID: cashAcct.ID,
			Amount:          d("150"),
		},
	}, "accountant-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDraft, v.Status)
	assert.Contains(t, v.VoucherNo, "JV-")
	assert.Empty(t, activeEntries(t, svc, v.ID))

	_, err = svc.ApproveOrReject(ctx, v.ID, ledger.ActionApprove, "manager-1", "")
	require.NoError(t, err)
	assert.Len(t, activeEntries(t, svc, v.ID), 2)
	assert.True(t, accountBalance(t, svc, "5000").Equal(d("150")))
	assert.True(t, accountBalance(t, svc, "1001").Equal(d("-150")))
}

func TestCreateVoucher_Journal_RejectsInactiveAccount(t *testing.T) {
	// Deactivated accounts are closed to manual postings.
	svc, mem := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureSystemAccounts(ctx))

	cashAcct := findAccountByCode(t, svc, "1001")
	expenseAcct := findAccountByCode(t, svc, "5000")
	expenseAcct.Active = false
	require.NoError(t, mem.SaveAccount(ctx, &expenseAcct))

	_, err := svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.JournalPayload{
			DebitAccountID:  expenseAcct.ID,
			CreditAccountID: cashAcct.ID,
			Amount:          d("150"),
		},
	}, "accountant-1")
	assert.ErrorIs(t, err, ledger.ErrAccountInactive)
}

func TestApproveOrReject_RejectReleasesAllocations(t *testing.T) {
	// GIVEN: A deferred receipt holding an allocation and an advance
	// WHEN: A reviewer rejects it
	// THEN: The invoice outstanding and party balance are restored

	svc, mem := newTestService(t)
	ctx := context.Background()
	seedCustomer(mem, "cust-1", "Acme Traders")
	seedInvoice(mem, "inv-1", "cust-1", ledger.PartyCustomer, "1000", "1000")

	v, err := svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.ReceiptPayload{
			CustomerID:    "cust-1",
			Amount:        d("700"),
			Payment:       cash(),
			Invoices:      []ledger.AllocationRequest{{InvoiceID: "inv-1", Amount: d("600")}},
			DeferApproval: true,
		},
	}, "clerk-1")
	require.NoError(t, err)

	inv, err := mem.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.True(t, inv.Outstanding.Equal(d("400")), "allocation is held while pending")

	rejected, err := svc.ApproveOrReject(ctx, v.ID, ledger.ActionReject, "manager-1", "wrong invoice")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRejected, rejected.Status)
	assert.Empty(t, rejected.Allocations)
	assert.Contains(t, rejected.Narration, "wrong invoice")

	inv, err = mem.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.True(t, inv.Outstanding.Equal(d("1000")), "rejection restores the invoice")
	assert.Equal(t, ledger.InvoiceUnpaid, inv.Status)
	assert.True(t, mem.PartyCashBalance("cust-1", ledger.PartyCustomer).IsZero())
}

func TestApproveOrReject_ApprovedVoucherCannotBeRejected(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	seedCustomer(mem, "cust-1", "Acme Traders")

	v, err := svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.ReceiptPayload{CustomerID: "cust-1", Amount: d("100"), Payment: cash()},
	}, "clerk-1")
	require.NoError(t, err)
	require.Equal(t, ledger.StatusApproved, v.Status)

	_, err = svc.ApproveOrReject(ctx, v.ID, ledger.ActionReject, "manager-1", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInvalidStateTransition)

	var trErr *ledger.StateTransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, ledger.StatusApproved, trErr.From)
	assert.Equal(t, ledger.StatusRejected, trErr.To)
}

func TestApproveOrReject_UnknownAction(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ApproveOrReject(context.Background(), "v-1", ledger.ApprovalAction("shred"), "manager-1", "")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// UPDATE SCENARIOS
// =============================================================================

func TestUpdateVoucher_ApprovedIsFrozenWithoutForce(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	seedCustomer(mem, "cust-1", "Acme Traders")

	v, err := svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.ReceiptPayload{CustomerID: "cust-1", Amount: d("100"), Payment: cash()},
	}, "clerk-1")
	require.NoError(t, err)

	_, err = svc.UpdateVoucher(ctx, v.ID, ledger.Input{
		Payload: ledger.ReceiptPayload{CustomerID: "cust-1", Amount: d("150"), Payment: cash()},
	}, "clerk-1", false)
	assert.ErrorIs(t, err, ledger.ErrImmutableApprovedVoucher)
}

func TestUpdateVoucher_ForceReversesAndReposts(t *testing.T) {
	// GIVEN: An approved 100 receipt allocated to an invoice
	// WHEN: Forced update changes the amount to 250 and the allocation
	// THEN: Old entries are reversed, new ones posted, invoice rebalanced

	svc, mem := newTestService(t)
	ctx := context.Background()
	seedCustomer(mem, "cust-1", "Acme Traders")
	seedInvoice(mem, "inv-1", "cust-1", ledger.PartyCustomer, "400", "400")

	v, err := svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.ReceiptPayload{
			CustomerID: "cust-1",
			Amount:     d("100"),
			Payment:    cash(),
			Invoices:   []ledger.AllocationRequest{{InvoiceID: "inv-1", Amount: d("100")}},
		},
	}, "clerk-1")
	require.NoError(t, err)

	updated, err := svc.UpdateVoucher(ctx, v.ID, ledger.Input{
		Payload: ledger.ReceiptPayload{
			CustomerID: "cust-1",
			Amount:     d("250"),
			Payment:    cash(),
			Invoices:   []ledger.AllocationRequest{{InvoiceID: "inv-1", Amount: d("250")}},
		},
	}, "supervisor-1", true)
	require.NoError(t, err)

	assert.Equal(t, v.ID, updated.ID, "identity survives the rebuild")
	assert.Equal(t, v.VoucherNo, updated.VoucherNo)
	assert.True(t, updated.TotalAmount.Equal(d("250")))
	assert.Equal(t, "supervisor-1", updated.UpdatedBy)
	assert.Equal(t, "clerk-1", updated.CreatedBy)

	inv, err := mem.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.True(t, inv.Outstanding.Equal(d("150")), "400 - 250 after reverse-then-repost")

	assert.True(t, accountBalance(t, svc, "1001").Equal(d("250")))

	all, err := svc.VoucherEntries(ctx, v.ID)
	require.NoError(t, err)
	assert.Len(t, all, 6, "2 original + 2 reversal + 2 reposted")
	assert.Len(t, activeEntries(t, svc, v.ID), 2)
}

func TestUpdateVoucher_KindChangeRejected(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	seedCustomer(mem, "cust-1", "Acme Traders")

	v, err := svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.ReceiptPayload{CustomerID: "cust-1", Amount: d("100"), Payment: cash(), DeferApproval: true},
	}, "clerk-1")
	require.NoError(t, err)

	_, err = svc.UpdateVoucher(ctx, v.ID, ledger.Input{
		Payload: ledger.ExpensePayload{Amount: d("100"), Payment: cash()},
	}, "clerk-1", false)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestUpdateVoucher_NotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.UpdateVoucher(context.Background(), "missing", ledger.Input{
		Payload: ledger.ExpensePayload{Amount: d("1"), Payment: cash()},
	}, "clerk-1", false)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// DELETE SCENARIOS
// =============================================================================

func TestDeleteVoucher_ApprovedIsReversedAndCancelled(t *testing.T) {
	// Deleting never erases history: the voucher survives as cancelled
	// with a full reversal trail.
	svc, mem := newTestService(t)
	ctx := context.Background()
	seedCustomer(mem, "cust-1", "Acme Traders")
	seedInvoice(mem, "inv-1", "cust-1", ledger.PartyCustomer, "300", "300")

	v, err := svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.ReceiptPayload{
			CustomerID: "cust-1",
			Amount:     d("300"),
			Payment:    cash(),
			Invoices:   []ledger.AllocationRequest{{InvoiceID: "inv-1", Amount: d("300")}},
		},
	}, "clerk-1")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteVoucher(ctx, v.ID, "manager-1"))

	got, err := svc.GetVoucher(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCancelled, got.Status)

	inv, err := mem.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.True(t, inv.Outstanding.Equal(d("300")), "allocation undone")
	assert.Equal(t, ledger.InvoiceUnpaid, inv.Status)

	assert.True(t, accountBalance(t, svc, "1001").IsZero())
	assert.Empty(t, activeEntries(t, svc, v.ID))

	all, err := svc.VoucherEntries(ctx, v.ID)
	require.NoError(t, err)
	assert.Len(t, all, 4, "originals plus mirrors, nothing deleted")
}

func TestDeleteVoucher_CancelledIsIdempotent(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	seedCustomer(mem, "cust-1", "Acme Traders")

	v, err := svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.ReceiptPayload{CustomerID: "cust-1", Amount: d("50"), Payment: cash()},
	}, "clerk-1")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteVoucher(ctx, v.ID, "manager-1"))
	require.NoError(t, svc.DeleteVoucher(ctx, v.ID, "manager-1"))

	all, err := svc.VoucherEntries(ctx, v.ID)
	require.NoError(t, err)
	assert.Len(t, all, 4, "second delete must not reverse again")
}

func TestDeleteVoucher_NotFound(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.DeleteVoucher(context.Background(), "missing", "manager-1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// VOUCHER NUMBERING AND LISTING
// =============================================================================

func TestCreateVoucher_SequencesPerTypePerDay(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	seedCustomer(mem, "cust-1", "Acme Traders")

	day := time.Date(2026, time.March, 5, 10, 0, 0, 0, time.UTC)
	mk := func() *ledger.Voucher {
		v, err := svc.CreateVoucher(ctx, ledger.Input{
			Date:    day,
			Payload: ledger.ReceiptPayload{CustomerID: "cust-1", Amount: d("10"), Payment: cash()},
		}, "clerk-1")
		require.NoError(t, err)
		return v
	}

	assert.Equal(t, "RV-20260305-0001", mk().VoucherNo)
	assert.Equal(t, "RV-20260305-0002", mk().VoucherNo)

	e, err := svc.CreateVoucher(ctx, ledger.Input{
		Date:    day,
		Payload: ledger.ExpensePayload{Amount: d("5"), Payment: cash()},
	}, "clerk-1")
	require.NoError(t, err)
	assert.Equal(t, "EV-20260305-0001", e.VoucherNo, "sequences are per type")
}

func TestListVouchers_FilterByTypeAndStatus(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	seedCustomer(mem, "cust-1", "Acme Traders")

	_, err := svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.ReceiptPayload{CustomerID: "cust-1", Amount: d("10"), Payment: cash()},
	}, "clerk-1")
	require.NoError(t, err)
	_, err = svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.ReceiptPayload{CustomerID: "cust-1", Amount: d("20"), Payment: cash(), DeferApproval: true},
	}, "clerk-1")
	require.NoError(t, err)
	_, err = svc.CreateVoucher(ctx, ledger.Input{
		Payload: ledger.ExpensePayload{Amount: d("5"), Payment: cash()},
	}, "clerk-1")
	require.NoError(t, err)

	receipts, err := svc.ListVouchers(ctx, ledger.VoucherFilter{Type: ledger.VoucherReceipt})
	require.NoError(t, err)
	assert.Len(t, receipts, 2)

	pending, err := svc.ListVouchers(ctx, ledger.VoucherFilter{Status: ledger.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].TotalAmount.Equal(d("20")))

	byParty, err := svc.ListVouchers(ctx, ledger.VoucherFilter{PartyID: "cust-1"})
	require.NoError(t, err)
	assert.Len(t, byParty, 2)
}

// =============================================================================
// CONFLICT RETRY
// =============================================================================

// flakyStore wraps the memory store and fails the first n transactions
// with a transient conflict.
type flakyStore struct {
	*store.Memory
	failures int
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if f.failures > 0 {
		f.failures--
		return ledger.ErrTxConflict
	}
	return f.Memory.WithTx(ctx, fn)
}

func TestRunUnit_RetriesTransientConflicts(t *testing.T) {
	// Two conflicts then success: the caller never sees the conflicts.
	mem := store.NewMemory()
	flaky := &flakyStore{Memory: mem, failures: 2}
	svc := ledger.NewService(flaky, mem, mem, mem,
		ledger.WithRetry(3, time.Millisecond))
	seedCustomer(mem, "cust-1", "Acme Traders")

	v, err := svc.CreateVoucher(context.Background(), ledger.Input{
		Payload: ledger.ReceiptPayload{CustomerID: "cust-1", Amount: d("10"), Payment: cash()},
	}, "clerk-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, v.Status)
}

func TestRunUnit_ExhaustedConflictSurfaces(t *testing.T) {
	mem := store.NewMemory()
	flaky := &flakyStore{Memory: mem, failures: 10}
	svc := ledger.NewService(flaky, mem, mem, mem,
		ledger.WithRetry(3, time.Millisecond))
	seedCustomer(mem, "cust-1", "Acme Traders")

	_, err := svc.CreateVoucher(context.Background(), ledger.Input{
		Payload: ledger.ReceiptPayload{CustomerID: "cust-1", Amount: d("10"), Payment: cash()},
	}, "clerk-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrConcurrencyConflict)
	assert.False(t, errors.Is(err, ledger.ErrTxConflict), "transient sentinel stays internal")
	assert.Equal(t, 7, flaky.failures, "exactly maxAttempts transactions tried")
}
