package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleAccount(code string) *ledger.Account {
	now := time.Now().UTC()
	return &ledger.Account{
		ID:                 uuid.NewString(),
		Code:               code,
		Name:               "Account " + code,
		Type:               ledger.AccountAsset,
		SubType:            "cash",
		Active:             true,
		AllowDirectPosting: true,
		CurrentBalance:     decimal.Zero,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestAccounts_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := sampleAccount("1001")
	a.SystemAccount = true
	require.NoError(t, store.SaveAccount(ctx, a))

	got, err := store.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.Code, got.Code)
	assert.Equal(t, a.Type, got.Type)
	assert.True(t, got.SystemAccount)
	assert.True(t, got.CurrentBalance.IsZero())

	byCode, err := store.GetAccountByCode(ctx, "1001")
	require.NoError(t, err)
	require.NotNil(t, byCode)
	assert.Equal(t, a.ID, byCode.ID)

	// Upsert updates in place.
	a.CurrentBalance = d("42.50")
	require.NoError(t, store.SaveAccount(ctx, a))
	got, err = store.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.CurrentBalance.Equal(d("42.50")))
}

func TestAccounts_MissingReturnsNil(t *testing.T) {
	store := newTestStore(t)
	got, err := store.GetAccount(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAccounts_DuplicateCode(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveAccount(ctx, sampleAccount("1001")))
	err := store.SaveAccount(ctx, sampleAccount("1001"))
	assert.ErrorIs(t, err, ledger.ErrDuplicateCode)
}

func TestAccounts_HierarchyQueries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	parent := sampleAccount("1000")
	require.NoError(t, store.SaveAccount(ctx, parent))

	child := sampleAccount("1100")
	child.ParentID = parent.ID
	child.Level = 1
	require.NoError(t, store.SaveAccount(ctx, child))

	has, err := store.HasChildren(ctx, parent.ID)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = store.HasChildren(ctx, child.ID)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, store.DeleteAccount(ctx, child.ID))
	got, err := store.GetAccount(ctx, child.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	list, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "1000", list[0].Code)
}

// =============================================================================
// VOUCHERS AND SEQUENCES
// =============================================================================

func sampleVoucher(no string, vt ledger.VoucherType) *ledger.Voucher {
	now := time.Now().UTC()
	return &ledger.Voucher{
		ID:        uuid.NewString(),
		VoucherNo: no,
		Type:      vt,
		Date:      now,
		PartyID:   "cust-1",
		PartyType: ledger.PartyCustomer,
		PartyName: "Acme Traders",
		Allocations: []ledger.Allocation{
			{InvoiceID: "inv-1", Amount: d("100"), PreviousBalance: d("100"), NewBalance: decimal.Zero},
		},
		OnAccountAmount: d("20"),
		TotalAmount:     d("120"),
		Lines: []ledger.Line{
			{AccountID: "a1", AccountCode: "1001", AccountName: "Cash", Debit: d("120"), Credit: decimal.Zero},
			{AccountID: "a2", AccountCode: "AR-cust-1", AccountName: "Receivable", Debit: decimal.Zero, Credit: d("120")},
		},
		Payment:     ledger.PaymentDetails{Mode: ledger.ModeCheque, ChequeNo: "CHQ-9"},
		Status:      ledger.StatusApproved,
		Narration:   "test receipt",
		Attachments: []string{"scan-1.pdf"},
		CreatedBy:   "clerk-1",
		UpdatedBy:   "clerk-1",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestVouchers_RoundTripWithJSONColumns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	v := sampleVoucher("RV-20260301-0001", ledger.VoucherReceipt)
	require.NoError(t, store.SaveVoucher(ctx, v))

	got, err := store.GetVoucher(ctx, v.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, v.VoucherNo, got.VoucherNo)
	assert.Equal(t, ledger.VoucherReceipt, got.Type)
	assert.Equal(t, "cust-1", got.PartyID)
	assert.True(t, got.TotalAmount.Equal(d("120")))
	assert.True(t, got.OnAccountAmount.Equal(d("20")))
	require.Len(t, got.Allocations, 1)
	assert.True(t, got.Allocations[0].Amount.Equal(d("100")))
	require.Len(t, got.Lines, 2)
	assert.True(t, got.Lines[0].Debit.Equal(d("120")))
	assert.Equal(t, ledger.ModeCheque, got.Payment.Mode)
	assert.Equal(t, "CHQ-9", got.Payment.ChequeNo)
	assert.Equal(t, []string{"scan-1.pdf"}, got.Attachments)
	assert.True(t, got.Balanced())
}

func TestVouchers_DuplicateNumber(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveVoucher(ctx, sampleVoucher("RV-0001", ledger.VoucherReceipt)))
	err := store.SaveVoucher(ctx, sampleVoucher("RV-0001", ledger.VoucherReceipt))
	assert.ErrorIs(t, err, ledger.ErrDuplicateCode)
}

func TestVouchers_ListFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := sampleVoucher("RV-0001", ledger.VoucherReceipt)
	require.NoError(t, store.SaveVoucher(ctx, r))

	e := sampleVoucher("EV-0001", ledger.VoucherExpense)
	e.PartyID, e.PartyType, e.PartyName = "", "", ""
	e.Status = ledger.StatusPending
	require.NoError(t, store.SaveVoucher(ctx, e))

	byType, err := store.ListVouchers(ctx, ledger.VoucherFilter{Type: ledger.VoucherReceipt})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "RV-0001", byType[0].VoucherNo)

	byStatus, err := store.ListVouchers(ctx, ledger.VoucherFilter{Status: ledger.StatusPending})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "EV-0001", byStatus[0].VoucherNo)

	byParty, err := store.ListVouchers(ctx, ledger.VoucherFilter{PartyID: "cust-1"})
	require.NoError(t, err)
	assert.Len(t, byParty, 1)

	all, err := store.ListVouchers(ctx, ledger.VoucherFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestNextSequence_PerTypePerDay(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC)

	n, err := store.NextSequence(ctx, ledger.VoucherReceipt, day)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.NextSequence(ctx, ledger.VoucherReceipt, day)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.NextSequence(ctx, ledger.VoucherExpense, day)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "independent counter per type")

	n, err = store.NextSequence(ctx, ledger.VoucherReceipt, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "independent counter per day")
}

// =============================================================================
// ENTRIES
// =============================================================================

func sampleEntry(voucherID, accountID string, debit, credit string) *ledger.Entry {
	return &ledger.Entry{
		ID:             uuid.NewString(),
		VoucherID:      voucherID,
		VoucherNo:      "RV-0001",
		VoucherType:    ledger.VoucherReceipt,
		AccountID:      accountID,
		AccountCode:    "1001",
		AccountName:    "Cash",
		Date:           time.Now().UTC(),
		Debit:          d(debit),
		Credit:         d(credit),
		PartyID:        "cust-1",
		PartyType:      ledger.PartyCustomer,
		RunningBalance: d(debit).Sub(d(credit)),
		CreatedAt:      time.Now().UTC(),
	}
}

func TestEntries_AppendAndReversalMarkers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e1 := sampleEntry("v-1", "a-1", "100", "0")
	e2 := sampleEntry("v-1", "a-2", "0", "100")
	require.NoError(t, store.AppendEntry(ctx, e1))
	require.NoError(t, store.AppendEntry(ctx, e2))

	active, err := store.HasActiveEntries(ctx, "v-1")
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, store.MarkReversed(ctx, "v-1", time.Now().UTC()))

	active, err = store.HasActiveEntries(ctx, "v-1")
	require.NoError(t, err)
	assert.False(t, active)

	entries, err := store.EntriesByVoucher(ctx, "v-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.True(t, e.Reversed)
		require.NotNil(t, e.ReversedAt)
	}
}

func TestEntries_RangeQueries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := sampleEntry("v-1", "a-1", "50", "0")
	old.Date = time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendEntry(ctx, old))

	recent := sampleEntry("v-2", "a-1", "70", "0")
	recent.Date = time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendEntry(ctx, recent))

	from := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, time.December, 31, 0, 0, 0, 0, time.UTC)

	byAccount, err := store.EntriesByAccount(ctx, "a-1", from, to)
	require.NoError(t, err)
	require.Len(t, byAccount, 1)
	assert.True(t, byAccount[0].Debit.Equal(d("70")))

	byParty, err := store.EntriesByParty(ctx, "cust-1", ledger.PartyCustomer, time.Time{}, to)
	require.NoError(t, err)
	assert.Len(t, byParty, 2)

	inRange, err := store.EntriesInRange(ctx, time.Time{}, to)
	require.NoError(t, err)
	assert.Len(t, inRange, 2)
}

// =============================================================================
// COLLABORATORS
// =============================================================================

func TestInvoices_AllocationLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveInvoice(ctx, ledger.Invoice{
		ID: "inv-1", PartyID: "cust-1", PartyType: ledger.PartyCustomer,
		TotalAmount: d("1000"), Outstanding: d("1000"),
	}))

	remaining, err := store.ApplyAllocation(ctx, "inv-1", d("600"))
	require.NoError(t, err)
	assert.True(t, remaining.Equal(d("400")))

	inv, err := store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.InvoicePartial, inv.Status)

	remaining, err = store.ApplyAllocation(ctx, "inv-1", d("400"))
	require.NoError(t, err)
	assert.True(t, remaining.IsZero())

	inv, err = store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.InvoicePaid, inv.Status)

	require.NoError(t, store.ReverseAllocation(ctx, "inv-1", d("400")))
	require.NoError(t, store.ReverseAllocation(ctx, "inv-1", d("600")))

	inv, err = store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.True(t, inv.Outstanding.Equal(d("1000")))
	assert.Equal(t, ledger.InvoiceUnpaid, inv.Status)

	// Restoration clamps at the invoice total.
	require.NoError(t, store.ReverseAllocation(ctx, "inv-1", d("50")))
	inv, err = store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.True(t, inv.Outstanding.Equal(d("1000")))
}

func TestParties_NamesAndBalances(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveParty(ctx, "cust-1", ledger.PartyCustomer, "Acme Traders"))

	name, err := store.GetDisplayName(ctx, "cust-1", ledger.PartyCustomer)
	require.NoError(t, err)
	assert.Equal(t, "Acme Traders", name)

	_, err = store.GetDisplayName(ctx, "cust-1", ledger.PartyVendor)
	assert.ErrorIs(t, err, ledger.ErrNotFound, "party identity is (id, type)")

	require.NoError(t, store.AdjustCashBalance(ctx, "cust-1", ledger.PartyCustomer, d("250")))
	require.NoError(t, store.AdjustCashBalance(ctx, "cust-1", ledger.PartyCustomer, d("-100")))

	err = store.AdjustCashBalance(ctx, "ghost", ledger.PartyCustomer, d("1"))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestCategories_SpendCounter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCategory(ctx, ledger.ExpenseCategory{
		ID: "cat-1", Name: "Travel",
		MonthlyBudget: d("5000"), RequiresApproval: true, ApprovalLimit: d("500"),
	}))

	cat, err := store.GetCategory(ctx, "cat-1")
	require.NoError(t, err)
	require.NotNil(t, cat)
	assert.True(t, cat.RequiresApproval)
	assert.True(t, cat.ApprovalLimit.Equal(d("500")))

	require.NoError(t, store.AddSpent(ctx, "cat-1", d("200")))
	require.NoError(t, store.AddSpent(ctx, "cat-1", d("-50")))

	cat, err = store.GetCategory(ctx, "cat-1")
	require.NoError(t, err)
	assert.True(t, cat.CurrentSpent.Equal(d("150")))

	missing, err := store.GetCategory(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sentinel := assert.AnError
	err := store.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.SaveAccount(ctx, sampleAccount("1001")); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	got, err := store.GetAccountByCode(ctx, "1001")
	require.NoError(t, err)
	assert.Nil(t, got, "failed unit leaves no trace")
}

func TestWithTx_CommitsCollaboratorsAtomically(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveInvoice(ctx, ledger.Invoice{
		ID: "inv-1", PartyID: "cust-1", PartyType: ledger.PartyCustomer,
		TotalAmount: d("100"), Outstanding: d("100"),
	}))

	err := store.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.SaveAccount(ctx, sampleAccount("1001")); err != nil {
			return err
		}
		book := tx.(ledger.InvoiceBook)
		_, err := book.ApplyAllocation(ctx, "inv-1", d("100"))
		return err
	})
	require.NoError(t, err)

	acct, err := store.GetAccountByCode(ctx, "1001")
	require.NoError(t, err)
	assert.NotNil(t, acct)

	inv, err := store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.InvoicePaid, inv.Status)
}

// =============================================================================
// FULL SERVICE OVER SQLITE
// =============================================================================

func TestService_EndToEndOverSQLite(t *testing.T) {
	// GIVEN: A customer with an outstanding invoice, sqlite-backed
	// WHEN: A receipt settles it and is later cancelled
	// THEN: Settlement and reversal round-trip through the real store

	store := newTestStore(t)
	ctx := context.Background()
	svc := ledger.NewService(store, store, store, store)

	require.NoError(t, store.SaveParty(ctx, "cust-1", ledger.PartyCustomer, "Acme Traders"))
	require.NoError(t, store.SaveInvoice(ctx, ledger.Invoice{
		ID: "inv-1", PartyID: "cust-1", PartyType: ledger.PartyCustomer,
		TotalAmount: d("1000"), Outstanding: d("1000"),
	}))

	v, err := svc.CreateVoucher(ctx, ledger.Input{
		Narration: "Settlement",
		Payload: ledger.ReceiptPayload{
			CustomerID: "cust-1",
			Amount:     d("1000"),
			Payment:    ledger.PaymentDetails{Mode: ledger.ModeCash},
			Invoices:   []ledger.AllocationRequest{{InvoiceID: "inv-1", Amount: d("1000")}},
		},
	}, "clerk-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, v.Status)

	inv, err := store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.InvoicePaid, inv.Status)

	cashAcct, err := store.GetAccountByCode(ctx, "1001")
	require.NoError(t, err)
	require.NotNil(t, cashAcct)
	assert.True(t, cashAcct.CurrentBalance.Equal(d("1000")))

	require.NoError(t, svc.DeleteVoucher(ctx, v.ID, "manager-1"))

	inv, err = store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.True(t, inv.Outstanding.Equal(d("1000")))

	cashAcct, err = store.GetAccountByCode(ctx, "1001")
	require.NoError(t, err)
	assert.True(t, cashAcct.CurrentBalance.IsZero())

	entries, err := store.EntriesByVoucher(ctx, v.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}
