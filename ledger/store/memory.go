/*
Package store provides an in-memory ledger.TxStore for tests and dev.

The memory store also implements the collaborator interfaces
(InvoiceBook, PartyDirectory, CategoryBook) against local maps, so a
service wired to it exercises the same capability-assert path as the
sqlite and postgres stores. WithTx takes a deep snapshot of all state
and restores it when the unit fails, giving real all-or-nothing
semantics without a database.
*/
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// STATE - plain maps, no locking; Memory and its tx view share these ops
// =============================================================================

type party struct {
	Name        string
	CashBalance decimal.Decimal
}

type partyKey struct {
	ID   string
	Type ledger.PartyType
}

type seqKey struct {
	Type ledger.VoucherType
	Day  string
}

type state struct {
	accounts   map[string]*ledger.Account
	byCode     map[string]string // code -> account id
	vouchers   map[string]*ledger.Voucher
	entries    []ledger.Entry
	sequences  map[seqKey]int
	invoices   map[string]*ledger.Invoice
	parties    map[partyKey]*party
	categories map[string]*ledger.ExpenseCategory
}

func newState() *state {
	return &state{
		accounts:   make(map[string]*ledger.Account),
		byCode:     make(map[string]string),
		vouchers:   make(map[string]*ledger.Voucher),
		sequences:  make(map[seqKey]int),
		invoices:   make(map[string]*ledger.Invoice),
		parties:    make(map[partyKey]*party),
		categories: make(map[string]*ledger.ExpenseCategory),
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, a := range s.accounts {
		cp := *a
		c.accounts[id] = &cp
	}
	for code, id := range s.byCode {
		c.byCode[code] = id
	}
	for id, v := range s.vouchers {
		c.vouchers[id] = cloneVoucher(v)
	}
	c.entries = make([]ledger.Entry, len(s.entries))
	copy(c.entries, s.entries)
	for k, n := range s.sequences {
		c.sequences[k] = n
	}
	for id, inv := range s.invoices {
		cp := *inv
		c.invoices[id] = &cp
	}
	for k, p := range s.parties {
		cp := *p
		c.parties[k] = &cp
	}
	for id, cat := range s.categories {
		cp := *cat
		c.categories[id] = &cp
	}
	return c
}

func cloneVoucher(v *ledger.Voucher) *ledger.Voucher {
	cp := *v
	cp.Allocations = append([]ledger.Allocation(nil), v.Allocations...)
	cp.Lines = append([]ledger.Line(nil), v.Lines...)
	cp.Attachments = append([]string(nil), v.Attachments...)
	if v.ApprovedAt != nil {
		t := *v.ApprovedAt
		cp.ApprovedAt = &t
	}
	return &cp
}

// ---- account ops ----

func (s *state) saveAccount(a *ledger.Account) error {
	if existingID, ok := s.byCode[a.Code]; ok && existingID != a.ID {
		return ledger.ErrDuplicateCode
	}
	if old, ok := s.accounts[a.ID]; ok && old.Code != a.Code {
		delete(s.byCode, old.Code)
	}
	cp := *a
	s.accounts[a.ID] = &cp
	s.byCode[a.Code] = a.ID
	return nil
}

func (s *state) getAccount(id string) *ledger.Account {
	a, ok := s.accounts[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

func (s *state) getAccountByCode(code string) *ledger.Account {
	id, ok := s.byCode[code]
	if !ok {
		return nil
	}
	return s.getAccount(id)
}

func (s *state) listAccounts() []ledger.Account {
	out := make([]ledger.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (s *state) hasChildren(id string) bool {
	for _, a := range s.accounts {
		if a.ParentID == id {
			return true
		}
	}
	return false
}

func (s *state) deleteAccount(id string) {
	if a, ok := s.accounts[id]; ok {
		delete(s.byCode, a.Code)
		delete(s.accounts, id)
	}
}

// ---- voucher ops ----

func (s *state) saveVoucher(v *ledger.Voucher) error {
	for id, other := range s.vouchers {
		if id != v.ID && other.VoucherNo == v.VoucherNo {
			return ledger.ErrDuplicateCode
		}
	}
	s.vouchers[v.ID] = cloneVoucher(v)
	return nil
}

func (s *state) getVoucher(id string) *ledger.Voucher {
	v, ok := s.vouchers[id]
	if !ok {
		return nil
	}
	return cloneVoucher(v)
}

func (s *state) listVouchers(f ledger.VoucherFilter) []ledger.Voucher {
	var out []ledger.Voucher
	for _, v := range s.vouchers {
		if f.Type != "" && v.Type != f.Type {
			continue
		}
		if f.Status != "" && v.Status != f.Status {
			continue
		}
		if f.PartyID != "" && v.PartyID != f.PartyID {
			continue
		}
		if f.DateFrom != nil && v.Date.Before(*f.DateFrom) {
			continue
		}
		if f.DateTo != nil && v.Date.After(*f.DateTo) {
			continue
		}
		out = append(out, *cloneVoucher(v))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].VoucherNo > out[j].VoucherNo
	})
	return out
}

func (s *state) nextSequence(t ledger.VoucherType, day time.Time) int {
	k := seqKey{Type: t, Day: day.Format("2006-01-02")}
	s.sequences[k]++
	return s.sequences[k]
}

// ---- entry ops ----

func (s *state) appendEntry(e *ledger.Entry) {
	s.entries = append(s.entries, *e)
}

func (s *state) entriesByVoucher(voucherID string) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range s.entries {
		if e.VoucherID == voucherID {
			out = append(out, e)
		}
	}
	return out
}

func (s *state) hasActiveEntries(voucherID string) bool {
	for _, e := range s.entries {
		if e.VoucherID == voucherID && !e.Reversed {
			return true
		}
	}
	return false
}

func (s *state) markReversed(voucherID string, at time.Time) {
	for i := range s.entries {
		if s.entries[i].VoucherID == voucherID && !s.entries[i].Reversed {
			s.entries[i].Reversed = true
			t := at
			s.entries[i].ReversedAt = &t
		}
	}
}

func inRange(e ledger.Entry, from, to time.Time) bool {
	return !e.Date.Before(from) && !e.Date.After(to)
}

func (s *state) entriesByAccount(accountID string, from, to time.Time) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range s.entries {
		if e.AccountID == accountID && inRange(e, from, to) {
			out = append(out, e)
		}
	}
	return out
}

func (s *state) entriesByParty(partyID string, partyType ledger.PartyType, from, to time.Time) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range s.entries {
		if e.PartyID == partyID && e.PartyType == partyType && inRange(e, from, to) {
			out = append(out, e)
		}
	}
	return out
}

func (s *state) entriesInRange(from, to time.Time) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range s.entries {
		if inRange(e, from, to) {
			out = append(out, e)
		}
	}
	return out
}

// ---- collaborator ops ----

func (s *state) getInvoice(id string) *ledger.Invoice {
	inv, ok := s.invoices[id]
	if !ok {
		return nil
	}
	cp := *inv
	return &cp
}

func (s *state) applyAllocation(id string, amount decimal.Decimal) (decimal.Decimal, error) {
	inv, ok := s.invoices[id]
	if !ok {
		return decimal.Zero, &ledger.NotFoundError{Kind: "invoice", ID: id}
	}
	inv.Outstanding = inv.Outstanding.Sub(amount)
	if inv.Outstanding.IsNegative() {
		inv.Outstanding = decimal.Zero
	}
	inv.Status = ledger.SettlementStatus(inv.Outstanding, inv.TotalAmount)
	return inv.Outstanding, nil
}

func (s *state) reverseAllocation(id string, amount decimal.Decimal) error {
	inv, ok := s.invoices[id]
	if !ok {
		return &ledger.NotFoundError{Kind: "invoice", ID: id}
	}
	inv.Outstanding = inv.Outstanding.Add(amount)
	if inv.Outstanding.GreaterThan(inv.TotalAmount) {
		inv.Outstanding = inv.TotalAmount
	}
	if inv.Outstanding.IsNegative() {
		inv.Outstanding = decimal.Zero
	}
	inv.Status = ledger.SettlementStatus(inv.Outstanding, inv.TotalAmount)
	return nil
}

func (s *state) getDisplayName(partyID string, partyType ledger.PartyType) (string, error) {
	p, ok := s.parties[partyKey{ID: partyID, Type: partyType}]
	if !ok {
		return "", &ledger.NotFoundError{Kind: "party", ID: partyID}
	}
	return p.Name, nil
}

func (s *state) adjustCashBalance(partyID string, partyType ledger.PartyType, delta decimal.Decimal) error {
	p, ok := s.parties[partyKey{ID: partyID, Type: partyType}]
	if !ok {
		return &ledger.NotFoundError{Kind: "party", ID: partyID}
	}
	p.CashBalance = p.CashBalance.Add(delta)
	return nil
}

func (s *state) getCategory(id string) *ledger.ExpenseCategory {
	c, ok := s.categories[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

func (s *state) addSpent(id string, delta decimal.Decimal) error {
	c, ok := s.categories[id]
	if !ok {
		return &ledger.NotFoundError{Kind: "category", ID: id}
	}
	c.CurrentSpent = c.CurrentSpent.Add(delta)
	return nil
}

// =============================================================================
// MEMORY - locked outer store
// =============================================================================

// Memory is an in-memory ledger.TxStore.
type Memory struct {
	mu sync.Mutex
	st *state
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// WithTx runs fn against a snapshot-guarded view. On error the entire
// pre-unit state is restored.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&txView{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *Memory) SaveAccount(_ context.Context, a *ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.saveAccount(a)
}

func (m *Memory) GetAccount(_ context.Context, id string) (*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getAccount(id), nil
}

func (m *Memory) GetAccountByCode(_ context.Context, code string) (*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getAccountByCode(code), nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listAccounts(), nil
}

func (m *Memory) HasChildren(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.hasChildren(id), nil
}

func (m *Memory) DeleteAccount(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.deleteAccount(id)
	return nil
}

func (m *Memory) SaveVoucher(_ context.Context, v *ledger.Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.saveVoucher(v)
}

func (m *Memory) GetVoucher(_ context.Context, id string) (*ledger.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getVoucher(id), nil
}

func (m *Memory) ListVouchers(_ context.Context, f ledger.VoucherFilter) ([]ledger.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listVouchers(f), nil
}

func (m *Memory) NextSequence(_ context.Context, t ledger.VoucherType, day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.nextSequence(t, day), nil
}

func (m *Memory) AppendEntry(_ context.Context, e *ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.appendEntry(e)
	return nil
}

func (m *Memory) EntriesByVoucher(_ context.Context, voucherID string) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.entriesByVoucher(voucherID), nil
}

func (m *Memory) HasActiveEntries(_ context.Context, voucherID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.hasActiveEntries(voucherID), nil
}

func (m *Memory) MarkReversed(_ context.Context, voucherID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.markReversed(voucherID, at)
	return nil
}

func (m *Memory) EntriesByAccount(_ context.Context, accountID string, from, to time.Time) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.entriesByAccount(accountID, from, to), nil
}

func (m *Memory) EntriesByParty(_ context.Context, partyID string, partyType ledger.PartyType, from, to time.Time) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.entriesByParty(partyID, partyType, from, to), nil
}

func (m *Memory) EntriesInRange(_ context.Context, from, to time.Time) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.entriesInRange(from, to), nil
}

// ---- collaborators (outer) ----

func (m *Memory) GetInvoice(_ context.Context, id string) (*ledger.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getInvoice(id), nil
}

func (m *Memory) ApplyAllocation(_ context.Context, id string, amount decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.applyAllocation(id, amount)
}

func (m *Memory) ReverseAllocation(_ context.Context, id string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.reverseAllocation(id, amount)
}

func (m *Memory) GetDisplayName(_ context.Context, partyID string, partyType ledger.PartyType) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getDisplayName(partyID, partyType)
}

func (m *Memory) AdjustCashBalance(_ context.Context, partyID string, partyType ledger.PartyType, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.adjustCashBalance(partyID, partyType, delta)
}

func (m *Memory) GetCategory(_ context.Context, id string) (*ledger.ExpenseCategory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getCategory(id), nil
}

func (m *Memory) AddSpent(_ context.Context, id string, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.addSpent(id, delta)
}

// ---- seeding (dev/test) ----

// PutInvoice seeds or replaces an invoice.
func (m *Memory) PutInvoice(inv ledger.Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.Status == "" {
		inv.Status = ledger.SettlementStatus(inv.Outstanding, inv.TotalAmount)
	}
	cp := inv
	m.st.invoices[inv.ID] = &cp
}

// PutParty seeds or replaces a party directory record.
func (m *Memory) PutParty(id string, t ledger.PartyType, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.parties[partyKey{ID: id, Type: t}] = &party{Name: name, CashBalance: decimal.Zero}
}

// PutCategory seeds or replaces an expense category.
func (m *Memory) PutCategory(c ledger.ExpenseCategory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := c
	m.st.categories[c.ID] = &cp
}

// PartyCashBalance reads a party's on-account balance (test helper).
func (m *Memory) PartyCashBalance(id string, t ledger.PartyType) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.parties[partyKey{ID: id, Type: t}]
	if !ok {
		return decimal.Zero
	}
	return p.CashBalance
}

// =============================================================================
// TX VIEW - unlocked; the outer WithTx holds the lock
// =============================================================================

type txView struct {
	st *state
}

func (t *txView) SaveAccount(_ context.Context, a *ledger.Account) error { return t.st.saveAccount(a) }
func (t *txView) GetAccount(_ context.Context, id string) (*ledger.Account, error) {
	return t.st.getAccount(id), nil
}
func (t *txView) GetAccountByCode(_ context.Context, code string) (*ledger.Account, error) {
	return t.st.getAccountByCode(code), nil
}
func (t *txView) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	return t.st.listAccounts(), nil
}
func (t *txView) HasChildren(_ context.Context, id string) (bool, error) {
	return t.st.hasChildren(id), nil
}
func (t *txView) DeleteAccount(_ context.Context, id string) error {
	t.st.deleteAccount(id)
	return nil
}

func (t *txView) SaveVoucher(_ context.Context, v *ledger.Voucher) error { return t.st.saveVoucher(v) }
func (t *txView) GetVoucher(_ context.Context, id string) (*ledger.Voucher, error) {
	return t.st.getVoucher(id), nil
}
func (t *txView) ListVouchers(_ context.Context, f ledger.VoucherFilter) ([]ledger.Voucher, error) {
	return t.st.listVouchers(f), nil
}
func (t *txView) NextSequence(_ context.Context, vt ledger.VoucherType, day time.Time) (int, error) {
	return t.st.nextSequence(vt, day), nil
}

func (t *txView) AppendEntry(_ context.Context, e *ledger.Entry) error {
	t.st.appendEntry(e)
	return nil
}
func (t *txView) EntriesByVoucher(_ context.Context, voucherID string) ([]ledger.Entry, error) {
	return t.st.entriesByVoucher(voucherID), nil
}
func (t *txView) HasActiveEntries(_ context.Context, voucherID string) (bool, error) {
	return t.st.hasActiveEntries(voucherID), nil
}
func (t *txView) MarkReversed(_ context.Context, voucherID string, at time.Time) error {
	t.st.markReversed(voucherID, at)
	return nil
}
func (t *txView) EntriesByAccount(_ context.Context, accountID string, from, to time.Time) ([]ledger.Entry, error) {
	return t.st.entriesByAccount(accountID, from, to), nil
}
func (t *txView) EntriesByParty(_ context.Context, partyID string, partyType ledger.PartyType, from, to time.Time) ([]ledger.Entry, error) {
	return t.st.entriesByParty(partyID, partyType, from, to), nil
}
func (t *txView) EntriesInRange(_ context.Context, from, to time.Time) ([]ledger.Entry, error) {
	return t.st.entriesInRange(from, to), nil
}

func (t *txView) GetInvoice(_ context.Context, id string) (*ledger.Invoice, error) {
	return t.st.getInvoice(id), nil
}
func (t *txView) ApplyAllocation(_ context.Context, id string, amount decimal.Decimal) (decimal.Decimal, error) {
	return t.st.applyAllocation(id, amount)
}
func (t *txView) ReverseAllocation(_ context.Context, id string, amount decimal.Decimal) error {
	return t.st.reverseAllocation(id, amount)
}
func (t *txView) GetDisplayName(_ context.Context, partyID string, partyType ledger.PartyType) (string, error) {
	return t.st.getDisplayName(partyID, partyType)
}
func (t *txView) AdjustCashBalance(_ context.Context, partyID string, partyType ledger.PartyType, delta decimal.Decimal) error {
	return t.st.adjustCashBalance(partyID, partyType, delta)
}
func (t *txView) GetCategory(_ context.Context, id string) (*ledger.ExpenseCategory, error) {
	return t.st.getCategory(id), nil
}
func (t *txView) AddSpent(_ context.Context, id string, delta decimal.Decimal) error {
	return t.st.addSpent(id, delta)
}
