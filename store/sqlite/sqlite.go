/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements ledger.TxStore plus the collaborator interfaces (InvoiceBook,
  PartyDirectory, CategoryBook) against local tables, so voucher writes,
  invoice settlement and party advances all commit in one transaction.

INTERFACES IMPLEMENTED:
  ledger.Store:          accounts, vouchers, entries, sequences
  ledger.TxStore:        atomic units via WithTx
  ledger.InvoiceBook:    invoice outstanding/settlement
  ledger.PartyDirectory: party names and on-account balances
  ledger.CategoryBook:   expense category budgets

APPEND-ONLY ENFORCEMENT:
  The entries table is never updated except for the reversal markers
  (reversed, reversed_at) and never deleted. Corrections happen through
  mirror entries written by the poster.

KEY TABLES:
  accounts:           Chart of accounts with cached running balances
  vouchers:           Transaction documents (lines and allocations as JSON)
  entries:            Immutable ledger of all postings
  voucher_sequences:  Per-type, per-day counters behind voucher numbers
  invoices:           Collaborator table, outstanding amounts
  parties:            Collaborator table, display names and advances
  expense_categories: Collaborator table, budgets and approval limits

CONFLICT MAPPING:
  - "UNIQUE constraint failed"         -> ledger.ErrDuplicateCode
  - "database is locked" / SQLITE_BUSY -> ledger.ErrTxConflict
  The service retries ErrTxConflict with backoff.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := ledger.NewService(store, store, store, store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
  - store/postgres: serializable-isolation variant
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite allows a single writer anyway, and a pool of
	// one keeps ":memory:" databases from silently forking per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Chart of accounts
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		sub_type TEXT,
		parent_id TEXT,
		level INTEGER DEFAULT 0,
		active BOOLEAN DEFAULT TRUE,
		allow_direct_posting BOOLEAN DEFAULT TRUE,
		system_account BOOLEAN DEFAULT FALSE,
		current_balance TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_parent ON accounts(parent_id);
	CREATE INDEX IF NOT EXISTS idx_accounts_type ON accounts(type);

	-- Vouchers (transaction documents)
	CREATE TABLE IF NOT EXISTS vouchers (
		id TEXT PRIMARY KEY,
		voucher_no TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		date TEXT NOT NULL,
		party_id TEXT,
		party_type TEXT,
		party_name TEXT,
		allocations_json TEXT,
		on_account TEXT NOT NULL DEFAULT '0',
		from_account_id TEXT,
		to_account_id TEXT,
		category_id TEXT,
		total_amount TEXT NOT NULL DEFAULT '0',
		lines_json TEXT,
		payment_mode TEXT,
		cheque_no TEXT,
		bank_account_no TEXT,
		transaction_id TEXT,
		status TEXT NOT NULL,
		narration TEXT,
		attachments_json TEXT,
		created_by TEXT,
		updated_by TEXT,
		approved_by TEXT,
		approved_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vouchers_type_status ON vouchers(type, status);
	CREATE INDEX IF NOT EXISTS idx_vouchers_party ON vouchers(party_id);
	CREATE INDEX IF NOT EXISTS idx_vouchers_date ON vouchers(date DESC);

	-- Entries (append-only ledger)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		voucher_id TEXT NOT NULL,
		voucher_no TEXT NOT NULL,
		voucher_type TEXT NOT NULL,
		account_id TEXT NOT NULL,
		account_code TEXT NOT NULL,
		account_name TEXT NOT NULL,
		date TEXT NOT NULL,
		debit TEXT NOT NULL DEFAULT '0',
		credit TEXT NOT NULL DEFAULT '0',
		narration TEXT,
		party_id TEXT,
		party_type TEXT,
		running_balance TEXT NOT NULL DEFAULT '0',
		reversed BOOLEAN DEFAULT FALSE,
		reversed_at TEXT,
		created_at TEXT NOT NULL,
		seq INTEGER
	);

	-- Balance calculation and statements (hot paths)
	CREATE INDEX IF NOT EXISTS idx_entries_voucher ON entries(voucher_id);
	CREATE INDEX IF NOT EXISTS idx_entries_account_date ON entries(account_id, date);
	CREATE INDEX IF NOT EXISTS idx_entries_party_date ON entries(party_id, party_type, date);
	CREATE INDEX IF NOT EXISTS idx_entries_date ON entries(date);

	-- Per-type, per-day voucher numbering
	CREATE TABLE IF NOT EXISTS voucher_sequences (
		type TEXT NOT NULL,
		day TEXT NOT NULL,
		n INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (type, day)
	);

	-- Collaborator: invoices
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		party_id TEXT NOT NULL,
		party_type TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		outstanding TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_party ON invoices(party_id, party_type);

	-- Collaborator: parties
	CREATE TABLE IF NOT EXISTS parties (
		id TEXT NOT NULL,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		cash_balance TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (id, type)
	);

	-- Collaborator: expense categories
	CREATE TABLE IF NOT EXISTS expense_categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		monthly_budget TEXT NOT NULL DEFAULT '0',
		yearly_budget TEXT NOT NULL DEFAULT '0',
		requires_approval BOOLEAN DEFAULT FALSE,
		approval_limit TEXT NOT NULL DEFAULT '0',
		default_account_id TEXT,
		current_spent TEXT NOT NULL DEFAULT '0'
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx so the same operation
// code serves direct calls and transaction-scoped calls.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ACCOUNT STORE (ledger.AccountStore interface)
// =============================================================================

func (s *Store) SaveAccount(ctx context.Context, a *ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveAccount(ctx, s.db, a)
}

func saveAccount(ctx context.Context, q querier, a *ledger.Account) error {
	query := `
		INSERT INTO accounts
		(id, code, name, type, sub_type, parent_id, level, active,
		 allow_direct_posting, system_account, current_balance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			type = excluded.type,
			sub_type = excluded.sub_type,
			parent_id = excluded.parent_id,
			level = excluded.level,
			active = excluded.active,
			allow_direct_posting = excluded.allow_direct_posting,
			system_account = excluded.system_account,
			current_balance = excluded.current_balance,
			updated_at = excluded.updated_at
	`

	_, err := q.ExecContext(ctx, query,
		a.ID, a.Code, a.Name, string(a.Type), a.SubType,
		nullString(a.ParentID), a.Level, a.Active,
		a.AllowDirectPosting, a.SystemAccount,
		a.CurrentBalance.String(),
		timeOrNow(a.CreatedAt), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return mapWriteError(err, "failed to save account")
	}
	return nil
}

const accountCols = `id, code, name, type, sub_type, parent_id, level, active,
	allow_direct_posting, system_account, current_balance, created_at, updated_at`

func (s *Store) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, "id", id)
}

func (s *Store) GetAccountByCode(ctx context.Context, code string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, "code", code)
}

func getAccount(ctx context.Context, q querier, col, key string) (*ledger.Account, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+accountCols+" FROM accounts WHERE "+col+" = ?", key)

	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAccounts(ctx, s.db)
}

func listAccounts(ctx context.Context, q querier) ([]ledger.Account, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+accountCols+" FROM accounts ORDER BY code")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (s *Store) HasChildren(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasChildren(ctx, s.db, id)
}

func hasChildren(ctx context.Context, q querier, id string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM accounts WHERE parent_id = ?", id).Scan(&count)
	return count > 0, err
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteAccount(ctx, s.db, id)
}

func deleteAccount(ctx context.Context, q querier, id string) error {
	_, err := q.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*ledger.Account, error) {
	var (
		a                  ledger.Account
		accType            string
		subType, parentID  sql.NullString
		balance            string
		createdAt, updated string
	)

	err := row.Scan(
		&a.ID, &a.Code, &a.Name, &accType, &subType, &parentID, &a.Level,
		&a.Active, &a.AllowDirectPosting, &a.SystemAccount,
		&balance, &createdAt, &updated,
	)
	if err != nil {
		return nil, err
	}

	a.Type = ledger.AccountType(accType)
	a.SubType = subType.String
	a.ParentID = parentID.String
	a.CurrentBalance = parseDecimal(balance)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &a, nil
}

// =============================================================================
// VOUCHER STORE (ledger.VoucherStore interface)
// =============================================================================

func (s *Store) SaveVoucher(ctx context.Context, v *ledger.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveVoucher(ctx, s.db, v)
}

func saveVoucher(ctx context.Context, q querier, v *ledger.Voucher) error {
	allocationsJSON, _ := json.Marshal(v.Allocations)
	linesJSON, _ := json.Marshal(v.Lines)
	attachmentsJSON, _ := json.Marshal(v.Attachments)

	var approvedAt *string
	if v.ApprovedAt != nil {
		t := v.ApprovedAt.Format(time.RFC3339)
		approvedAt = &t
	}

	query := `
		INSERT INTO vouchers
		(id, voucher_no, type, date, party_id, party_type, party_name,
		 allocations_json, on_account, from_account_id, to_account_id, category_id,
		 total_amount, lines_json, payment_mode, cheque_no, bank_account_no,
		 transaction_id, status, narration, attachments_json,
		 created_by, updated_by, approved_by, approved_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			party_id = excluded.party_id,
			party_type = excluded.party_type,
			party_name = excluded.party_name,
			allocations_json = excluded.allocations_json,
			on_account = excluded.on_account,
			from_account_id = excluded.from_account_id,
			to_account_id = excluded.to_account_id,
			category_id = excluded.category_id,
			total_amount = excluded.total_amount,
			lines_json = excluded.lines_json,
			payment_mode = excluded.payment_mode,
			cheque_no = excluded.cheque_no,
			bank_account_no = excluded.bank_account_no,
			transaction_id = excluded.transaction_id,
			status = excluded.status,
			narration = excluded.narration,
			attachments_json = excluded.attachments_json,
			updated_by = excluded.updated_by,
			approved_by = excluded.approved_by,
			approved_at = excluded.approved_at,
			updated_at = excluded.updated_at
	`

	_, err := q.ExecContext(ctx, query,
		v.ID, v.VoucherNo, string(v.Type), v.Date.Format(time.RFC3339),
		nullString(v.PartyID), nullString(string(v.PartyType)), v.PartyName,
		string(allocationsJSON), v.OnAccountAmount.String(),
		nullString(v.FromAccountID), nullString(v.ToAccountID), nullString(v.CategoryID),
		v.TotalAmount.String(), string(linesJSON),
		nullString(string(v.Payment.Mode)), v.Payment.ChequeNo,
		v.Payment.BankAccountNo, v.Payment.TransactionID,
		string(v.Status), v.Narration, string(attachmentsJSON),
		v.CreatedBy, v.UpdatedBy, v.ApprovedBy, approvedAt,
		timeOrNow(v.CreatedAt), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return mapWriteError(err, "failed to save voucher")
	}
	return nil
}

const voucherCols = `id, voucher_no, type, date, party_id, party_type, party_name,
	allocations_json, on_account, from_account_id, to_account_id, category_id,
	total_amount, lines_json, payment_mode, cheque_no, bank_account_no,
	transaction_id, status, narration, attachments_json,
	created_by, updated_by, approved_by, approved_at, created_at, updated_at`

func (s *Store) GetVoucher(ctx context.Context, id string) (*ledger.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getVoucher(ctx, s.db, id)
}

func getVoucher(ctx context.Context, q querier, id string) (*ledger.Voucher, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+voucherCols+" FROM vouchers WHERE id = ?", id)

	v, err := scanVoucher(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Store) ListVouchers(ctx context.Context, f ledger.VoucherFilter) ([]ledger.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listVouchers(ctx, s.db, f)
}

func listVouchers(ctx context.Context, q querier, f ledger.VoucherFilter) ([]ledger.Voucher, error) {
	query := "SELECT " + voucherCols + " FROM vouchers WHERE 1=1"
	var args []any

	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.PartyID != "" {
		query += " AND party_id = ?"
		args = append(args, f.PartyID)
	}
	if f.DateFrom != nil {
		query += " AND date >= ?"
		args = append(args, f.DateFrom.Format(time.RFC3339))
	}
	if f.DateTo != nil {
		query += " AND date <= ?"
		args = append(args, f.DateTo.Format(time.RFC3339))
	}
	query += " ORDER BY date DESC, voucher_no DESC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vouchers []ledger.Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		vouchers = append(vouchers, *v)
	}
	return vouchers, rows.Err()
}

func scanVoucher(row rowScanner) (*ledger.Voucher, error) {
	var (
		v                                 ledger.Voucher
		vType, date, status               string
		partyID, partyType                sql.NullString
		allocationsJSON, linesJSON        sql.NullString
		attachmentsJSON                   sql.NullString
		onAccount, totalAmount            string
		fromAccount, toAccount, category  sql.NullString
		paymentMode                       sql.NullString
		approvedAt                        sql.NullString
		createdAt, updatedAt              string
	)

	err := row.Scan(
		&v.ID, &v.VoucherNo, &vType, &date, &partyID, &partyType, &v.PartyName,
		&allocationsJSON, &onAccount, &fromAccount, &toAccount, &category,
		&totalAmount, &linesJSON, &paymentMode, &v.Payment.ChequeNo,
		&v.Payment.BankAccountNo, &v.Payment.TransactionID,
		&status, &v.Narration, &attachmentsJSON,
		&v.CreatedBy, &v.UpdatedBy, &v.ApprovedBy, &approvedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	v.Type = ledger.VoucherType(vType)
	v.Date, _ = time.Parse(time.RFC3339, date)
	v.PartyID = partyID.String
	v.PartyType = ledger.PartyType(partyType.String)
	v.OnAccountAmount = parseDecimal(onAccount)
	v.FromAccountID = fromAccount.String
	v.ToAccountID = toAccount.String
	v.CategoryID = category.String
	v.TotalAmount = parseDecimal(totalAmount)
	v.Payment.Mode = ledger.PaymentMode(paymentMode.String)
	v.Status = ledger.VoucherStatus(status)
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	v.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	if allocationsJSON.Valid && allocationsJSON.String != "" {
		json.Unmarshal([]byte(allocationsJSON.String), &v.Allocations)
	}
	if linesJSON.Valid && linesJSON.String != "" {
		json.Unmarshal([]byte(linesJSON.String), &v.Lines)
	}
	if attachmentsJSON.Valid && attachmentsJSON.String != "" {
		json.Unmarshal([]byte(attachmentsJSON.String), &v.Attachments)
	}
	if approvedAt.Valid {
		t, _ := time.Parse(time.RFC3339, approvedAt.String)
		v.ApprovedAt = &t
	}

	return &v, nil
}

func (s *Store) NextSequence(ctx context.Context, t ledger.VoucherType, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nextSequence(ctx, s.db, t, day)
}

func nextSequence(ctx context.Context, q querier, t ledger.VoucherType, day time.Time) (int, error) {
	dayStr := day.Format("2006-01-02")

	_, err := q.ExecContext(ctx, `
		INSERT INTO voucher_sequences (type, day, n) VALUES (?, ?, 1)
		ON CONFLICT(type, day) DO UPDATE SET n = voucher_sequences.n + 1
	`, string(t), dayStr)
	if err != nil {
		return 0, mapWriteError(err, "failed to advance sequence")
	}

	var n int
	err = q.QueryRowContext(ctx,
		"SELECT n FROM voucher_sequences WHERE type = ? AND day = ?",
		string(t), dayStr).Scan(&n)
	return n, err
}

// =============================================================================
// ENTRY STORE (ledger.EntryStore interface)
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, q querier, e *ledger.Entry) error {
	var reversedAt *string
	if e.ReversedAt != nil {
		t := e.ReversedAt.Format(time.RFC3339)
		reversedAt = &t
	}

	query := `
		INSERT INTO entries
		(id, voucher_id, voucher_no, voucher_type, account_id, account_code,
		 account_name, date, debit, credit, narration, party_id, party_type,
		 running_balance, reversed, reversed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		e.ID, e.VoucherID, e.VoucherNo, string(e.VoucherType),
		e.AccountID, e.AccountCode, e.AccountName,
		e.Date.Format(time.RFC3339),
		e.Debit.String(), e.Credit.String(), e.Narration,
		nullString(e.PartyID), nullString(string(e.PartyType)),
		e.RunningBalance.String(), e.Reversed, reversedAt,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return mapWriteError(err, "failed to append entry")
	}
	return nil
}

const entryCols = `id, voucher_id, voucher_no, voucher_type, account_id, account_code,
	account_name, date, debit, credit, narration, party_id, party_type,
	running_balance, reversed, reversed_at, created_at`

func (s *Store) EntriesByVoucher(ctx context.Context, voucherID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryEntries(ctx, s.db,
		"SELECT "+entryCols+" FROM entries WHERE voucher_id = ? ORDER BY created_at ASC, rowid ASC",
		voucherID)
}

func (s *Store) HasActiveEntries(ctx context.Context, voucherID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasActiveEntries(ctx, s.db, voucherID)
}

func hasActiveEntries(ctx context.Context, q querier, voucherID string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE voucher_id = ? AND reversed = FALSE",
		voucherID).Scan(&count)
	return count > 0, err
}

func (s *Store) MarkReversed(ctx context.Context, voucherID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markReversed(ctx, s.db, voucherID, at)
}

func markReversed(ctx context.Context, q querier, voucherID string, at time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE entries SET reversed = TRUE, reversed_at = ?
		WHERE voucher_id = ? AND reversed = FALSE
	`, at.Format(time.RFC3339), voucherID)
	if err != nil {
		return mapWriteError(err, "failed to mark entries reversed")
	}
	return nil
}

func (s *Store) EntriesByAccount(ctx context.Context, accountID string, from, to time.Time) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryEntries(ctx, s.db,
		"SELECT "+entryCols+` FROM entries
		 WHERE account_id = ? AND date >= ? AND date <= ?
		 ORDER BY date ASC, created_at ASC, rowid ASC`,
		accountID, from.Format(time.RFC3339), to.Format(time.RFC3339))
}

func (s *Store) EntriesByParty(ctx context.Context, partyID string, partyType ledger.PartyType, from, to time.Time) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryEntries(ctx, s.db,
		"SELECT "+entryCols+` FROM entries
		 WHERE party_id = ? AND party_type = ? AND date >= ? AND date <= ?
		 ORDER BY date ASC, created_at ASC, rowid ASC`,
		partyID, string(partyType), from.Format(time.RFC3339), to.Format(time.RFC3339))
}

func (s *Store) EntriesInRange(ctx context.Context, from, to time.Time) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryEntries(ctx, s.db,
		"SELECT "+entryCols+` FROM entries
		 WHERE date >= ? AND date <= ?
		 ORDER BY date ASC, created_at ASC, rowid ASC`,
		from.Format(time.RFC3339), to.Format(time.RFC3339))
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanEntry(row rowScanner) (*ledger.Entry, error) {
	var (
		e                     ledger.Entry
		vType, date           string
		debit, credit         string
		partyID, partyType    sql.NullString
		runningBalance        string
		reversedAt            sql.NullString
		createdAt             string
	)

	err := row.Scan(
		&e.ID, &e.VoucherID, &e.VoucherNo, &vType,
		&e.AccountID, &e.AccountCode, &e.AccountName,
		&date, &debit, &credit, &e.Narration,
		&partyID, &partyType, &runningBalance,
		&e.Reversed, &reversedAt, &createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.VoucherType = ledger.VoucherType(vType)
	e.Date, _ = time.Parse(time.RFC3339, date)
	e.Debit = parseDecimal(debit)
	e.Credit = parseDecimal(credit)
	e.PartyID = partyID.String
	e.PartyType = ledger.PartyType(partyType.String)
	e.RunningBalance = parseDecimal(runningBalance)
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if reversedAt.Valid {
		t, _ := time.Parse(time.RFC3339, reversedAt.String)
		e.ReversedAt = &t
	}
	return &e, nil
}

// =============================================================================
// COLLABORATORS (InvoiceBook, PartyDirectory, CategoryBook)
// =============================================================================

func (s *Store) GetInvoice(ctx context.Context, id string) (*ledger.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getInvoice(ctx, s.db, id)
}

func getInvoice(ctx context.Context, q querier, id string) (*ledger.Invoice, error) {
	var (
		inv                ledger.Invoice
		partyType, status  string
		total, outstanding string
	)

	err := q.QueryRowContext(ctx,
		"SELECT id, party_id, party_type, total_amount, outstanding, status FROM invoices WHERE id = ?",
		id).Scan(&inv.ID, &inv.PartyID, &partyType, &total, &outstanding, &status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	inv.PartyType = ledger.PartyType(partyType)
	inv.TotalAmount = parseDecimal(total)
	inv.Outstanding = parseDecimal(outstanding)
	inv.Status = ledger.InvoiceStatus(status)
	return &inv, nil
}

func (s *Store) ApplyAllocation(ctx context.Context, id string, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return applyAllocation(ctx, s.db, id, amount)
}

func applyAllocation(ctx context.Context, q querier, id string, amount decimal.Decimal) (decimal.Decimal, error) {
	inv, err := getInvoice(ctx, q, id)
	if err != nil {
		return decimal.Zero, err
	}
	if inv == nil {
		return decimal.Zero, &ledger.NotFoundError{Kind: "invoice", ID: id}
	}

	outstanding := inv.Outstanding.Sub(amount)
	if outstanding.IsNegative() {
		outstanding = decimal.Zero
	}
	status := ledger.SettlementStatus(outstanding, inv.TotalAmount)

	_, err = q.ExecContext(ctx,
		"UPDATE invoices SET outstanding = ?, status = ? WHERE id = ?",
		outstanding.String(), string(status), id)
	if err != nil {
		return decimal.Zero, mapWriteError(err, "failed to apply allocation")
	}
	return outstanding, nil
}

func (s *Store) ReverseAllocation(ctx context.Context, id string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return reverseAllocation(ctx, s.db, id, amount)
}

func reverseAllocation(ctx context.Context, q querier, id string, amount decimal.Decimal) error {
	inv, err := getInvoice(ctx, q, id)
	if err != nil {
		return err
	}
	if inv == nil {
		return &ledger.NotFoundError{Kind: "invoice", ID: id}
	}

	outstanding := inv.Outstanding.Add(amount)
	if outstanding.GreaterThan(inv.TotalAmount) {
		outstanding = inv.TotalAmount
	}
	if outstanding.IsNegative() {
		outstanding = decimal.Zero
	}
	status := ledger.SettlementStatus(outstanding, inv.TotalAmount)

	_, err = q.ExecContext(ctx,
		"UPDATE invoices SET outstanding = ?, status = ? WHERE id = ?",
		outstanding.String(), string(status), id)
	if err != nil {
		return mapWriteError(err, "failed to reverse allocation")
	}
	return nil
}

func (s *Store) GetDisplayName(ctx context.Context, partyID string, partyType ledger.PartyType) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDisplayName(ctx, s.db, partyID, partyType)
}

func getDisplayName(ctx context.Context, q querier, partyID string, partyType ledger.PartyType) (string, error) {
	var name string
	err := q.QueryRowContext(ctx,
		"SELECT name FROM parties WHERE id = ? AND type = ?",
		partyID, string(partyType)).Scan(&name)
	if err == sql.ErrNoRows {
		return "", &ledger.NotFoundError{Kind: "party", ID: partyID}
	}
	return name, err
}

func (s *Store) AdjustCashBalance(ctx context.Context, partyID string, partyType ledger.PartyType, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return adjustCashBalance(ctx, s.db, partyID, partyType, delta)
}

func adjustCashBalance(ctx context.Context, q querier, partyID string, partyType ledger.PartyType, delta decimal.Decimal) error {
	var balance string
	err := q.QueryRowContext(ctx,
		"SELECT cash_balance FROM parties WHERE id = ? AND type = ?",
		partyID, string(partyType)).Scan(&balance)
	if err == sql.ErrNoRows {
		return &ledger.NotFoundError{Kind: "party", ID: partyID}
	}
	if err != nil {
		return err
	}

	next := parseDecimal(balance).Add(delta)
	_, err = q.ExecContext(ctx,
		"UPDATE parties SET cash_balance = ? WHERE id = ? AND type = ?",
		next.String(), partyID, string(partyType))
	if err != nil {
		return mapWriteError(err, "failed to adjust cash balance")
	}
	return nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (*ledger.ExpenseCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCategory(ctx, s.db, id)
}

func getCategory(ctx context.Context, q querier, id string) (*ledger.ExpenseCategory, error) {
	var (
		c                           ledger.ExpenseCategory
		monthly, yearly             string
		approvalLimit, currentSpent string
		defaultAccount              sql.NullString
	)

	err := q.QueryRowContext(ctx, `
		SELECT id, name, monthly_budget, yearly_budget, requires_approval,
		       approval_limit, default_account_id, current_spent
		FROM expense_categories WHERE id = ?
	`, id).Scan(&c.ID, &c.Name, &monthly, &yearly, &c.RequiresApproval,
		&approvalLimit, &defaultAccount, &currentSpent)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.MonthlyBudget = parseDecimal(monthly)
	c.YearlyBudget = parseDecimal(yearly)
	c.ApprovalLimit = parseDecimal(approvalLimit)
	c.DefaultAccountID = defaultAccount.String
	c.CurrentSpent = parseDecimal(currentSpent)
	return &c, nil
}

func (s *Store) AddSpent(ctx context.Context, id string, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addSpent(ctx, s.db, id, delta)
}

func addSpent(ctx context.Context, q querier, id string, delta decimal.Decimal) error {
	var spent string
	err := q.QueryRowContext(ctx,
		"SELECT current_spent FROM expense_categories WHERE id = ?", id).Scan(&spent)
	if err == sql.ErrNoRows {
		return &ledger.NotFoundError{Kind: "category", ID: id}
	}
	if err != nil {
		return err
	}

	next := parseDecimal(spent).Add(delta)
	_, err = q.ExecContext(ctx,
		"UPDATE expense_categories SET current_spent = ? WHERE id = ?",
		next.String(), id)
	if err != nil {
		return mapWriteError(err, "failed to add spent")
	}
	return nil
}

// =============================================================================
// SEEDING (admin surface)
// =============================================================================

// SaveInvoice upserts an invoice record.
func (s *Store) SaveInvoice(ctx context.Context, inv ledger.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv.Status == "" {
		inv.Status = ledger.SettlementStatus(inv.Outstanding, inv.TotalAmount)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, party_id, party_type, total_amount, outstanding, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			party_id = excluded.party_id,
			party_type = excluded.party_type,
			total_amount = excluded.total_amount,
			outstanding = excluded.outstanding,
			status = excluded.status
	`, inv.ID, inv.PartyID, string(inv.PartyType),
		inv.TotalAmount.String(), inv.Outstanding.String(), string(inv.Status))
	return err
}

// SaveParty upserts a party directory record.
func (s *Store) SaveParty(ctx context.Context, id string, t ledger.PartyType, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parties (id, type, name, cash_balance)
		VALUES (?, ?, ?, '0')
		ON CONFLICT(id, type) DO UPDATE SET name = excluded.name
	`, id, string(t), name)
	return err
}

// SaveCategory upserts an expense category.
func (s *Store) SaveCategory(ctx context.Context, c ledger.ExpenseCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expense_categories
		(id, name, monthly_budget, yearly_budget, requires_approval,
		 approval_limit, default_account_id, current_spent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			monthly_budget = excluded.monthly_budget,
			yearly_budget = excluded.yearly_budget,
			requires_approval = excluded.requires_approval,
			approval_limit = excluded.approval_limit,
			default_account_id = excluded.default_account_id
	`, c.ID, c.Name, c.MonthlyBudget.String(), c.YearlyBudget.String(),
		c.RequiresApproval, c.ApprovalLimit.String(),
		nullString(c.DefaultAccountID), c.CurrentSpent.String())
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The store
// handed to fn routes every operation through the transaction, including
// the collaborator tables.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapWriteError(err, "failed to begin transaction")
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapWriteError(err, "failed to commit transaction")
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SaveAccount(ctx context.Context, a *ledger.Account) error {
	return saveAccount(ctx, ts.tx, a)
}

func (ts *txStore) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	return getAccount(ctx, ts.tx, "id", id)
}

func (ts *txStore) GetAccountByCode(ctx context.Context, code string) (*ledger.Account, error) {
	return getAccount(ctx, ts.tx, "code", code)
}

func (ts *txStore) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return listAccounts(ctx, ts.tx)
}

func (ts *txStore) HasChildren(ctx context.Context, id string) (bool, error) {
	return hasChildren(ctx, ts.tx, id)
}

func (ts *txStore) DeleteAccount(ctx context.Context, id string) error {
	return deleteAccount(ctx, ts.tx, id)
}

func (ts *txStore) SaveVoucher(ctx context.Context, v *ledger.Voucher) error {
	return saveVoucher(ctx, ts.tx, v)
}

func (ts *txStore) GetVoucher(ctx context.Context, id string) (*ledger.Voucher, error) {
	return getVoucher(ctx, ts.tx, id)
}

func (ts *txStore) ListVouchers(ctx context.Context, f ledger.VoucherFilter) ([]ledger.Voucher, error) {
	return listVouchers(ctx, ts.tx, f)
}

func (ts *txStore) NextSequence(ctx context.Context, t ledger.VoucherType, day time.Time) (int, error) {
	return nextSequence(ctx, ts.tx, t, day)
}

func (ts *txStore) AppendEntry(ctx context.Context, e *ledger.Entry) error {
	return appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) EntriesByVoucher(ctx context.Context, voucherID string) ([]ledger.Entry, error) {
	return queryEntries(ctx, ts.tx,
		"SELECT "+entryCols+" FROM entries WHERE voucher_id = ? ORDER BY created_at ASC, rowid ASC",
		voucherID)
}

func (ts *txStore) HasActiveEntries(ctx context.Context, voucherID string) (bool, error) {
	return hasActiveEntries(ctx, ts.tx, voucherID)
}

func (ts *txStore) MarkReversed(ctx context.Context, voucherID string, at time.Time) error {
	return markReversed(ctx, ts.tx, voucherID, at)
}

func (ts *txStore) EntriesByAccount(ctx context.Context, accountID string, from, to time.Time) ([]ledger.Entry, error) {
	return queryEntries(ctx, ts.tx,
		"SELECT "+entryCols+` FROM entries
		 WHERE account_id = ? AND date >= ? AND date <= ?
		 ORDER BY date ASC, created_at ASC, rowid ASC`,
		accountID, from.Format(time.RFC3339), to.Format(time.RFC3339))
}

func (ts *txStore) EntriesByParty(ctx context.Context, partyID string, partyType ledger.PartyType, from, to time.Time) ([]ledger.Entry, error) {
	return queryEntries(ctx, ts.tx,
		"SELECT "+entryCols+` FROM entries
		 WHERE party_id = ? AND party_type = ? AND date >= ? AND date <= ?
		 ORDER BY date ASC, created_at ASC, rowid ASC`,
		partyID, string(partyType), from.Format(time.RFC3339), to.Format(time.RFC3339))
}

func (ts *txStore) EntriesInRange(ctx context.Context, from, to time.Time) ([]ledger.Entry, error) {
	return queryEntries(ctx, ts.tx,
		"SELECT "+entryCols+` FROM entries
		 WHERE date >= ? AND date <= ?
		 ORDER BY date ASC, created_at ASC, rowid ASC`,
		from.Format(time.RFC3339), to.Format(time.RFC3339))
}

func (ts *txStore) GetInvoice(ctx context.Context, id string) (*ledger.Invoice, error) {
	return getInvoice(ctx, ts.tx, id)
}

func (ts *txStore) ApplyAllocation(ctx context.Context, id string, amount decimal.Decimal) (decimal.Decimal, error) {
	return applyAllocation(ctx, ts.tx, id, amount)
}

func (ts *txStore) ReverseAllocation(ctx context.Context, id string, amount decimal.Decimal) error {
	return reverseAllocation(ctx, ts.tx, id, amount)
}

func (ts *txStore) GetDisplayName(ctx context.Context, partyID string, partyType ledger.PartyType) (string, error) {
	return getDisplayName(ctx, ts.tx, partyID, partyType)
}

func (ts *txStore) AdjustCashBalance(ctx context.Context, partyID string, partyType ledger.PartyType, delta decimal.Decimal) error {
	return adjustCashBalance(ctx, ts.tx, partyID, partyType, delta)
}

func (ts *txStore) GetCategory(ctx context.Context, id string) (*ledger.ExpenseCategory, error) {
	return getCategory(ctx, ts.tx, id)
}

func (ts *txStore) AddSpent(ctx context.Context, id string, delta decimal.Decimal) error {
	return addSpent(ctx, ts.tx, id, delta)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"entries", "vouchers", "voucher_sequences", "accounts",
		"invoices", "parties", "expense_categories"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func timeOrNow(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.Format(time.RFC3339)
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func mapWriteError(err error, msg string) error {
	if isUniqueConstraintError(err) {
		return ledger.ErrDuplicateCode
	}
	if isBusyError(err) {
		return ledger.ErrTxConflict
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
