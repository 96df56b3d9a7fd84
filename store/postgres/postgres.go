/*
Package postgres provides a PostgreSQL-backed implementation of the
storage interfaces.

PURPOSE:
  Same surface as store/sqlite against PostgreSQL. WithTx opens
  SERIALIZABLE transactions; serialization failures surface as
  ledger.ErrTxConflict and the service retries them with backoff.

CONFLICT MAPPING (pq error codes):
  23505 unique_violation        -> ledger.ErrDuplicateCode
  40001 serialization_failure   -> ledger.ErrTxConflict
  40P01 deadlock_detected       -> ledger.ErrTxConflict

CONCURRENCY:
  No process-level locking here; the database's MVCC and serializable
  isolation carry the concurrency control. That is the difference from
  store/sqlite, which additionally guards the single-writer file.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/sqlite: schema twin in SQLite dialect
*/
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// Store implements all storage interfaces using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a connection pool and migrates the schema.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
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
		current_balance NUMERIC(18,4) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_parent ON accounts(parent_id);

	CREATE TABLE IF NOT EXISTS vouchers (
		id TEXT PRIMARY KEY,
		voucher_no TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		date TIMESTAMPTZ NOT NULL,
		party_id TEXT,
		party_type TEXT,
		party_name TEXT,
		allocations_json JSONB,
		on_account NUMERIC(18,4) NOT NULL DEFAULT 0,
		from_account_id TEXT,
		to_account_id TEXT,
		category_id TEXT,
		total_amount NUMERIC(18,4) NOT NULL DEFAULT 0,
		lines_json JSONB,
		payment_mode TEXT,
		cheque_no TEXT,
		bank_account_no TEXT,
		transaction_id TEXT,
		status TEXT NOT NULL,
		narration TEXT,
		attachments_json JSONB,
		created_by TEXT,
		updated_by TEXT,
		approved_by TEXT,
		approved_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vouchers_type_status ON vouchers(type, status);
	CREATE INDEX IF NOT EXISTS idx_vouchers_party ON vouchers(party_id);
	CREATE INDEX IF NOT EXISTS idx_vouchers_date ON vouchers(date DESC);

	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		voucher_id TEXT NOT NULL,
		voucher_no TEXT NOT NULL,
		voucher_type TEXT NOT NULL,
		account_id TEXT NOT NULL,
		account_code TEXT NOT NULL,
		account_name TEXT NOT NULL,
		date TIMESTAMPTZ NOT NULL,
		debit NUMERIC(18,4) NOT NULL DEFAULT 0,
		credit NUMERIC(18,4) NOT NULL DEFAULT 0,
		narration TEXT,
		party_id TEXT,
		party_type TEXT,
		running_balance NUMERIC(18,4) NOT NULL DEFAULT 0,
		reversed BOOLEAN DEFAULT FALSE,
		reversed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		seq BIGSERIAL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_voucher ON entries(voucher_id);
	CREATE INDEX IF NOT EXISTS idx_entries_account_date ON entries(account_id, date);
	CREATE INDEX IF NOT EXISTS idx_entries_party_date ON entries(party_id, party_type, date);
	CREATE INDEX IF NOT EXISTS idx_entries_date ON entries(date);

	CREATE TABLE IF NOT EXISTS voucher_sequences (
		type TEXT NOT NULL,
		day TEXT NOT NULL,
		n INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (type, day)
	);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		party_id TEXT NOT NULL,
		party_type TEXT NOT NULL,
		total_amount NUMERIC(18,4) NOT NULL,
		outstanding NUMERIC(18,4) NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_party ON invoices(party_id, party_type);

	CREATE TABLE IF NOT EXISTS parties (
		id TEXT NOT NULL,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		cash_balance NUMERIC(18,4) NOT NULL DEFAULT 0,
		PRIMARY KEY (id, type)
	);

	CREATE TABLE IF NOT EXISTS expense_categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		monthly_budget NUMERIC(18,4) NOT NULL DEFAULT 0,
		yearly_budget NUMERIC(18,4) NOT NULL DEFAULT 0,
		requires_approval BOOLEAN DEFAULT FALSE,
		approval_limit NUMERIC(18,4) NOT NULL DEFAULT 0,
		default_account_id TEXT,
		current_spent NUMERIC(18,4) NOT NULL DEFAULT 0
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

const accountCols = `id, code, name, type, sub_type, parent_id, level, active,
	allow_direct_posting, system_account, current_balance, created_at, updated_at`

func (s *Store) SaveAccount(ctx context.Context, a *ledger.Account) error {
	return saveAccount(ctx, s.db, a)
}

func saveAccount(ctx context.Context, q querier, a *ledger.Account) error {
	query := `
		INSERT INTO accounts
		(id, code, name, type, sub_type, parent_id, level, active,
		 allow_direct_posting, system_account, current_balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			sub_type = EXCLUDED.sub_type,
			parent_id = EXCLUDED.parent_id,
			level = EXCLUDED.level,
			active = EXCLUDED.active,
			allow_direct_posting = EXCLUDED.allow_direct_posting,
			system_account = EXCLUDED.system_account,
			current_balance = EXCLUDED.current_balance,
			updated_at = EXCLUDED.updated_at
	`

	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err := q.ExecContext(ctx, query,
		a.ID, a.Code, a.Name, string(a.Type), nullString(a.SubType),
		nullString(a.ParentID), a.Level, a.Active,
		a.AllowDirectPosting, a.SystemAccount,
		a.CurrentBalance.String(), created, time.Now().UTC(),
	)
	if err != nil {
		return mapWriteError(err, "failed to save account")
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	return getAccount(ctx, s.db, "id", id)
}

func (s *Store) GetAccountByCode(ctx context.Context, code string) (*ledger.Account, error) {
	return getAccount(ctx, s.db, "code", code)
}

func getAccount(ctx context.Context, q querier, col, key string) (*ledger.Account, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+accountCols+" FROM accounts WHERE "+col+" = $1", key)

	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
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
	return hasChildren(ctx, s.db, id)
}

func hasChildren(ctx context.Context, q querier, id string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM accounts WHERE parent_id = $1", id).Scan(&count)
	return count > 0, err
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	return deleteAccount(ctx, s.db, id)
}

func deleteAccount(ctx context.Context, q querier, id string) error {
	_, err := q.ExecContext(ctx, "DELETE FROM accounts WHERE id = $1", id)
	return err
}

func scanAccount(row rowScanner) (*ledger.Account, error) {
	var (
		a                 ledger.Account
		accType           string
		subType, parentID sql.NullString
		balance           string
	)

	err := row.Scan(
		&a.ID, &a.Code, &a.Name, &accType, &subType, &parentID, &a.Level,
		&a.Active, &a.AllowDirectPosting, &a.SystemAccount,
		&balance, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Type = ledger.AccountType(accType)
	a.SubType = subType.String
	a.ParentID = parentID.String
	a.CurrentBalance = parseDecimal(balance)
	return &a, nil
}

// =============================================================================
// VOUCHER STORE
// =============================================================================

const voucherCols = `id, voucher_no, type, date, party_id, party_type, party_name,
	allocations_json, on_account, from_account_id, to_account_id, category_id,
	total_amount, lines_json, payment_mode, cheque_no, bank_account_no,
	transaction_id, status, narration, attachments_json,
	created_by, updated_by, approved_by, approved_at, created_at, updated_at`

func (s *Store) SaveVoucher(ctx context.Context, v *ledger.Voucher) error {
	return saveVoucher(ctx, s.db, v)
}

func saveVoucher(ctx context.Context, q querier, v *ledger.Voucher) error {
	allocationsJSON, _ := json.Marshal(v.Allocations)
	linesJSON, _ := json.Marshal(v.Lines)
	attachmentsJSON, _ := json.Marshal(v.Attachments)

	created := v.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	query := `
		INSERT INTO vouchers
		(id, voucher_no, type, date, party_id, party_type, party_name,
		 allocations_json, on_account, from_account_id, to_account_id, category_id,
		 total_amount, lines_json, payment_mode, cheque_no, bank_account_no,
		 transaction_id, status, narration, attachments_json,
		 created_by, updated_by, approved_by, approved_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)
		ON CONFLICT (id) DO UPDATE SET
			date = EXCLUDED.date,
			party_id = EXCLUDED.party_id,
			party_type = EXCLUDED.party_type,
			party_name = EXCLUDED.party_name,
			allocations_json = EXCLUDED.allocations_json,
			on_account = EXCLUDED.on_account,
			from_account_id = EXCLUDED.from_account_id,
			to_account_id = EXCLUDED.to_account_id,
			category_id = EXCLUDED.category_id,
			total_amount = EXCLUDED.total_amount,
			lines_json = EXCLUDED.lines_json,
			payment_mode = EXCLUDED.payment_mode,
			cheque_no = EXCLUDED.cheque_no,
			bank_account_no = EXCLUDED.bank_account_no,
			transaction_id = EXCLUDED.transaction_id,
			status = EXCLUDED.status,
			narration = EXCLUDED.narration,
			attachments_json = EXCLUDED.attachments_json,
			updated_by = EXCLUDED.updated_by,
			approved_by = EXCLUDED.approved_by,
			approved_at = EXCLUDED.approved_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err := q.ExecContext(ctx, query,
		v.ID, v.VoucherNo, string(v.Type), v.Date,
		nullString(v.PartyID), nullString(string(v.PartyType)), v.PartyName,
		string(allocationsJSON), v.OnAccountAmount.String(),
		nullString(v.FromAccountID), nullString(v.ToAccountID), nullString(v.CategoryID),
		v.TotalAmount.String(), string(linesJSON),
		nullString(string(v.Payment.Mode)), v.Payment.ChequeNo,
		v.Payment.BankAccountNo, v.Payment.TransactionID,
		string(v.Status), v.Narration, string(attachmentsJSON),
		v.CreatedBy, v.UpdatedBy, v.ApprovedBy, v.ApprovedAt,
		created, time.Now().UTC(),
	)
	if err != nil {
		return mapWriteError(err, "failed to save voucher")
	}
	return nil
}

func (s *Store) GetVoucher(ctx context.Context, id string) (*ledger.Voucher, error) {
	return getVoucher(ctx, s.db, id)
}

func getVoucher(ctx context.Context, q querier, id string) (*ledger.Voucher, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+voucherCols+" FROM vouchers WHERE id = $1", id)

	v, err := scanVoucher(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Store) ListVouchers(ctx context.Context, f ledger.VoucherFilter) ([]ledger.Voucher, error) {
	return listVouchers(ctx, s.db, f)
}

func listVouchers(ctx context.Context, q querier, f ledger.VoucherFilter) ([]ledger.Voucher, error) {
	query := "SELECT " + voucherCols + " FROM vouchers WHERE 1=1"
	var args []any

	add := func(clause string, arg any) {
		args = append(args, arg)
		query += fmt.Sprintf(clause, len(args))
	}

	if f.Type != "" {
		add(" AND type = $%d", string(f.Type))
	}
	if f.Status != "" {
		add(" AND status = $%d", string(f.Status))
	}
	if f.PartyID != "" {
		add(" AND party_id = $%d", f.PartyID)
	}
	if f.DateFrom != nil {
		add(" AND date >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		add(" AND date <= $%d", *f.DateTo)
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
		v                                ledger.Voucher
		vType, status                    string
		partyID, partyType               sql.NullString
		allocationsJSON, linesJSON       sql.NullString
		attachmentsJSON                  sql.NullString
		onAccount, totalAmount           string
		fromAccount, toAccount, category sql.NullString
		paymentMode                      sql.NullString
		approvedAt                       sql.NullTime
	)

	err := row.Scan(
		&v.ID, &v.VoucherNo, &vType, &v.Date, &partyID, &partyType, &v.PartyName,
		&allocationsJSON, &onAccount, &fromAccount, &toAccount, &category,
		&totalAmount, &linesJSON, &paymentMode, &v.Payment.ChequeNo,
		&v.Payment.BankAccountNo, &v.Payment.TransactionID,
		&status, &v.Narration, &attachmentsJSON,
		&v.CreatedBy, &v.UpdatedBy, &v.ApprovedBy, &approvedAt,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	v.Type = ledger.VoucherType(vType)
	v.PartyID = partyID.String
	v.PartyType = ledger.PartyType(partyType.String)
	v.OnAccountAmount = parseDecimal(onAccount)
	v.FromAccountID = fromAccount.String
	v.ToAccountID = toAccount.String
	v.CategoryID = category.String
	v.TotalAmount = parseDecimal(totalAmount)
	v.Payment.Mode = ledger.PaymentMode(paymentMode.String)
	v.Status = ledger.VoucherStatus(status)

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
		t := approvedAt.Time
		v.ApprovedAt = &t
	}

	return &v, nil
}

func (s *Store) NextSequence(ctx context.Context, t ledger.VoucherType, day time.Time) (int, error) {
	return nextSequence(ctx, s.db, t, day)
}

func nextSequence(ctx context.Context, q querier, t ledger.VoucherType, day time.Time) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		INSERT INTO voucher_sequences (type, day, n) VALUES ($1, $2, 1)
		ON CONFLICT (type, day) DO UPDATE SET n = voucher_sequences.n + 1
		RETURNING n
	`, string(t), day.Format("2006-01-02")).Scan(&n)
	if err != nil {
		return 0, mapWriteError(err, "failed to advance sequence")
	}
	return n, nil
}

// =============================================================================
// ENTRY STORE
// =============================================================================

const entryCols = `id, voucher_id, voucher_no, voucher_type, account_id, account_code,
	account_name, date, debit, credit, narration, party_id, party_type,
	running_balance, reversed, reversed_at, created_at`

func (s *Store) AppendEntry(ctx context.Context, e *ledger.Entry) error {
	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, q querier, e *ledger.Entry) error {
	query := `
		INSERT INTO entries
		(id, voucher_id, voucher_no, voucher_type, account_id, account_code,
		 account_name, date, debit, credit, narration, party_id, party_type,
		 running_balance, reversed, reversed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := q.ExecContext(ctx, query,
		e.ID, e.VoucherID, e.VoucherNo, string(e.VoucherType),
		e.AccountID, e.AccountCode, e.AccountName, e.Date,
		e.Debit.String(), e.Credit.String(), e.Narration,
		nullString(e.PartyID), nullString(string(e.PartyType)),
		e.RunningBalance.String(), e.Reversed, e.ReversedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return mapWriteError(err, "failed to append entry")
	}
	return nil
}

func (s *Store) EntriesByVoucher(ctx context.Context, voucherID string) ([]ledger.Entry, error) {
	return queryEntries(ctx, s.db,
		"SELECT "+entryCols+" FROM entries WHERE voucher_id = $1 ORDER BY seq ASC",
		voucherID)
}

func (s *Store) HasActiveEntries(ctx context.Context, voucherID string) (bool, error) {
	return hasActiveEntries(ctx, s.db, voucherID)
}

func hasActiveEntries(ctx context.Context, q querier, voucherID string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE voucher_id = $1 AND NOT reversed",
		voucherID).Scan(&count)
	return count > 0, err
}

func (s *Store) MarkReversed(ctx context.Context, voucherID string, at time.Time) error {
	return markReversed(ctx, s.db, voucherID, at)
}

func markReversed(ctx context.Context, q querier, voucherID string, at time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE entries SET reversed = TRUE, reversed_at = $1
		WHERE voucher_id = $2 AND NOT reversed
	`, at, voucherID)
	if err != nil {
		return mapWriteError(err, "failed to mark entries reversed")
	}
	return nil
}

func (s *Store) EntriesByAccount(ctx context.Context, accountID string, from, to time.Time) ([]ledger.Entry, error) {
	return queryEntries(ctx, s.db,
		"SELECT "+entryCols+` FROM entries
		 WHERE account_id = $1 AND date >= $2 AND date <= $3
		 ORDER BY date ASC, seq ASC`,
		accountID, from, to)
}

func (s *Store) EntriesByParty(ctx context.Context, partyID string, partyType ledger.PartyType, from, to time.Time) ([]ledger.Entry, error) {
	return queryEntries(ctx, s.db,
		"SELECT "+entryCols+` FROM entries
		 WHERE party_id = $1 AND party_type = $2 AND date >= $3 AND date <= $4
		 ORDER BY date ASC, seq ASC`,
		partyID, string(partyType), from, to)
}

func (s *Store) EntriesInRange(ctx context.Context, from, to time.Time) ([]ledger.Entry, error) {
	return queryEntries(ctx, s.db,
		"SELECT "+entryCols+` FROM entries
		 WHERE date >= $1 AND date <= $2
		 ORDER BY date ASC, seq ASC`,
		from, to)
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
		e                  ledger.Entry
		vType              string
		debit, credit      string
		partyID, partyType sql.NullString
		runningBalance     string
		reversedAt         sql.NullTime
	)

	err := row.Scan(
		&e.ID, &e.VoucherID, &e.VoucherNo, &vType,
		&e.AccountID, &e.AccountCode, &e.AccountName,
		&e.Date, &debit, &credit, &e.Narration,
		&partyID, &partyType, &runningBalance,
		&e.Reversed, &reversedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.VoucherType = ledger.VoucherType(vType)
	e.Debit = parseDecimal(debit)
	e.Credit = parseDecimal(credit)
	e.PartyID = partyID.String
	e.PartyType = ledger.PartyType(partyType.String)
	e.RunningBalance = parseDecimal(runningBalance)
	if reversedAt.Valid {
		t := reversedAt.Time
		e.ReversedAt = &t
	}
	return &e, nil
}

// =============================================================================
// COLLABORATORS
// =============================================================================

func (s *Store) GetInvoice(ctx context.Context, id string) (*ledger.Invoice, error) {
	return getInvoice(ctx, s.db, id)
}

func getInvoice(ctx context.Context, q querier, id string) (*ledger.Invoice, error) {
	var (
		inv                ledger.Invoice
		partyType, status  string
		total, outstanding string
	)

	err := q.QueryRowContext(ctx,
		"SELECT id, party_id, party_type, total_amount, outstanding, status FROM invoices WHERE id = $1",
		id).Scan(&inv.ID, &inv.PartyID, &partyType, &total, &outstanding, &status)
	if errors.Is(err, sql.ErrNoRows) {
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
		"UPDATE invoices SET outstanding = $1, status = $2 WHERE id = $3",
		outstanding.String(), string(status), id)
	if err != nil {
		return decimal.Zero, mapWriteError(err, "failed to apply allocation")
	}
	return outstanding, nil
}

func (s *Store) ReverseAllocation(ctx context.Context, id string, amount decimal.Decimal) error {
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
		"UPDATE invoices SET outstanding = $1, status = $2 WHERE id = $3",
		outstanding.String(), string(status), id)
	if err != nil {
		return mapWriteError(err, "failed to reverse allocation")
	}
	return nil
}

func (s *Store) GetDisplayName(ctx context.Context, partyID string, partyType ledger.PartyType) (string, error) {
	return getDisplayName(ctx, s.db, partyID, partyType)
}

func getDisplayName(ctx context.Context, q querier, partyID string, partyType ledger.PartyType) (string, error) {
	var name string
	err := q.QueryRowContext(ctx,
		"SELECT name FROM parties WHERE id = $1 AND type = $2",
		partyID, string(partyType)).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &ledger.NotFoundError{Kind: "party", ID: partyID}
	}
	return name, err
}

func (s *Store) AdjustCashBalance(ctx context.Context, partyID string, partyType ledger.PartyType, delta decimal.Decimal) error {
	return adjustCashBalance(ctx, s.db, partyID, partyType, delta)
}

func adjustCashBalance(ctx context.Context, q querier, partyID string, partyType ledger.PartyType, delta decimal.Decimal) error {
	res, err := q.ExecContext(ctx,
		"UPDATE parties SET cash_balance = cash_balance + $1 WHERE id = $2 AND type = $3",
		delta.String(), partyID, string(partyType))
	if err != nil {
		return mapWriteError(err, "failed to adjust cash balance")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ledger.NotFoundError{Kind: "party", ID: partyID}
	}
	return nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (*ledger.ExpenseCategory, error) {
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
		FROM expense_categories WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &monthly, &yearly, &c.RequiresApproval,
		&approvalLimit, &defaultAccount, &currentSpent)
	if errors.Is(err, sql.ErrNoRows) {
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
	return addSpent(ctx, s.db, id, delta)
}

func addSpent(ctx context.Context, q querier, id string, delta decimal.Decimal) error {
	res, err := q.ExecContext(ctx,
		"UPDATE expense_categories SET current_spent = current_spent + $1 WHERE id = $2",
		delta.String(), id)
	if err != nil {
		return mapWriteError(err, "failed to add spent")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ledger.NotFoundError{Kind: "category", ID: id}
	}
	return nil
}

// =============================================================================
// SEEDING (admin surface)
// =============================================================================

// SaveInvoice upserts an invoice record.
func (s *Store) SaveInvoice(ctx context.Context, inv ledger.Invoice) error {
	if inv.Status == "" {
		inv.Status = ledger.SettlementStatus(inv.Outstanding, inv.TotalAmount)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, party_id, party_type, total_amount, outstanding, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			party_id = EXCLUDED.party_id,
			party_type = EXCLUDED.party_type,
			total_amount = EXCLUDED.total_amount,
			outstanding = EXCLUDED.outstanding,
			status = EXCLUDED.status
	`, inv.ID, inv.PartyID, string(inv.PartyType),
		inv.TotalAmount.String(), inv.Outstanding.String(), string(inv.Status))
	return err
}

// SaveParty upserts a party directory record.
func (s *Store) SaveParty(ctx context.Context, id string, t ledger.PartyType, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parties (id, type, name, cash_balance)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (id, type) DO UPDATE SET name = EXCLUDED.name
	`, id, string(t), name)
	return err
}

// SaveCategory upserts an expense category.
func (s *Store) SaveCategory(ctx context.Context, c ledger.ExpenseCategory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expense_categories
		(id, name, monthly_budget, yearly_budget, requires_approval,
		 approval_limit, default_account_id, current_spent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			monthly_budget = EXCLUDED.monthly_budget,
			yearly_budget = EXCLUDED.yearly_budget,
			requires_approval = EXCLUDED.requires_approval,
			approval_limit = EXCLUDED.approval_limit,
			default_account_id = EXCLUDED.default_account_id
	`, c.ID, c.Name, c.MonthlyBudget.String(), c.YearlyBudget.String(),
		c.RequiresApproval, c.ApprovalLimit.String(),
		nullString(c.DefaultAccountID), c.CurrentSpent.String())
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a SERIALIZABLE transaction. The store
// handed to fn routes every operation through the transaction, including
// the collaborator tables. Serialization failures map to
// ledger.ErrTxConflict for the service's retry loop.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
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
		"SELECT "+entryCols+" FROM entries WHERE voucher_id = $1 ORDER BY seq ASC",
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
		 WHERE account_id = $1 AND date >= $2 AND date <= $3
		 ORDER BY date ASC, seq ASC`,
		accountID, from, to)
}

func (ts *txStore) EntriesByParty(ctx context.Context, partyID string, partyType ledger.PartyType, from, to time.Time) ([]ledger.Entry, error) {
	return queryEntries(ctx, ts.tx,
		"SELECT "+entryCols+` FROM entries
		 WHERE party_id = $1 AND party_type = $2 AND date >= $3 AND date <= $4
		 ORDER BY date ASC, seq ASC`,
		partyID, string(partyType), from, to)
}

func (ts *txStore) EntriesInRange(ctx context.Context, from, to time.Time) ([]ledger.Entry, error) {
	return queryEntries(ctx, ts.tx,
		"SELECT "+entryCols+` FROM entries
		 WHERE date >= $1 AND date <= $2
		 ORDER BY date ASC, seq ASC`,
		from, to)
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
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func mapWriteError(err error, msg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return ledger.ErrDuplicateCode
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return ledger.ErrTxConflict
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
