/*
reports.go - Simple aggregation over the entry log

Two read-side reports: the trial balance (per-account debit/credit
totals and net balance over a period) and a party statement (the
entry-by-entry running balance of one customer or vendor). Reversal
entries are included as written; a reversed voucher contributes a pair
of rows that nets to zero, preserving the audit trail in the output.
*/
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// TrialBalanceRow aggregates one account's activity over a period.
type TrialBalanceRow struct {
	AccountID    string
	AccountCode  string
	AccountName  string
	AccountType  AccountType
	TotalDebits  decimal.Decimal
	TotalCredits decimal.Decimal
	// Balance is the signed net effect over the period under the
	// accounting-equation convention.
	Balance decimal.Decimal
}

// GetTrialBalance aggregates all entries in [from, to] per account,
// ordered by account code.
func (s *Service) GetTrialBalance(ctx context.Context, from, to time.Time) ([]TrialBalanceRow, error) {
	entries, err := s.store.EntriesInRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	types := make(map[string]AccountType, len(accounts))
	for _, a := range accounts {
		types[a.ID] = a.Type
	}

	rows := make(map[string]*TrialBalanceRow)
	for _, e := range entries {
		row, ok := rows[e.AccountID]
		if !ok {
			row = &TrialBalanceRow{
				AccountID:    e.AccountID,
				AccountCode:  e.AccountCode,
				AccountName:  e.AccountName,
				AccountType:  types[e.AccountID],
				TotalDebits:  decimal.Zero,
				TotalCredits: decimal.Zero,
				Balance:      decimal.Zero,
			}
			rows[e.AccountID] = row
		}
		row.TotalDebits = row.TotalDebits.Add(e.Debit)
		row.TotalCredits = row.TotalCredits.Add(e.Credit)
		row.Balance = row.Balance.Add(e.SignedDelta(row.AccountType))
	}

	out := make([]TrialBalanceRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountCode < out[j].AccountCode })
	return out, nil
}

// StatementLine is one movement on a party statement.
type StatementLine struct {
	Date      time.Time
	VoucherNo string
	VoucherID string
	Narration string
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	// Running is the cumulative party balance after this line: what the
	// party owes us (customer) or what we owe them (vendor).
	Running decimal.Decimal
}

// PartyStatement is the running-balance sequence for one party over a
// period.
type PartyStatement struct {
	PartyID   string
	PartyType PartyType
	From      time.Time
	To        time.Time
	Opening   decimal.Decimal
	Lines     []StatementLine
	Closing   decimal.Decimal
}

// GetPartyStatement builds the running-balance sequence for a party.
// The opening balance folds in every entry before the period start.
// Only entries on the party's own receivable/payable/advance accounts
// count; the cash or bank leg of a settlement carries the party tag for
// audit but would cancel the party leg and flatten every balance to
// zero if folded in.
func (s *Service) GetPartyStatement(ctx context.Context, partyID string, partyType PartyType, from, to time.Time) (*PartyStatement, error) {
	prior, err := s.store.EntriesByParty(ctx, partyID, partyType, time.Time{}, from.Add(-time.Nanosecond))
	if err != nil {
		return nil, err
	}
	opening := decimal.Zero
	for _, e := range prior {
		if !partyLedgerAccount(partyType, partyID, e.AccountCode) {
			continue
		}
		opening = opening.Add(partyDelta(partyType, e))
	}

	entries, err := s.store.EntriesByParty(ctx, partyID, partyType, from, to)
	if err != nil {
		return nil, err
	}

	st := &PartyStatement{
		PartyID:   partyID,
		PartyType: partyType,
		From:      from,
		To:        to,
		Opening:   opening,
		Closing:   opening,
	}
	for _, e := range entries {
		if !partyLedgerAccount(partyType, partyID, e.AccountCode) {
			continue
		}
		st.Closing = st.Closing.Add(partyDelta(partyType, e))
		st.Lines = append(st.Lines, StatementLine{
			Date:      e.Date,
			VoucherNo: e.VoucherNo,
			VoucherID: e.VoucherID,
			Narration: e.Narration,
			Debit:     e.Debit,
			Credit:    e.Credit,
			Running:   st.Closing,
		})
	}
	return st, nil
}

// partyLedgerAccount reports whether an account code is one of the
// party's own synthetic ledger accounts (receivable or advance for a
// customer, payable or advance for a vendor).
func partyLedgerAccount(t PartyType, partyID, code string) bool {
	if t == PartyCustomer {
		return code == "AR-"+partyID || code == "CADV-"+partyID
	}
	return code == "AP-"+partyID || code == "VADV-"+partyID
}

// partyDelta is the statement sign convention: a customer balance is
// receivable-like (debits grow it), a vendor balance is payable-like
// (credits grow it).
func partyDelta(t PartyType, e Entry) decimal.Decimal {
	if t == PartyCustomer {
		return e.Debit.Sub(e.Credit)
	}
	return e.Credit.Sub(e.Debit)
}
