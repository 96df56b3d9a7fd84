/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

AMOUNTS:
  Money travels as strings so clients never lose precision to float
  rounding; decimal parsing happens at this boundary and everything
  inside the engine stays decimal.Decimal.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

CONVERSION:
  VoucherRequest.toInput() selects the kind-specific ledger payload by
  the voucher type. Unknown kinds fail before any unit of work starts.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: The domain types behind them
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// REQUESTS
// =============================================================================

// PaymentDTO carries the mode-specific payment sub-details.
type PaymentDTO struct {
	Mode          string `json:"mode"`
	ChequeNo      string `json:"cheque_no,omitempty"`
	BankAccountNo string `json:"bank_account_no,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

func (p PaymentDTO) toDomain() ledger.PaymentDetails {
	return ledger.PaymentDetails{
		Mode:          ledger.PaymentMode(p.Mode),
		ChequeNo:      p.ChequeNo,
		BankAccountNo: p.BankAccountNo,
		TransactionID: p.TransactionID,
	}
}

// AllocationRequestDTO names one invoice and the amount to apply.
type AllocationRequestDTO struct {
	InvoiceID string `json:"invoice_id"`
	Amount    string `json:"amount"`
}

// LineDTO is one manual journal leg.
type LineDTO struct {
	AccountID   string `json:"account_id"`
	Debit       string `json:"debit,omitempty"`
	Credit      string `json:"credit,omitempty"`
	Description string `json:"description,omitempty"`
}

// VoucherRequest creates or replaces a voucher. Type selects which of
// the kind-specific field groups applies.
type VoucherRequest struct {
	Type        string   `json:"type"`
	Date        string   `json:"date,omitempty"` // YYYY-MM-DD
	Narration   string   `json:"narration,omitempty"`
	Attachments []string `json:"attachments,omitempty"`

	// receipt / payment
	PartyID       string                 `json:"party_id,omitempty"`
	Amount        string                 `json:"amount,omitempty"`
	Payment       *PaymentDTO            `json:"payment,omitempty"`
	Invoices      []AllocationRequestDTO `json:"invoices,omitempty"`
	DeferApproval bool                   `json:"defer_approval,omitempty"`

	// journal
	DebitAccountID  string    `json:"debit_account_id,omitempty"`
	CreditAccountID string    `json:"credit_account_id,omitempty"`
	Lines           []LineDTO `json:"lines,omitempty"`

	// contra
	FromAccountID string `json:"from_account_id,omitempty"`
	ToAccountID   string `json:"to_account_id,omitempty"`

	// expense
	CategoryID string `json:"category_id,omitempty"`
}

func parseAmount(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ledger.ValidationError{Field: field, Message: fmt.Sprintf("invalid amount %q", s)}
	}
	return d, nil
}

func (r VoucherRequest) payment() ledger.PaymentDetails {
	if r.Payment == nil {
		return ledger.PaymentDetails{}
	}
	return r.Payment.toDomain()
}

func (r VoucherRequest) allocations() ([]ledger.AllocationRequest, error) {
	if len(r.Invoices) == 0 {
		return nil, nil
	}
	out := make([]ledger.AllocationRequest, 0, len(r.Invoices))
	for _, a := range r.Invoices {
		amount, err := parseAmount("invoices.amount", a.Amount)
		if err != nil {
			return nil, err
		}
		out = append(out, ledger.AllocationRequest{InvoiceID: a.InvoiceID, Amount: amount})
	}
	return out, nil
}

func (r VoucherRequest) lines() ([]ledger.Line, error) {
	if len(r.Lines) == 0 {
		return nil, nil
	}
	out := make([]ledger.Line, 0, len(r.Lines))
	for _, l := range r.Lines {
		debit, err := parseAmount("lines.debit", l.Debit)
		if err != nil {
			return nil, err
		}
		credit, err := parseAmount("lines.credit", l.Credit)
		if err != nil {
			return nil, err
		}
		out = append(out, ledger.Line{
			AccountID:   l.AccountID,
			Debit:       debit,
			Credit:      credit,
			Description: l.Description,
		})
	}
	return out, nil
}

// toInput converts the request into the domain input, selecting the
// payload type by voucher kind.
func (r VoucherRequest) toInput() (ledger.Input, error) {
	var date time.Time
	if r.Date != "" {
		var err error
		date, err = time.Parse("2006-01-02", r.Date)
		if err != nil {
			return ledger.Input{}, &ledger.ValidationError{Field: "date", Message: "use YYYY-MM-DD"}
		}
	}

	amount, err := parseAmount("amount", r.Amount)
	if err != nil {
		return ledger.Input{}, err
	}

	var payload ledger.Payload
	switch ledger.VoucherType(r.Type) {
	case ledger.VoucherReceipt:
		invoices, err := r.allocations()
		if err != nil {
			return ledger.Input{}, err
		}
		payload = ledger.ReceiptPayload{
			CustomerID:    r.PartyID,
			Amount:        amount,
			Payment:       r.payment(),
			Invoices:      invoices,
			DeferApproval: r.DeferApproval,
		}
	case ledger.VoucherPayment:
		invoices, err := r.allocations()
		if err != nil {
			return ledger.Input{}, err
		}
		payload = ledger.PaymentPayload{
			VendorID:      r.PartyID,
			Amount:        amount,
			Payment:       r.payment(),
			Invoices:      invoices,
			DeferApproval: r.DeferApproval,
		}
	case ledger.VoucherJournal:
		lines, err := r.lines()
		if err != nil {
			return ledger.Input{}, err
		}
		payload = ledger.JournalPayload{
			DebitAccountID:  r.DebitAccountID,
			CreditAccountID: r.CreditAccountID,
			Amount:          amount,
			Lines:           lines,
		}
	case ledger.VoucherContra:
		payload = ledger.ContraPayload{
			FromAccountID: r.FromAccountID,
			ToAccountID:   r.ToAccountID,
			Amount:        amount,
		}
	case ledger.VoucherExpense:
		payload = ledger.ExpensePayload{
			CategoryID: r.CategoryID,
			Amount:     amount,
			Payment:    r.payment(),
		}
	default:
		return ledger.Input{}, &ledger.ValidationError{Field: "type", Message: fmt.Sprintf("unknown voucher type %q", r.Type)}
	}

	return ledger.Input{
		Date:        date,
		Narration:   r.Narration,
		Attachments: r.Attachments,
		Payload:     payload,
	}, nil
}

// ReviewRequest carries an approve/reject decision.
type ReviewRequest struct {
	Comments string `json:"comments,omitempty"`
}

// AccountRequest creates an account.
type AccountRequest struct {
	Code               string `json:"code"`
	Name               string `json:"name"`
	Type               string `json:"type"`
	SubType            string `json:"sub_type,omitempty"`
	ParentID           string `json:"parent_id,omitempty"`
	AllowDirectPosting bool   `json:"allow_direct_posting"`
}

// ReparentRequest moves an account in the hierarchy.
type ReparentRequest struct {
	ParentID string `json:"parent_id"`
}

// SeedInvoiceRequest upserts a collaborator invoice record.
type SeedInvoiceRequest struct {
	ID          string `json:"id"`
	PartyID     string `json:"party_id"`
	PartyType   string `json:"party_type"`
	TotalAmount string `json:"total_amount"`
	Outstanding string `json:"outstanding"`
}

// SeedPartyRequest upserts a collaborator party record.
type SeedPartyRequest struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// SeedCategoryRequest upserts an expense category.
type SeedCategoryRequest struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	MonthlyBudget    string `json:"monthly_budget,omitempty"`
	YearlyBudget     string `json:"yearly_budget,omitempty"`
	RequiresApproval bool   `json:"requires_approval"`
	ApprovalLimit    string `json:"approval_limit,omitempty"`
	DefaultAccountID string `json:"default_account_id,omitempty"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// ErrorResponse is the error envelope for all endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// AllocationDTO reports one applied allocation.
type AllocationDTO struct {
	InvoiceID       string `json:"invoice_id"`
	Amount          string `json:"amount"`
	PreviousBalance string `json:"previous_balance"`
	NewBalance      string `json:"new_balance"`
}

// VoucherLineDTO is one leg of a voucher.
type VoucherLineDTO struct {
	AccountID   string `json:"account_id"`
	AccountCode string `json:"account_code"`
	AccountName string `json:"account_name"`
	Debit       string `json:"debit"`
	Credit      string `json:"credit"`
	Description string `json:"description,omitempty"`
}

// VoucherDTO is the full voucher view.
type VoucherDTO struct {
	ID              string           `json:"id"`
	VoucherNo       string           `json:"voucher_no"`
	Type            string           `json:"type"`
	Date            string           `json:"date"`
	PartyID         string           `json:"party_id,omitempty"`
	PartyType       string           `json:"party_type,omitempty"`
	PartyName       string           `json:"party_name,omitempty"`
	Allocations     []AllocationDTO  `json:"allocations,omitempty"`
	OnAccountAmount string           `json:"on_account_amount"`
	FromAccountID   string           `json:"from_account_id,omitempty"`
	ToAccountID     string           `json:"to_account_id,omitempty"`
	CategoryID      string           `json:"category_id,omitempty"`
	TotalAmount     string           `json:"total_amount"`
	Lines           []VoucherLineDTO `json:"lines"`
	Payment         *PaymentDTO      `json:"payment,omitempty"`
	Status          string           `json:"status"`
	Narration       string           `json:"narration,omitempty"`
	Attachments     []string         `json:"attachments,omitempty"`
	CreatedBy       string           `json:"created_by,omitempty"`
	ApprovedBy      string           `json:"approved_by,omitempty"`
	ApprovedAt      string           `json:"approved_at,omitempty"`
	CreatedAt       string           `json:"created_at"`
	UpdatedAt       string           `json:"updated_at"`
}

func toVoucherDTO(v *ledger.Voucher) VoucherDTO {
	dto := VoucherDTO{
		ID:              v.ID,
		VoucherNo:       v.VoucherNo,
		Type:            string(v.Type),
		Date:            v.Date.Format("2006-01-02"),
		PartyID:         v.PartyID,
		PartyType:       string(v.PartyType),
		PartyName:       v.PartyName,
		OnAccountAmount: v.OnAccountAmount.String(),
		FromAccountID:   v.FromAccountID,
		ToAccountID:     v.ToAccountID,
		CategoryID:      v.CategoryID,
		TotalAmount:     v.TotalAmount.String(),
		Status:          string(v.Status),
		Narration:       v.Narration,
		Attachments:     v.Attachments,
		CreatedBy:       v.CreatedBy,
		ApprovedBy:      v.ApprovedBy,
		CreatedAt:       v.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       v.UpdatedAt.Format(time.RFC3339),
	}

	for _, a := range v.Allocations {
		dto.Allocations = append(dto.Allocations, AllocationDTO{
			InvoiceID:       a.InvoiceID,
			Amount:          a.Amount.String(),
			PreviousBalance: a.PreviousBalance.String(),
			NewBalance:      a.NewBalance.String(),
		})
	}
	dto.Lines = make([]VoucherLineDTO, 0, len(v.Lines))
	for _, l := range v.Lines {
		dto.Lines = append(dto.Lines, VoucherLineDTO{
			AccountID:   l.AccountID,
			AccountCode: l.AccountCode,
			AccountName: l.AccountName,
			Debit:       l.Debit.String(),
			Credit:      l.Credit.String(),
			Description: l.Description,
		})
	}
	if v.Payment.Mode != "" {
		dto.Payment = &PaymentDTO{
			Mode:          string(v.Payment.Mode),
			ChequeNo:      v.Payment.ChequeNo,
			BankAccountNo: v.Payment.BankAccountNo,
			TransactionID: v.Payment.TransactionID,
		}
	}
	if v.ApprovedAt != nil {
		dto.ApprovedAt = v.ApprovedAt.Format(time.RFC3339)
	}
	return dto
}

// AccountDTO is one chart-of-accounts node.
type AccountDTO struct {
	ID                 string `json:"id"`
	Code               string `json:"code"`
	Name               string `json:"name"`
	Type               string `json:"type"`
	SubType            string `json:"sub_type,omitempty"`
	ParentID           string `json:"parent_id,omitempty"`
	Level              int    `json:"level"`
	Active             bool   `json:"active"`
	AllowDirectPosting bool   `json:"allow_direct_posting"`
	SystemAccount      bool   `json:"system_account"`
	CurrentBalance     string `json:"current_balance"`
}

func toAccountDTO(a *ledger.Account) AccountDTO {
	return AccountDTO{
		ID:                 a.ID,
		Code:               a.Code,
		Name:               a.Name,
		Type:               string(a.Type),
		SubType:            a.SubType,
		ParentID:           a.ParentID,
		Level:              a.Level,
		Active:             a.Active,
		AllowDirectPosting: a.AllowDirectPosting,
		SystemAccount:      a.SystemAccount,
		CurrentBalance:     a.CurrentBalance.String(),
	}
}

// EntryDTO is one immutable posting.
type EntryDTO struct {
	ID             string `json:"id"`
	VoucherID      string `json:"voucher_id"`
	VoucherNo      string `json:"voucher_no"`
	VoucherType    string `json:"voucher_type"`
	AccountID      string `json:"account_id"`
	AccountCode    string `json:"account_code"`
	AccountName    string `json:"account_name"`
	Date           string `json:"date"`
	Debit          string `json:"debit"`
	Credit         string `json:"credit"`
	Narration      string `json:"narration,omitempty"`
	PartyID        string `json:"party_id,omitempty"`
	RunningBalance string `json:"running_balance"`
	Reversed       bool   `json:"reversed"`
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:             e.ID,
		VoucherID:      e.VoucherID,
		VoucherNo:      e.VoucherNo,
		VoucherType:    string(e.VoucherType),
		AccountID:      e.AccountID,
		AccountCode:    e.AccountCode,
		AccountName:    e.AccountName,
		Date:           e.Date.Format("2006-01-02"),
		Debit:          e.Debit.String(),
		Credit:         e.Credit.String(),
		Narration:      e.Narration,
		PartyID:        e.PartyID,
		RunningBalance: e.RunningBalance.String(),
		Reversed:       e.Reversed,
	}
}

// TrialBalanceRowDTO is one trial-balance aggregate row.
type TrialBalanceRowDTO struct {
	AccountID    string `json:"account_id"`
	AccountCode  string `json:"account_code"`
	AccountName  string `json:"account_name"`
	AccountType  string `json:"account_type"`
	TotalDebits  string `json:"total_debits"`
	TotalCredits string `json:"total_credits"`
	Balance      string `json:"balance"`
}

// StatementLineDTO is one party-statement movement.
type StatementLineDTO struct {
	Date      string `json:"date"`
	VoucherNo string `json:"voucher_no"`
	VoucherID string `json:"voucher_id"`
	Narration string `json:"narration,omitempty"`
	Debit     string `json:"debit"`
	Credit    string `json:"credit"`
	Running   string `json:"running_balance"`
}

// PartyStatementDTO is the statement envelope.
type PartyStatementDTO struct {
	PartyID   string             `json:"party_id"`
	PartyType string             `json:"party_type"`
	From      string             `json:"from"`
	To        string             `json:"to"`
	Opening   string             `json:"opening_balance"`
	Lines     []StatementLineDTO `json:"lines"`
	Closing   string             `json:"closing_balance"`
}
