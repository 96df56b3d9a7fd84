/*
handlers.go - HTTP API handlers for the ledger engine

PURPOSE:
  Exposes the voucher lifecycle and chart of accounts via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  the ledger service.

ENDPOINTS:
  Vouchers:
    GET    /api/vouchers               List vouchers (filterable)
    POST   /api/vouchers               Create voucher
    GET    /api/vouchers/{id}          Get voucher
    PUT    /api/vouchers/{id}          Update voucher (reverse + repost)
    DELETE /api/vouchers/{id}          Cancel voucher
    POST   /api/vouchers/{id}/approve  Approve pending/draft voucher
    POST   /api/vouchers/{id}/reject   Reject pending voucher
    GET    /api/vouchers/{id}/entries  Posting trail

  Accounts:
    GET    /api/accounts               Chart of accounts
    POST   /api/accounts               Create account
    GET    /api/accounts/{id}          Get account
    PUT    /api/accounts/{id}/parent   Reparent account
    DELETE /api/accounts/{id}          Delete unused account

  Reports:
    GET    /api/reports/trial-balance  Per-account debit/credit totals
    GET    /api/reports/parties/{id}/statement  Running-balance statement

  Admin:
    POST   /api/admin/invoices         Seed invoice records
    POST   /api/admin/parties          Seed party records
    POST   /api/admin/categories      Seed expense categories

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, unbalanced or out-of-bounds input, duplicate codes
  - 404: Voucher/account/invoice/party not found
  - 409: Concurrency conflict after retry exhaustion
  - 500: Internal errors

ACTOR:
  The X-Actor-ID header names the acting user for the audit trail.
  No authentication layer sits in front of it here.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *ledger.Service
	Admin   AdminStore
}

// AdminStore is the seeding surface behind the /api/admin routes.
type AdminStore interface {
	SaveInvoice(ctx context.Context, inv ledger.Invoice) error
	SaveParty(ctx context.Context, id string, t ledger.PartyType, name string) error
	SaveCategory(ctx context.Context, c ledger.ExpenseCategory) error
}

// NewHandler creates a new handler. admin may be nil when no seeding
// surface is exposed.
func NewHandler(svc *ledger.Service, admin AdminStore) *Handler {
	return &Handler{Service: svc, Admin: admin}
}

func actorID(r *http.Request) string {
	if id := r.Header.Get("X-Actor-ID"); id != "" {
		return id
	}
	return "system"
}

// =============================================================================
// VOUCHER HANDLERS
// =============================================================================

// CreateVoucher creates a voucher of any kind.
// POST /api/vouchers
func (h *Handler) CreateVoucher(w http.ResponseWriter, r *http.Request) {
	var req VoucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in, err := req.toInput()
	if err != nil {
		writeServiceError(w, err)
		return
	}

	v, err := h.Service.CreateVoucher(r.Context(), in, actorID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVoucherDTO(v))
}

// ListVouchers returns vouchers matching the query filters.
// GET /api/vouchers?type=&status=&party_id=&from=&to=
func (h *Handler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	f := ledger.VoucherFilter{
		Type:    ledger.VoucherType(r.URL.Query().Get("type")),
		Status:  ledger.VoucherStatus(r.URL.Query().Get("status")),
		PartyID: r.URL.Query().Get("party_id"),
	}
	if from, ok := parseDateParam(w, r, "from"); ok {
		f.DateFrom = from
	} else {
		return
	}
	if to, ok := parseDateParam(w, r, "to"); ok {
		if to != nil {
			end := to.Add(24*time.Hour - time.Nanosecond)
			f.DateTo = &end
		}
	} else {
		return
	}

	vouchers, err := h.Service.ListVouchers(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	dtos := make([]VoucherDTO, len(vouchers))
	for i := range vouchers {
		dtos[i] = toVoucherDTO(&vouchers[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetVoucher returns a single voucher.
// GET /api/vouchers/{id}
func (h *Handler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	v, err := h.Service.GetVoucher(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVoucherDTO(v))
}

// UpdateVoucher replaces a voucher's content. Posted vouchers are
// reversed and reposted atomically; approved vouchers need ?force=true.
// PUT /api/vouchers/{id}
func (h *Handler) UpdateVoucher(w http.ResponseWriter, r *http.Request) {
	var req VoucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in, err := req.toInput()
	if err != nil {
		writeServiceError(w, err)
		return
	}

	force := r.URL.Query().Get("force") == "true"
	v, err := h.Service.UpdateVoucher(r.Context(), chi.URLParam(r, "id"), in, actorID(r), force)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVoucherDTO(v))
}

// DeleteVoucher cancels a voucher, reversing its entries when posted.
// DELETE /api/vouchers/{id}
func (h *Handler) DeleteVoucher(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteVoucher(r.Context(), chi.URLParam(r, "id"), actorID(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApproveVoucher approves a draft/pending voucher and posts it.
// POST /api/vouchers/{id}/approve
func (h *Handler) ApproveVoucher(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, ledger.ActionApprove)
}

// RejectVoucher rejects a pending voucher and releases its holds.
// POST /api/vouchers/{id}/reject
func (h *Handler) RejectVoucher(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, ledger.ActionReject)
}

func (h *Handler) review(w http.ResponseWriter, r *http.Request, action ledger.ApprovalAction) {
	var req ReviewRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	v, err := h.Service.ApproveOrReject(r.Context(), chi.URLParam(r, "id"), action, actorID(r), req.Comments)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVoucherDTO(v))
}

// GetVoucherEntries returns the posting trail, reversals included.
// GET /api/vouchers/{id}/entries
func (h *Handler) GetVoucherEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.VoucherEntries(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns the chart of accounts.
// GET /api/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Service.ListAccounts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i := range accounts {
		dtos[i] = toAccountDTO(&accounts[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccount returns a single account with its cached balance.
// GET /api/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.Service.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(a))
}

// CreateAccount adds an account to the chart.
// POST /api/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	a, err := h.Service.CreateAccount(r.Context(), ledger.AccountInput{
		Code:               req.Code,
		Name:               req.Name,
		Type:               ledger.AccountType(req.Type),
		SubType:            req.SubType,
		ParentID:           req.ParentID,
		AllowDirectPosting: req.AllowDirectPosting,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(a))
}

// ReparentAccount moves an account in the hierarchy.
// PUT /api/accounts/{id}/parent
func (h *Handler) ReparentAccount(w http.ResponseWriter, r *http.Request) {
	var req ReparentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	a, err := h.Service.ReparentAccount(r.Context(), chi.URLParam(r, "id"), req.ParentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(a))
}

// DeleteAccount removes an unused, non-system account.
// DELETE /api/accounts/{id}
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteAccount(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// GetTrialBalance aggregates entries per account over a period.
// GET /api/reports/trial-balance?from=&to=
func (h *Handler) GetTrialBalance(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}

	rows, err := h.Service.GetTrialBalance(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	dtos := make([]TrialBalanceRowDTO, len(rows))
	for i, row := range rows {
		dtos[i] = TrialBalanceRowDTO{
			AccountID:    row.AccountID,
			AccountCode:  row.AccountCode,
			AccountName:  row.AccountName,
			AccountType:  string(row.AccountType),
			TotalDebits:  row.TotalDebits.String(),
			TotalCredits: row.TotalCredits.String(),
			Balance:      row.Balance.String(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPartyStatement builds a running-balance statement for a party.
// GET /api/reports/parties/{id}/statement?type=&from=&to=
func (h *Handler) GetPartyStatement(w http.ResponseWriter, r *http.Request) {
	partyType := ledger.PartyType(r.URL.Query().Get("type"))
	if partyType != ledger.PartyCustomer && partyType != ledger.PartyVendor {
		writeError(w, http.StatusBadRequest, "type must be customer or vendor", nil)
		return
	}
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}

	stmt, err := h.Service.GetPartyStatement(r.Context(), chi.URLParam(r, "id"), partyType, from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	dto := PartyStatementDTO{
		PartyID:   stmt.PartyID,
		PartyType: string(stmt.PartyType),
		From:      stmt.From.Format("2006-01-02"),
		To:        stmt.To.Format("2006-01-02"),
		Opening:   stmt.Opening.String(),
		Lines:     make([]StatementLineDTO, len(stmt.Lines)),
		Closing:   stmt.Closing.String(),
	}
	for i, l := range stmt.Lines {
		dto.Lines[i] = StatementLineDTO{
			Date:      l.Date.Format("2006-01-02"),
			VoucherNo: l.VoucherNo,
			VoucherID: l.VoucherID,
			Narration: l.Narration,
			Debit:     l.Debit.String(),
			Credit:    l.Credit.String(),
			Running:   l.Running.String(),
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// ADMIN HANDLERS (collaborator seeding)
// =============================================================================

// SeedInvoice upserts an invoice record.
// POST /api/admin/invoices
func (h *Handler) SeedInvoice(w http.ResponseWriter, r *http.Request) {
	if h.Admin == nil {
		writeError(w, http.StatusNotFound, "Seeding surface not configured", nil)
		return
	}

	var req SeedInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	total, err := parseAmount("total_amount", req.TotalAmount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	outstanding, err := parseAmount("outstanding", req.Outstanding)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if req.Outstanding == "" {
		outstanding = total
	}

	inv := ledger.Invoice{
		ID:          req.ID,
		PartyID:     req.PartyID,
		PartyType:   ledger.PartyType(req.PartyType),
		TotalAmount: total,
		Outstanding: outstanding,
	}
	if err := h.Admin.SaveInvoice(r.Context(), inv); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": inv.ID})
}

// SeedParty upserts a party directory record.
// POST /api/admin/parties
func (h *Handler) SeedParty(w http.ResponseWriter, r *http.Request) {
	if h.Admin == nil {
		writeError(w, http.StatusNotFound, "Seeding surface not configured", nil)
		return
	}

	var req SeedPartyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.Admin.SaveParty(r.Context(), req.ID, ledger.PartyType(req.Type), req.Name); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

// SeedCategory upserts an expense category.
// POST /api/admin/categories
func (h *Handler) SeedCategory(w http.ResponseWriter, r *http.Request) {
	if h.Admin == nil {
		writeError(w, http.StatusNotFound, "Seeding surface not configured", nil)
		return
	}

	var req SeedCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	monthly, err := parseAmount("monthly_budget", req.MonthlyBudget)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	yearly, err := parseAmount("yearly_budget", req.YearlyBudget)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	limit, err := parseAmount("approval_limit", req.ApprovalLimit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	cat := ledger.ExpenseCategory{
		ID:               req.ID,
		Name:             req.Name,
		MonthlyBudget:    monthly,
		YearlyBudget:     yearly,
		RequiresApproval: req.RequiresApproval,
		ApprovalLimit:    limit,
		DefaultAccountID: req.DefaultAccountID,
	}
	if err := h.Admin.SaveCategory(r.Context(), cat); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": cat.ID})
}

// =============================================================================
// HELPERS
// =============================================================================

// parseDateParam reads an optional YYYY-MM-DD query parameter. The
// second return is false when the response was already written.
func parseDateParam(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+name+" (use YYYY-MM-DD)", err)
		return nil, false
	}
	return &t, true
}

// parseRange reads from/to with wide defaults (all history) and widens
// `to` to the end of its day.
func parseRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	from, ok := parseDateParam(w, r, "from")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	to, ok := parseDateParam(w, r, "to")
	if !ok {
		return time.Time{}, time.Time{}, false
	}

	start := time.Time{}
	if from != nil {
		start = *from
	}
	end := time.Now().UTC().Add(24 * time.Hour)
	if to != nil {
		end = to.Add(24*time.Hour - time.Nanosecond)
	}
	return start, end, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict, retry the request", err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		// The error detail carries the voucher/account ids involved;
		// keep it server-side for reconciliation, the client gets a
		// generic 500.
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
