/*
service.go - Voucher lifecycle orchestration

PURPOSE:
  The entry point callers use. Each operation (create, update, approve/
  reject, delete) runs as ONE atomic, serializable unit of work: either
  all of {allocation, entry generation, posting, balance updates, invoice
  mutation} commit, or none are visible.

CONCURRENCY:
  Stores report transient write conflicts as ErrTxConflict. The unit is
  retried transparently with exponential backoff up to a small fixed
  bound; an exhausted conflict surfaces as ErrConcurrencyConflict, never
  silently dropped. Units carry a bounded timeout so locks are not held
  indefinitely. There is no background worker; everything is synchronous
  within the triggering request.

COLLABORATORS:
  When the transaction-scoped store also implements InvoiceBook,
  PartyDirectory or CategoryBook, those implementations are preferred so
  collaborator mutations join the same unit (the bundled sqlite and
  postgres stores do this).

SEE ALSO:
  - processor.go: the per-kind strategies this drives
  - poster.go: posting/reversal invoked on status changes
  - approval.go: the transition relation enforced here
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Defaults for the atomic unit of work.
const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 50 * time.Millisecond
	defaultUnitTimeout = 30 * time.Second
)

// Service orchestrates the voucher lifecycle over a transactional store
// and the external collaborators.
type Service struct {
	store      TxStore
	invoices   InvoiceBook
	parties    PartyDirectory
	categories CategoryBook

	chart     *Chart
	poster    *Poster
	publisher EventPublisher

	maxAttempts int
	backoffBase time.Duration
	unitTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the voucher event publisher.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithRetry overrides the conflict-retry bound and backoff base.
func WithRetry(attempts int, base time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
		if base > 0 {
			s.backoffBase = base
		}
	}
}

// WithUnitTimeout overrides the per-unit deadline.
func WithUnitTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.unitTimeout = d
		}
	}
}

// NewService creates the ledger service.
func NewService(store TxStore, invoices InvoiceBook, parties PartyDirectory, categories CategoryBook, opts ...Option) *Service {
	s := &Service{
		store:       store,
		invoices:    invoices,
		parties:     parties,
		categories:  categories,
		chart:       NewChart(),
		poster:      NewPoster(),
		publisher:   NopPublisher{},
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		unitTimeout: defaultUnitTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// depsFor builds the strategy/poster dependency bundle for one unit,
// preferring transaction-scoped collaborator implementations.
func (s *Service) depsFor(tx Store) processorDeps {
	invoices := s.invoices
	if b, ok := tx.(InvoiceBook); ok {
		invoices = b
	}
	parties := s.parties
	if p, ok := tx.(PartyDirectory); ok {
		parties = p
	}
	categories := s.categories
	if c, ok := tx.(CategoryBook); ok {
		categories = c
	}
	return processorDeps{
		store:      tx,
		chart:      s.chart,
		alloc:      NewAllocator(invoices),
		parties:    parties,
		categories: categories,
	}
}

// runUnit executes fn as one atomic unit, retrying transient conflicts
// with exponential backoff before surfacing ErrConcurrencyConflict.
func (s *Service) runUnit(ctx context.Context, fn func(Store) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.unitTimeout)
	defer cancel()

	var err error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.backoffBase << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err = s.store.WithTx(ctx, fn)
		if !errors.Is(err, ErrTxConflict) {
			return err
		}
	}
	return fmt.Errorf("unit of work after %d attempts: %w", s.maxAttempts, ErrConcurrencyConflict)
}

// =============================================================================
// VOUCHER NUMBERING
// =============================================================================

var voucherPrefix = map[VoucherType]string{
	VoucherReceipt: "RV",
	VoucherPayment: "PV",
	VoucherJournal: "JV",
	VoucherContra:  "CV",
	VoucherExpense: "EV",
}

func formatVoucherNo(t VoucherType, date time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", voucherPrefix[t], date.Format("20060102"), seq)
}

// =============================================================================
// LIFECYCLE OPERATIONS
// =============================================================================

// CreateVoucher runs the kind strategy for the payload, persists the
// voucher and, when its initial status is approved, posts it, all in
// one unit.
func (s *Service) CreateVoucher(ctx context.Context, in Input, actorID string) (*Voucher, error) {
	if in.Payload == nil {
		return nil, &ValidationError{Field: "payload", Message: "required"}
	}
	date := in.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}

	var result *Voucher
	err := s.runUnit(ctx, func(tx Store) error {
		d := s.depsFor(tx)

		seq, err := tx.NextSequence(ctx, in.Payload.Kind(), date)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		v := &Voucher{
			ID:          uuid.NewString(),
			VoucherNo:   formatVoucherNo(in.Payload.Kind(), date, seq),
			Type:        in.Payload.Kind(),
			Date:        date,
			Narration:   in.Narration,
			Attachments: in.Attachments,
			CreatedBy:   actorID,
			UpdatedBy:   actorID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		proc, err := processorFor(in.Payload)
		if err != nil {
			return err
		}
		if err := proc.process(ctx, d, v); err != nil {
			return err
		}
		if !v.Balanced() {
			return fmt.Errorf("voucher %s: debits %s, credits %s: %w",
				v.VoucherNo, v.DebitTotal(), v.CreditTotal(), ErrUnbalanced)
		}

		if v.Status == StatusApproved {
			v.ApprovedBy = actorID
			v.ApprovedAt = &now
		}
		if err := tx.SaveVoucher(ctx, v); err != nil {
			return err
		}
		if v.Status == StatusApproved {
			if err := s.poster.Post(ctx, d, v); err != nil {
				return err
			}
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Status == StatusApproved {
		s.publish(ctx, TopicVoucherPosted, result)
	}
	return result, nil
}

// UpdateVoucher replaces a voucher's content by reversing any posted
// entries, releasing its external effects, re-running the kind strategy
// with the new payload and re-posting when the fresh status is approved.
// Approved vouchers are frozen unless force is set.
func (s *Service) UpdateVoucher(ctx context.Context, id string, in Input, actorID string, force bool) (*Voucher, error) {
	if in.Payload == nil {
		return nil, &ValidationError{Field: "payload", Message: "required"}
	}

	var result *Voucher
	var wasPosted bool
	err := s.runUnit(ctx, func(tx Store) error {
		d := s.depsFor(tx)

		v, err := tx.GetVoucher(ctx, id)
		if err != nil {
			return err
		}
		if v == nil {
			return &NotFoundError{Kind: "voucher", ID: id}
		}
		if v.Status.Terminal() {
			return &StateTransitionError{VoucherID: v.ID, From: v.Status, To: v.Status}
		}
		if v.Status == StatusApproved && !force {
			return fmt.Errorf("voucher %s: %w", v.VoucherNo, ErrImmutableApprovedVoucher)
		}
		if in.Payload.Kind() != v.Type {
			return &ValidationError{Field: "payload", Message: fmt.Sprintf("voucher is a %s, payload is a %s", v.Type, in.Payload.Kind())}
		}

		wasPosted, err = tx.HasActiveEntries(ctx, v.ID)
		if err != nil {
			return err
		}
		if wasPosted {
			if err := s.poster.Reverse(ctx, d, v); err != nil {
				return err
			}
		} else if err := s.poster.ReleaseExternal(ctx, d, v); err != nil {
			return err
		}

		// Rebuild the kind-specific content from scratch on the same
		// identity (id, number, audit trail).
		now := time.Now().UTC()
		v.Lines = nil
		v.Allocations = nil
		v.OnAccountAmount = decimal.Zero
		v.PartyID, v.PartyName = "", ""
		v.PartyType = ""
		v.FromAccountID, v.ToAccountID = "", ""
		v.CategoryID = ""
		if !in.Date.IsZero() {
			v.Date = in.Date
		}
		v.Narration = in.Narration
		v.Attachments = in.Attachments
		v.UpdatedBy = actorID
		v.UpdatedAt = now

		proc, err := processorFor(in.Payload)
		if err != nil {
			return err
		}
		if err := proc.process(ctx, d, v); err != nil {
			return err
		}
		if !v.Balanced() {
			return fmt.Errorf("voucher %s: debits %s, credits %s: %w",
				v.VoucherNo, v.DebitTotal(), v.CreditTotal(), ErrUnbalanced)
		}

		if v.Status == StatusApproved {
			v.ApprovedBy = actorID
			v.ApprovedAt = &now
		}
		if err := tx.SaveVoucher(ctx, v); err != nil {
			return err
		}
		if v.Status == StatusApproved {
			if err := s.poster.Post(ctx, d, v); err != nil {
				return err
			}
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	if wasPosted {
		s.publish(ctx, TopicVoucherReversed, result)
	}
	if result.Status == StatusApproved {
		s.publish(ctx, TopicVoucherPosted, result)
	}
	return result, nil
}

// ApproveOrReject applies a reviewer decision to a draft or pending
// voucher. Approval triggers posting; rejection releases any external
// effects the voucher holds.
func (s *Service) ApproveOrReject(ctx context.Context, id string, action ApprovalAction, actorID, comments string) (*Voucher, error) {
	target, ok := action.statusFor()
	if !ok {
		return nil, &ValidationError{Field: "action", Message: fmt.Sprintf("unknown action %q", action)}
	}

	var result *Voucher
	err := s.runUnit(ctx, func(tx Store) error {
		d := s.depsFor(tx)

		v, err := tx.GetVoucher(ctx, id)
		if err != nil {
			return err
		}
		if v == nil {
			return &NotFoundError{Kind: "voucher", ID: id}
		}
		if err := Transition(v, target); err != nil {
			return err
		}

		now := time.Now().UTC()
		v.UpdatedBy = actorID
		v.UpdatedAt = now
		if comments != "" {
			v.Narration = strings.TrimSpace(v.Narration + "\n" + string(action) + ": " + comments)
		}

		switch target {
		case StatusApproved:
			v.ApprovedBy = actorID
			v.ApprovedAt = &now
			if err := tx.SaveVoucher(ctx, v); err != nil {
				return err
			}
			if err := s.poster.Post(ctx, d, v); err != nil {
				return err
			}
		case StatusRejected:
			if err := s.poster.ReleaseExternal(ctx, d, v); err != nil {
				return err
			}
			v.Allocations = nil
			v.OnAccountAmount = decimal.Zero
			if err := tx.SaveVoucher(ctx, v); err != nil {
				return err
			}
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Status == StatusApproved {
		s.publish(ctx, TopicVoucherPosted, result)
	}
	return result, nil
}

// DeleteVoucher soft-deletes by transition to cancelled. Posted entries
// are reversed first; financial history is never hard-deleted. Deleting
// an already-cancelled voucher is a no-op.
func (s *Service) DeleteVoucher(ctx context.Context, id, actorID string) error {
	var hadEntries bool
	var deleted *Voucher
	err := s.runUnit(ctx, func(tx Store) error {
		d := s.depsFor(tx)

		v, err := tx.GetVoucher(ctx, id)
		if err != nil {
			return err
		}
		if v == nil {
			return &NotFoundError{Kind: "voucher", ID: id}
		}
		if v.Status == StatusCancelled {
			return nil
		}

		switch v.Status {
		case StatusApproved:
			hadEntries, err = tx.HasActiveEntries(ctx, v.ID)
			if err != nil {
				return err
			}
			if err := s.poster.Reverse(ctx, d, v); err != nil {
				return err
			}
		case StatusDraft, StatusPending:
			if err := s.poster.ReleaseExternal(ctx, d, v); err != nil {
				return err
			}
		case StatusRejected:
			// Effects were already released on rejection.
		}

		v.Status = StatusCancelled
		v.UpdatedBy = actorID
		v.UpdatedAt = time.Now().UTC()
		deleted = v
		return tx.SaveVoucher(ctx, v)
	})
	if err != nil {
		return err
	}

	if hadEntries {
		s.publish(ctx, TopicVoucherReversed, deleted)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// GetVoucher returns one voucher.
func (s *Service) GetVoucher(ctx context.Context, id string) (*Voucher, error) {
	v, err := s.store.GetVoucher(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, &NotFoundError{Kind: "voucher", ID: id}
	}
	return v, nil
}

// ListVouchers returns vouchers matching the filter, newest first.
func (s *Service) ListVouchers(ctx context.Context, f VoucherFilter) ([]Voucher, error) {
	return s.store.ListVouchers(ctx, f)
}

// VoucherEntries returns the posting trail of a voucher, reversals
// included, in write order.
func (s *Service) VoucherEntries(ctx context.Context, id string) ([]Entry, error) {
	v, err := s.store.GetVoucher(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, &NotFoundError{Kind: "voucher", ID: id}
	}
	return s.store.EntriesByVoucher(ctx, id)
}

// GetAccount returns one account.
func (s *Service) GetAccount(ctx context.Context, id string) (*Account, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, &NotFoundError{Kind: "account", ID: id}
	}
	return a, nil
}

// ListAccounts returns the chart of accounts ordered by code.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.store.ListAccounts(ctx)
}

// =============================================================================
// CHART ADMINISTRATION
// =============================================================================

// CreateAccount adds an account explicitly.
func (s *Service) CreateAccount(ctx context.Context, in AccountInput) (*Account, error) {
	var result *Account
	err := s.runUnit(ctx, func(tx Store) error {
		a, err := s.chart.Create(ctx, tx, in)
		if err != nil {
			return err
		}
		result = a
		return nil
	})
	return result, err
}

// ReparentAccount moves an account in the hierarchy.
func (s *Service) ReparentAccount(ctx context.Context, accountID, newParentID string) (*Account, error) {
	var result *Account
	err := s.runUnit(ctx, func(tx Store) error {
		a, err := s.chart.Reparent(ctx, tx, accountID, newParentID)
		if err != nil {
			return err
		}
		result = a
		return nil
	})
	return result, err
}

// DeleteAccount removes an unused, non-system account.
func (s *Service) DeleteAccount(ctx context.Context, accountID string) error {
	return s.runUnit(ctx, func(tx Store) error {
		return s.chart.Delete(ctx, tx, accountID)
	})
}

// EnsureSystemAccounts seeds the well-known accounts (Cash in Hand,
// Bank Account, General Expenses) so the chart is queryable before the
// first voucher lazily creates them. Idempotent.
func (s *Service) EnsureSystemAccounts(ctx context.Context) error {
	return s.runUnit(ctx, func(tx Store) error {
		if _, err := s.chart.CashOrBank(ctx, tx, ModeCash); err != nil {
			return err
		}
		if _, err := s.chart.CashOrBank(ctx, tx, ModeBank); err != nil {
			return err
		}
		_, err := s.chart.ensure(ctx, tx, accountSpec{
			Code: CodeGeneralExpenses, Name: "General Expenses",
			Type: AccountExpense, SubType: "general",
			AllowDirectPosting: true, SystemAccount: true,
		})
		return err
	})
}

// =============================================================================
// EVENT PUBLICATION
// =============================================================================

func (s *Service) publish(ctx context.Context, topic string, v *Voucher) {
	ev := VoucherEvent{
		VoucherID:   v.ID,
		VoucherNo:   v.VoucherNo,
		VoucherType: v.Type,
		Status:      v.Status,
		PartyID:     v.PartyID,
		TotalAmount: v.TotalAmount,
		OccurredAt:  time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, topic, ev); err != nil {
		log.Printf("publish %s for voucher %s (%s): %v", topic, v.VoucherNo, v.ID, err)
	}
}
