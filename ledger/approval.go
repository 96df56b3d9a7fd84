/*
approval.go - Voucher lifecycle state machine

STATES:
  draft    -> pending, approved
  pending  -> approved, rejected
  approved -> cancelled        (delete; reversal runs first)
  draft, pending -> cancelled  (delete before approval)
  rejected, cancelled          terminal

Reaching approved is what gates ledger posting: the transition into
approved triggers Poster.Post when the voucher has no live entries, and
the transition approved -> cancelled triggers Poster.Reverse. Only draft
or pending vouchers may be approved or rejected.
*/
package ledger

// allowedTransitions is the full transition relation.
var allowedTransitions = map[VoucherStatus][]VoucherStatus{
	StatusDraft:    {StatusPending, StatusApproved, StatusCancelled},
	StatusPending:  {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved: {StatusCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to VoucherStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates and applies a status change on the voucher,
// returning StateTransitionError on an illegal move. Posting side
// effects are the caller's job; this only guards the relation.
func Transition(v *Voucher, to VoucherStatus) error {
	if !CanTransition(v.Status, to) {
		return &StateTransitionError{VoucherID: v.ID, From: v.Status, To: to}
	}
	v.Status = to
	return nil
}

// ApprovalAction is a reviewer's decision on a draft/pending voucher.
type ApprovalAction string

const (
	ActionApprove ApprovalAction = "approve"
	ActionReject  ApprovalAction = "reject"
)

// statusFor maps a reviewer action to its target status.
func (a ApprovalAction) statusFor() (VoucherStatus, bool) {
	switch a {
	case ActionApprove:
		return StatusApproved, true
	case ActionReject:
		return StatusRejected, true
	}
	return "", false
}
