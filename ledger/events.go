/*
events.go - Voucher lifecycle event publication

Posted and reversed vouchers are announced to downstream consumers
(reporting, notifications) after the atomic unit commits. Publication is
best-effort: a failed publish is logged by the caller, never rolled
back into the financial write.
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// VoucherEvent is the fact published when a voucher posts or reverses.
type VoucherEvent struct {
	VoucherID   string          `json:"voucher_id"`
	VoucherNo   string          `json:"voucher_no"`
	VoucherType VoucherType     `json:"voucher_type"`
	Status      VoucherStatus   `json:"status"`
	PartyID     string          `json:"party_id,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Topics for voucher lifecycle events.
const (
	TopicVoucherPosted   = "ledger.voucher.posted"
	TopicVoucherReversed = "ledger.voucher.reversed"
)

// EventPublisher delivers voucher events to an external broker.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

// NopPublisher drops every event. The default when no broker is
// configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }
