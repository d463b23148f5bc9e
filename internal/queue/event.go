// Package queue defines the settlement events exchanged over the
// message broker and the background consumer that audits them.
package queue

// Queue names used on the broker.  Both queues are durable so
// settlement events survive broker restarts.
const (
	PaymentSettledQueue = "payment.settled"
	RefundSettledQueue  = "refund.settled"
)

// PaymentSettledEvent is published after a payment order is credited
// and its registration marked paid.  It carries enough information
// for downstream consumers to log, notify or reconcile without
// querying the primary database.
type PaymentSettledEvent struct {
	RegistrationID uint64 `json:"registration_id"`
	SessionID      uint64 `json:"session_id"`
	UserID         uint64 `json:"user_id"`
	OutTradeNo     string `json:"out_trade_no"`
	TradeNo        string `json:"trade_no"`
	AmountCents    uint32 `json:"amount_cents"`
	Method         string `json:"method"`
	PaidAt         string `json:"paid_at"`
}

// RefundSettledEvent is published after the gateway confirmed a
// refund and the registration's seat was freed.
type RefundSettledEvent struct {
	RegistrationID  uint64 `json:"registration_id"`
	RefundRequestID uint64 `json:"refund_request_id"`
	SessionID       uint64 `json:"session_id"`
	UserID          uint64 `json:"user_id"`
	OutRefundNo     string `json:"out_refund_no"`
	AmountCents     uint32 `json:"amount_cents"`
	RefundedAt      string `json:"refunded_at"`
}
