package model

import "time"

// RefundRequestStatus enumerates the review states of a refund
// request.  PENDING requests await an owner decision; APPROVED and
// REJECTED are terminal for the request, though a registration may
// accumulate new requests after a rejection.
type RefundRequestStatus string

const (
	RefundRequestPending  RefundRequestStatus = "PENDING"
	RefundRequestApproved RefundRequestStatus = "APPROVED"
	RefundRequestRejected RefundRequestStatus = "REJECTED"
)

// Active reports whether the request blocks the filing of another
// one for the same registration.
func (s RefundRequestStatus) Active() bool {
	return s == RefundRequestPending || s == RefundRequestApproved
}

// RefundStatus enumerates the states of a gateway-side refund order.
type RefundStatus string

const (
	RefundProcessing RefundStatus = "PROCESSING" // refund call in flight or pending retry bookkeeping
	RefundSuccess    RefundStatus = "SUCCESS"    // gateway confirmed the refund
	RefundFailed     RefundStatus = "FAILED"     // gateway rejected; eligible for manual retry
)

// RefundRequest is a registrant's petition to get (part of) the fee
// back.  The refundable amount is fixed at filing time from the
// time remaining until the session start, so a request filed in the
// 100% tier keeps its full amount even if the owner approves it
// later.
//
// Fields:
//  ID             – primary key identifier.
//  RegistrationID – registration the refund concerns.
//  Reason         – registrant's free-text reason.
//  AmountCents    – refundable amount computed at filing time.
//  Status         – review state.
//  CreatedAt      – filing timestamp.
//  ProcessedAt    – when the owner decided, if they have.
//  ProcessedBy    – owner who decided, if any.
type RefundRequest struct {
	ID             uint64              // refund_requests.id
	RegistrationID uint64              // refund_requests.registration_id
	Reason         string              // refund_requests.reason
	AmountCents    uint32              // refund_requests.amount_cents
	Status         RefundRequestStatus // refund_requests.status
	CreatedAt      time.Time           // refund_requests.created_at
	ProcessedAt    *time.Time          // refund_requests.processed_at (nullable)
	ProcessedBy    *uint64             // refund_requests.processed_by (nullable)
}

// Refund records the gateway-side outcome of an approved request.
// A FAILED row is kept for inspection and may be retried; the seat
// is only freed once a refund actually reaches SUCCESS.
type Refund struct {
	ID              uint64       // refunds.id
	RefundRequestID uint64       // refunds.refund_request_id (unique)
	AmountCents     uint32       // refunds.amount_cents
	Status          RefundStatus // refunds.status
	OutRefundNo     string       // refunds.out_refund_no (unique, merchant generated)
	GatewayRefundNo *string      // refunds.gateway_refund_no (nullable)
	CreatedAt       time.Time    // refunds.created_at
	RefundedAt      *time.Time   // refunds.refunded_at (nullable)
}
