package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iliyamo/event-booking/internal/gateway"
	"github.com/iliyamo/event-booking/internal/model"
	"github.com/iliyamo/event-booking/internal/queue"
	"github.com/iliyamo/event-booking/internal/repository"
)

// RefundTier is the percentage of the fee refundable for a request
// filed with the given time remaining before the session starts.
// The boundaries are strict: exactly 48h remaining already falls
// into the 50% tier, exactly 24h remaining is rejected.
func RefundTier(remaining time.Duration) (percent int, ok bool) {
	switch {
	case remaining > 48*time.Hour:
		return 100, true
	case remaining > 24*time.Hour:
		return 50, true
	default:
		return 0, false
	}
}

// RefundableAmount computes the cents refundable when filing at
// `now` for a session starting at startsAt.  Returns
// repository.ErrRefundNotAllowed inside the final 24 hours.
func RefundableAmount(feeCents uint32, startsAt, now time.Time) (uint32, error) {
	percent, ok := RefundTier(startsAt.Sub(now))
	if !ok {
		return 0, repository.ErrRefundNotAllowed
	}
	return uint32(uint64(feeCents) * uint64(percent) / 100), nil
}

// RefundService owns the two-step refund workflow: the registrant
// files a request whose amount is fixed by the tier at filing time,
// and the session owner approves or rejects it.  Approval drives a
// gateway refund; the seat is only freed once the gateway confirms,
// so capacity accounting stays conservative when the provider is
// flaky.
type RefundService struct {
	db       *sql.DB
	refunds  *repository.RefundRepo
	regs     *repository.RegistrationRepo
	payments *repository.PaymentRepo
	sessions *repository.SessionRepo
	gw       PaymentGateway
	pub      EventPublisher
}

// NewRefundService constructs a RefundService.  pub may be nil.
func NewRefundService(db *sql.DB, refunds *repository.RefundRepo, regs *repository.RegistrationRepo, payments *repository.PaymentRepo, sessions *repository.SessionRepo, gw PaymentGateway, pub EventPublisher) *RefundService {
	if db == nil || refunds == nil || regs == nil || payments == nil || sessions == nil || gw == nil {
		panic("nil dependency passed to NewRefundService")
	}
	return &RefundService{db: db, refunds: refunds, regs: regs, payments: payments, sessions: sessions, gw: gw, pub: pub}
}

// Request files a refund request for a paid registration.  The
// refundable amount is computed from the tier at this moment and
// stored on the request; a later approval pays out exactly this
// amount regardless of how close the session has come.
func (s *RefundService) Request(ctx context.Context, registrationID, userID uint64, reason string) (*model.RefundRequest, error) {
	reg, err := s.regs.GetByID(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if reg.UserID != userID {
		return nil, repository.ErrForbidden
	}
	if reg.Status != model.RegistrationPaid {
		return nil, repository.ErrConflict
	}
	active, err := s.refunds.ActiveRequestByRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, repository.ErrDuplicateRefundRequest
	}
	sess, err := s.sessions.GetByID(ctx, reg.SessionID)
	if err != nil {
		return nil, err
	}
	amount, err := RefundableAmount(sess.FeeCents, sess.StartsAt, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	rr := &model.RefundRequest{RegistrationID: registrationID, Reason: reason, AmountCents: amount}
	if err := s.refunds.CreateRequest(ctx, rr); err != nil {
		return nil, err
	}
	return rr, nil
}

// ProcessAction is an owner decision on a pending refund request.
type ProcessAction string

const (
	ActionApprove ProcessAction = "approve"
	ActionReject  ProcessAction = "reject"
)

// ParseProcessAction validates the action string from the handler.
func ParseProcessAction(s string) (ProcessAction, error) {
	switch a := ProcessAction(s); a {
	case ActionApprove, ActionReject:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// ProcessResult reports what the decision did.
type ProcessResult struct {
	RequestStatus string `json:"request_status"`
	RefundStatus  string `json:"refund_status,omitempty"`
	Message       string `json:"message"`
}

// Process applies an owner decision.  Only the owner of the session
// behind the request may decide.  Rejection closes the request and
// leaves the registration untouched.  Approval runs the gateway
// refund; see initiate for the failure contract.
func (s *RefundService) Process(ctx context.Context, requestID, ownerID uint64, action ProcessAction) (*ProcessResult, error) {
	rr, err := s.refunds.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	reg, err := s.regs.GetByID(ctx, rr.RegistrationID)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.GetByID(ctx, reg.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.OwnerID != ownerID {
		return nil, repository.ErrForbidden
	}
	switch action {
	case ActionReject:
		if rr.Status != model.RefundRequestPending {
			return nil, repository.ErrConflict
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		if err := s.refunds.MarkRequestTx(ctx, tx, rr.ID, model.RefundRequestRejected, ownerID, time.Now().UTC()); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return &ProcessResult{RequestStatus: "rejected", Message: "refund request rejected"}, nil
	case ActionApprove:
		return s.initiate(ctx, rr, reg, ownerID)
	}
	return nil, fmt.Errorf("unknown action %q", action)
}

// refundStuckAfter is how long a PROCESSING refund row may sit
// without a gateway outcome before re-approval treats it as orphaned
// and reopens it.  A live gateway call resolves within the client
// timeout, so anything this old belongs to a process that died
// between staging the row and calling out.
const refundStuckAfter = 10 * time.Minute

// refundRetryable reports whether a re-approval may reopen the
// refund row instead of conflicting.
func refundRetryable(rf *model.Refund, now time.Time) bool {
	switch rf.Status {
	case model.RefundFailed:
		return true
	case model.RefundProcessing:
		return now.Sub(rf.CreatedAt) >= refundStuckAfter
	}
	return false
}

// initiate drives the gateway refund for an approved request.
//
// The bookkeeping is deliberately staged: a PROCESSING refund row is
// committed before the gateway call, so a crash mid-call leaves an
// inspectable record instead of a lost request.  On gateway success
// the refund, the request and the registration flip together in one
// transaction, which is the moment the seat is freed.  On gateway
// failure the refund row is marked FAILED and the request stays
// PENDING so the owner can retry; the seat stays taken until money
// actually moved.
func (s *RefundService) initiate(ctx context.Context, rr *model.RefundRequest, reg *model.Registration, ownerID uint64) (*ProcessResult, error) {
	if rr.Status == model.RefundRequestRejected {
		return nil, repository.ErrConflict
	}
	pay, err := s.payments.GetByRegistration(ctx, rr.RegistrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrConflict
		}
		return nil, err
	}
	if pay.Status != model.PaymentSuccess {
		return nil, repository.ErrConflict
	}

	now := time.Now().UTC()
	outRefundNo := gateway.NewOutTradeNo(now)
	existing, err := s.refunds.GetRefundByRequest(ctx, rr.ID)
	if err != nil {
		return nil, err
	}
	var refund *model.Refund
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	switch {
	case existing == nil:
		refund = &model.Refund{RefundRequestID: rr.ID, AmountCents: rr.AmountCents, OutRefundNo: outRefundNo}
		if err := s.refunds.CreateRefundTx(ctx, tx, refund); err != nil {
			return nil, err
		}
	case refundRetryable(existing, now):
		// Reopen under a fresh merchant refund id.  Covers a manual
		// retry after a gateway rejection and a PROCESSING row
		// orphaned by a crash before the gateway call went out.
		if err := s.refunds.ReopenRefundTx(ctx, tx, existing.ID, outRefundNo, now.Add(-refundStuckAfter)); err != nil {
			return nil, err
		}
		existing.Status = model.RefundProcessing
		existing.OutRefundNo = outRefundNo
		refund = existing
	default:
		// Fresh PROCESSING or SUCCESS: idempotent re-entry, nothing
		// to do.
		return nil, repository.ErrConflict
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true

	tradeNo := ""
	if pay.TradeNo != nil {
		tradeNo = *pay.TradeNo
	}
	result, err := s.gw.Refund(ctx, tradeNo, pay.OutTradeNo, rr.AmountCents)
	if err != nil || !result.OK {
		if err != nil {
			log.Printf("refund: gateway call for request %d failed: %v", rr.ID, err)
		} else {
			log.Printf("refund: gateway rejected request %d: %s", rr.ID, result.Message)
		}
		if ferr := s.markFailed(ctx, refund.ID); ferr != nil {
			return nil, ferr
		}
		return &ProcessResult{
			RequestStatus: "pending",
			RefundStatus:  "failed",
			Message:       "gateway refund failed, request kept for retry",
		}, nil
	}

	ftx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	fcommitted := false
	defer func() {
		if !fcommitted {
			_ = ftx.Rollback()
		}
	}()
	refundedAt := time.Now().UTC()
	if err := s.refunds.MarkRefundSuccessTx(ctx, ftx, refund.ID, result.GatewayRefundNo, refundedAt); err != nil {
		return nil, err
	}
	if err := s.refunds.MarkRequestTx(ctx, ftx, rr.ID, model.RefundRequestApproved, ownerID, refundedAt); err != nil {
		return nil, err
	}
	if err := s.regs.MarkRefundedTx(ctx, ftx, reg.ID); err != nil {
		return nil, err
	}
	if err := ftx.Commit(); err != nil {
		return nil, err
	}
	fcommitted = true

	if s.pub != nil {
		ev := queue.RefundSettledEvent{
			RegistrationID:  reg.ID,
			RefundRequestID: rr.ID,
			SessionID:       reg.SessionID,
			UserID:          reg.UserID,
			OutRefundNo:     refund.OutRefundNo,
			AmountCents:     rr.AmountCents,
			RefundedAt:      refundedAt.Format(time.RFC3339),
		}
		if perr := s.pub.RefundSettled(ctx, ev); perr != nil {
			log.Printf("refund: publish refund.settled for request %d failed: %v", rr.ID, perr)
		}
	}
	return &ProcessResult{
		RequestStatus: "approved",
		RefundStatus:  "success",
		Message:       "refund settled",
	}, nil
}

func (s *RefundService) markFailed(ctx context.Context, refundID uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := s.refunds.MarkRefundFailedTx(ctx, tx, refundID); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
