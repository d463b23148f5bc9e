package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/iliyamo/event-booking/internal/gateway"
	"github.com/iliyamo/event-booking/internal/model"
	"github.com/iliyamo/event-booking/internal/queue"
	"github.com/iliyamo/event-booking/internal/repository"
)

// EventPublisher fans settlement outcomes out to the message broker
// for the out-of-scope display/notification layer.  Publish failures
// are logged and swallowed; settlement state in the database is the
// source of truth, the events are advisory.
type EventPublisher interface {
	PaymentSettled(ctx context.Context, ev queue.PaymentSettledEvent) error
	RefundSettled(ctx context.Context, ev queue.RefundSettledEvent) error
}

// PaymentStore is the slice of the payment repository settlement
// needs.  Declared here, like PaymentGateway, so tests can substitute
// a mock and drive the notification contract without a database.
type PaymentStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Payment, error)
	GetByOutTradeNo(ctx context.Context, outTradeNo string) (*model.Payment, error)
	LockByOutTradeNoTx(ctx context.Context, tx *sql.Tx, outTradeNo string) (*model.Payment, error)
	MarkSuccessTx(ctx context.Context, tx *sql.Tx, id uint64, tradeNo, buyer string, paidAt time.Time) error
	MarkClosedTx(ctx context.Context, tx *sql.Tx, id uint64) error
}

// RegistrationStore is the slice of the registration repository
// settlement needs.
type RegistrationStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Registration, error)
	MarkPaidTx(ctx context.Context, tx *sql.Tx, id uint64) error
}

// SettlementService bridges local payment state to the eventually
// consistent provider.  Both entry points - the asynchronous webhook
// and the customer-facing poll - converge on the same single
// transition: payment PENDING -> SUCCESS together with registration
// PENDING -> PAID, executed exactly once under a payment row lock.
type SettlementService struct {
	db       *sql.DB
	payments PaymentStore
	regs     RegistrationStore
	gw       PaymentGateway
	pub      EventPublisher
}

// NewSettlementService constructs a SettlementService.  pub may be
// nil when no broker is configured; events are then skipped.
func NewSettlementService(db *sql.DB, payments PaymentStore, regs RegistrationStore, gw PaymentGateway, pub EventPublisher) *SettlementService {
	if db == nil || payments == nil || regs == nil || gw == nil {
		panic("nil dependency passed to NewSettlementService")
	}
	return &SettlementService{db: db, payments: payments, regs: regs, gw: gw, pub: pub}
}

// HandleNotification processes one asynchronous provider callback.
// A nil return means the handler must answer the literal "success"
// body; any error means the literal "fail", which makes the provider
// redeliver.  The flow is side-effect idempotent: replaying a
// payload that was already credited returns nil without touching
// state, and out-of-order duplicates are serialized by the payment
// row lock.
func (s *SettlementService) HandleNotification(ctx context.Context, params map[string]string) error {
	if len(params) == 0 {
		return fmt.Errorf("empty notification")
	}
	if !s.gw.VerifyNotification(params) {
		return ErrSignatureInvalid
	}
	outTradeNo := params["out_trade_no"]
	if outTradeNo == "" {
		return fmt.Errorf("notification missing out_trade_no")
	}
	// Anything but a terminal success is acknowledged and ignored;
	// the provider keeps the order's lifecycle, we only record the
	// paid transition.
	if params["trade_status"] != gateway.TradeSuccess {
		return nil
	}
	pay, err := s.payments.GetByOutTradeNo(ctx, outTradeNo)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("unknown order %s", outTradeNo)
		}
		return err
	}
	// Fast path: a duplicate delivery for an already credited order
	// acks immediately, no lock taken.
	if pay.Status == model.PaymentSuccess {
		return nil
	}
	notified, err := gateway.ParseMoney(params["money"])
	if err != nil {
		return fmt.Errorf("notification money: %w", err)
	}
	if notified != pay.AmountCents {
		return ErrAmountMismatch
	}
	// Belt and braces: re-confirm against the provider's query API.
	// The notification already carries a valid signature, so a
	// query failure downgrades to a logged warning rather than a
	// rejected settlement.
	if qr, qerr := s.gw.QueryOrder(ctx, outTradeNo); qerr != nil {
		log.Printf("settlement: confirm query for %s failed: %v", outTradeNo, qerr)
	} else if !qr.Paid {
		log.Printf("settlement: query disagrees with notification for %s, proceeding on signed payload", outTradeNo)
	}
	paidAt := time.Now().UTC()
	if t, perr := time.Parse("2006-01-02 15:04:05", params["endtime"]); perr == nil {
		paidAt = t.UTC()
	}
	return s.settle(ctx, outTradeNo, params["trade_no"], params["buyer"], paidAt)
}

// settle performs the double-checked, locked transition.  If the
// linked registration's hold already lapsed (the seat may have been
// resold), the payment is CLOSED instead of credited and the
// notification is still acknowledged - the provider's job is done,
// reconciling the customer's money is a refund concern.
func (s *SettlementService) settle(ctx context.Context, outTradeNo, tradeNo, buyer string, paidAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	pay, err := s.payments.LockByOutTradeNoTx(ctx, tx, outTradeNo)
	if err != nil {
		return err
	}
	// Re-check under the lock: a concurrent delivery may have won
	// the race between the fast path and here.
	if pay.Status == model.PaymentSuccess {
		return nil
	}
	if pay.Status != model.PaymentPending {
		// FAILED/CLOSED orders are never resurrected by a late
		// notification.
		return nil
	}
	reg, err := s.regs.GetByID(ctx, pay.RegistrationID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if reg.Phase(now) != model.RegistrationPending {
		log.Printf("settlement: order %s arrived for superseded registration %d (phase %s), closing",
			outTradeNo, reg.ID, reg.Phase(now))
		if err := s.payments.MarkClosedTx(ctx, tx, pay.ID); err != nil {
			return err
		}
		return s.commit(tx, &committed)
	}
	if err := s.payments.MarkSuccessTx(ctx, tx, pay.ID, tradeNo, buyer, paidAt); err != nil {
		return err
	}
	if err := s.regs.MarkPaidTx(ctx, tx, reg.ID); err != nil {
		return err
	}
	if err := s.commit(tx, &committed); err != nil {
		return err
	}
	s.publishPaymentSettled(ctx, pay, reg, tradeNo, paidAt)
	return nil
}

func (s *SettlementService) commit(tx *sql.Tx, committed *bool) error {
	if err := tx.Commit(); err != nil {
		return err
	}
	*committed = true
	return nil
}

func (s *SettlementService) publishPaymentSettled(ctx context.Context, pay *model.Payment, reg *model.Registration, tradeNo string, paidAt time.Time) {
	if s.pub == nil {
		return
	}
	ev := queue.PaymentSettledEvent{
		RegistrationID: reg.ID,
		SessionID:      reg.SessionID,
		UserID:         reg.UserID,
		OutTradeNo:     pay.OutTradeNo,
		TradeNo:        tradeNo,
		AmountCents:    pay.AmountCents,
		Method:         string(pay.Method),
		PaidAt:         paidAt.Format(time.RFC3339),
	}
	if err := s.pub.PaymentSettled(ctx, ev); err != nil {
		log.Printf("settlement: publish payment.settled for %s failed: %v", pay.OutTradeNo, err)
	}
}

// StatusResult is the poll answer for an outstanding payment.  The
// message is user-facing; gateway failures collapse into a generic
// retry hint and never leak provider identifiers.
type StatusResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Status reports the state of one payment for its owner, lazily
// confirming against the provider when the local state is still
// PENDING.  A confirmed payment settles through the same locked
// path the webhook uses, so whichever of the two learns about the
// money first wins and the other becomes a no-op.
func (s *SettlementService) Status(ctx context.Context, paymentID, userID uint64) (*StatusResult, error) {
	pay, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	reg, err := s.regs.GetByID(ctx, pay.RegistrationID)
	if err != nil {
		return nil, err
	}
	if reg.UserID != userID {
		return nil, repository.ErrForbidden
	}
	switch pay.Status {
	case model.PaymentSuccess:
		return &StatusResult{Status: "success", Message: "payment completed"}, nil
	case model.PaymentClosed:
		return &StatusResult{Status: "closed", Message: "order closed"}, nil
	case model.PaymentFailed:
		return &StatusResult{Status: "failed", Message: "payment failed"}, nil
	}
	qr, err := s.gw.QueryOrder(ctx, pay.OutTradeNo)
	if err != nil {
		// Timeout or network trouble: the order stays PENDING and
		// the customer retries; nothing internal leaks out.
		log.Printf("settlement: status query for payment %d failed: %v", pay.ID, err)
		return &StatusResult{Status: "pending", Message: "status check unavailable, try again shortly"}, nil
	}
	if !qr.Paid {
		return &StatusResult{Status: "pending", Message: "payment not completed"}, nil
	}
	if qr.AmountCents != 0 && qr.AmountCents != pay.AmountCents {
		log.Printf("settlement: query amount mismatch for payment %d: got %d want %d", pay.ID, qr.AmountCents, pay.AmountCents)
		return &StatusResult{Status: "pending", Message: "status check unavailable, try again shortly"}, nil
	}
	paidAt := qr.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}
	if err := s.settle(ctx, pay.OutTradeNo, qr.TradeNo, qr.Buyer, paidAt); err != nil {
		return nil, err
	}
	// Settle may have closed rather than credited the order when
	// the hold had lapsed; report what was actually recorded.
	final, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if final.Status == model.PaymentSuccess {
		return &StatusResult{Status: "success", Message: "payment completed"}, nil
	}
	return &StatusResult{Status: strings.ToLower(string(final.Status)), Message: "order closed"}, nil
}
