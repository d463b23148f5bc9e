// Package service implements the booking, settlement and refund
// flows on top of the repository layer.  Each flow runs its
// check-then-mutate sequence inside one transaction with the
// relevant row locked, so handlers stay thin translators between
// HTTP and these methods.
package service

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/iliyamo/event-booking/internal/gateway"
	"github.com/iliyamo/event-booking/internal/model"
	"github.com/iliyamo/event-booking/internal/repository"
)

// PaymentGateway is the slice of the gateway client the booking and
// settlement flows need.  Declared here so tests can substitute a
// mock without a network.
type PaymentGateway interface {
	CreateOrder(amountCents uint32, subject, outTradeNo string, method model.PayMethod) (*gateway.Order, error)
	QueryOrder(ctx context.Context, outTradeNo string) (*gateway.QueryResult, error)
	Refund(ctx context.Context, tradeNo, outTradeNo string, amountCents uint32) (*gateway.RefundResult, error)
	VerifyNotification(params map[string]string) bool
}

// BookingService owns reservation admission and hold expiry.  All
// capacity decisions happen while the session row is locked; the
// remaining seat count is always derived from the registration set
// under that lock, never read from a cached counter.
type BookingService struct {
	db       *sql.DB
	sessions *repository.SessionRepo
	regs     *repository.RegistrationRepo
	payments *repository.PaymentRepo
	gw       PaymentGateway
}

// NewBookingService constructs a BookingService.  All dependencies
// must be non-nil.
func NewBookingService(db *sql.DB, sessions *repository.SessionRepo, regs *repository.RegistrationRepo, payments *repository.PaymentRepo, gw PaymentGateway) *BookingService {
	if db == nil || sessions == nil || regs == nil || payments == nil || gw == nil {
		panic("nil dependency passed to NewBookingService")
	}
	return &BookingService{db: db, sessions: sessions, regs: regs, payments: payments, gw: gw}
}

// ReserveResult is handed back to the CRUD layer so it can redirect
// the customer straight to the cashier page.
type ReserveResult struct {
	RegistrationID uint64 `json:"registration_id"`
	PaymentID      uint64 `json:"payment_id"`
	OutTradeNo     string `json:"out_trade_no"`
	PayURL         string `json:"pay_url"`
	ExpiresAt      string `json:"expires_at"`
}

// Reserve claims one seat of the session for the user and opens a
// payment order for it.  The whole admission runs in a single
// transaction: lock the session row, persist any lapsed holds so
// their seats are free, reject duplicates, recompute the remaining
// seats, insert the PENDING registration and its payment order.
// Two concurrent calls on the same session serialize on the row
// lock, so both can never observe the same last seat.  The cashier
// URL is built after commit; a signing failure at that point leaves
// a valid pending registration whose URL can be re-fetched via
// CheckoutURL.
func (s *BookingService) Reserve(ctx context.Context, sessionID, userID uint64, method model.PayMethod) (*ReserveResult, error) {
	now := time.Now().UTC()
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

	sess, err := s.sessions.LockTx(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.StartsAt.After(now) {
		return nil, repository.ErrConflict
	}
	// Free seats held by lapsed pendings before counting, so an
	// expired hold can never block the last seat.
	if _, err := s.regs.ExpireLapsedTx(ctx, tx, sessionID, now); err != nil {
		return nil, err
	}
	existing, err := s.regs.ActiveByUserTx(ctx, tx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, repository.ErrDuplicateReservation
	}
	active, err := s.sessions.CountActiveTx(ctx, tx, sessionID, now)
	if err != nil {
		return nil, err
	}
	if active >= sess.Capacity {
		return nil, repository.ErrCapacityExhausted
	}
	reg := &model.Registration{SessionID: sessionID, UserID: userID}
	if err := s.regs.CreateTx(ctx, tx, reg); err != nil {
		return nil, err
	}
	pay := &model.Payment{
		RegistrationID: reg.ID,
		AmountCents:    sess.FeeCents,
		Method:         method,
		OutTradeNo:     gateway.NewOutTradeNo(now),
	}
	if err := s.payments.CreateTx(ctx, tx, pay); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true

	order, err := s.gw.CreateOrder(pay.AmountCents, "Session fee - "+sess.Title, pay.OutTradeNo, method)
	if err != nil {
		// Registration and order row exist; only URL construction
		// failed.  Surface the error, the client retries via
		// CheckoutURL.
		return nil, err
	}
	return &ReserveResult{
		RegistrationID: reg.ID,
		PaymentID:      pay.ID,
		OutTradeNo:     pay.OutTradeNo,
		PayURL:         order.PayURL,
		ExpiresAt:      reg.CreatedAt.Add(model.HoldWindow).UTC().Format(time.RFC3339),
	}, nil
}

// CheckoutURL rebuilds the cashier URL for a registration that is
// still awaiting payment.  The existing merchant order id is always
// reused, so a customer who re-opens the checkout page lands on the
// same provider-side order instead of fragmenting payment state
// across several orders.
func (s *BookingService) CheckoutURL(ctx context.Context, registrationID, userID uint64) (*ReserveResult, error) {
	reg, err := s.regs.GetByID(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if reg.UserID != userID {
		return nil, repository.ErrForbidden
	}
	now := time.Now().UTC()
	if reg.Phase(now) != model.RegistrationPending {
		return nil, ErrNotPayable
	}
	pay, err := s.payments.PendingByRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if pay == nil {
		return nil, ErrNotPayable
	}
	sess, err := s.sessions.GetByID(ctx, reg.SessionID)
	if err != nil {
		return nil, err
	}
	order, err := s.gw.CreateOrder(pay.AmountCents, "Session fee - "+sess.Title, pay.OutTradeNo, pay.Method)
	if err != nil {
		return nil, err
	}
	return &ReserveResult{
		RegistrationID: reg.ID,
		PaymentID:      pay.ID,
		OutTradeNo:     pay.OutTradeNo,
		PayURL:         order.PayURL,
		ExpiresAt:      reg.CreatedAt.Add(model.HoldWindow).UTC().Format(time.RFC3339),
	}, nil
}

// Availability reports the derived free seat count for one session.
// Purely informational: the authoritative check happens again under
// the row lock inside Reserve, so this read takes no lock.
type Availability struct {
	SessionID uint64 `json:"session_id"`
	Capacity  uint32 `json:"capacity"`
	Remaining uint32 `json:"remaining"`
}

// RemainingSeats computes capacity minus the active registration
// count.  Lapsed pendings are excluded by the same SQL cutoff the
// ledger uses, so the lazy view always matches what a sweep would
// produce.
func (s *BookingService) RemainingSeats(ctx context.Context, sessionID uint64) (*Availability, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	active, err := s.sessions.CountActiveTx(ctx, tx, sessionID, now)
	if err != nil {
		return nil, err
	}
	remaining := uint32(0)
	if sess.Capacity > active {
		remaining = sess.Capacity - active
	}
	return &Availability{SessionID: sessionID, Capacity: sess.Capacity, Remaining: remaining}, nil
}

// ExpireStale is the reconciliation sweep: it persists the EXPIRED
// transition for every lapsed PENDING registration, session by
// session, taking the same session row lock Reserve takes so the
// two can run concurrently without double-freeing a seat.  It
// returns the number of registrations expired.
func (s *BookingService) ExpireStale(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	sessionIDs, err := s.regs.SessionsWithLapsed(ctx, now)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, sid := range sessionIDs {
		n, err := s.expireSession(ctx, sid, now)
		if err != nil {
			// Keep sweeping the remaining sessions; a contended or
			// deleted session should not stall the whole pass.
			log.Printf("sweep: session %d: %v", sid, err)
			continue
		}
		total += n
	}
	return total, nil
}

func (s *BookingService) expireSession(ctx context.Context, sessionID uint64, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := s.sessions.LockTx(ctx, tx, sessionID); err != nil {
		return 0, err
	}
	ids, err := s.regs.ExpireLapsedTx(ctx, tx, sessionID, now)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return len(ids), nil
}
