package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/event-booking/internal/model"
)

// PaymentRepo provides data access to the payments table.  A payment
// row is the local mirror of one merchant order at the gateway; the
// webhook settlement path serializes on the row via the FOR UPDATE
// variant so concurrent notification deliveries cannot both credit
// the same order.  All timestamp fields are stored in UTC.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo returns a new PaymentRepo bound to the given database.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

const paymentColumns = `id, registration_id, amount_cents, status, method, out_trade_no, trade_no, buyer, created_at, paid_at`

func scanPayment(scan func(dest ...any) error) (*model.Payment, error) {
	var p model.Payment
	var status, method string
	var tradeNo, buyer sql.NullString
	var paidAt sql.NullTime
	if err := scan(&p.ID, &p.RegistrationID, &p.AmountCents, &status, &method,
		&p.OutTradeNo, &tradeNo, &buyer, &p.CreatedAt, &paidAt); err != nil {
		return nil, err
	}
	p.Status = model.PaymentStatus(status)
	p.Method = model.PayMethod(method)
	if tradeNo.Valid {
		v := tradeNo.String
		p.TradeNo = &v
	}
	if buyer.Valid {
		v := buyer.String
		p.Buyer = &v
	}
	if paidAt.Valid {
		t := paidAt.Time
		p.PaidAt = &t
	}
	return &p, nil
}

// CreateTx inserts a PENDING payment order within the provided
// transaction.  The out_trade_no uniqueness constraint backstops the
// merchant order id generator against collisions.
func (r *PaymentRepo) CreateTx(ctx context.Context, tx *sql.Tx, p *model.Payment) error {
	const q = `INSERT INTO payments (registration_id, amount_cents, status, method, out_trade_no)
	           VALUES (?, ?, ?, ?, ?)`
	if p.Status == "" {
		p.Status = model.PaymentPending
	}
	res, err := tx.ExecContext(ctx, q, p.RegistrationID, p.AmountCents, string(p.Status), string(p.Method), p.OutTradeNo)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	const sel = `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`
	loaded, err := scanPayment(tx.QueryRowContext(ctx, sel, p.ID).Scan)
	if err != nil {
		return err
	}
	*p = *loaded
	return nil
}

// GetByID returns a payment or sql.ErrNoRows.
func (r *PaymentRepo) GetByID(ctx context.Context, id uint64) (*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`
	return scanPayment(r.db.QueryRowContext(ctx, q, id).Scan)
}

// GetByOutTradeNo returns the payment carrying the given merchant
// order id, or sql.ErrNoRows.  Used by the webhook fast path before
// any lock is taken.
func (r *PaymentRepo) GetByOutTradeNo(ctx context.Context, outTradeNo string) (*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE out_trade_no = ?`
	return scanPayment(r.db.QueryRowContext(ctx, q, outTradeNo).Scan)
}

// LockByOutTradeNoTx loads the payment under an exclusive row lock.
// Settlement re-checks the status after acquiring this lock (double
// checked locking) so a duplicate notification that raced past the
// fast path still cannot credit the order twice.
func (r *PaymentRepo) LockByOutTradeNoTx(ctx context.Context, tx *sql.Tx, outTradeNo string) (*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE out_trade_no = ? FOR UPDATE`
	return scanPayment(tx.QueryRowContext(ctx, q, outTradeNo).Scan)
}

// PendingByRegistration returns the registration's payment when it
// is still PENDING and already carries a merchant order id, so the
// checkout page can reuse the order instead of minting a new one.
// Returns nil, nil when no reusable order exists.
func (r *PaymentRepo) PendingByRegistration(ctx context.Context, registrationID uint64) (*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments
	           WHERE registration_id = ? AND status = 'PENDING' AND out_trade_no <> ''`
	p, err := scanPayment(r.db.QueryRowContext(ctx, q, registrationID).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetByRegistration returns the payment backing a registration, or
// sql.ErrNoRows when none was ever created.
func (r *PaymentRepo) GetByRegistration(ctx context.Context, registrationID uint64) (*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE registration_id = ?`
	return scanPayment(r.db.QueryRowContext(ctx, q, registrationID).Scan)
}

// MarkSuccessTx records the single PENDING -> SUCCESS transition,
// storing the gateway transaction id, the payer account when known
// and the settlement time.  The guard on status keeps the update
// idempotent even if invoked twice inside unrelated transactions.
func (r *PaymentRepo) MarkSuccessTx(ctx context.Context, tx *sql.Tx, id uint64, tradeNo, buyer string, paidAt time.Time) error {
	const q = `UPDATE payments SET status = 'SUCCESS', trade_no = ?, buyer = NULLIF(?, ''), paid_at = ?
	           WHERE id = ? AND status = 'PENDING'`
	_, err := tx.ExecContext(ctx, q, tradeNo, buyer, paidAt.UTC().Format("2006-01-02 15:04:05"), id)
	return err
}

// MarkClosedTx closes a payment whose registration was superseded.
// A late notification for an expired hold lands here: the money flow
// is acknowledged to the provider but the seat is not credited.
func (r *PaymentRepo) MarkClosedTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	const q = `UPDATE payments SET status = 'CLOSED' WHERE id = ? AND status = 'PENDING'`
	_, err := tx.ExecContext(ctx, q, id)
	return err
}
