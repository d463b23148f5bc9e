package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/event-booking/internal/model"
)

// RegistrationRepo provides data access to the registrations table.
// Registrations are append-only from the caller's point of view:
// rows are never deleted, lifecycle transitions are persisted in
// place so the booking history survives for audit.  All timestamp
// fields are stored in UTC.
type RegistrationRepo struct {
	db *sql.DB
}

// NewRegistrationRepo returns a new RegistrationRepo bound to the given database.
func NewRegistrationRepo(db *sql.DB) *RegistrationRepo { return &RegistrationRepo{db: db} }

const registrationColumns = `id, session_id, user_id, status, created_at, updated_at`

func scanRegistrationRow(scan func(dest ...any) error) (*model.Registration, error) {
	var reg model.Registration
	var status string
	if err := scan(&reg.ID, &reg.SessionID, &reg.UserID, &status, &reg.CreatedAt, &reg.UpdatedAt); err != nil {
		return nil, err
	}
	reg.Status = model.RegistrationStatus(status)
	return &reg, nil
}

// CreateTx inserts a new PENDING registration within the scope of an
// existing transaction and populates the generated ID and timestamps.
// The caller must hold the session row lock and have re-verified the
// remaining capacity before inserting.
func (r *RegistrationRepo) CreateTx(ctx context.Context, tx *sql.Tx, reg *model.Registration) error {
	const q = `INSERT INTO registrations (session_id, user_id, status) VALUES (?, ?, ?)`
	if reg.Status == "" {
		reg.Status = model.RegistrationPending
	}
	res, err := tx.ExecContext(ctx, q, reg.SessionID, reg.UserID, string(reg.Status))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	reg.ID = uint64(id)
	const sel = `SELECT ` + registrationColumns + ` FROM registrations WHERE id = ?`
	loaded, err := scanRegistrationRow(tx.QueryRowContext(ctx, sel, reg.ID).Scan)
	if err != nil {
		return err
	}
	*reg = *loaded
	return nil
}

// GetByID returns a single registration or sql.ErrNoRows.
func (r *RegistrationRepo) GetByID(ctx context.Context, id uint64) (*model.Registration, error) {
	const q = `SELECT ` + registrationColumns + ` FROM registrations WHERE id = ?`
	return scanRegistrationRow(r.db.QueryRowContext(ctx, q, id).Scan)
}

// ActiveByUserTx returns the user's non-terminal registration for a
// session, if one exists.  It must run after ExpireLapsedTx inside
// the same transaction, so any PENDING row it sees is unexpired.
// Returns nil, nil when the user holds nothing.
func (r *RegistrationRepo) ActiveByUserTx(ctx context.Context, tx *sql.Tx, sessionID, userID uint64) (*model.Registration, error) {
	const q = `SELECT ` + registrationColumns + ` FROM registrations
	           WHERE session_id = ? AND user_id = ? AND status IN ('PENDING','PAID')
	           LIMIT 1`
	reg, err := scanRegistrationRow(tx.QueryRowContext(ctx, q, sessionID, userID).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// ExpireLapsedTx persists the EXPIRED transition for every PENDING
// registration of the session whose hold window closed before the
// cutoff, and closes their still-pending payment orders.  It returns
// the IDs of the registrations it expired.  The caller must hold the
// session row lock; the sweep and Reserve share this method so both
// free seats under the same discipline.  Running it when nothing has
// lapsed is a no-op.
func (r *RegistrationRepo) ExpireLapsedTx(ctx context.Context, tx *sql.Tx, sessionID uint64, now time.Time) ([]uint64, error) {
	cutoff := now.UTC().Add(-model.HoldWindow).Format("2006-01-02 15:04:05")
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM registrations WHERE session_id = ? AND status = 'PENDING' AND created_at <= ?`,
		sessionID, cutoff,
	)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for rows.Next() {
		var id uint64
		if scanErr := rows.Scan(&id); scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		ids = append(ids, id)
	}
	if err = rows.Close(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []uint64{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE registrations SET status = 'EXPIRED' WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE payments SET status = 'CLOSED' WHERE registration_id IN (`+placeholders+`) AND status = 'PENDING'`, args...); err != nil {
		return nil, err
	}
	return ids, nil
}

// SessionsWithLapsedTx lists the distinct session IDs that currently
// have at least one lapsed PENDING registration.  The sweeper uses
// it to know which session rows to lock; expiry itself then happens
// per session via ExpireLapsedTx so the lock granularity matches
// Reserve.
func (r *RegistrationRepo) SessionsWithLapsed(ctx context.Context, now time.Time) ([]uint64, error) {
	cutoff := now.UTC().Add(-model.HoldWindow).Format("2006-01-02 15:04:05")
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT session_id FROM registrations WHERE status = 'PENDING' AND created_at <= ?`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// MarkPaidTx transitions a registration to PAID.  Only the webhook
// settlement path calls it, inside the transaction that also marks
// the payment SUCCESS, so the two states can never diverge.
func (r *RegistrationRepo) MarkPaidTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	const q = `UPDATE registrations SET status = 'PAID' WHERE id = ? AND status = 'PENDING'`
	_, err := tx.ExecContext(ctx, q, id)
	return err
}

// MarkRefundedTx transitions a registration to REFUNDED, freeing its
// seat.  Called only after the gateway confirmed the refund.
func (r *RegistrationRepo) MarkRefundedTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	const q = `UPDATE registrations SET status = 'REFUNDED' WHERE id = ? AND status = 'PAID'`
	_, err := tx.ExecContext(ctx, q, id)
	return err
}

// RegistrationDetail aggregates a registration with its session and
// payment state for display by the out-of-scope CRUD layer.  The
// phase field already folds in lazy expiry so templates never
// re-derive the rule.
type RegistrationDetail struct {
	ID            uint64  `json:"id"`
	SessionID     uint64  `json:"session_id"`
	SessionTitle  string  `json:"session_title"`
	StartsAt      string  `json:"starts_at"`
	Phase         string  `json:"phase"`
	FeeCents      uint32  `json:"fee_cents"`
	PaymentStatus *string `json:"payment_status,omitempty"`
	OutTradeNo    *string `json:"out_trade_no,omitempty"`
}

// ListByUser returns all registrations of the user, newest first,
// with session and payment context joined in.  When no rows exist an
// empty slice is returned.
func (r *RegistrationRepo) ListByUser(ctx context.Context, userID uint64, now time.Time) ([]RegistrationDetail, error) {
	const q = `SELECT reg.id, reg.session_id, reg.status, reg.created_at,
	                  s.title, s.starts_at, s.fee_cents,
	                  p.status, p.out_trade_no
	           FROM registrations reg
	           JOIN sessions s ON s.id = reg.session_id
	           LEFT JOIN payments p ON p.registration_id = reg.id
	           WHERE reg.user_id = ?
	           ORDER BY reg.created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	details := make([]RegistrationDetail, 0)
	for rows.Next() {
		var d RegistrationDetail
		var status string
		var createdAt, startsAt time.Time
		var payStatus, outTradeNo sql.NullString
		if err := rows.Scan(&d.ID, &d.SessionID, &status, &createdAt,
			&d.SessionTitle, &startsAt, &d.FeeCents, &payStatus, &outTradeNo); err != nil {
			return nil, err
		}
		reg := model.Registration{Status: model.RegistrationStatus(status), CreatedAt: createdAt}
		d.Phase = string(reg.Phase(now))
		d.StartsAt = startsAt.UTC().Format(time.RFC3339)
		if payStatus.Valid {
			v := payStatus.String
			d.PaymentStatus = &v
		}
		if outTradeNo.Valid {
			v := outTradeNo.String
			d.OutTradeNo = &v
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return details, nil
}
