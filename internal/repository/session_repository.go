package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/event-booking/internal/model"
)

// SessionRepo provides data access to the sessions table.  Sessions
// are the unit of capacity: every reservation admission decision is
// made while holding an exclusive lock on the session row, so the
// repository exposes a FOR UPDATE variant alongside the plain read.
// All timestamp fields are stored in UTC.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo returns a new SessionRepo bound to the given database.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

// DB exposes the underlying handle so handlers and services can open
// transactions spanning several repositories.
func (r *SessionRepo) DB() *sql.DB { return r.db }

const sessionColumns = `id, event_id, owner_id, title, starts_at, ends_at, capacity, fee_cents, created_at, updated_at`

func scanSession(row *sql.Row) (*model.Session, error) {
	var s model.Session
	err := row.Scan(&s.ID, &s.EventID, &s.OwnerID, &s.Title, &s.StartsAt, &s.EndsAt,
		&s.Capacity, &s.FeeCents, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetByID returns a single session or sql.ErrNoRows when it does not
// exist.  No lock is taken; use LockTx inside admission transactions.
func (r *SessionRepo) GetByID(ctx context.Context, id uint64) (*model.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`
	return scanSession(r.db.QueryRowContext(ctx, q, id))
}

// LockTx loads the session row under an exclusive lock.  Every
// check-then-insert on the session's capacity must go through this
// lock; two concurrent reservations on the same session serialize
// here, which is what prevents both from observing the same last
// seat.  The lock is released when the transaction ends.
func (r *SessionRepo) LockTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ? FOR UPDATE`
	return scanSession(tx.QueryRowContext(ctx, q, id))
}

// Create inserts a new session and populates the generated ID and
// timestamps on the provided model.
func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	const q = `INSERT INTO sessions (event_id, owner_id, title, starts_at, ends_at, capacity, fee_cents)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, s.EventID, s.OwnerID, s.Title,
		s.StartsAt.UTC().Format("2006-01-02 15:04:05"), s.EndsAt.UTC().Format("2006-01-02 15:04:05"),
		s.Capacity, s.FeeCents)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	const sel = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`
	loaded, err := scanSession(r.db.QueryRowContext(ctx, sel, s.ID))
	if err != nil {
		return err
	}
	*s = *loaded
	return nil
}

// UpdateTx applies a privileged edit to a session within the given
// transaction.  Callers must have validated the 24h freeze window
// and the capacity floor before invoking it; the repository only
// persists.  The session row should already be locked via LockTx.
func (r *SessionRepo) UpdateTx(ctx context.Context, tx *sql.Tx, s *model.Session) error {
	const q = `UPDATE sessions SET title = ?, starts_at = ?, ends_at = ?, capacity = ?, fee_cents = ? WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, s.Title,
		s.StartsAt.UTC().Format("2006-01-02 15:04:05"), s.EndsAt.UTC().Format("2006-01-02 15:04:05"),
		s.Capacity, s.FeeCents, s.ID)
	return err
}

// CountActiveTx computes the capacity ledger: the number of seats
// consumed by non-terminal registrations at the given instant.  A
// PENDING registration counts only while its hold window is open;
// the comparison happens in SQL against the same cutoff the lazy
// Phase check uses, so a stale pending row never blocks a seat even
// before a sweep has persisted its expiry.  Must be called while
// holding the session row lock.
func (r *SessionRepo) CountActiveTx(ctx context.Context, tx *sql.Tx, sessionID uint64, now time.Time) (uint32, error) {
	const q = `SELECT COUNT(*) FROM registrations
	           WHERE session_id = ?
	             AND (status = 'PAID' OR (status = 'PENDING' AND created_at > ?))`
	cutoff := now.UTC().Add(-model.HoldWindow).Format("2006-01-02 15:04:05")
	var n uint32
	if err := tx.QueryRowContext(ctx, q, sessionID, cutoff).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
