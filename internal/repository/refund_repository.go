package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/event-booking/internal/model"
)

// RefundRepo provides data access to the refund_requests and refunds
// tables.  A registration accumulates refund requests over its
// lifetime but at most one of them may be active (PENDING or
// APPROVED) at a time; the refunds table holds the gateway-side
// outcome of an approved request.  All timestamps are UTC.
type RefundRepo struct {
	db *sql.DB
}

// NewRefundRepo returns a new RefundRepo bound to the given database.
func NewRefundRepo(db *sql.DB) *RefundRepo { return &RefundRepo{db: db} }

const refundRequestColumns = `id, registration_id, reason, amount_cents, status, created_at, processed_at, processed_by`

func scanRefundRequest(scan func(dest ...any) error) (*model.RefundRequest, error) {
	var rr model.RefundRequest
	var status string
	var processedAt sql.NullTime
	var processedBy sql.NullInt64
	if err := scan(&rr.ID, &rr.RegistrationID, &rr.Reason, &rr.AmountCents, &status,
		&rr.CreatedAt, &processedAt, &processedBy); err != nil {
		return nil, err
	}
	rr.Status = model.RefundRequestStatus(status)
	if processedAt.Valid {
		t := processedAt.Time
		rr.ProcessedAt = &t
	}
	if processedBy.Valid {
		u := uint64(processedBy.Int64)
		rr.ProcessedBy = &u
	}
	return &rr, nil
}

// CreateRequest inserts a new PENDING refund request.
func (r *RefundRepo) CreateRequest(ctx context.Context, rr *model.RefundRequest) error {
	const q = `INSERT INTO refund_requests (registration_id, reason, amount_cents, status) VALUES (?, ?, ?, 'PENDING')`
	res, err := r.db.ExecContext(ctx, q, rr.RegistrationID, rr.Reason, rr.AmountCents)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rr.ID = uint64(id)
	const sel = `SELECT ` + refundRequestColumns + ` FROM refund_requests WHERE id = ?`
	loaded, err := scanRefundRequest(r.db.QueryRowContext(ctx, sel, rr.ID).Scan)
	if err != nil {
		return err
	}
	*rr = *loaded
	return nil
}

// GetRequestByID returns a refund request or sql.ErrNoRows.
func (r *RefundRepo) GetRequestByID(ctx context.Context, id uint64) (*model.RefundRequest, error) {
	const q = `SELECT ` + refundRequestColumns + ` FROM refund_requests WHERE id = ?`
	return scanRefundRequest(r.db.QueryRowContext(ctx, q, id).Scan)
}

// ActiveRequestByRegistration returns the registration's PENDING or
// APPROVED refund request, or nil, nil when there is none.  A
// REJECTED request does not block filing a new one.
func (r *RefundRepo) ActiveRequestByRegistration(ctx context.Context, registrationID uint64) (*model.RefundRequest, error) {
	const q = `SELECT ` + refundRequestColumns + ` FROM refund_requests
	           WHERE registration_id = ? AND status IN ('PENDING','APPROVED')
	           ORDER BY created_at DESC LIMIT 1`
	rr, err := scanRefundRequest(r.db.QueryRowContext(ctx, q, registrationID).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rr, nil
}

// MarkRequestTx persists an owner decision on a request within the
// provided transaction.
func (r *RefundRepo) MarkRequestTx(ctx context.Context, tx *sql.Tx, id uint64, status model.RefundRequestStatus, processedBy uint64, processedAt time.Time) error {
	const q = `UPDATE refund_requests SET status = ?, processed_at = ?, processed_by = ? WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, string(status), processedAt.UTC().Format("2006-01-02 15:04:05"), processedBy, id)
	return err
}

// RefundRequestDetail is the owner-facing review queue entry: the
// request joined with registrant, session and payment context.
type RefundRequestDetail struct {
	ID           uint64 `json:"id"`
	Registration uint64 `json:"registration_id"`
	UserID       uint64 `json:"user_id"`
	SessionID    uint64 `json:"session_id"`
	SessionTitle string `json:"session_title"`
	Reason       string `json:"reason"`
	AmountCents  uint32 `json:"amount_cents"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
}

// ListRequestsForOwner returns the refund requests touching sessions
// owned by the given user, optionally narrowed to one session,
// newest first.  The ownership join keeps one owner from reading
// another owner's queue.
func (r *RefundRepo) ListRequestsForOwner(ctx context.Context, ownerID uint64, sessionID uint64) ([]RefundRequestDetail, error) {
	q := `SELECT rr.id, rr.registration_id, reg.user_id, s.id, s.title, rr.reason, rr.amount_cents, rr.status, rr.created_at
	      FROM refund_requests rr
	      JOIN registrations reg ON reg.id = rr.registration_id
	      JOIN sessions s ON s.id = reg.session_id
	      WHERE s.owner_id = ?`
	args := []interface{}{ownerID}
	if sessionID != 0 {
		q += ` AND s.id = ?`
		args = append(args, sessionID)
	}
	q += ` ORDER BY rr.created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	details := make([]RefundRequestDetail, 0)
	for rows.Next() {
		var d RefundRequestDetail
		var createdAt time.Time
		if err := rows.Scan(&d.ID, &d.Registration, &d.UserID, &d.SessionID, &d.SessionTitle,
			&d.Reason, &d.AmountCents, &d.Status, &createdAt); err != nil {
			return nil, err
		}
		d.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return details, nil
}

const refundColumns = `id, refund_request_id, amount_cents, status, out_refund_no, gateway_refund_no, created_at, refunded_at`

func scanRefund(scan func(dest ...any) error) (*model.Refund, error) {
	var rf model.Refund
	var status string
	var gwNo sql.NullString
	var refundedAt sql.NullTime
	if err := scan(&rf.ID, &rf.RefundRequestID, &rf.AmountCents, &status,
		&rf.OutRefundNo, &gwNo, &rf.CreatedAt, &refundedAt); err != nil {
		return nil, err
	}
	rf.Status = model.RefundStatus(status)
	if gwNo.Valid {
		v := gwNo.String
		rf.GatewayRefundNo = &v
	}
	if refundedAt.Valid {
		t := refundedAt.Time
		rf.RefundedAt = &t
	}
	return &rf, nil
}

// GetRefundByRequest returns the gateway refund record for a request,
// or nil, nil when none exists yet.
func (r *RefundRepo) GetRefundByRequest(ctx context.Context, refundRequestID uint64) (*model.Refund, error) {
	const q = `SELECT ` + refundColumns + ` FROM refunds WHERE refund_request_id = ?`
	rf, err := scanRefund(r.db.QueryRowContext(ctx, q, refundRequestID).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rf, nil
}

// CreateRefundTx inserts a PROCESSING refund row within the provided
// transaction, before any gateway call is made, so a crash between
// the insert and the call leaves an inspectable record.
func (r *RefundRepo) CreateRefundTx(ctx context.Context, tx *sql.Tx, rf *model.Refund) error {
	const q = `INSERT INTO refunds (refund_request_id, amount_cents, status, out_refund_no) VALUES (?, ?, 'PROCESSING', ?)`
	res, err := tx.ExecContext(ctx, q, rf.RefundRequestID, rf.AmountCents, rf.OutRefundNo)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rf.ID = uint64(id)
	rf.Status = model.RefundProcessing
	return nil
}

// ReopenRefundTx resets a retryable refund back to PROCESSING under
// a fresh merchant refund id.  Retryable means FAILED (gateway
// rejection, owner retries) or a PROCESSING row created before
// stalledBefore (the process died between staging the row and the
// gateway call, so no confirmation will ever arrive for it).  The
// status guard makes retrying a SUCCESS refund a no-op.
func (r *RefundRepo) ReopenRefundTx(ctx context.Context, tx *sql.Tx, id uint64, outRefundNo string, stalledBefore time.Time) error {
	const q = `UPDATE refunds SET status = 'PROCESSING', out_refund_no = ?
	           WHERE id = ? AND (status = 'FAILED' OR (status = 'PROCESSING' AND created_at <= ?))`
	_, err := tx.ExecContext(ctx, q, outRefundNo, id, stalledBefore.UTC().Format("2006-01-02 15:04:05"))
	return err
}

// MarkRefundSuccessTx records a confirmed gateway refund.
func (r *RefundRepo) MarkRefundSuccessTx(ctx context.Context, tx *sql.Tx, id uint64, gatewayRefundNo string, refundedAt time.Time) error {
	const q = `UPDATE refunds SET status = 'SUCCESS', gateway_refund_no = NULLIF(?, ''), refunded_at = ? WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, gatewayRefundNo, refundedAt.UTC().Format("2006-01-02 15:04:05"), id)
	return err
}

// MarkRefundFailedTx records a gateway rejection.  The row stays for
// inspection and manual retry; the registration keeps holding its
// seat until a refund actually succeeds.
func (r *RefundRepo) MarkRefundFailedTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	const q = `UPDATE refunds SET status = 'FAILED' WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, id)
	return err
}
