package model

import "time"

// RegistrationStatus enumerates the persisted lifecycle states of a
// registration.  The stored value never encodes lazy expiry: a
// PENDING row whose hold window has lapsed is still stored as
// PENDING until Reserve or the sweeper persists the transition.
// Use Phase to obtain the effective state at a point in time.
type RegistrationStatus string

const (
	RegistrationPending  RegistrationStatus = "PENDING"  // awaiting payment, seat held
	RegistrationPaid     RegistrationStatus = "PAID"     // payment settled, seat consumed
	RegistrationExpired  RegistrationStatus = "EXPIRED"  // hold window lapsed unpaid (terminal)
	RegistrationRefunded RegistrationStatus = "REFUNDED" // refund settled, seat freed (terminal)
)

// Terminal reports whether the status can never change again.
func (s RegistrationStatus) Terminal() bool {
	return s == RegistrationExpired || s == RegistrationRefunded
}

// HoldWindow is how long an unpaid registration keeps its seat.  A
// PENDING registration older than this no longer counts against the
// session capacity regardless of whether a sweep has persisted the
// transition yet.
const HoldWindow = 3 * time.Minute

// Registration records one user's claim on one seat of a session.
// Rows are never deleted; terminal states are written in place so
// booking history stays auditable.  A user may accumulate several
// rows for the same session over time (refunded then rebooked) but
// at most one of them is non-terminal.
//
// Fields:
//  ID        – primary key identifier.
//  SessionID – session whose seat is claimed.
//  UserID    – user who booked.
//  Status    – persisted lifecycle state.
//  CreatedAt – when the claim was made; anchors the hold window.
//  UpdatedAt – last state change.
type Registration struct {
	ID        uint64             // registrations.id
	SessionID uint64             // registrations.session_id
	UserID    uint64             // registrations.user_id
	Status    RegistrationStatus // registrations.status
	CreatedAt time.Time          // registrations.created_at
	UpdatedAt time.Time          // registrations.updated_at
}

// Phase returns the effective lifecycle state of the registration at
// the given instant.  It is the single place where the lazy expiry
// rule lives: a stored PENDING older than HoldWindow reads as
// EXPIRED everywhere (capacity ledger, display, sweep) without any
// state being mutated by the caller.
func (r *Registration) Phase(now time.Time) RegistrationStatus {
	if r.Status == RegistrationPending && !now.Before(r.CreatedAt.Add(HoldWindow)) {
		return RegistrationExpired
	}
	return r.Status
}

// HoldsSeat reports whether the registration consumes a seat at the
// given instant, i.e. it is PAID or PENDING with an unexpired hold.
func (r *Registration) HoldsSeat(now time.Time) bool {
	switch r.Phase(now) {
	case RegistrationPaid, RegistrationPending:
		return true
	}
	return false
}
