package model

import "time"

// Session represents a single bookable time-slot of an event with a
// finite number of seats.  Capacity is never stored as a mutable
// "seats left" counter; the number of free seats is always derived
// from the set of non-terminal registrations under the same lock
// that admits a new one.
//
// Fields:
//  ID        – primary key identifier.
//  EventID   – owning event.
//  OwnerID   – user who created the event and reviews refunds.
//  Title     – session title shown to customers.
//  StartsAt  – when the session begins (UTC).
//  EndsAt    – when the session ends (must be after StartsAt).
//  Capacity  – total number of seats; never negative.
//  FeeCents  – booking fee in cents.
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
type Session struct {
	ID        uint64    // sessions.id
	EventID   uint64    // sessions.event_id
	OwnerID   uint64    // sessions.owner_id
	Title     string    // sessions.title
	StartsAt  time.Time // sessions.starts_at
	EndsAt    time.Time // sessions.ends_at
	Capacity  uint32    // sessions.capacity
	FeeCents  uint32    // sessions.fee_cents
	CreatedAt time.Time // sessions.created_at
	UpdatedAt time.Time // sessions.updated_at
}

// EditLockWindow is the interval before a session's start time during
// which owner edits are rejected.  The same time-delta rule feeds the
// refund tier calculation.
const EditLockWindow = 24 * time.Hour

// Editable reports whether the session may still be modified by its
// owner at the given instant.  Sessions are frozen inside the final
// 24 hours before start.
func (s *Session) Editable(now time.Time) bool {
	return s.StartsAt.Sub(now) > EditLockWindow
}
