// Package repository defines error types that are reused across
// multiple repositories. These sentinel values allow higher layers
// such as handlers to distinguish between different failure
// scenarios: ErrCapacityExhausted and ErrDuplicateReservation map to
// user-facing booking messages, ErrForbidden indicates that the
// current user is not authorized to act on a resource owned by
// someone else, and ErrConflict signals state that blocks an update
// (e.g. shrinking a session below its active registration count).
package repository

import "errors"

// ErrCapacityExhausted is returned when a session has no free seats
// left.  Handlers should translate this into an HTTP 409 response
// with a specific message so the customer can pick another session.
var ErrCapacityExhausted = errors.New("capacity exhausted")

// ErrDuplicateReservation is returned when the user already holds a
// non-terminal registration for the session.  A prior expired or
// refunded registration does not trigger this error.
var ErrDuplicateReservation = errors.New("duplicate reservation")

// ErrDuplicateRefundRequest is returned when a refund request is
// filed while another one for the same registration is still
// pending or approved.
var ErrDuplicateRefundRequest = errors.New("duplicate refund request")

// ErrRefundNotAllowed is returned when a refund request is filed
// inside the final 24 hours before the session starts.
var ErrRefundNotAllowed = errors.New("refund not allowed")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot be performed
// because of conflicting state, such as editing a session inside
// its 24h freeze window or shrinking capacity below the number of
// seats already taken. Handlers should translate this into an
// HTTP 409 response.
var ErrConflict = errors.New("conflict")
