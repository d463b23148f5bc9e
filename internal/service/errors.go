package service

import "errors"

// ErrSignatureInvalid is returned when a webhook payload fails
// signature verification.  The handler answers the provider with
// the literal "fail" body so its retry policy takes over.
var ErrSignatureInvalid = errors.New("gateway signature invalid")

// ErrAmountMismatch is returned when the amount carried by a
// notification does not exactly match the expected order amount.
// Treated as tampering: the order is not credited.
var ErrAmountMismatch = errors.New("gateway amount mismatch")

// ErrNotPayable is returned when a checkout URL is requested for a
// registration that is not awaiting payment (already paid, expired
// or refunded).
var ErrNotPayable = errors.New("registration not payable")
