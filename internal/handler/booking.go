package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/model"
	"github.com/iliyamo/event-booking/internal/repository"
	"github.com/iliyamo/event-booking/internal/service"
)

// BookingFlow is the slice of the booking service the customer-facing
// handlers need.  Declared here so handler tests can substitute a mock.
type BookingFlow interface {
	Reserve(ctx context.Context, sessionID, userID uint64, method model.PayMethod) (*service.ReserveResult, error)
	CheckoutURL(ctx context.Context, registrationID, userID uint64) (*service.ReserveResult, error)
	RemainingSeats(ctx context.Context, sessionID uint64) (*service.Availability, error)
}

// RegistrationLister lists a user's registrations with session and
// payment context joined in.
type RegistrationLister interface {
	ListByUser(ctx context.Context, userID uint64, now time.Time) ([]repository.RegistrationDetail, error)
}

// BookingHandler exposes reservation, checkout and browse endpoints for
// customers.  All methods assume JWT authentication and role validation
// has already been performed by middleware, except Availability which is
// public.
type BookingHandler struct {
	Booking BookingFlow
	Regs    RegistrationLister
}

// NewBookingHandler constructs a BookingHandler.  All dependencies must
// be non-nil.
func NewBookingHandler(booking BookingFlow, regs RegistrationLister) *BookingHandler {
	if booking == nil || regs == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	return &BookingHandler{Booking: booking, Regs: regs}
}

// Reserve handles POST /v1/sessions/:id/reserve.  The body selects the
// payment channel; the response carries the cashier URL and the moment
// the hold lapses.  Returns 409 when the session is full, already
// started, or the user already holds an active registration.
func (h *BookingHandler) Reserve(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	sessionID, ok := pathID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	var body struct {
		Method string `json:"method"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	method, err := model.ParsePayMethod(body.Method)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unsupported payment method"})
	}
	res, err := h.Booking.Reserve(c.Request().Context(), sessionID, userID, method)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// Checkout handles GET /v1/registrations/:id/checkout.  It rebuilds the
// cashier URL for a registration still inside its hold window, reusing
// the existing payment order.
func (h *BookingHandler) Checkout(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	regID, ok := pathID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid registration id"})
	}
	res, err := h.Booking.CheckoutURL(c.Request().Context(), regID, userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Availability handles GET /v1/sessions/:id/availability.  Public; the
// count is informational and may be stale by the time a reservation is
// attempted.
func (h *BookingHandler) Availability(c echo.Context) error {
	sessionID, ok := pathID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	avail, err := h.Booking.RemainingSeats(c.Request().Context(), sessionID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, avail)
}

// MyRegistrations handles GET /v1/my-registrations.  Each entry reports
// the phase with hold expiry already applied, so a lapsed PENDING row
// shows as expired even before a sweep persisted it.
func (h *BookingHandler) MyRegistrations(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	details, err := h.Regs.ListByUser(c.Request().Context(), userID, time.Now().UTC())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"registrations": details})
}
