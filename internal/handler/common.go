package handler // handler defines http handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/middleware"
	"github.com/iliyamo/event-booking/internal/repository"
	"github.com/iliyamo/event-booking/internal/service"
)

// getUserID extracts the authenticated user id placed in the context by
// the JWT middleware.
func getUserID(c echo.Context) (uint64, error) {
	if uid, ok := middleware.UserID(c); ok {
		return uid, nil
	}
	return 0, errors.New("invalid user_id in context")
}

// pathID parses the numeric :id path parameter; zero is never a valid id.
func pathID(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil && id != 0
}

// fail translates service and repository errors into the JSON error
// responses every endpoint shares.  Sentinels map to their HTTP status;
// anything unrecognized becomes an opaque 500 so internals never leak.
func fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, repository.ErrCapacityExhausted):
		return c.JSON(http.StatusConflict, echo.Map{"error": "session is fully booked"})
	case errors.Is(err, repository.ErrDuplicateReservation):
		return c.JSON(http.StatusConflict, echo.Map{"error": "an active registration for this session already exists"})
	case errors.Is(err, repository.ErrDuplicateRefundRequest):
		return c.JSON(http.StatusConflict, echo.Map{"error": "an active refund request for this registration already exists"})
	case errors.Is(err, repository.ErrRefundNotAllowed):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "refunds close 24 hours before the session starts"})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "operation conflicts with current state"})
	case errors.Is(err, service.ErrNotPayable):
		return c.JSON(http.StatusConflict, echo.Map{"error": "registration is not awaiting payment"})
	}
	c.Logger().Errorf("internal error: %v", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
