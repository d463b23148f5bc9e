package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/gateway"
	"github.com/iliyamo/event-booking/internal/service"
)

// Settler is the slice of the settlement service the payment handlers
// need.  Declared here so webhook tests can substitute a mock.
type Settler interface {
	HandleNotification(ctx context.Context, params map[string]string) error
	Status(ctx context.Context, paymentID, userID uint64) (*service.StatusResult, error)
}

// PaymentHandler exposes the gateway notification endpoint and the
// customer-facing payment status poll.
type PaymentHandler struct {
	Settlement Settler
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(settlement Settler) *PaymentHandler {
	if settlement == nil {
		panic("nil settlement service passed to NewPaymentHandler")
	}
	return &PaymentHandler{Settlement: settlement}
}

// Notify handles GET and POST /v1/pay/notify, the asynchronous callback
// from the payment gateway.  The gateway contract is a plain text body:
// "success" stops redelivery, anything else makes the gateway retry.
// Both verbs carry the parameters the same way, query string for GET
// and form body for POST.
func (h *PaymentHandler) Notify(c echo.Context) error {
	if err := c.Request().ParseForm(); err != nil {
		return c.String(http.StatusOK, "fail")
	}
	params := gateway.NotificationParams(c.Request().Form)
	if err := h.Settlement.HandleNotification(c.Request().Context(), params); err != nil {
		c.Logger().Warnf("payment notification rejected: %v", err)
		return c.String(http.StatusOK, "fail")
	}
	return c.String(http.StatusOK, "success")
}

// Status handles GET /v1/payments/:id/status.  Polling a PENDING
// payment lazily confirms against the gateway, so a customer returning
// from the cashier page sees the credited state even when the webhook
// has not arrived yet.
func (h *PaymentHandler) Status(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	paymentID, ok := pathID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payment id"})
	}
	res, err := h.Settlement.Status(c.Request().Context(), paymentID, userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
