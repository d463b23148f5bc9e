package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/model"
	"github.com/iliyamo/event-booking/internal/repository"
	"github.com/iliyamo/event-booking/internal/service"
)

// RefundFlow is the slice of the refund service the handlers need.
type RefundFlow interface {
	Request(ctx context.Context, registrationID, userID uint64, reason string) (*model.RefundRequest, error)
	Process(ctx context.Context, requestID, ownerID uint64, action service.ProcessAction) (*service.ProcessResult, error)
}

// RefundQueueLister lists an owner's refund review queue.
type RefundQueueLister interface {
	ListRequestsForOwner(ctx context.Context, ownerID uint64, sessionID uint64) ([]repository.RefundRequestDetail, error)
}

// RefundHandler exposes the two sides of the refund workflow: the
// registrant files requests, the session owner reviews and decides
// them.
type RefundHandler struct {
	Refunds RefundFlow
	Queue   RefundQueueLister
}

// NewRefundHandler constructs a RefundHandler.  All dependencies must
// be non-nil.
func NewRefundHandler(refunds RefundFlow, queue RefundQueueLister) *RefundHandler {
	if refunds == nil || queue == nil {
		panic("nil dependency passed to NewRefundHandler")
	}
	return &RefundHandler{Refunds: refunds, Queue: queue}
}

// Request handles POST /v1/registrations/:id/refund-requests.  The
// refundable amount is fixed by the tier at filing time and echoed back
// so the customer knows what an approval will pay out.  Returns 422
// inside the final 24 hours and 409 when an active request already
// exists.
func (h *RefundHandler) Request(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	regID, ok := pathID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid registration id"})
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "reason is required"})
	}
	rr, err := h.Refunds.Request(c.Request().Context(), regID, userID, reason)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"refund_request_id": rr.ID,
		"amount_cents":      rr.AmountCents,
		"status":            string(rr.Status),
	})
}

// Process handles POST /v1/refund-requests/:id/process.  Only the owner
// of the session behind the request may decide it.  Approval calls the
// gateway synchronously; a gateway failure leaves the request pending
// and is reported in the response rather than as an error status.
func (h *RefundHandler) Process(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	reqID, ok := pathID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid refund request id"})
	}
	var body struct {
		Action string `json:"action"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	action, err := service.ParseProcessAction(body.Action)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "action must be approve or reject"})
	}
	res, err := h.Refunds.Process(c.Request().Context(), reqID, ownerID, action)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// List handles GET /v1/refund-requests for session owners.  An optional
// session_id query parameter narrows the queue to one session.
func (h *RefundHandler) List(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var sessionID uint64
	if raw := c.QueryParam("session_id"); raw != "" {
		sessionID, err = strconv.ParseUint(raw, 10, 64)
		if err != nil || sessionID == 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session_id"})
		}
	}
	details, err := h.Queue.ListRequestsForOwner(c.Request().Context(), ownerID, sessionID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"refund_requests": details})
}
