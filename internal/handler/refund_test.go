package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-booking/internal/model"
	"github.com/iliyamo/event-booking/internal/repository"
	"github.com/iliyamo/event-booking/internal/service"
)

type mockRefundFlow struct {
	mock.Mock
}

func (m *mockRefundFlow) Request(ctx context.Context, registrationID, userID uint64, reason string) (*model.RefundRequest, error) {
	args := m.Called(ctx, registrationID, userID, reason)
	if res := args.Get(0); res != nil {
		return res.(*model.RefundRequest), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRefundFlow) Process(ctx context.Context, requestID, ownerID uint64, action service.ProcessAction) (*service.ProcessResult, error) {
	args := m.Called(ctx, requestID, ownerID, action)
	if res := args.Get(0); res != nil {
		return res.(*service.ProcessResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockRefundQueue struct {
	mock.Mock
}

func (m *mockRefundQueue) ListRequestsForOwner(ctx context.Context, ownerID uint64, sessionID uint64) ([]repository.RefundRequestDetail, error) {
	args := m.Called(ctx, ownerID, sessionID)
	if res := args.Get(0); res != nil {
		return res.([]repository.RefundRequestDetail), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestRefundRequestCreated(t *testing.T) {
	flow := new(mockRefundFlow)
	flow.On("Request", mock.Anything, uint64(11), uint64(7), "cannot attend").
		Return(&model.RefundRequest{ID: 3, RegistrationID: 11, AmountCents: 2500, Status: model.RefundRequestPending}, nil)

	h := NewRefundHandler(flow, new(mockRefundQueue))
	c, rec := jsonContext(http.MethodPost, "/v1/registrations/11/refund-requests", `{"reason":"cannot attend"}`)
	c.SetParamNames("id")
	c.SetParamValues("11")
	c.Set("user_id", uint64(7))

	require.NoError(t, h.Request(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"amount_cents":2500`)
	flow.AssertExpectations(t)
}

func TestRefundRequestInsideFinalDay(t *testing.T) {
	flow := new(mockRefundFlow)
	flow.On("Request", mock.Anything, uint64(11), uint64(7), "too late").
		Return(nil, repository.ErrRefundNotAllowed)

	h := NewRefundHandler(flow, new(mockRefundQueue))
	c, rec := jsonContext(http.MethodPost, "/v1/registrations/11/refund-requests", `{"reason":"too late"}`)
	c.SetParamNames("id")
	c.SetParamValues("11")
	c.Set("user_id", uint64(7))

	require.NoError(t, h.Request(c))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRefundRequestRequiresReason(t *testing.T) {
	flow := new(mockRefundFlow)
	h := NewRefundHandler(flow, new(mockRefundQueue))
	c, rec := jsonContext(http.MethodPost, "/v1/registrations/11/refund-requests", `{"reason":"  "}`)
	c.SetParamNames("id")
	c.SetParamValues("11")
	c.Set("user_id", uint64(7))

	require.NoError(t, h.Request(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	flow.AssertNotCalled(t, "Request", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessApprove(t *testing.T) {
	flow := new(mockRefundFlow)
	flow.On("Process", mock.Anything, uint64(3), uint64(9), service.ActionApprove).
		Return(&service.ProcessResult{RequestStatus: "approved", RefundStatus: "success", Message: "refund settled"}, nil)

	h := NewRefundHandler(flow, new(mockRefundQueue))
	c, rec := jsonContext(http.MethodPost, "/v1/refund-requests/3/process", `{"action":"approve"}`)
	c.SetParamNames("id")
	c.SetParamValues("3")
	c.Set("user_id", uint64(9))

	require.NoError(t, h.Process(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"request_status":"approved"`)
}

func TestProcessRejectsUnknownAction(t *testing.T) {
	flow := new(mockRefundFlow)
	h := NewRefundHandler(flow, new(mockRefundQueue))
	c, rec := jsonContext(http.MethodPost, "/v1/refund-requests/3/process", `{"action":"escalate"}`)
	c.SetParamNames("id")
	c.SetParamValues("3")
	c.Set("user_id", uint64(9))

	require.NoError(t, h.Process(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessForeignOwner(t *testing.T) {
	flow := new(mockRefundFlow)
	flow.On("Process", mock.Anything, uint64(3), uint64(9), service.ActionReject).
		Return(nil, repository.ErrForbidden)

	h := NewRefundHandler(flow, new(mockRefundQueue))
	c, rec := jsonContext(http.MethodPost, "/v1/refund-requests/3/process", `{"action":"reject"}`)
	c.SetParamNames("id")
	c.SetParamValues("3")
	c.Set("user_id", uint64(9))

	require.NoError(t, h.Process(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListQueueFiltersBySession(t *testing.T) {
	queue := new(mockRefundQueue)
	queue.On("ListRequestsForOwner", mock.Anything, uint64(9), uint64(5)).
		Return([]repository.RefundRequestDetail{{ID: 3, SessionID: 5, Status: "PENDING"}}, nil)

	h := NewRefundHandler(new(mockRefundFlow), queue)
	c, rec := jsonContext(http.MethodGet, "/v1/refund-requests?session_id=5", "")
	c.Set("user_id", uint64(9))

	require.NoError(t, h.List(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	queue.AssertExpectations(t)
}
