package service

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-booking/internal/gateway"
	"github.com/iliyamo/event-booking/internal/model"
	"github.com/iliyamo/event-booking/internal/queue"
	"github.com/iliyamo/event-booking/internal/repository"
)

// The settlement flow opens real database/sql transactions around the
// mocked stores, so the tests register a driver whose connections and
// transactions are no-ops.  The stores ignore the *sql.Tx they are
// handed; what matters is the order and guarding of the calls.
type nopDriver struct{}

func (nopDriver) Open(string) (driver.Conn, error) { return nopConn{}, nil }

type nopConn struct{}

func (nopConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("no statements") }
func (nopConn) Close() error                        { return nil }
func (nopConn) Begin() (driver.Tx, error)           { return nopTx{}, nil }

type nopTx struct{}

func (nopTx) Commit() error   { return nil }
func (nopTx) Rollback() error { return nil }

func init() { sql.Register("nop", nopDriver{}) }

func nopDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("nop", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type mockPaymentStore struct {
	mock.Mock
}

func (m *mockPaymentStore) GetByID(ctx context.Context, id uint64) (*model.Payment, error) {
	args := m.Called(ctx, id)
	if res := args.Get(0); res != nil {
		return res.(*model.Payment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPaymentStore) GetByOutTradeNo(ctx context.Context, outTradeNo string) (*model.Payment, error) {
	args := m.Called(ctx, outTradeNo)
	if res := args.Get(0); res != nil {
		return res.(*model.Payment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPaymentStore) LockByOutTradeNoTx(ctx context.Context, tx *sql.Tx, outTradeNo string) (*model.Payment, error) {
	args := m.Called(ctx, tx, outTradeNo)
	if res := args.Get(0); res != nil {
		return res.(*model.Payment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPaymentStore) MarkSuccessTx(ctx context.Context, tx *sql.Tx, id uint64, tradeNo, buyer string, paidAt time.Time) error {
	args := m.Called(ctx, tx, id, tradeNo, buyer, paidAt)
	return args.Error(0)
}

func (m *mockPaymentStore) MarkClosedTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	args := m.Called(ctx, tx, id)
	return args.Error(0)
}

type mockRegStore struct {
	mock.Mock
}

func (m *mockRegStore) GetByID(ctx context.Context, id uint64) (*model.Registration, error) {
	args := m.Called(ctx, id)
	if res := args.Get(0); res != nil {
		return res.(*model.Registration), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRegStore) MarkPaidTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	args := m.Called(ctx, tx, id)
	return args.Error(0)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateOrder(amountCents uint32, subject, outTradeNo string, method model.PayMethod) (*gateway.Order, error) {
	args := m.Called(amountCents, subject, outTradeNo, method)
	if res := args.Get(0); res != nil {
		return res.(*gateway.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) QueryOrder(ctx context.Context, outTradeNo string) (*gateway.QueryResult, error) {
	args := m.Called(ctx, outTradeNo)
	if res := args.Get(0); res != nil {
		return res.(*gateway.QueryResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) Refund(ctx context.Context, tradeNo, outTradeNo string, amountCents uint32) (*gateway.RefundResult, error) {
	args := m.Called(ctx, tradeNo, outTradeNo, amountCents)
	if res := args.Get(0); res != nil {
		return res.(*gateway.RefundResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) VerifyNotification(params map[string]string) bool {
	return m.Called(params).Bool(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PaymentSettled(ctx context.Context, ev queue.PaymentSettledEvent) error {
	return m.Called(ctx, ev).Error(0)
}

func (m *mockPublisher) RefundSettled(ctx context.Context, ev queue.RefundSettledEvent) error {
	return m.Called(ctx, ev).Error(0)
}

func notification(outTradeNo, money string) map[string]string {
	return map[string]string{
		"out_trade_no": outTradeNo,
		"trade_status": gateway.TradeSuccess,
		"trade_no":     "GW777",
		"money":        money,
		"buyer":        "payer@example.com",
		"endtime":      "2026-08-01 12:34:56",
		"sign":         "aabbcc",
	}
}

func pendingPayment() *model.Payment {
	return &model.Payment{
		ID:             12,
		RegistrationID: 11,
		AmountCents:    5000,
		Status:         model.PaymentPending,
		Method:         model.PayAlipay,
		OutTradeNo:     "ORDER123",
	}
}

func settlementFixture(t *testing.T) (*SettlementService, *mockPaymentStore, *mockRegStore, *mockGateway, *mockPublisher) {
	t.Helper()
	payments := new(mockPaymentStore)
	regs := new(mockRegStore)
	gw := new(mockGateway)
	pub := new(mockPublisher)
	return NewSettlementService(nopDB(t), payments, regs, gw, pub), payments, regs, gw, pub
}

func TestHandleNotificationBadSignature(t *testing.T) {
	s, payments, _, gw, _ := settlementFixture(t)
	gw.On("VerifyNotification", mock.Anything).Return(false)

	err := s.HandleNotification(context.Background(), notification("ORDER123", "50.00"))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
	payments.AssertNotCalled(t, "GetByOutTradeNo", mock.Anything, mock.Anything)
}

func TestHandleNotificationIgnoresNonSuccessStatus(t *testing.T) {
	s, payments, _, gw, _ := settlementFixture(t)
	gw.On("VerifyNotification", mock.Anything).Return(true)

	params := notification("ORDER123", "50.00")
	params["trade_status"] = "WAIT_BUYER_PAY"

	// Acknowledged without touching any order state.
	assert.NoError(t, s.HandleNotification(context.Background(), params))
	payments.AssertNotCalled(t, "GetByOutTradeNo", mock.Anything, mock.Anything)
}

func TestHandleNotificationUnknownOrder(t *testing.T) {
	s, payments, _, gw, _ := settlementFixture(t)
	gw.On("VerifyNotification", mock.Anything).Return(true)
	payments.On("GetByOutTradeNo", mock.Anything, "ORDER123").Return(nil, sql.ErrNoRows)

	err := s.HandleNotification(context.Background(), notification("ORDER123", "50.00"))
	assert.Error(t, err)
}

func TestHandleNotificationAmountMismatch(t *testing.T) {
	s, payments, _, gw, _ := settlementFixture(t)
	gw.On("VerifyNotification", mock.Anything).Return(true)
	payments.On("GetByOutTradeNo", mock.Anything, "ORDER123").Return(pendingPayment(), nil)

	err := s.HandleNotification(context.Background(), notification("ORDER123", "49.00"))
	assert.ErrorIs(t, err, ErrAmountMismatch)
	payments.AssertNotCalled(t, "LockByOutTradeNoTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleNotificationReplayAcksWithoutResettling(t *testing.T) {
	s, payments, _, gw, pub := settlementFixture(t)
	gw.On("VerifyNotification", mock.Anything).Return(true)

	credited := pendingPayment()
	credited.Status = model.PaymentSuccess
	payments.On("GetByOutTradeNo", mock.Anything, "ORDER123").Return(credited, nil)

	// A duplicate delivery for an already credited order acks on the
	// fast path: no lock, no state change, no event.
	assert.NoError(t, s.HandleNotification(context.Background(), notification("ORDER123", "50.00")))
	payments.AssertNotCalled(t, "LockByOutTradeNoTx", mock.Anything, mock.Anything, mock.Anything)
	payments.AssertNotCalled(t, "MarkSuccessTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	pub.AssertNotCalled(t, "PaymentSettled", mock.Anything, mock.Anything)
}

func TestHandleNotificationDoubleCheckUnderLock(t *testing.T) {
	s, payments, _, gw, pub := settlementFixture(t)
	gw.On("VerifyNotification", mock.Anything).Return(true)
	gw.On("QueryOrder", mock.Anything, "ORDER123").Return(&gateway.QueryResult{Paid: true}, nil)

	// Stale read before the lock, concurrent delivery already won.
	payments.On("GetByOutTradeNo", mock.Anything, "ORDER123").Return(pendingPayment(), nil)
	credited := pendingPayment()
	credited.Status = model.PaymentSuccess
	payments.On("LockByOutTradeNoTx", mock.Anything, mock.Anything, "ORDER123").Return(credited, nil)

	assert.NoError(t, s.HandleNotification(context.Background(), notification("ORDER123", "50.00")))
	payments.AssertNotCalled(t, "MarkSuccessTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	pub.AssertNotCalled(t, "PaymentSettled", mock.Anything, mock.Anything)
}

func TestHandleNotificationCreditsActiveHold(t *testing.T) {
	s, payments, regs, gw, pub := settlementFixture(t)
	gw.On("VerifyNotification", mock.Anything).Return(true)
	gw.On("QueryOrder", mock.Anything, "ORDER123").Return(&gateway.QueryResult{Paid: true}, nil)

	payments.On("GetByOutTradeNo", mock.Anything, "ORDER123").Return(pendingPayment(), nil)
	payments.On("LockByOutTradeNoTx", mock.Anything, mock.Anything, "ORDER123").Return(pendingPayment(), nil)

	reg := &model.Registration{ID: 11, SessionID: 5, UserID: 7, Status: model.RegistrationPending, CreatedAt: time.Now().UTC()}
	regs.On("GetByID", mock.Anything, uint64(11)).Return(reg, nil)

	paidAt := time.Date(2026, 8, 1, 12, 34, 56, 0, time.UTC)
	payments.On("MarkSuccessTx", mock.Anything, mock.Anything, uint64(12), "GW777", "payer@example.com", paidAt).Return(nil).Once()
	regs.On("MarkPaidTx", mock.Anything, mock.Anything, uint64(11)).Return(nil).Once()
	pub.On("PaymentSettled", mock.Anything, mock.MatchedBy(func(ev queue.PaymentSettledEvent) bool {
		return ev.RegistrationID == 11 && ev.OutTradeNo == "ORDER123" && ev.AmountCents == 5000
	})).Return(nil).Once()

	assert.NoError(t, s.HandleNotification(context.Background(), notification("ORDER123", "50.00")))
	payments.AssertExpectations(t)
	regs.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestHandleNotificationExpiredHoldClosesOrder(t *testing.T) {
	s, payments, regs, gw, pub := settlementFixture(t)
	gw.On("VerifyNotification", mock.Anything).Return(true)
	gw.On("QueryOrder", mock.Anything, "ORDER123").Return(&gateway.QueryResult{Paid: true}, nil)

	payments.On("GetByOutTradeNo", mock.Anything, "ORDER123").Return(pendingPayment(), nil)
	payments.On("LockByOutTradeNoTx", mock.Anything, mock.Anything, "ORDER123").Return(pendingPayment(), nil)

	// The hold lapsed before the money arrived; the seat may already
	// have been resold.
	lapsed := &model.Registration{ID: 11, SessionID: 5, UserID: 7, Status: model.RegistrationPending,
		CreatedAt: time.Now().UTC().Add(-model.HoldWindow - time.Minute)}
	regs.On("GetByID", mock.Anything, uint64(11)).Return(lapsed, nil)
	payments.On("MarkClosedTx", mock.Anything, mock.Anything, uint64(12)).Return(nil).Once()

	// Still acknowledged: the provider's delivery job is done.
	assert.NoError(t, s.HandleNotification(context.Background(), notification("ORDER123", "50.00")))
	payments.AssertExpectations(t)
	regs.AssertNotCalled(t, "MarkPaidTx", mock.Anything, mock.Anything, mock.Anything)
	pub.AssertNotCalled(t, "PaymentSettled", mock.Anything, mock.Anything)
}

func TestStatusLazilySettlesPendingOrder(t *testing.T) {
	s, payments, regs, gw, pub := settlementFixture(t)

	payments.On("GetByID", mock.Anything, uint64(12)).Return(pendingPayment(), nil).Once()
	reg := &model.Registration{ID: 11, SessionID: 5, UserID: 7, Status: model.RegistrationPending, CreatedAt: time.Now().UTC()}
	regs.On("GetByID", mock.Anything, uint64(11)).Return(reg, nil)

	paidAt := time.Date(2026, 8, 1, 12, 34, 56, 0, time.UTC)
	gw.On("QueryOrder", mock.Anything, "ORDER123").Return(&gateway.QueryResult{
		Paid: true, TradeNo: "GW777", AmountCents: 5000, Buyer: "payer@example.com", PaidAt: paidAt,
	}, nil)

	payments.On("LockByOutTradeNoTx", mock.Anything, mock.Anything, "ORDER123").Return(pendingPayment(), nil)
	payments.On("MarkSuccessTx", mock.Anything, mock.Anything, uint64(12), "GW777", "payer@example.com", paidAt).Return(nil).Once()
	regs.On("MarkPaidTx", mock.Anything, mock.Anything, uint64(11)).Return(nil).Once()
	pub.On("PaymentSettled", mock.Anything, mock.Anything).Return(nil).Once()

	credited := pendingPayment()
	credited.Status = model.PaymentSuccess
	payments.On("GetByID", mock.Anything, uint64(12)).Return(credited, nil).Once()

	res, err := s.Status(context.Background(), 12, 7)
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	payments.AssertExpectations(t)
}

func TestStatusForeignUser(t *testing.T) {
	s, payments, regs, _, _ := settlementFixture(t)
	payments.On("GetByID", mock.Anything, uint64(12)).Return(pendingPayment(), nil)
	regs.On("GetByID", mock.Anything, uint64(11)).Return(
		&model.Registration{ID: 11, UserID: 7, Status: model.RegistrationPending}, nil)

	_, err := s.Status(context.Background(), 12, 99)
	assert.ErrorIs(t, err, repository.ErrForbidden)
}

func TestStatusGatewayOutageStaysPending(t *testing.T) {
	s, payments, regs, gw, _ := settlementFixture(t)
	payments.On("GetByID", mock.Anything, uint64(12)).Return(pendingPayment(), nil)
	regs.On("GetByID", mock.Anything, uint64(11)).Return(
		&model.Registration{ID: 11, UserID: 7, Status: model.RegistrationPending, CreatedAt: time.Now().UTC()}, nil)
	gw.On("QueryOrder", mock.Anything, "ORDER123").Return(nil, gateway.ErrTimeout)

	res, err := s.Status(context.Background(), 12, 7)
	require.NoError(t, err)
	assert.Equal(t, "pending", res.Status)
	payments.AssertNotCalled(t, "LockByOutTradeNoTx", mock.Anything, mock.Anything, mock.Anything)
}
