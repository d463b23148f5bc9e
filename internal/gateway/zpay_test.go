package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-booking/internal/model"
)

func testConfig(baseURL string) Config {
	return Config{
		PID:       "1001",
		Key:       "secret",
		BaseURL:   baseURL,
		NotifyURL: "https://booking.example/v1/pay/notify",
		ReturnURL: "https://booking.example/done",
		SiteName:  "Event Booking",
	}
}

func TestNewOutTradeNoShape(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 30, 45, 0, time.UTC)
	no := NewOutTradeNo(now)
	assert.Regexp(t, regexp.MustCompile(`^20260801123045[0-9a-f]{10}$`), no)

	// Two ids minted at the same instant must still differ.
	assert.NotEqual(t, no, NewOutTradeNo(now))
}

func TestCreateOrderBuildsSignedURL(t *testing.T) {
	c := NewClient(testConfig("https://z-pay.cn/"), 0)

	order, err := c.CreateOrder(5000, "Session fee - Go Workshop", "ORDER123", model.PayAlipay)
	require.NoError(t, err)
	assert.Equal(t, "ORDER123", order.OutTradeNo)

	u, err := url.Parse(order.PayURL)
	require.NoError(t, err)
	assert.Equal(t, "/submit.php", u.Path)

	q := u.Query()
	assert.Equal(t, "1001", q.Get("pid"))
	assert.Equal(t, "alipay", q.Get("type"))
	assert.Equal(t, "50.00", q.Get("money"))
	assert.Equal(t, "ORDER123", q.Get("out_trade_no"))
	assert.Equal(t, "MD5", q.Get("sign_type"))

	// The embedded signature must verify over the other parameters.
	params := map[string]string{}
	for k := range q {
		params[k] = q.Get(k)
	}
	assert.True(t, VerifyNotification(params, "secret"))
}

func TestCreateOrderRejectsEmptyOrderID(t *testing.T) {
	c := NewClient(testConfig("https://z-pay.cn"), 0)
	_, err := c.CreateOrder(100, "x", "", model.PayWechat)
	assert.Error(t, err)
}

func TestQueryOrderPaid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api.php", r.URL.Path)
		assert.Equal(t, "order", r.URL.Query().Get("act"))
		assert.Equal(t, "ORDER123", r.URL.Query().Get("out_trade_no"))
		w.Write([]byte(`{"code":1,"msg":"ok","status":1,"trade_no":"GW777","money":"50.00","buyer":"payer@example.com","endtime":"2026-08-01 12:34:56"}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), time.Second)
	res, err := c.QueryOrder(context.Background(), "ORDER123")
	require.NoError(t, err)
	assert.True(t, res.Paid)
	assert.Equal(t, "GW777", res.TradeNo)
	assert.Equal(t, uint32(5000), res.AmountCents)
	assert.Equal(t, "payer@example.com", res.Buyer)
	assert.Equal(t, time.Date(2026, 8, 1, 12, 34, 56, 0, time.UTC), res.PaidAt)
}

func TestQueryOrderUnpaidAndRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("out_trade_no") {
		case "UNPAID":
			w.Write([]byte(`{"code":1,"msg":"ok","status":0,"money":""}`))
		default:
			w.Write([]byte(`{"code":0,"msg":"order not found"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), time.Second)

	res, err := c.QueryOrder(context.Background(), "UNPAID")
	require.NoError(t, err)
	assert.False(t, res.Paid)

	_, err = c.QueryOrder(context.Background(), "MISSING")
	assert.Error(t, err)
}

func TestQueryOrderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), 20*time.Millisecond)
	_, err := c.QueryOrder(context.Background(), "SLOW")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRefund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refund", r.PostForm.Get("act"))
		assert.Equal(t, "GW777", r.PostForm.Get("trade_no"))
		assert.Equal(t, "25.00", r.PostForm.Get("money"))
		w.Write([]byte(`{"code":1,"msg":"ok","refund_no":"RF42"}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), time.Second)
	res, err := c.Refund(context.Background(), "GW777", "ORDER123", 2500)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "RF42", res.GatewayRefundNo)
}

func TestRefundRejectedIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"msg":"insufficient balance"}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), time.Second)
	res, err := c.Refund(context.Background(), "GW777", "ORDER123", 2500)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "insufficient balance", res.Message)
}
