// Package gateway implements the client side of the aggregate
// payment provider's HTTP protocol: MD5-signed form requests for
// order creation, a JSON query API for polling, and a refund API.
// It translates provider semantics (trade_status strings, decimal
// money, code/msg envelopes) into local types and never touches the
// database; settlement state transitions live in the service layer.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iliyamo/event-booking/internal/model"
)

// ErrTimeout wraps provider calls that exceeded the client timeout.
// Callers must treat it as "outcome unknown", never as a decline:
// the local payment stays PENDING and the operation is retryable.
var ErrTimeout = errors.New("gateway timeout")

// TradeSuccess is the provider's terminal paid status.  Any other
// trade_status in a notification is acknowledged without crediting.
const TradeSuccess = "TRADE_SUCCESS"

// Config carries the merchant credentials and endpoints.  BaseURL
// hosts both submit.php (checkout redirect) and api.php (query and
// refund).
type Config struct {
	PID       string // merchant id
	Key       string // shared signing secret
	BaseURL   string // e.g. https://z-pay.cn
	NotifyURL string // asynchronous notification endpoint (ours)
	ReturnURL string // browser return endpoint (ours)
	SiteName  string // merchant site name shown on the cashier page
}

// Client is the payment gateway adapter.  All network calls go
// through a single http.Client whose timeout bounds the synchronous
// I/O; requests that exceed it fail closed with ErrTimeout.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient returns a gateway client with the given call timeout.
// The original deployment used 30 seconds.
func NewClient(cfg Config, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: timeout}}
}

// VerifyNotification checks a webhook payload's signature against
// this client's merchant secret.
func (c *Client) VerifyNotification(params map[string]string) bool {
	return VerifyNotification(params, c.cfg.Key)
}

// channelParam maps the closed payment method enum to the provider's
// type parameter.  The switch is exhaustive over model.PayMethod so
// adding a channel is a compile-surfaced change, not a silently
// defaulted string.
func channelParam(m model.PayMethod) string {
	switch m {
	case model.PayAlipay:
		return "alipay"
	case model.PayWechat:
		return "wxpay"
	case model.PayQQ:
		return "qqpay"
	case model.PayTenpay:
		return "tenpay"
	}
	// Unreachable for values produced by model.ParsePayMethod.
	return string(m)
}

// NewOutTradeNo generates a merchant order id: a second-resolution
// UTC timestamp followed by ten random hex characters.  Uniqueness
// is ultimately enforced by the payments.out_trade_no constraint;
// the random suffix just makes collisions implausible.
func NewOutTradeNo(now time.Time) string {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the process is in serious
		// trouble; fall back to the timestamp alone and let the
		// uniqueness constraint catch any duplicate.
		return now.UTC().Format("20060102150405")
	}
	return now.UTC().Format("20060102150405") + hex.EncodeToString(b)
}

// Order is the result of creating (or re-signing) a checkout order.
type Order struct {
	OutTradeNo string // merchant order id
	PayURL     string // signed cashier redirect target
}

// CreateOrder builds the signed cashier URL for the given amount and
// merchant order id.  The provider's checkout protocol is a signed
// redirect, so no network round-trip happens here; passing the same
// outTradeNo again yields the same order at the provider, which is
// what lets a reopened checkout page reuse its order instead of
// fragmenting payment state.
func (c *Client) CreateOrder(amountCents uint32, subject, outTradeNo string, method model.PayMethod) (*Order, error) {
	if outTradeNo == "" {
		return nil, fmt.Errorf("gateway: empty out_trade_no")
	}
	params := map[string]string{
		"pid":          c.cfg.PID,
		"type":         channelParam(method),
		"out_trade_no": outTradeNo,
		"notify_url":   c.cfg.NotifyURL,
		"return_url":   c.cfg.ReturnURL,
		"name":         subject,
		"money":        FormatMoney(amountCents),
		"sitename":     c.cfg.SiteName,
	}
	sign := Sign(params, c.cfg.Key)
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("sign", sign)
	q.Set("sign_type", "MD5")
	return &Order{
		OutTradeNo: outTradeNo,
		PayURL:     strings.TrimRight(c.cfg.BaseURL, "/") + "/submit.php?" + q.Encode(),
	}, nil
}

// QueryResult is the local view of one provider-side order.
type QueryResult struct {
	Paid        bool      // order reached TRADE_SUCCESS
	TradeNo     string    // gateway transaction id
	AmountCents uint32    // amount reported by the provider
	Buyer       string    // payer account, when reported
	PaidAt      time.Time // settlement time, zero when unpaid
}

// orderEnvelope mirrors the api.php?act=order response.
type orderEnvelope struct {
	Code    json.Number `json:"code"`
	Msg     string      `json:"msg"`
	Status  json.Number `json:"status"`
	TradeNo string      `json:"trade_no"`
	Money   string      `json:"money"`
	Buyer   string      `json:"buyer"`
	EndTime string      `json:"endtime"`
}

// QueryOrder polls the provider for the state of one merchant order.
// Used both by the customer-facing status endpoint and as the
// belt-and-braces confirmation inside notification handling.
// Network errors and timeouts surface to the caller; they are never
// interpreted as "unpaid".
func (c *Client) QueryOrder(ctx context.Context, outTradeNo string) (*QueryResult, error) {
	q := url.Values{}
	q.Set("act", "order")
	q.Set("pid", c.cfg.PID)
	q.Set("key", c.cfg.Key)
	q.Set("out_trade_no", outTradeNo)
	body, err := c.get(ctx, "/api.php?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var env orderEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("gateway: decode order query: %w", err)
	}
	if code, _ := env.Code.Int64(); code != 1 {
		return nil, fmt.Errorf("gateway: order query rejected: %s", env.Msg)
	}
	res := &QueryResult{TradeNo: env.TradeNo, Buyer: env.Buyer}
	if status, _ := env.Status.Int64(); status == 1 {
		res.Paid = true
	}
	if env.Money != "" {
		if cents, err := ParseMoney(env.Money); err == nil {
			res.AmountCents = cents
		}
	}
	if env.EndTime != "" {
		if t, err := time.Parse("2006-01-02 15:04:05", env.EndTime); err == nil {
			res.PaidAt = t.UTC()
		}
	}
	return res, nil
}

// RefundResult is the provider's answer to a refund call.
type RefundResult struct {
	OK              bool
	GatewayRefundNo string
	Message         string
}

// refundEnvelope mirrors the api.php?act=refund response.
type refundEnvelope struct {
	Code     json.Number `json:"code"`
	Msg      string      `json:"msg"`
	RefundNo string      `json:"refund_no"`
}

// Refund asks the provider to return money for a settled order.  The
// original transaction id takes precedence; the merchant order id is
// sent alongside for providers that key on it.  A non-OK result is
// not an error: the call completed and the provider said no, which
// the workflow records as a FAILED refund eligible for retry.
func (c *Client) Refund(ctx context.Context, tradeNo, outTradeNo string, amountCents uint32) (*RefundResult, error) {
	form := url.Values{}
	form.Set("act", "refund")
	form.Set("pid", c.cfg.PID)
	form.Set("key", c.cfg.Key)
	if tradeNo != "" {
		form.Set("trade_no", tradeNo)
	}
	if outTradeNo != "" {
		form.Set("out_trade_no", outTradeNo)
	}
	form.Set("money", FormatMoney(amountCents))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/api.php", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var env refundEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("gateway: decode refund response: %w", err)
	}
	code, _ := env.Code.Int64()
	return &RefundResult{OK: code == 1, GatewayRefundNo: env.RefundNo, Message: env.Msg}, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(c.cfg.BaseURL, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway: unexpected status %d", resp.StatusCode)
	}
	return body, nil
}

func isTimeout(err error) bool {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
