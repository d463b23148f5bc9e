package model

import (
	"fmt"
	"time"
)

// PaymentStatus enumerates the states of a gateway payment order.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING" // order created, not yet paid
	PaymentSuccess PaymentStatus = "SUCCESS" // gateway confirmed payment
	PaymentFailed  PaymentStatus = "FAILED"  // gateway reported failure
	PaymentClosed  PaymentStatus = "CLOSED"  // abandoned or superseded order
)

// PayMethod is the closed set of payment channels accepted by the
// gateway.  New channels are a compile-time-checked addition: every
// switch over PayMethod must be exhaustive, so adding a constant
// here surfaces each site that needs updating.
type PayMethod string

const (
	PayAlipay PayMethod = "alipay"
	PayWechat PayMethod = "wxpay"
	PayQQ     PayMethod = "qqpay"
	PayTenpay PayMethod = "tenpay"
)

// ParsePayMethod validates a channel string from the outside world.
func ParsePayMethod(s string) (PayMethod, error) {
	switch m := PayMethod(s); m {
	case PayAlipay, PayWechat, PayQQ, PayTenpay:
		return m, nil
	}
	return "", fmt.Errorf("unknown pay method %q", s)
}

// Label returns the customer-facing name of the channel.
func (m PayMethod) Label() string {
	switch m {
	case PayAlipay:
		return "Alipay"
	case PayWechat:
		return "WeChat Pay"
	case PayQQ:
		return "QQ Wallet"
	case PayTenpay:
		return "Tenpay"
	}
	return string(m)
}

// Payment is the gateway order backing one registration.  There is
// exactly one payment row per registration and its status moves to
// SUCCESS at most once; duplicate webhook deliveries observe the
// SUCCESS state and acknowledge without reprocessing.
//
// Fields:
//  ID             – primary key identifier.
//  RegistrationID – registration being paid for (unique).
//  AmountCents    – expected amount in cents; the notified amount
//                   must match exactly before the order is credited.
//  Status         – order state.
//  Method         – payment channel.
//  OutTradeNo     – merchant order id we generate (unique).
//  TradeNo        – gateway transaction id, set on success.
//  Buyer          – payer account reported by the gateway, if any.
//  CreatedAt      – order creation timestamp.
//  PaidAt         – settlement timestamp, set on success.
type Payment struct {
	ID             uint64        // payments.id
	RegistrationID uint64        // payments.registration_id
	AmountCents    uint32        // payments.amount_cents
	Status         PaymentStatus // payments.status
	Method         PayMethod     // payments.method
	OutTradeNo     string        // payments.out_trade_no
	TradeNo        *string       // payments.trade_no (nullable)
	Buyer          *string       // payments.buyer (nullable)
	CreatedAt      time.Time     // payments.created_at
	PaidAt         *time.Time    // payments.paid_at (nullable)
}
