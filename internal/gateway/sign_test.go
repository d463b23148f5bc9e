package gateway

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignSortsAndSkips(t *testing.T) {
	key := "secret"
	params := map[string]string{
		"out_trade_no": "20260801120000abcdef1234",
		"money":        "50.00",
		"pid":          "1001",
		"sign":         "should-be-ignored",
		"sign_type":    "MD5",
		"buyer":        "", // empty values never participate
	}
	// Expected: keys sorted, k=v joined with &, secret appended.
	sum := md5.Sum([]byte("money=50.00&out_trade_no=20260801120000abcdef1234&pid=1001" + key))
	want := hex.EncodeToString(sum[:])

	assert.Equal(t, want, Sign(params, key))
}

func TestVerifyNotification(t *testing.T) {
	key := "secret"
	params := map[string]string{
		"pid":          "1001",
		"out_trade_no": "X1",
		"trade_status": "TRADE_SUCCESS",
		"money":        "1.00",
	}
	params["sign"] = Sign(params, key)
	assert.True(t, VerifyNotification(params, key))

	// Uppercase hex verifies too.
	params["sign"] = strings.ToUpper(params["sign"])
	assert.True(t, VerifyNotification(params, key))

	params["money"] = "2.00" // tampered amount breaks the signature
	assert.False(t, VerifyNotification(params, key))

	delete(params, "sign")
	assert.False(t, VerifyNotification(params, key))
}

func TestNotificationParams(t *testing.T) {
	values := url.Values{}
	values.Set("out_trade_no", "X1")
	values.Add("money", "1.00")
	values.Add("money", "9.99") // repeated keys keep the first value

	params := NotificationParams(values)
	assert.Equal(t, "X1", params["out_trade_no"])
	assert.Equal(t, "1.00", params["money"])
}
