package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "0.00", FormatMoney(0))
	assert.Equal(t, "0.01", FormatMoney(1))
	assert.Equal(t, "0.50", FormatMoney(50))
	assert.Equal(t, "50.00", FormatMoney(5000))
	assert.Equal(t, "123.45", FormatMoney(12345))
}

func TestParseMoney(t *testing.T) {
	for raw, want := range map[string]uint32{
		"0.01":   1,
		"1":      100,
		"1.5":    150,
		"50.00":  5000,
		".99":    99,
		" 2.00 ": 200,
	} {
		got, err := ParseMoney(raw)
		assert.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	for _, raw := range []string{"", "abc", "1.234", "1.", "-1.00", "1,00"} {
		_, err := ParseMoney(raw)
		assert.Error(t, err, raw)
	}
}

func TestMoneyWebhookComparison(t *testing.T) {
	// The amount match in settlement compares parsed cents, so a
	// formatted amount must survive the round trip exactly.
	got, err := ParseMoney(FormatMoney(4999))
	assert.NoError(t, err)
	assert.Equal(t, uint32(4999), got)
}
