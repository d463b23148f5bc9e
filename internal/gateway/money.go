package gateway

import (
	"fmt"
	"strconv"
	"strings"
)

// The gateway speaks decimal yuan strings ("0.01") on the wire while
// the rest of the system stores cents.  These helpers are the only
// place the two representations meet; the webhook amount check goes
// through ParseMoney so a malformed or tampered money parameter
// fails loudly instead of comparing equal by accident.

// FormatMoney renders an amount in cents as the gateway's decimal
// string, always with two fractional digits.
func FormatMoney(cents uint32) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// ParseMoney converts a gateway decimal string back to cents.  At
// most two fractional digits are accepted; anything else is an
// error, not a truncation.
func ParseMoney(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	whole, frac, found := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseUint(whole, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	cents := units * 100
	if found {
		if frac == "" || len(frac) > 2 {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
		if len(frac) == 1 {
			frac += "0"
		}
		f, err := strconv.ParseUint(frac, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
		cents += f
	}
	if cents > 1<<32-1 {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	return uint32(cents), nil
}
