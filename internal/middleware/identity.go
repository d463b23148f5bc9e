package middleware

// identity.go holds the claim extraction helpers shared across middleware
// and handlers.  Identity issuance lives in a separate service; this side
// only ever reads the numeric subject and the role claim out of a verified
// token.

import (
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// subjectID pulls the numeric user id out of the token claims.  Tokens
// carry the id either as the standard "sub" claim or as "user_id"; JSON
// numbers arrive as float64, string subjects are parsed.
func subjectID(claims jwt.MapClaims) (uint64, bool) {
	for _, key := range []string{"sub", "user_id"} {
		switch v := claims[key].(type) {
		case float64:
			if v > 0 {
				return uint64(v), true
			}
		case string:
			if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
				return n, true
			}
		}
	}
	return 0, false
}

// UserID returns the authenticated user id placed in the context by
// JWTAuth.  The second return is false on routes that skipped auth.
func UserID(c echo.Context) (uint64, bool) {
	v, ok := c.Get("user_id").(uint64)
	return v, ok
}

// rateKeyUserID renders the user id for rate limit bucket keys; guests
// share one bucket per IP.
func rateKeyUserID(c echo.Context) string {
	if uid, ok := UserID(c); ok {
		return strconv.FormatUint(uid, 10)
	}
	return "anon"
}
