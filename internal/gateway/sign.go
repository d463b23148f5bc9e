package gateway

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Sign computes the MD5 signature over the given request parameters
// per the gateway's signing scheme: parameters sorted by key, joined
// as k=v pairs with '&', with the merchant secret appended.  Empty
// values and the sign/sign_type parameters themselves never
// participate.  Values are signed raw, not URL-encoded.
func Sign(params map[string]string, key string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || k == "sign_type" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	sum := md5.Sum([]byte(strings.Join(pairs, "&") + key))
	return hex.EncodeToString(sum[:])
}

// VerifyNotification checks the signature carried by an asynchronous
// notification against the merchant secret.  A payload without a
// sign parameter never verifies.  The comparison is case-insensitive
// because some gateway deployments emit uppercase hex.
func VerifyNotification(params map[string]string, key string) bool {
	got := params["sign"]
	if got == "" {
		return false
	}
	return strings.EqualFold(got, Sign(params, key))
}

// NotificationParams flattens the form/query values of a webhook
// request into the map shape the signer works with.  Repeated keys
// keep their first value, matching how the provider encodes
// notifications.
func NotificationParams(values url.Values) map[string]string {
	params := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}
	return params
}
