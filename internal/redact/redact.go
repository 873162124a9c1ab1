// Package redact scrubs credentials and sensitive payload fields
// before anything reaches a log line.
package redact

import (
	"encoding/json"
	"net/http"
	"strings"
)

const placeholder = "[REDACTED]"

// sensitive fields are matched after lowercasing and stripping
// underscores, so "refresh_token" and "RefreshToken" both hit.
var sensitive = map[string]struct{}{
	"password":           {},
	"receipt":            {},
	"receiptdata":        {},
	"transactionreceipt": {},
	"idtoken":            {},
	"accesstoken":        {},
	"refreshtoken":       {},
	"token":              {},
}

// Headers returns a copy of h safe for logging.
func Headers(h http.Header) http.Header {
	out := h.Clone()
	if out.Get("Authorization") != "" {
		out.Set("Authorization", placeholder)
	}
	return out
}

// Body scrubs denylisted top-level fields from a JSON object body.
// Non-JSON bodies pass through untouched.
func Body(b []byte) string {
	if len(b) == 0 {
		return ""
	}

	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return string(b)
	}

	redacted := false
	for k := range m {
		if _, ok := sensitive[normalize(k)]; ok {
			m[k] = placeholder
			redacted = true
		}
	}
	if !redacted {
		return string(b)
	}

	out, err := json.Marshal(m)
	if err != nil {
		return placeholder
	}
	return string(out)
}

func normalize(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "_", "")
}
