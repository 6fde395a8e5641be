package logging

import (
	"net/url"
	"strings"
)

const redactedValue = "[REDACTED]"

// maskSensitiveQuery redacts the value of any sensitive query parameter
// (api keys, tokens) before a URL is written to a log line.
func maskSensitiveQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	for k := range values {
		if isSensitiveKey(k) {
			values[k] = []string{redactedValue}
		}
	}
	return values.Encode()
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.Contains(k, "authorization"),
		strings.Contains(k, "cookie"),
		strings.Contains(k, "api_key"),
		strings.Contains(k, "apikey"),
		strings.Contains(k, "secret"),
		strings.Contains(k, "token"),
		strings.Contains(k, "password"),
		strings.Contains(k, "key"):
		return true
	default:
		return false
	}
}
