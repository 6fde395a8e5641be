// Package orchestrator dispatches a logical upstream call through account
// selection, the rate gate, and a retry/rotate policy driven by upstream
// 429 responses.
package orchestrator

import (
	"regexp"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

var durationTokenPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)(ms|h|m|s)`)

// parseDurationToken parses a single duration string built from the unit
// set {ms, s, m, h}, e.g. "1h16m0.667s" or "331.167ms". It requires the
// entire string to be consumed by adjacent tokens; anything else is
// malformed.
func parseDurationToken(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	matches := durationTokenPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return 0, false
	}

	var total time.Duration
	covered := 0
	for _, m := range matches {
		if m[0] != covered {
			return 0, false
		}
		numStr := s[m[2]:m[3]]
		unit := s[m[4]:m[5]]
		val, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return 0, false
		}
		var factor time.Duration
		switch unit {
		case "ms":
			factor = time.Millisecond
		case "s":
			factor = time.Second
		case "m":
			factor = time.Minute
		case "h":
			factor = time.Hour
		}
		total += time.Duration(val * float64(factor))
		covered = m[1]
	}
	if covered != len(s) {
		return 0, false
	}
	return total, true
}

// ParseRetryDelay reads an upstream JSON error body's error.details[],
// extracts RetryInfo.retryDelay and metadata.quotaResetDelay entries, and
// sums every value that parses successfully. Returns nil when no valid
// duration is found ("unknown").
func ParseRetryDelay(body []byte) *time.Duration {
	var total time.Duration
	found := false

	gjson.GetBytes(body, "error.details").ForEach(func(_, detail gjson.Result) bool {
		if v := detail.Get("retryDelay"); v.Exists() {
			if d, ok := parseDurationToken(v.String()); ok {
				total += d
				found = true
			}
		}
		if v := detail.Get("metadata.quotaResetDelay"); v.Exists() {
			if d, ok := parseDurationToken(v.String()); ok {
				total += d
				found = true
			}
		}
		return true
	})

	if !found {
		return nil
	}
	return &total
}
