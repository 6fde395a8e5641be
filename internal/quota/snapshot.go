// Package quota maintains a per-(model, account) quota cache, refreshed
// periodically in the background, and a selection policy that tolerates
// partial account failures.
package quota

import "time"

// Snapshot is the latest known remaining-quota state for one
// (modelId, accountKey) pair.
type Snapshot struct {
	RemainingPercent int // -1 means unknown
	ResetTimeMs      int64
	UpdatedAtMs      int64
	CooldownUntilMs  int64
}

// Unknown reports whether the remaining percentage has never been observed.
func (s Snapshot) Unknown() bool { return s.RemainingPercent < 0 }

// InCooldown reports whether the snapshot is still cooling down at now.
func (s Snapshot) InCooldown(now time.Time) bool {
	return s.CooldownUntilMs > now.UnixMilli()
}

// LastError caches the most recent error response body for a model, used
// to synthesize a 429 when no account is selectable.
type LastError struct {
	StatusCode int
	Header     map[string][]string
	Body       []byte
}
