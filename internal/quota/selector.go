package quota

import (
	"sort"
	"time"

	"github.com/quotarelay/quotarelay/internal/accounts"
)

// FixedRetryDelay is the default synthesized cooldown when the upstream
// gives no retry hint.
const FixedRetryDelay = 1200 * time.Millisecond

// Selector picks the best account for a model, tolerating partial account
// failures via cooldown and fast-fail/wait outcomes.
type Selector struct {
	cache   *Cache
	manager *accounts.Manager
}

// NewSelector builds a Selector over cache and the account pool in manager.
func NewSelector(cache *Cache, manager *accounts.Manager) *Selector {
	return &Selector{cache: cache, manager: manager}
}

// PickOptions customizes a single Pick call.
type PickOptions struct {
	Now                     time.Time
	Excluded                map[int]bool
	CooldownWaitThresholdMs time.Duration
}

// Pick returns exactly one of Pick/Wait/FastFail for modelID.
func (s *Selector) Pick(modelID string, opts PickOptions) Outcome {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	threshold := opts.CooldownWaitThresholdMs
	if threshold <= 0 {
		threshold = 5 * time.Second
	}

	accs := s.manager.Snapshot()
	if len(accs) == 0 {
		return fastFailOutcome(s.synthesizeOrCached(modelID))
	}

	snapshots := s.cache.AllForModel(modelID)

	type candidate struct {
		index    int
		key      string
		snapshot Snapshot
		known    bool
	}

	// Exhaustion is evaluated over the full pool, before exclusion: a
	// tried-and-excluded account still counts toward "every account is at
	// zero".
	allKnownZero := true
	for _, a := range accs {
		snap, ok := snapshots[a.Key()]
		if !ok || snap.Unknown() || snap.RemainingPercent != 0 {
			allKnownZero = false
			break
		}
	}
	if allKnownZero {
		return fastFailOutcome(s.synthesizeOrCached(modelID))
	}

	var candidates []candidate
	for i, a := range accs {
		if opts.Excluded[i] {
			continue
		}
		key := a.Key()
		snap, ok := snapshots[key]
		if !ok || snap.Unknown() {
			candidates = append(candidates, candidate{index: i, key: key, snapshot: snap, known: false})
			continue
		}
		candidates = append(candidates, candidate{index: i, key: key, snapshot: snap, known: true})
	}
	if len(candidates) == 0 {
		return fastFailOutcome(s.synthesizeOrCached(modelID))
	}

	var live []candidate
	var coolingDown []candidate
	for _, c := range candidates {
		if c.known && c.snapshot.RemainingPercent == 0 {
			continue
		}
		if c.snapshot.InCooldown(now) {
			coolingDown = append(coolingDown, c)
			continue
		}
		live = append(live, c)
	}

	if len(live) == 0 {
		if len(coolingDown) == 0 {
			return fastFailOutcome(s.synthesizeOrCached(modelID))
		}
		nearest := coolingDown[0].snapshot.CooldownUntilMs
		for _, c := range coolingDown[1:] {
			if c.snapshot.CooldownUntilMs < nearest {
				nearest = c.snapshot.CooldownUntilMs
			}
		}
		wait := time.Until(time.UnixMilli(nearest))
		if wait > threshold {
			return fastFailOutcome(s.synthesizeOrCached(modelID))
		}
		return waitOutcome(wait)
	}

	var positive []candidate
	for _, c := range live {
		if c.known && c.snapshot.RemainingPercent > 0 {
			positive = append(positive, c)
		}
	}
	finalists := positive
	if len(finalists) == 0 {
		finalists = live
	}
	if len(positive) > 0 {
		sort.SliceStable(finalists, func(i, j int) bool {
			return finalists[i].snapshot.RemainingPercent > finalists[j].snapshot.RemainingPercent
		})
		max := finalists[0].snapshot.RemainingPercent
		trimmed := finalists[:0:0]
		for _, c := range finalists {
			if c.snapshot.RemainingPercent == max {
				trimmed = append(trimmed, c)
			}
		}
		finalists = trimmed
	}

	sort.Slice(finalists, func(i, j int) bool { return finalists[i].index < finalists[j].index })

	cursor := s.cache.nextStartCursor(modelID)
	chosen := finalists[0]
	found := false
	for _, c := range finalists {
		if c.index >= cursor {
			chosen = c
			found = true
			break
		}
	}
	if !found {
		chosen = finalists[0]
	}

	s.cache.setNextStartCursor(modelID, chosen.index+1)
	return pickOutcome(chosen.index)
}

// CachedOrSynthesized exposes the cached-or-synthesized 429 body for a
// model, for callers that need it outside of a Pick call (e.g. after a
// second Wait result gives up).
func (s *Selector) CachedOrSynthesized(modelID string) FastFailResponse {
	return s.synthesizeOrCached(modelID)
}

func (s *Selector) synthesizeOrCached(modelID string) FastFailResponse {
	if cached, ok := s.cache.LastErrorFor(modelID); ok {
		return FastFailResponse{StatusCode: cached.StatusCode, Header: cached.Header, Body: cached.Body}
	}
	body := []byte(`{"error":{"message":"quota exhausted for model","status":"RESOURCE_EXHAUSTED","code":429}}`)
	return FastFailResponse{StatusCode: 429, Body: body}
}
