package quota

import (
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotarelay/quotarelay/internal/accounts"
	"github.com/quotarelay/quotarelay/internal/credstore"
	"github.com/quotarelay/quotarelay/internal/upstream"
)

func newTestSelector(t *testing.T, numAccounts int) (*Selector, *Cache, *accounts.Manager) {
	t.Helper()
	dir := t.TempDir()
	log := logrus.New()
	log.SetOutput(os.Stderr)
	store, err := credstore.New(dir, log)
	require.NoError(t, err)
	mgr := accounts.New(store, upstream.New(), nil, log)

	future := time.Now().Add(time.Hour)
	for i := 0; i < numAccounts; i++ {
		rec := credstore.Record{
			AccessToken:  "tok",
			RefreshToken: "refresh",
			TokenType:    "Bearer",
			Email:        string(rune('a'+i)) + "@example.com",
			ProjectID:    "proj",
			ExpiryMs:     future.UnixMilli(),
		}
		_, err := mgr.Add("", rec)
		require.NoError(t, err)
	}

	cache := NewCache()
	return NewSelector(cache, mgr), cache, mgr
}

func TestPickFastFailsWhenAllExhausted(t *testing.T) {
	sel, cache, mgr := newTestSelector(t, 2)
	for _, a := range mgr.Snapshot() {
		cache.Set("gemini-2.5-flash", a.Key(), 0, 0, time.Now().UnixMilli())
	}

	outcome := sel.Pick("gemini-2.5-flash", PickOptions{})
	resp, isFastFail := outcome.AsFastFail()
	assert.True(t, isFastFail)
	assert.Equal(t, 429, resp.StatusCode)
}

func TestPickPrefersHighestKnownRemaining(t *testing.T) {
	sel, cache, mgr := newTestSelector(t, 3)
	accs := mgr.Snapshot()
	cache.Set("gemini-2.5-flash", accs[0].Key(), 10, 0, time.Now().UnixMilli())
	cache.Set("gemini-2.5-flash", accs[1].Key(), 90, 0, time.Now().UnixMilli())
	cache.Set("gemini-2.5-flash", accs[2].Key(), 40, 0, time.Now().UnixMilli())

	outcome := sel.Pick("gemini-2.5-flash", PickOptions{})
	idx, isPick := outcome.AsPick()
	assert.True(t, isPick)
	assert.Equal(t, 1, idx)
}

func TestPickReturnsWaitWhenCooldownEndsSoon(t *testing.T) {
	sel, cache, mgr := newTestSelector(t, 1)
	acc := mgr.Snapshot()[0]
	cache.Set("gemini-2.5-flash", acc.Key(), 50, 0, time.Now().UnixMilli())
	cache.Cooldown("gemini-2.5-flash", acc.Key(), time.Now(), 1*time.Second)

	outcome := sel.Pick("gemini-2.5-flash", PickOptions{CooldownWaitThresholdMs: 5 * time.Second})
	after, isWait := outcome.AsWait()
	assert.True(t, isWait)
	assert.LessOrEqual(t, after, 2*time.Second)
}

func TestPickFastFailsWhenCooldownExceedsThreshold(t *testing.T) {
	sel, cache, mgr := newTestSelector(t, 1)
	acc := mgr.Snapshot()[0]
	cache.Set("gemini-2.5-flash", acc.Key(), 50, 0, time.Now().UnixMilli())
	cache.Cooldown("gemini-2.5-flash", acc.Key(), time.Now(), 30*time.Second)

	outcome := sel.Pick("gemini-2.5-flash", PickOptions{CooldownWaitThresholdMs: 5 * time.Second})
	_, isFastFail := outcome.AsFastFail()
	assert.True(t, isFastFail)
}

func TestPickFallsBackToUnknownWhenNoPositiveKnown(t *testing.T) {
	sel, _, mgr := newTestSelector(t, 2)
	accs := mgr.Snapshot()
	_ = accs
	outcome := sel.Pick("gemini-2.5-flash", PickOptions{})
	_, isPick := outcome.AsPick()
	assert.True(t, isPick, "with no snapshots at all, unknown accounts should still be pickable")
}

func TestPickRoundRobinsAmongFinalists(t *testing.T) {
	sel, cache, mgr := newTestSelector(t, 3)
	accs := mgr.Snapshot()
	for _, a := range accs {
		cache.Set("gemini-2.5-flash", a.Key(), 50, 0, time.Now().UnixMilli())
	}

	first := sel.Pick("gemini-2.5-flash", PickOptions{})
	idx1, _ := first.AsPick()
	second := sel.Pick("gemini-2.5-flash", PickOptions{})
	idx2, _ := second.AsPick()
	assert.NotEqual(t, idx1, idx2)
}
