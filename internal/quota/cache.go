package quota

import (
	"sync"
	"time"
)

// Cache holds the shared quota state: perModel[modelId][accountKey], a
// last-error cache per model, and a per-model round-robin cursor.
type Cache struct {
	mu        sync.RWMutex
	perModel  map[string]map[string]Snapshot
	lastError map[string]LastError
	nextStart map[string]int
}

// NewCache builds an empty Cache.
func NewCache() *Cache {
	return &Cache{
		perModel:  make(map[string]map[string]Snapshot),
		lastError: make(map[string]LastError),
		nextStart: make(map[string]int),
	}
}

// Set records a fresh snapshot for (modelID, accountKey), preserving any
// existing cooldown deadline unless the caller supplies a newer one.
func (c *Cache) Set(modelID, accountKey string, remainingPercent int, resetTimeMs, updatedAtMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.perModel[modelID]
	if m == nil {
		m = make(map[string]Snapshot)
		c.perModel[modelID] = m
	}
	prev := m[accountKey]
	m[accountKey] = Snapshot{
		RemainingPercent: remainingPercent,
		ResetTimeMs:      resetTimeMs,
		UpdatedAtMs:      updatedAtMs,
		CooldownUntilMs:  prev.CooldownUntilMs,
	}
}

// Get returns the current snapshot for (modelID, accountKey), if any.
func (c *Cache) Get(modelID, accountKey string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.perModel[modelID]
	if !ok {
		return Snapshot{}, false
	}
	s, ok := m[accountKey]
	return s, ok
}

// AllForModel returns a copy of every snapshot recorded for modelID.
func (c *Cache) AllForModel(modelID string) map[string]Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Snapshot, len(c.perModel[modelID]))
	for k, v := range c.perModel[modelID] {
		out[k] = v
	}
	return out
}

// KnownModels returns every modelID that has at least one recorded
// snapshot, in no particular order. Used to serve the Google-compatible
// model listing from live quota data rather than a hardcoded table.
func (c *Cache) KnownModels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.perModel))
	for k := range c.perModel {
		out = append(out, k)
	}
	return out
}

// Cooldown writes cooldownUntilMs = now + delay for (modelID, accountKey),
// after a 429.
func (c *Cache) Cooldown(modelID, accountKey string, now time.Time, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.perModel[modelID]
	if m == nil {
		m = make(map[string]Snapshot)
		c.perModel[modelID] = m
	}
	s, ok := m[accountKey]
	if !ok {
		// No quota snapshot yet: remaining is unknown, not zero.
		s.RemainingPercent = -1
	}
	s.CooldownUntilMs = now.Add(delay).UnixMilli()
	m[accountKey] = s
}

// SetLastError caches the most recent error response for a model.
func (c *Cache) SetLastError(modelID string, e LastError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError[modelID] = e
}

// LastErrorFor returns the cached error for a model, if any.
func (c *Cache) LastErrorFor(modelID string) (LastError, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.lastError[modelID]
	return e, ok
}

func (c *Cache) nextStartCursor(modelID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nextStart[modelID]
}

func (c *Cache) setNextStartCursor(modelID string, v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextStart[modelID] = v
}
