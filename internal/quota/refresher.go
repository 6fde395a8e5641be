package quota

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/quotarelay/quotarelay/internal/accounts"
	"github.com/quotarelay/quotarelay/internal/metrics"
	"github.com/quotarelay/quotarelay/internal/upstream"
)

// DefaultRefreshInterval is the periodic quota snapshot interval.
const DefaultRefreshInterval = 300 * time.Second

const initialLoadGrace = 3 * time.Second

// Refresher periodically snapshots per-account, per-model remaining quota
// by calling fetchAvailableModels for every account in parallel.
type Refresher struct {
	cache    *Cache
	manager  *accounts.Manager
	upstream *upstream.Client
	interval time.Duration
	log      *logrus.Logger
	metrics  *metrics.Metrics

	initialDone chan struct{}
	once        sync.Once
}

// SetMetrics attaches the quota-remaining gauge updated on every refresh
// pass. Call before Start.
func (r *Refresher) SetMetrics(m *metrics.Metrics) { r.metrics = m }

// NewRefresher builds a Refresher. interval <= 0 uses DefaultRefreshInterval.
func NewRefresher(cache *Cache, manager *accounts.Manager, client *upstream.Client, interval time.Duration, log *logrus.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Refresher{
		cache:       cache,
		manager:     manager,
		upstream:    client,
		interval:    interval,
		log:         log,
		initialDone: make(chan struct{}),
	}
}

// Start runs the background loop until ctx is cancelled. It waits briefly
// for accounts to load, performs an initial refresh, then repeats every
// interval. It never blocks request serving.
func (r *Refresher) Start(ctx context.Context) {
	go func() {
		deadline := time.Now().Add(initialLoadGrace)
		for len(r.manager.Snapshot()) == 0 && time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
		}

		r.refreshAll(ctx)
		r.once.Do(func() { close(r.initialDone) })

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.refreshAll(ctx)
			}
		}
	}()
}

// WaitInitial blocks (up to timeout) until the first refresh pass has
// completed, used by the orchestrator before its first Pick.
func (r *Refresher) WaitInitial(ctx context.Context, timeout time.Duration) {
	select {
	case <-r.initialDone:
	case <-time.After(timeout):
	case <-ctx.Done():
	}
}

func (r *Refresher) refreshAll(ctx context.Context) {
	accs := r.manager.Snapshot()
	var wg sync.WaitGroup
	for _, a := range accs {
		a := a
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.refreshOne(ctx, a)
		}()
	}
	wg.Wait()
}

func (r *Refresher) refreshOne(ctx context.Context, acc *accounts.Account) {
	creds, err := r.manager.CredentialsForAccount(ctx, acc)
	if err != nil {
		r.log.WithError(err).WithField("account", acc.Key()).Debug("quota: skip refresh, account not usable")
		return
	}

	resp, err := r.upstream.ListModels(ctx, creds.AccessToken, creds.ProjectID)
	if err != nil {
		r.log.WithError(err).WithField("account", acc.Key()).Debug("quota: fetchAvailableModels failed")
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return
	}

	now := time.Now().UnixMilli()
	gjson.GetBytes(resp.Body, "models").ForEach(func(_, model gjson.Result) bool {
		modelID := model.Get("modelId").String()
		if modelID == "" {
			modelID = model.Get("name").String()
		}
		quotaInfo := model.Get("quotaInfo")
		if modelID == "" || !quotaInfo.Exists() {
			return true
		}
		fraction := quotaInfo.Get("remainingFraction")
		remaining := -1
		if fraction.Exists() {
			remaining = int(fraction.Float()*100 + 0.5)
		}
		var resetMs int64
		if resetTime := quotaInfo.Get("resetTime"); resetTime.Exists() {
			if t, err := time.Parse(time.RFC3339, resetTime.String()); err == nil {
				resetMs = t.UnixMilli()
			}
		}
		r.cache.Set(modelID, acc.Key(), remaining, resetMs, now)
		if r.metrics != nil && remaining >= 0 {
			r.metrics.SetQuotaRemaining(modelID, acc.Key(), float64(remaining))
		}
		return true
	})
}
