package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quotarelay/quotarelay/internal/accounts"
	"github.com/quotarelay/quotarelay/internal/metrics"
	"github.com/quotarelay/quotarelay/internal/quota"
	"github.com/quotarelay/quotarelay/internal/ratelimit"
	"github.com/quotarelay/quotarelay/internal/upstream"
)

// FixedRetryDelay is the default delay before a retry/rotate, when the
// upstream gives no usable hint.
const FixedRetryDelay = 1200 * time.Millisecond

// CooldownWaitThreshold bounds how long the orchestrator will sleep
// waiting on a near-expiring cooldown before giving up.
const CooldownWaitThreshold = 5 * time.Second

// Request describes one logical upstream call.
type Request struct {
	Group     string
	Model     string // empty means "no quota-aware routing, plain round robin"
	Method    string
	Query     map[string]string
	Headers   map[string]string
	BuildBody func(projectID string) ([]byte, error)
}

// Orchestrator composes the account manager, the quota selector, the rate
// gate, and the upstream client into the retry/rotate policy.
type Orchestrator struct {
	manager    *accounts.Manager
	selector   *quota.Selector
	refresher  *quota.Refresher
	cache      *quota.Cache
	client     *upstream.Client
	gate       *ratelimit.Gate
	log        *logrus.Logger
	metrics    *metrics.Metrics
	retryDelay time.Duration
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

// WithRetryDelay overrides the fixed retry/rotate delay (AG2API_RETRY_DELAY_MS).
func WithRetryDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.retryDelay = d
		}
	}
}

// WithMetrics attaches the rotation and cooldown counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New builds an Orchestrator.
func New(manager *accounts.Manager, selector *quota.Selector, refresher *quota.Refresher, cache *quota.Cache, client *upstream.Client, gate *ratelimit.Gate, log *logrus.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	o := &Orchestrator{manager: manager, selector: selector, refresher: refresher, cache: cache, client: client, gate: gate, log: log, retryDelay: FixedRetryDelay}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CallV1Internal dispatches req through account selection, the rate gate,
// and the upstream client, retrying and rotating accounts on 429s and
// transport failures.
func (o *Orchestrator) CallV1Internal(ctx context.Context, req Request) (*upstream.Response, error) {
	pool := o.manager.Snapshot()
	poolSize := len(pool)
	if poolSize == 0 {
		return nil, accounts.ErrEmptyPool
	}

	// A single-account pool still gets a second attempt: transport errors
	// and short-hint 429s retry on the same account after a delay, so the
	// retry budget is distinct from the number of accounts to rotate over.
	attempts := poolSize
	if poolSize == 1 {
		attempts = 2
	}

	excluded := map[int]bool{}
	var lastResp *upstream.Response
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		acc, giveUp, resp := o.selectAccount(ctx, req, excluded)
		if giveUp {
			return resp, nil
		}
		if acc == nil {
			break
		}

		creds, err := o.manager.CredentialsForAccount(ctx, acc)
		if err != nil {
			lastErr = err
			continue
		}

		body, err := req.BuildBody(creds.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("build request body: %w", err)
		}

		if err := o.waitGate(ctx); err != nil {
			return nil, err
		}

		lastAttempt := attempt+1 == attempts

		resp, err = o.client.CallV1Internal(ctx, req.Method, creds.AccessToken, body, o.callOptions(req))
		if err != nil {
			lastErr = err
			o.log.WithError(err).WithField("account", acc.FileName()).Warn("orchestrator: transport error")
			if lastAttempt {
				continue
			}
			time.Sleep(o.retryDelay)
			if poolSize > 1 {
				excluded[o.indexOf(pool, acc)] = true
				o.rotate(req.Group, "transport")
			}
			continue
		}

		if resp.StatusCode >= 400 && o.metrics != nil {
			o.metrics.RecordUpstreamError(fmt.Sprintf("%dxx", resp.StatusCode/100))
		}

		if resp.StatusCode != 429 {
			return resp, nil
		}

		lastResp = resp
		o.handle429(req.Model, acc.Key(), resp)

		delay := ParseRetryDelay(resp.Body)
		if poolSize == 1 {
			// Retry the same account once when the hint is short; a second
			// 429 (or a long/absent hint) is returned as-is.
			if delay != nil && *delay <= CooldownWaitThreshold && !lastAttempt {
				time.Sleep(*delay + 200*time.Millisecond)
				continue
			}
			return resp, nil
		}
		if delay == nil || *delay <= CooldownWaitThreshold {
			time.Sleep(o.retryDelay)
		}
		excluded[o.indexOf(pool, acc)] = true
		o.rotate(req.Group, "quota")
	}

	if lastResp != nil {
		return lastResp, nil
	}
	if cached, ok := o.cache.LastErrorFor(req.Model); ok {
		return &upstream.Response{StatusCode: cached.StatusCode, Body: cached.Body}, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("orchestrator: exhausted all accounts for model %q", req.Model)
}

// selectAccount resolves the next account to try, either via the
// quota-aware Pick (when Model is known) or plain per-group round robin.
// giveUp==true means resp already carries the final answer (fast-fail).
func (o *Orchestrator) selectAccount(ctx context.Context, req Request, excluded map[int]bool) (acc *accounts.Account, giveUp bool, resp *upstream.Response) {
	if req.Model == "" {
		idx := o.roundRobinIndex(req.Group, excluded)
		if idx < 0 {
			return nil, false, nil
		}
		return o.manager.AccountAt(idx), false, nil
	}

	if o.refresher != nil {
		o.refresher.WaitInitial(ctx, 3*time.Second)
	}

	outcome := o.selector.Pick(req.Model, quota.PickOptions{Excluded: excluded, CooldownWaitThresholdMs: CooldownWaitThreshold})
	if idx, ok := outcome.AsPick(); ok {
		return o.manager.AccountAt(idx), false, nil
	}
	if wait, ok := outcome.AsWait(); ok {
		time.Sleep(wait)
		second := o.selector.Pick(req.Model, quota.PickOptions{Excluded: excluded, CooldownWaitThresholdMs: CooldownWaitThreshold})
		if idx, ok := second.AsPick(); ok {
			return o.manager.AccountAt(idx), false, nil
		}
		// A second wait (or fast-fail) gives up and returns the cached 429.
		if ff, ok := second.AsFastFail(); ok {
			return nil, true, toResponse(ff)
		}
		return nil, true, toResponse(o.selector.CachedOrSynthesized(req.Model))
	}
	if ff, ok := outcome.AsFastFail(); ok {
		return nil, true, toResponse(ff)
	}
	return nil, false, nil
}

func toResponse(ff quota.FastFailResponse) *upstream.Response {
	header := make(http.Header, len(ff.Header))
	for k, v := range ff.Header {
		header[k] = v
	}
	return &upstream.Response{StatusCode: ff.StatusCode, Header: header, Body: ff.Body}
}

// roundRobinIndex scans forward from the group's rotation cursor for the
// first account not yet tried this call, wrapping modulo pool size.
func (o *Orchestrator) roundRobinIndex(group string, excluded map[int]bool) int {
	accs := o.manager.Snapshot()
	n := len(accs)
	if n == 0 {
		return -1
	}
	start := o.manager.CursorFor(group)
	for off := 0; off < n; off++ {
		i := (start + off) % n
		if !excluded[i] {
			return i
		}
	}
	return -1
}

// waitGate applies the shared rate gate ahead of an upstream call, timing
// how long this caller queued.
func (o *Orchestrator) waitGate(ctx context.Context) error {
	if o.gate == nil {
		return nil
	}
	start := time.Now()
	if err := o.gate.Wait(ctx); err != nil {
		return err
	}
	if o.metrics != nil {
		o.metrics.RecordRateGateWait(time.Since(start).Seconds())
		o.metrics.SetRateGateQueueDepth(o.gate.Len())
	}
	return nil
}

func (o *Orchestrator) rotate(group, reason string) {
	o.manager.Rotate(group)
	if o.metrics != nil {
		o.metrics.RecordRotation(group, reason)
	}
}

func (o *Orchestrator) indexOf(pool []*accounts.Account, acc *accounts.Account) int {
	for i, a := range pool {
		if a == acc {
			return i
		}
	}
	return -1
}

func (o *Orchestrator) handle429(model, accountKey string, resp *upstream.Response) {
	header := make(map[string][]string, len(resp.Header))
	for k, v := range resp.Header {
		header[k] = v
	}
	o.cache.SetLastError(model, quota.LastError{StatusCode: resp.StatusCode, Header: header, Body: resp.Body})

	delay := ParseRetryDelay(resp.Body)
	d := FixedRetryDelay
	if delay != nil {
		d = *delay
	}
	o.cache.Cooldown(model, accountKey, time.Now(), d)
	if o.metrics != nil {
		o.metrics.RecordCooldown(model, accountKey)
	}
}

func (o *Orchestrator) callOptions(req Request) upstream.CallOptions {
	query := make(url.Values, len(req.Query))
	for k, v := range req.Query {
		query.Set(k, v)
	}
	headers := make(http.Header, len(req.Headers))
	for k, v := range req.Headers {
		headers.Set(k, v)
	}
	// The gate is applied by waitGate before the call, so it can be timed;
	// it is not handed to the client as well.
	return upstream.CallOptions{
		Query:   query,
		Headers: headers,
	}
}
