package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotarelay/quotarelay/internal/accounts"
	"github.com/quotarelay/quotarelay/internal/credstore"
	"github.com/quotarelay/quotarelay/internal/quota"
	"github.com/quotarelay/quotarelay/internal/upstream"
)

// redirectTransport rewrites every outbound request onto the test server,
// so the orchestrator's real host list never leaves the process.
type redirectTransport struct {
	target *url.URL
	inner  http.RoundTripper
}

func (t *redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	return t.inner.RoundTrip(req)
}

type fixture struct {
	orch      *Orchestrator
	cache     *quota.Cache
	manager   *accounts.Manager
	transport http.RoundTripper
	calls     *int32
}

// newFixture builds an orchestrator over numAccounts ready-to-serve
// accounts, with every upstream call answered by handler.
func newFixture(t *testing.T, numAccounts int, handler http.HandlerFunc) *fixture {
	t.Helper()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	target, err := url.Parse(srv.URL)
	require.NoError(t, err)
	transport := &redirectTransport{target: target, inner: http.DefaultTransport}
	hc := &http.Client{Transport: transport}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	store, err := credstore.New(t.TempDir(), log)
	require.NoError(t, err)

	client := upstream.New(upstream.WithHTTPClient(hc))
	manager := accounts.New(store, client, nil, log)
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
		_, err := manager.Add("", rec)
		require.NoError(t, err)
	}

	cache := quota.NewCache()
	selector := quota.NewSelector(cache, manager)
	orch := New(manager, selector, nil, cache, client, nil, log, WithRetryDelay(time.Millisecond))
	return &fixture{orch: orch, cache: cache, manager: manager, transport: transport, calls: &calls}
}

func testRequest(model string) Request {
	return Request{
		Group:  accounts.GroupForModel(model),
		Model:  model,
		Method: "generateContent",
		BuildBody: func(projectID string) ([]byte, error) {
			return []byte(`{"project":"` + projectID + `"}`), nil
		},
	}
}

func TestCallV1InternalHappyPathSingleAccount(t *testing.T) {
	fx := newFixture(t, 1, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":{"candidates":[{"content":{"parts":[{"text":"hello"}]}}]}}`))
	})

	resp, err := fx.orch.CallV1Internal(context.Background(), testRequest("claude-sonnet-4-5"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "hello")
	assert.Equal(t, int32(1), atomic.LoadInt32(fx.calls))
}

func TestCallV1InternalRotatesOn429WithShortHint(t *testing.T) {
	body429 := `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"2s"}]}}`
	var seen int32
	fx := newFixture(t, 2, func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&seen, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(body429))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	start := time.Now()
	resp, err := fx.orch.CallV1Internal(context.Background(), testRequest("claude-sonnet-4-5"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(fx.calls), "expected exactly two attempts")

	// The first account must have picked up a ~2s cooldown for the model.
	accs := fx.manager.Snapshot()
	inCooldown := 0
	for _, a := range accs {
		if snap, ok := fx.cache.Get("claude-sonnet-4-5", a.Key()); ok && snap.InCooldown(time.Now()) {
			inCooldown++
		}
	}
	assert.Equal(t, 1, inCooldown)
	assert.Less(t, time.Since(start), time.Second, "short-hint rotation must use the fixed delay, not the hint")
}

// flakyTransport fails the first n round trips with a transport error
// before delegating. The upstream client tries both of its hosts on a
// transport failure, so n must cover every host for one orchestrator
// attempt to surface the error.
type flakyTransport struct {
	inner     http.RoundTripper
	remaining int32
}

func (t *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if atomic.AddInt32(&t.remaining, -1) >= 0 {
		return nil, errors.New("connection reset by peer")
	}
	return t.inner.RoundTrip(req)
}

func TestCallV1InternalRetriesSameAccountOnTransportError(t *testing.T) {
	fx := newFixture(t, 1, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	// Two failures exhaust both hosts of the first attempt; the second
	// attempt on the same account then reaches the server.
	hc := &http.Client{Transport: &flakyTransport{inner: fx.transport, remaining: 2}}
	fx.orch.client = upstream.New(upstream.WithHTTPClient(hc))

	resp, err := fx.orch.CallV1Internal(context.Background(), testRequest("claude-sonnet-4-5"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(fx.calls), "the retry on the same account must reach the upstream once")
}

func TestCallV1InternalRetriesSameAccountOn429WithShortHint(t *testing.T) {
	body429 := `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"300ms"}]}}`
	var seen int32
	fx := newFixture(t, 1, func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&seen, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(body429))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	start := time.Now()
	resp, err := fx.orch.CallV1Internal(context.Background(), testRequest("claude-sonnet-4-5"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(fx.calls), "a short hint on a single-account pool must retry the same account")
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond, "the retry must wait out the hint plus margin")
}

func TestCallV1InternalReturnsSecond429AsIsOnSinglePool(t *testing.T) {
	body429 := `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"100ms"}]}}`
	fx := newFixture(t, 1, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(body429))
	})

	resp, err := fx.orch.CallV1Internal(context.Background(), testRequest("claude-sonnet-4-5"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(fx.calls), "exactly one same-account retry, then the second 429 comes back as-is")
}

func TestCallV1InternalReturns429AsIsWithLongHintOnSinglePool(t *testing.T) {
	body429 := `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"30s"}]}}`
	fx := newFixture(t, 1, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(body429))
	})

	start := time.Now()
	resp, err := fx.orch.CallV1Internal(context.Background(), testRequest("claude-sonnet-4-5"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(fx.calls))
	assert.Less(t, time.Since(start), time.Second, "a long hint must return immediately with no sleep")

	acc := fx.manager.Snapshot()[0]
	snap, ok := fx.cache.Get("claude-sonnet-4-5", acc.Key())
	require.True(t, ok)
	until := time.UnixMilli(snap.CooldownUntilMs)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), until, 2*time.Second)
}

func TestCallV1InternalPassesThroughNon429WithoutRotation(t *testing.T) {
	fx := newFixture(t, 3, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad schema"}}`))
	})

	resp, err := fx.orch.CallV1Internal(context.Background(), testRequest("claude-sonnet-4-5"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "bad schema")
	assert.Equal(t, int32(1), atomic.LoadInt32(fx.calls), "non-429 errors must not trigger another attempt")
}

func TestCallV1InternalFastFailsWithoutUpstreamCallWhenAllExhausted(t *testing.T) {
	fx := newFixture(t, 2, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	for _, a := range fx.manager.Snapshot() {
		fx.cache.Set("gemini-2.5-flash", a.Key(), 0, 0, time.Now().UnixMilli())
	}

	resp, err := fx.orch.CallV1Internal(context.Background(), testRequest("gemini-2.5-flash"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "RESOURCE_EXHAUSTED")
	assert.Equal(t, int32(0), atomic.LoadInt32(fx.calls), "fast-fail must not issue any upstream call")
}

func TestCallV1InternalPrefersCachedLastErrorOnFastFail(t *testing.T) {
	fx := newFixture(t, 1, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	cachedBody := []byte(`{"error":{"message":"upstream said so","status":"RESOURCE_EXHAUSTED","code":429}}`)
	fx.cache.SetLastError("gemini-2.5-flash", quota.LastError{StatusCode: 429, Body: cachedBody})
	fx.cache.Set("gemini-2.5-flash", fx.manager.Snapshot()[0].Key(), 0, 0, time.Now().UnixMilli())

	resp, err := fx.orch.CallV1Internal(context.Background(), testRequest("gemini-2.5-flash"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, cachedBody, resp.Body)
}

func TestCallV1InternalEmptyPool(t *testing.T) {
	fx := newFixture(t, 0, func(w http.ResponseWriter, _ *http.Request) {})
	_, err := fx.orch.CallV1Internal(context.Background(), testRequest("claude-sonnet-4-5"))
	assert.ErrorIs(t, err, accounts.ErrEmptyPool)
}
