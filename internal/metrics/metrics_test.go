package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordRequestAndScrape(t *testing.T) {
	m := New("quotarelay")
	m.RecordRequest("anthropic", "POST", "200", 0.05)
	m.SetQuotaRemaining("claude-sonnet-4-5", "acct-1", 42)
	m.RecordCooldown("claude-sonnet-4-5", "acct-1")
	m.RecordRotation("claude", "cooldown")
	m.RecordRateGateWait(0.01)
	m.SetRateGateQueueDepth(3)
	m.RecordUpstreamError("5xx")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, "quotarelay_requests_total")
	assert.Contains(t, body, "quotarelay_quota_remaining_percent")
	assert.True(t, strings.Contains(body, `account="acct-1"`))
}
