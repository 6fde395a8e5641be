package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func keyedRouter(keys []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(APIKey(keys))
	r.GET("/v1/models", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	return r
}

func TestAPIKeyNoopWhenNoKeysConfigured(t *testing.T) {
	w := httptest.NewRecorder()
	keyedRouter(nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyAcceptsEachHeader(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bearer", "Authorization", "Bearer secret"},
		{"x-api-key", "x-api-key", "secret"},
		{"anthropic", "anthropic-api-key", "secret"},
		{"goog", "x-goog-api-key", "secret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
			req.Header.Set(tc.key, tc.value)
			w := httptest.NewRecorder()
			keyedRouter([]string{"secret"}).ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestAPIKeyRejectsMissingOrWrongKey(t *testing.T) {
	r := keyedRouter([]string{"secret"})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid API Key")

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("x-api-key", "wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIKeyAuthorizationHeaderWinsOverOthers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	req.Header.Set("x-api-key", "secret")
	w := httptest.NewRecorder()
	keyedRouter([]string{"secret"}).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "first matching header wins, even when a later one is valid")
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS())
	r.GET("/v1/models", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/v1/models", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "anthropic-version")
}
