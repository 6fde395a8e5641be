// Package api wires the gin router: CORS and API-key admission, the two
// public wire surfaces, and the operational endpoints.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/quotarelay/quotarelay/internal/api/middleware"
	"github.com/quotarelay/quotarelay/internal/logging"
	apimetrics "github.com/quotarelay/quotarelay/internal/metrics"
	"github.com/quotarelay/quotarelay/internal/orchestrator"
	"github.com/quotarelay/quotarelay/internal/quota"
	"github.com/quotarelay/quotarelay/internal/translator/anthropic"
)

// Handlers holds every dependency the route handlers need.
type Handlers struct {
	Orchestrator *orchestrator.Orchestrator
	QuotaCache   *quota.Cache
	Logger       *logrus.Logger
}

// Deps configures NewRouter.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	QuotaCache   *quota.Cache
	Metrics      *apimetrics.Metrics
	Logger       *logrus.Logger
	APIKeys      []string
}

// NewRouter builds the full gin.Engine: middleware chain, then both wire
// surfaces, then the operational endpoints.
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(logging.GinRecovery(deps.Logger))
	engine.Use(logging.GinLogger(deps.Logger))
	if deps.Metrics != nil {
		engine.Use(middleware.Metrics(deps.Metrics))
	}
	engine.Use(middleware.CORS())

	h := &Handlers{Orchestrator: deps.Orchestrator, QuotaCache: deps.QuotaCache, Logger: deps.Logger}
	authed := middleware.APIKey(deps.APIKeys)

	v1 := engine.Group("/v1")
	v1.Use(authed)
	{
		v1.GET("/models", h.handleAnthropicModelsList)
		v1.POST("/messages", h.handleMessages)
		v1.POST("/messages/count_tokens", h.handleCountTokens)
	}

	v1beta := engine.Group("/v1beta")
	v1beta.Use(authed)
	{
		v1beta.GET("/models", h.handleModelsList)
		v1beta.GET("/models/*action", h.handleModelsWildcard)
		v1beta.POST("/models/*action", h.handleModelAction)
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	return engine
}

func (h *Handlers) handleAnthropicModelsList(c *gin.Context) {
	ids := anthropic.SupportedModels()
	data := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		data = append(data, gin.H{"id": id, "type": "model", "display_name": id})
	}
	c.JSON(http.StatusOK, gin.H{"data": data, "has_more": false})
}
