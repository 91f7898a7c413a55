// Package httpapi exposes the preference engine over HTTP for a UI layer.
package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter builds the gin engine. A nil reg leaves /metrics unmounted.
func NewRouter(logger *zap.Logger, h *PreferenceHandler, reg *prometheus.Registry) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(zapLoggerMiddleware(logger), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	r.GET("/presets", h.ListPresets)
	if reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	users := r.Group("/users/:user_id")
	users.POST("/feedback", h.SubmitFeedback)
	users.GET("/profile", h.GetProfile)
	users.POST("/reset", h.ResetProfile)
	users.GET("/stats", h.GetStats)
	users.POST("/score", h.Score)
	users.POST("/rank", h.Rank)
	users.POST("/retrain", h.Retrain)
	users.POST("/generate", h.Generate)

	return r
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
