package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	verifygin "github.com/pilab-dev/discord-verifier/api/gin"
	"github.com/pilab-dev/discord-verifier/config"
	"github.com/pilab-dev/discord-verifier/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewRouter builds the gin engine with logging, recovery, tracing and the verifier routes.
func NewRouter(cfg config.Config, appLogger log.Logger, api *verifygin.VerifyAPI, gatherer prometheus.Gatherer) *gin.Engine {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// c.ClientIP() only follows X-Forwarded-For from these peers.
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		appLogger.Error(context.Background(), "Invalid TRUSTED_PROXIES, trusting no proxy", err)
		_ = router.SetTrustedProxies(nil)
	}

	router.Use(verifygin.RequestIDMiddleware())

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := log.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"ip":         c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
			"request_id": verifygin.RequestID(c),
		}
		if len(c.Errors) > 0 {
			appLogger.Error(c.Request.Context(), "HTTP request failed", c.Errors.Last().Err, fields)
			return
		}
		appLogger.Info(c.Request.Context(), "HTTP request", fields)
	})

	// A panic escaping the handlers still answers with the generic 500 body.
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		appLogger.Warn(c.Request.Context(), "recovered from panic", log.Fields{"panic": recovered})
		c.String(http.StatusInternalServerError, "Server error")
		c.Abort()
	}))

	router.Use(otelgin.Middleware(cfg.OtelServiceName))
	router.Use(verifygin.SecurityHeadersMiddleware())

	api.RegisterRoutes(router)

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return router
}

// NewHTTPServer wraps the router in an http.Server listening on cfg.HTTPPort.
func NewHTTPServer(cfg config.Config, appLogger log.Logger, api *verifygin.VerifyAPI, gatherer prometheus.Gatherer) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           NewRouter(cfg, appLogger, api, gatherer),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		// the callback waits on several upstream calls
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// NewHTTPClient is the outbound client shared by every upstream call, traced with otelhttp.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
