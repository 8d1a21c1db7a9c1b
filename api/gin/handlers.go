package verifygin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pilab-dev/discord-verifier/config"
	verrors "github.com/pilab-dev/discord-verifier/errors"
	"github.com/pilab-dev/discord-verifier/internal/metrics"
	"github.com/pilab-dev/discord-verifier/log"
	"github.com/pilab-dev/discord-verifier/verify"
)

// VerifyAPI exposes the verification flow over HTTP.
type VerifyAPI struct {
	service *verify.Service
	logger  log.Logger
	limiter *RateLimiter
}

// NewVerifyAPI initializes the API.
func NewVerifyAPI(service *verify.Service, logger log.Logger) *VerifyAPI {
	if logger == nil {
		logger = log.Nop()
	}
	return &VerifyAPI{service: service, logger: logger}
}

// WithRateLimiter throttles the callback and login routes registered afterwards.
func (va *VerifyAPI) WithRateLimiter(rl *RateLimiter) *VerifyAPI {
	va.limiter = rl
	return va
}

// RegisterRoutes registers the verification routes.
func (va *VerifyAPI) RegisterRoutes(e *gin.Engine) {
	throttle := va.limiter.Handler()

	e.GET(config.CallbackPath, throttle, va.CallbackHandler)
	e.GET("/callback", throttle, va.CallbackHandler)
	e.GET("/login", throttle, va.LoginHandler)
	e.GET("/healthz", va.HealthHandler)
}

// CallbackHandler is the OAuth2 redirect target. It answers with a redirect to the
// guild on success, or a plain-text error with the status of the failure class.
func (va *VerifyAPI) CallbackHandler(c *gin.Context) {
	if providerErr := c.Query("error"); providerErr != "" && c.Query("code") == "" {
		metrics.VerificationsTotal.WithLabelValues(verrors.ProviderDenied).Inc()
		va.respondError(c, verrors.NewProviderDenied(providerErr, c.Query("error_description")))
		return
	}

	res, err := va.service.Verify(c.Request.Context(), verify.RequestFromHTTP(c.Request))
	if err != nil {
		va.respondError(c, verrors.FromError(err))
		return
	}

	c.Redirect(http.StatusFound, res.RedirectURL)
}

// LoginHandler sends the user to the Discord consent page.
func (va *VerifyAPI) LoginHandler(c *gin.Context) {
	if err := va.service.ConfigError(); err != nil {
		va.respondError(c, verrors.NewMisconfigured(err))
		return
	}
	c.Redirect(http.StatusFound, va.service.LoginURL(uuid.NewString()))
}

// HealthHandler reports whether the service can verify users.
func (va *VerifyAPI) HealthHandler(c *gin.Context) {
	if err := va.service.ConfigError(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "misconfigured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (va *VerifyAPI) respondError(c *gin.Context, ve *verrors.VerifyError) {
	if ve.Status >= http.StatusInternalServerError {
		_ = c.Error(ve)
	}
	c.String(ve.Status, ve.Message)
}
