package verifygin

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jellydator/ttlcache/v3"
	verrors "github.com/pilab-dev/discord-verifier/errors"
	"github.com/pilab-dev/discord-verifier/internal/metrics"
	"golang.org/x/time/rate"
)

// limiterIdle is how long a client's limiter survives without requests.
const limiterIdle = 5 * time.Minute

// RateLimiter throttles requests per client IP. A nil *RateLimiter allows everything.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	clients *ttlcache.Cache[string, *rate.Limiter]
}

// NewRateLimiter allows requestsPerMinute per client IP with a burst of a tenth of
// that. A non-positive budget returns nil.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}

	clients := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](limiterIdle),
	)
	go clients.Start()

	return &RateLimiter{
		limit:   rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:   burst,
		clients: clients,
	}
}

// Allow reports whether one more request from key fits the budget.
func (r *RateLimiter) Allow(key string) bool {
	if r == nil {
		return true
	}
	item, _ := r.clients.GetOrSet(key, rate.NewLimiter(r.limit, r.burst))
	return item.Value().Allow()
}

// Handler answers 429 once a client IP exceeds its budget. Clients are keyed on
// gin's ClientIP, which ignores X-Forwarded-For unless the peer is a trusted proxy.
func (r *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.Allow(c.ClientIP()) {
			ve := verrors.NewRateLimited()
			metrics.VerificationsTotal.WithLabelValues(ve.Code).Inc()
			c.String(ve.Status, ve.Message)
			c.Abort()
			return
		}
		c.Next()
	}
}

// Close stops the eviction loop.
func (r *RateLimiter) Close() {
	if r != nil {
		r.clients.Stop()
	}
}
