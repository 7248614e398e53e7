package middleware

import (
	"github.com/gin-gonic/gin"

	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
	"github.com/jwalitptl/booking-engine/pkg/httputil"
	"github.com/jwalitptl/booking-engine/pkg/metrics"
	"github.com/jwalitptl/booking-engine/pkg/ratelimit"
)

// RateLimit applies a token bucket per authenticated actor, falling back to the client IP.
func RateLimit(limiter *ratelimit.KeyedLimiter, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if actor, ok := ActorFrom(c); ok {
			key = "actor:" + actor.ID.String()
		}

		if !limiter.Allow(key) {
			if m != nil {
				m.RateLimitDenied.Inc()
			}
			httputil.RespondWithError(c, apperrors.RateLimited())
			return
		}
		c.Next()
	}
}
