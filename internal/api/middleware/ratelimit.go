package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// RateLimit returns a per-client-IP rate limit middleware backed by an
// in-memory store. requests is the number of requests allowed per period.
// Used on the heartbeat endpoint, where every agent in the fleet reports on
// an interval and a misconfigured agent can flood the server.
func RateLimit(requests int64, period time.Duration) gin.HandlerFunc {
	instance := limiter.New(memory.NewStore(), limiter.Rate{
		Period: period,
		Limit:  requests,
	})
	return mgin.NewMiddleware(instance)
}
