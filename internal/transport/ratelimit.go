package transport

import (
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/comms-gateway/internal/ratelimit"
)

// RateLimit throttles callers with a sliding window keyed by tenant, falling
// back to the client IP for unauthenticated routes.
func RateLimit(window *ratelimit.SlidingWindow) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if window == nil {
			return c.Next()
		}

		key := "ip:" + c.IP()
		if tenantID := TenantID(c); tenantID != "" {
			key = "tenant:" + tenantID
		}

		decision := window.Take(key)
		c.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded")
		}

		return c.Next()
	}
}
