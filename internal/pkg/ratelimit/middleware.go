package ratelimit

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// KeyFunc derives the limiter key from the request. Keys should combine a
// route class with a client identity so separate endpoints get separate
// windows.
type KeyFunc func(c *fiber.Ctx) string

// IPKey keys requests by route class and client address.
func IPKey(routeClass string) KeyFunc {
	return func(c *fiber.Ctx) string {
		return routeClass + ":" + c.IP()
	}
}

// Middleware admits or rejects requests through the limiter and surfaces
// the decision as rate-limit response headers.
func Middleware(limiter *Limiter, cfg Config, keyFn KeyFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res := limiter.Check(c.Context(), keyFn(c), cfg)

		c.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			c.Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests, slow down",
			})
		}
		return c.Next()
	}
}
