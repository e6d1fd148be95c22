package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CORS returns a CORS middleware. allowedOrigins is "*" or a comma separated
// list of origins.
func CORS(allowedOrigins string) fiber.Handler {
	allowAll := strings.TrimSpace(allowedOrigins) == "*" || strings.TrimSpace(allowedOrigins) == ""
	allowed := map[string]bool{}
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}

	return func(c *fiber.Ctx) error {
		origin := c.Get(fiber.HeaderOrigin)
		switch {
		case allowAll:
			c.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			c.Set("Access-Control-Allow-Origin", origin)
			c.Vary(fiber.HeaderOrigin)
		default:
			if c.Method() == fiber.MethodOptions {
				return c.SendStatus(fiber.StatusForbidden)
			}
			return c.Next()
		}

		c.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
		c.Set("Access-Control-Expose-Headers", "Content-Length, Content-Type, X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")
		c.Set("Access-Control-Max-Age", "86400")

		if c.Method() == fiber.MethodOptions {
			return c.SendStatus(fiber.StatusNoContent)
		}

		return c.Next()
	}
}
