package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const ownerKey = "owner_id"

// Auth resolves the owner from an optional HS256 bearer token. Requests
// without an Authorization header continue as guests; a present but invalid
// token is rejected with 401.
func Auth(secret []byte, logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return c.Next()
		}

		scheme, tokenString, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tokenString) == "" {
			return unauthorized(c, "malformed authorization header")
		}

		claims := &jwt.RegisteredClaims{}
		token, err := parser.ParseWithClaims(strings.TrimSpace(tokenString), claims, func(token *jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil || !token.Valid {
			logger.Debug("rejected bearer token", zap.Error(err), zap.String("request_id", RequestIDFrom(c)))
			return unauthorized(c, "invalid or expired token")
		}
		if claims.Subject == "" {
			return unauthorized(c, "token has no subject")
		}

		c.Locals(ownerKey, claims.Subject)
		return c.Next()
	}
}

// OwnerFrom returns the authenticated owner id, or "" for guests.
func OwnerFrom(c *fiber.Ctx) string {
	owner, _ := c.Locals(ownerKey).(string)
	return owner
}

func unauthorized(c *fiber.Ctx, msg string) error {
	c.Set(fiber.HeaderWWWAuthenticate, `Bearer realm="shortlinkd"`)
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":     msg,
		"requestId": RequestIDFrom(c),
	})
}
