package middlewares

import (
	"strings"

	"github.com/moviepilot/mpagent/internal/auth"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

const (
	APIKeyHeader = "X-API-KEY"
	APIKeyQuery  = "apikey"

	principalKey = "principal"
)

type TokenVerifier interface {
	Verify(token string) (auth.Principal, error)
}

// TokenMiddleware authenticates with a bearer token, the X-API-KEY header or
// the apikey query parameter, in that order
func TokenMiddleware(verifier TokenVerifier) fiber.Handler {
	return func(c fiber.Ctx) error {
		token := requestToken(c)

		principal, err := verifier.Verify(token)
		if err != nil {
			log.Warn().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("Request authentication failed")

			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or missing credentials",
			})
		}

		log.Debug().
			Str("path", c.Path()).
			Str("subject", principal.Subject).
			Str("method", principal.Method).
			Msg("Request authenticated")

		c.Locals(principalKey, principal)

		return c.Next()
	}
}

func requestToken(c fiber.Ctx) string {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}

	if key := c.Get(APIKeyHeader); key != "" {
		return key
	}

	return c.Query(APIKeyQuery)
}

// GetPrincipal returns the caller stored by TokenMiddleware
func GetPrincipal(c fiber.Ctx) (auth.Principal, bool) {
	principal, ok := c.Locals(principalKey).(auth.Principal)
	return principal, ok
}
