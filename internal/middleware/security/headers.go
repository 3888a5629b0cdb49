package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	AllowedOrigins []string
	IsDevelopment  bool
}

// HeadersMiddleware sets browser hardening headers. API responses carry
// answers derived from private documents, so they are never cached.
func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	csp := contentSecurityPolicy(cfg.AllowedOrigins)

	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("Content-Security-Policy", csp)

		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		if strings.HasPrefix(c.Path(), "/api/") {
			c.Set("Cache-Control", "no-store")
		}

		return c.Next()
	}
}

func contentSecurityPolicy(origins []string) string {
	connect := []string{"'self'"}
	for _, o := range origins {
		if o == "" || o == "*" {
			continue
		}
		connect = append(connect, o)
		if ws, ok := websocketOrigin(o); ok {
			connect = append(connect, ws)
		}
	}

	directives := []string{
		"default-src 'self'",
		"script-src 'self'",
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data:",
		"connect-src " + strings.Join(connect, " "),
		"frame-ancestors 'none'",
		"base-uri 'self'",
		"form-action 'self'",
	}
	return strings.Join(directives, "; ")
}

func websocketOrigin(origin string) (string, bool) {
	switch {
	case strings.HasPrefix(origin, "https://"):
		return "wss://" + strings.TrimPrefix(origin, "https://"), true
	case strings.HasPrefix(origin, "http://"):
		return "ws://" + strings.TrimPrefix(origin, "http://"), true
	}
	return "", false
}
