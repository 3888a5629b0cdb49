package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Markup in a question is never legitimate and would be echoed back into
// the UI through history.
var markupPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxQueryLength      int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// questionFields maps a route to the body field holding the question.
var questionFields = map[string]string{
	"/api/v1/query": "query",
	"/api/v1/chat":  "message",
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 2000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			if ct := c.Get(fiber.HeaderContentType); ct != "" && !allowedType(ct, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		field, ok := questionFields[strings.TrimRight(c.Path(), "/")]
		if !ok || c.Method() != fiber.MethodPost {
			return c.Next()
		}

		var req map[string]interface{}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		question, ok := req[field].(string)
		question = sanitizeString(question)
		if !ok || question == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": field + " is required and must be a string",
			})
		}
		if utf8.RuneCountInString(question) > cfg.MaxQueryLength {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": field + " exceeds maximum length",
			})
		}
		if markupPattern.MatchString(question) {
			cfg.Logger.Warn("Rejected question containing markup",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid " + field + " content",
			})
		}

		c.Locals("question", question)
		return c.Next()
	}
}

func allowedType(contentType string, allowed []string) bool {
	for _, a := range allowed {
		if strings.Contains(contentType, a) {
			return true
		}
	}
	return false
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
