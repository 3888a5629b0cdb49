package validation

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{MaxQueryLength: 50}))
	echo := func(c *fiber.Ctx) error {
		q, _ := c.Locals("question").(string)
		return c.SendString(q)
	}
	app.Post("/api/v1/query", echo)
	app.Post("/api/v1/chat", echo)
	app.Post("/api/v1/documents/ingest", echo)
	return app
}

func post(t *testing.T, app *fiber.App, path, contentType, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(strings.Builder)
	_, _ = io.Copy(buf, resp.Body)
	return resp.StatusCode, buf.String()
}

func TestMiddleware(t *testing.T) {
	app := newApp()

	tests := []struct {
		name   string
		path   string
		ctype  string
		body   string
		status int
		echo   string
	}{
		{"query ok", "/api/v1/query", "application/json", `{"query":"  Which order covers reserve pay?  "}`, 200, "Which order covers reserve pay?"},
		{"sql words allowed", "/api/v1/query", "application/json", `{"query":"select committee and delete clause"}`, 200, "select committee and delete clause"},
		{"chat uses message", "/api/v1/chat", "application/json", `{"message":"what is a service person"}`, 200, "what is a service person"},
		{"missing field", "/api/v1/chat", "application/json", `{"query":"wrong field"}`, 400, ""},
		{"blank", "/api/v1/query", "application/json", `{"query":"   "}`, 400, ""},
		{"too long", "/api/v1/query", "application/json", `{"query":"` + strings.Repeat("a", 51) + `"}`, 400, ""},
		{"markup", "/api/v1/query", "application/json", `{"query":"<script>alert(1)</script>"}`, 400, ""},
		{"bad json", "/api/v1/query", "application/json", `{`, 400, ""},
		{"content type", "/api/v1/query", "text/plain", `hello`, 415, ""},
		{"other route untouched", "/api/v1/documents/ingest", "application/json", `{}`, 200, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, body := post(t, app, tc.path, tc.ctype, tc.body)
			assert.Equal(t, tc.status, status)
			if tc.status == 200 {
				assert.Equal(t, tc.echo, body)
			}
		})
	}
}
