package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(cfg Config) *fiber.App {
	app := fiber.New()
	app.Use(Middleware(cfg))
	ok := func(c *fiber.Ctx) error { return c.SendString("ok") }
	app.Post("/api/v1/query", ok)
	app.Post("/api/v1/documents", ok)
	app.Get("/api/v1/sessions", ok)
	return app
}

func TestMiddleware(t *testing.T) {
	const limit = 50
	limitQuery := `{"query":"` + strings.Repeat("a", limit) + `"}`
	longQuery := `{"query":"` + strings.Repeat("a", limit+1) + `"}`

	tests := []struct {
		name        string
		method      string
		path        string
		contentType string
		body        string
		want        int
	}{
		{"valid query", "POST", "/api/v1/query", "application/json", `{"query":"Why did my bill go up?","session_id":"s-1"}`, 200},
		{"valid query with charset", "POST", "/api/v1/query", "application/json; charset=utf-8", `{"query":"hello"}`, 200},
		{"missing query", "POST", "/api/v1/query", "application/json", `{"session_id":"s-1"}`, 400},
		{"blank query", "POST", "/api/v1/query", "application/json", `{"query":"   "}`, 400},
		{"non string query", "POST", "/api/v1/query", "application/json", `{"query":42}`, 400},
		{"malformed json", "POST", "/api/v1/query", "application/json", `{"query":`, 400},
		{"at limit", "POST", "/api/v1/query", "application/json", limitQuery, 200},
		{"too long", "POST", "/api/v1/query", "application/json", longQuery, 400},
		{"markup", "POST", "/api/v1/query", "application/json", `{"query":"<script>alert(1)</script>"}`, 400},
		{"billing words are allowed", "POST", "/api/v1/query", "application/json", `{"query":"select a plan and update my account"}`, 200},
		{"wrong content type", "POST", "/api/v1/query", "text/plain", `query`, 415},
		{"document ok", "POST", "/api/v1/documents", "application/json", `{"doc_id":"DOC_1","content":"x"}`, 200},
		{"document without id", "POST", "/api/v1/documents", "application/json", `{"content":"x"}`, 400},
		{"get passes through", "GET", "/api/v1/sessions", "", "", 200},
	}

	app := newApp(Config{MaxQueryLength: limit})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestDocumentTooLarge(t *testing.T) {
	app := newApp(Config{MaxDocumentSize: 10})
	req := httptest.NewRequest("POST", "/api/v1/documents", strings.NewReader(`{"doc_id":"DOC_1","content":"0123456789"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, resp.StatusCode)
}
