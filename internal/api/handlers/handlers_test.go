package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billing-agent/backend/internal/ingestion"
	"github.com/billing-agent/backend/internal/storage/models"
	"github.com/billing-agent/backend/internal/storage/sqlite"
	"github.com/billing-agent/backend/internal/workflow"
)

type stubRunner struct {
	result *workflow.Result
	err    error
}

func (s *stubRunner) RunQuery(_ context.Context, query, sessionID string) (*workflow.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	r := *s.result
	r.SessionID = sessionID
	return &r, nil
}

type stubHistory struct {
	records []models.QueryRecord
	limit   int
}

func (s *stubHistory) GetQueryHistory(_ context.Context, _ string, limit int) ([]models.QueryRecord, error) {
	s.limit = limit
	return s.records, nil
}

type stubIngester struct {
	namespace string
	docs      []ingestion.Document
	err       error
}

func (s *stubIngester) Ingest(_ context.Context, namespace string, docs []ingestion.Document, _ bool) (*ingestion.Report, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.namespace, s.docs = namespace, docs
	return &ingestion.Report{Namespace: namespace, Documents: len(docs), Chunks: 3}, nil
}

type stubChecker struct{ err error }

func (s stubChecker) Ping(context.Context) error { return s.err }

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestHandleQuery(t *testing.T) {
	approved := true
	tests := []struct {
		name       string
		runner     *stubRunner
		body       string
		wantStatus int
		check      func(t *testing.T, body map[string]any)
	}{
		{
			name: "answer",
			runner: &stubRunner{result: &workflow.Result{
				ID:            "q-1",
				FinalResponse: "Your total is $137.14",
				Trace:         []string{"Router: classified as billing_account_specific"},
				Approved:      &approved,
			}},
			body:       `{"query":"What's my January bill?","session_id":"s-1"}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "q-1", body["id"])
				assert.Equal(t, "s-1", body["session_id"])
				assert.Equal(t, true, body["approved"])
			},
		},
		{
			name:       "empty query",
			runner:     &stubRunner{err: workflow.ErrEmptyQuery},
			body:       `{"query":""}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "external failure",
			runner:     &stubRunner{err: &workflow.QueryError{Stage: "billing", Err: errors.New("timeout")}},
			body:       `{"query":"hi"}`,
			wantStatus: http.StatusBadGateway,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "billing", body["stage"])
			},
		},
		{
			name:       "internal failure",
			runner:     &stubRunner{err: errors.New("disk full")},
			body:       `{"query":"hi"}`,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "bad body",
			runner:     &stubRunner{},
			body:       `{"query":`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Post("/query", NewQueryHandler(tt.runner, &stubHistory{}).HandleQuery)

			status, body := doJSON(t, app, "POST", "/query", tt.body)
			assert.Equal(t, tt.wantStatus, status)
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestGetQueryHistory(t *testing.T) {
	history := &stubHistory{records: []models.QueryRecord{{ID: "q-1", QueryText: "hi", Sources: []models.QuerySource{{DocID: "DOC_1"}}}}}
	app := fiber.New()
	app.Get("/history", NewQueryHandler(&stubRunner{}, history).GetQueryHistory)

	status, _ := doJSON(t, app, "GET", "/history", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := doJSON(t, app, "GET", "/history?session_id=s-1&limit=5", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 5, history.limit)
	items := body["history"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, float64(1), items[0].(map[string]any)["sources"])
}

func TestSessionHandler(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "sessions.db"), 10)
	require.NoError(t, err)
	require.NoError(t, db.InitSchema(ctx))
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.GetOrCreateSession(ctx, "s-1")
	require.NoError(t, err)
	_, err = db.UpdateSession(ctx, "s-1", models.SessionUpdate{AccountID: "ACC-DEMO-001"})
	require.NoError(t, err)

	h := NewSessionHandler(db)
	app := fiber.New()
	app.Get("/sessions", h.ListSessions)
	app.Get("/sessions/:id", h.GetSession)
	app.Delete("/sessions/:id", h.DeleteSession)

	status, body := doJSON(t, app, "GET", "/sessions", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"s-1"}, body["sessions"])

	status, body = doJSON(t, app, "GET", "/sessions/s-1", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Session Context: Account: ACC-DEMO-001", body["context"])

	status, _ = doJSON(t, app, "GET", "/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doJSON(t, app, "DELETE", "/sessions/s-1", "")
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = doJSON(t, app, "DELETE", "/sessions/s-1", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestUploadDocument(t *testing.T) {
	ing := &stubIngester{}
	app := fiber.New()
	app.Post("/documents", NewDocumentHandler(ing, "telecom_docs").UploadDocument)

	status, body := doJSON(t, app, "POST", "/documents", `{"doc_id":"DOC_1","content":"Total bill due: $137.14"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "telecom_docs", ing.namespace)
	require.Len(t, ing.docs, 1)
	assert.Equal(t, "DOC_1", ing.docs[0].DocID)
	assert.Equal(t, float64(3), body["chunks"])

	status, _ = doJSON(t, app, "POST", "/documents", `{"doc_id":"DOC_1"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	ing.err = errors.New("embed failed")
	status, _ = doJSON(t, app, "POST", "/documents", `{"namespace":"wiki_docs","doc_id":"DOC_2","content":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestHealthAndReady(t *testing.T) {
	checks := map[string]Checker{"sqlite": stubChecker{}}
	app := fiber.New()
	h := NewHealthHandler(checks)
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)

	status, body := doJSON(t, app, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	status, body = doJSON(t, app, "GET", "/ready", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])

	checks["milvus"] = stubChecker{err: errors.New("connection refused")}
	status, body = doJSON(t, app, "GET", "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "connection refused", body["checks"].(map[string]any)["milvus"])
}

func TestSplitIntoWords(t *testing.T) {
	assert.Equal(t, []string{"Total", "due:", "\n", "$137.14"}, splitIntoWords("Total  due:\n$137.14"))
	assert.Empty(t, splitIntoWords(""))
}
