package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vw-ai/lifetrace/internal/cleaner"
	"github.com/vw-ai/lifetrace/internal/insights"
	"github.com/vw-ai/lifetrace/internal/llm"
	"github.com/vw-ai/lifetrace/internal/processor"
	"github.com/vw-ai/lifetrace/internal/retrieve"
	"github.com/vw-ai/lifetrace/internal/storage/sqlite"
	"github.com/vw-ai/lifetrace/internal/tagger"
	"github.com/vw-ai/lifetrace/internal/taxonomy"
	"github.com/vw-ai/lifetrace/internal/types"
)

func newTestServer(t *testing.T) (*Server, *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "test.db"), 0, nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	resources, err := taxonomy.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to open resources: %v", err)
	}
	embedder := llm.NewHashEmbedder("")
	tg := tagger.New(resources, nil, nil)

	deps := Deps{
		Store:     store,
		Insights:  insights.NewService(store),
		Processor: processor.New(store, tg, nil, nil, "", nil),
		Cleaner:   cleaner.New(store, nil, nil),
		Retriever: retrieve.New(store, embedder, nil),
		Resources: resources,
	}
	server := NewServer(deps, Config{
		Prefix:    "/api/v1",
		Token:     "secret",
		DevBypass: true,
	}, nil)
	return server, store
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestValidationErrors(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name, path string
	}{
		{"bad date", "/api/v1/activities/raw?date_start=08-01-2025"},
		{"bad source", "/api/v1/activities/raw?source=fitbit"},
		{"limit too high", "/api/v1/activities/raw?limit=5000"},
		{"negative offset", "/api/v1/activities/raw?offset=-1"},
		{"bad sort", "/api/v1/tags?sort_by=color"},
		{"bad group_by", "/api/v1/insights/time-distribution?group_by=year"},
	}
	for _, tt := range tests {
		if rec := doRequest(t, s, http.MethodGet, tt.path, ""); rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: expected 422, got %d", tt.name, rec.Code)
		}
	}
}

func TestErrorEnvelope(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/tags/9999", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var envelope ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("malformed error envelope: %v", err)
	}
	if envelope.StatusCode != http.StatusNotFound || envelope.Error == "" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
}

func TestTagCRUD(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/tags", `{"name":"Deep Work","description":"focus"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var tag types.Tag
	if err := json.Unmarshal(rec.Body.Bytes(), &tag); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if tag.Name != "deep work" {
		t.Fatalf("name must normalize to lowercase, got %q", tag.Name)
	}

	// Duplicate (case-insensitive) conflicts.
	if rec := doRequest(t, s, http.MethodPost, "/api/v1/tags", `{"name":"DEEP WORK"}`); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", rec.Code)
	}

	// Invalid color is a validation error.
	if rec := doRequest(t, s, http.MethodPost, "/api/v1/tags", `{"name":"colored","color":"red"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad color: expected 422, got %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPut, "/api/v1/tags/1", `{"name":"deep-work","description":"renamed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodDelete, "/api/v1/tags/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodGet, "/api/v1/tags/1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("after delete: expected 404, got %d", rec.Code)
	}
}

func TestPaginationHasMore(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta"} {
		if _, err := store.CreateTag(ctx, &types.Tag{Name: name}); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	rec := doRequest(t, s, http.MethodGet, "/api/v1/tags?limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page PaginatedTags
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if page.TotalCount != 2 || len(page.Items) != 1 {
		t.Fatalf("unexpected page: total=%d len=%d", page.TotalCount, len(page.Items))
	}
	if !page.PageInfo.HasMore {
		t.Fatal("limit=1 with total=2 must report has_more")
	}
}

func TestAuthEnforcement(t *testing.T) {
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "test.db"), 0, nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	resources, err := taxonomy.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to open resources: %v", err)
	}

	s := NewServer(Deps{
		Store:     store,
		Insights:  insights.NewService(store),
		Processor: processor.New(store, tagger.New(resources, nil, nil), nil, nil, "", nil),
		Cleaner:   cleaner.New(store, nil, nil),
		Retriever: retrieve.New(store, llm.NewHashEmbedder(""), nil),
		Resources: resources,
	}, Config{Prefix: "/api/v1", Token: "secret", DevBypass: false}, nil)

	if rec := doRequest(t, s, http.MethodGet, "/api/v1/tags", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tags", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: expected 200, got %d", rec.Code)
	}

	// The liveness probe stays open.
	if rec := doRequest(t, s, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("liveness probe must bypass auth, got %d", rec.Code)
	}
}

func TestProcessEndpoints(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()

	if _, err := store.UpsertRawActivity(ctx, &types.RawActivity{
		Date: "2025-08-01", Details: "standup meeting", Source: types.SourceCalendar,
	}, "ev-1"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	rec := doRequest(t, s, http.MethodPost, "/api/v1/process/daily",
		`{"use_database":true,"date_start":"2025-08-01","date_end":"2025-08-01"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("trigger: expected 202, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.JobID == "" {
		t.Fatalf("expected a job id, got %s", rec.Body.String())
	}

	if rec := doRequest(t, s, http.MethodGet, "/api/v1/process/status/"+resp.JobID, ""); rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodGet, "/api/v1/process/status/unknown", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job: expected 404, got %d", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodGet, "/api/v1/process/history", ""); rec.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", rec.Code)
	}
}

func TestImportValidation(t *testing.T) {
	s, _ := newTestServer(t)

	// No ingestor configured: explicit unavailability, not a 500.
	rec := doRequest(t, s, http.MethodPost, "/api/v1/import/calendar", `{"hours_since_last_update":24}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for unconfigured ingestor, got %d", rec.Code)
	}

	if rec := doRequest(t, s, http.MethodGet, "/api/v1/import/status", ""); rec.Code != http.StatusOK {
		t.Fatalf("import status: expected 200, got %d", rec.Code)
	}
}

func TestSystemEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/system/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}
	var health SystemHealth
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if health.Services["database"].Status != "healthy" {
		t.Fatalf("database should be healthy: %+v", health)
	}

	if rec := doRequest(t, s, http.MethodGet, "/api/v1/system/stats", ""); rec.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", rec.Code)
	}
}
