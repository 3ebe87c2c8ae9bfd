package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tabletalk/tabletalk/internal/config"
	"github.com/tabletalk/tabletalk/internal/pipeline"
	"github.com/tabletalk/tabletalk/internal/schema"
)

type stubPipeline struct {
	events  []pipeline.Event
	outcome pipeline.Outcome
	err     error
	lastReq pipeline.Request
}

func (s *stubPipeline) Run(_ context.Context, req pipeline.Request, emit pipeline.Sink) (pipeline.Outcome, error) {
	s.lastReq = req
	for _, event := range s.events {
		emit(event)
	}
	return s.outcome, s.err
}

type stubEngine struct {
	ingested  []string
	dropped   []string
	ingestErr error
}

func (s *stubEngine) IngestCSV(_ context.Context, tableName, _ string) (schema.Table, error) {
	if s.ingestErr != nil {
		return schema.Table{}, s.ingestErr
	}
	s.ingested = append(s.ingested, tableName)
	return schema.Table{Name: tableName, RowCount: 2, Columns: []schema.Column{{Name: "id", Type: "BIGINT"}}}, nil
}

func (s *stubEngine) DropTable(_ context.Context, tableName string) error {
	s.dropped = append(s.dropped, tableName)
	return nil
}

func testConfig() config.Config {
	cfg := config.Config{}
	cfg.Service.Name = "tabletalk"
	return cfg
}

func testDeps() Dependencies {
	registry := schema.NewRegistry()
	registry.Replace(schema.Schema{Tables: []schema.Table{
		{Name: "orders", Columns: []schema.Column{{Name: "orderID", Type: "BIGINT"}}},
	}})
	return Dependencies{
		Logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Pipeline: &stubPipeline{},
		Engine:   &stubEngine{},
		Registry: registry,
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler := NewHandler(testConfig(), testDeps())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"tabletalk"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestReadyEndpointReportsFailure(t *testing.T) {
	deps := testDeps()
	deps.Readiness = func(context.Context) error { return errors.New("llm api key is not configured") }
	handler := NewHandler(testConfig(), deps)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestReadyEndpointWithoutChecks(t *testing.T) {
	handler := NewHandler(testConfig(), testDeps())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAuthRequiredWithoutMiddleware(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Required = true
	handler := NewHandler(cfg, testDeps())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/tables", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAuthMiddlewareGuardsProtectedRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Required = true
	deps := testDeps()
	deps.AuthMiddleware = func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	handler := NewHandler(cfg, deps)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/tables", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("protected status = %d", rr.Code)
	}

	// Health stays open.
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d", rr.Code)
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	handler := NewHandler(testConfig(), testDeps())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCombineReadinessChecksStopsAtFirstFailure(t *testing.T) {
	calls := 0
	failing := func(context.Context) error { calls++; return errors.New("down") }
	never := func(context.Context) error { calls++; return nil }

	combined := CombineReadinessChecks(nil, failing, never)
	if err := combined(context.Background()); err == nil {
		t.Fatal("expected combined failure")
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}
