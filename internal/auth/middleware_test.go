package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:analyst:admin|query")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	identity, ok := validator.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("expected key to be valid")
	}
	if identity.Name != "analyst" {
		t.Fatalf("Name = %q", identity.Name)
	}
	if !identity.HasRole(RoleAdmin) || !identity.HasRole(RoleQuery) {
		t.Fatalf("roles = %v", identity.Roles)
	}
}

func TestStaticAPIKeyValidatorRejectsBadSpec(t *testing.T) {
	if _, err := NewStaticAPIKeyValidator("invalid"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := NewStaticAPIKeyValidator("k::query"); err == nil {
		t.Fatal("expected parse error for empty name")
	}
}

func TestStaticAPIKeyValidatorEmptySpec(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("  ")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	if _, ok := validator.Validate(context.Background(), "anything"); ok {
		t.Fatal("empty spec validated a key")
	}
}

func testMiddleware(t *testing.T) func(http.Handler) http.Handler {
	t.Helper()
	validator, err := NewStaticAPIKeyValidator("k1:analyst:query")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}
	return Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator)
}

func TestMiddlewareRequiresKey(t *testing.T) {
	handler := testMiddleware(t)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/tables", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestMiddlewareRejectsUnknownKey(t *testing.T) {
	handler := testMiddleware(t)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	request := httptest.NewRequest(http.MethodGet, "/v1/tables", nil)
	request.Header.Set("X-API-Key", "wrong")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, request)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestMiddlewareAttachesIdentity(t *testing.T) {
	var seen Identity
	handler := testMiddleware(t)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	request := httptest.NewRequest(http.MethodGet, "/v1/tables", nil)
	request.Header.Set("Authorization", "Bearer k1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, request)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
	if seen.Name != "analyst" {
		t.Fatalf("identity = %+v", seen)
	}
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	guarded := RequireRole(RoleAdmin)(next)

	rr := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodDelete, "/v1/tables/orders", nil)
	request = request.WithContext(WithIdentity(request.Context(), Identity{Name: "analyst", Roles: []string{RoleQuery}}))
	guarded.ServeHTTP(rr, request)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusForbidden)
	}

	rr = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodDelete, "/v1/tables/orders", nil)
	request = request.WithContext(WithIdentity(request.Context(), Identity{Name: "ops", Roles: []string{RoleAdmin}}))
	guarded.ServeHTTP(rr, request)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNoContent)
	}
}
