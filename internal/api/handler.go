// Package api exposes the HTTP surface: dataset management, the
// streaming query endpoint, and operational probes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tabletalk/tabletalk/internal/config"
	"github.com/tabletalk/tabletalk/internal/generate"
	"github.com/tabletalk/tabletalk/internal/history"
	"github.com/tabletalk/tabletalk/internal/observability"
	"github.com/tabletalk/tabletalk/internal/pipeline"
	"github.com/tabletalk/tabletalk/internal/schema"
)

type ReadinessCheck func(ctx context.Context) error

// QuestionPipeline is the slice of pipeline.Pipeline the handler needs.
type QuestionPipeline interface {
	Run(ctx context.Context, req pipeline.Request, emit pipeline.Sink) (pipeline.Outcome, error)
}

// TableEngine is the slice of the database engine backing dataset
// management.
type TableEngine interface {
	IngestCSV(ctx context.Context, tableName, csvPath string) (schema.Table, error)
	DropTable(ctx context.Context, tableName string) error
}

// DatasetArchiver mirrors dataset changes into the object store archive.
type DatasetArchiver interface {
	Archive(ctx context.Context, tableName string) error
	Remove(ctx context.Context, tableName string) error
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	AdminMiddleware   func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Pipeline          QuestionPipeline
	Engine            TableEngine
	Registry          *schema.Registry
	// Archiver is nil when no object store is configured.
	Archiver DatasetArchiver
	History  history.Recorder
	// Summarizer is nil when result summaries are disabled.
	Summarizer *generate.Summarizer
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	if deps.History == nil {
		deps.History = history.Nop{}
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("GET /v1/tables", func(w http.ResponseWriter, r *http.Request) {
		handleListTables(deps, w, r)
	})
	protected.HandleFunc("GET /v1/tables/{table}", func(w http.ResponseWriter, r *http.Request) {
		handleGetTable(deps, w, r)
	})
	protected.HandleFunc("POST /v1/query", func(w http.ResponseWriter, r *http.Request) {
		handleQuery(cfg, deps, w, r)
	})
	protected.HandleFunc("GET /v1/history", func(w http.ResponseWriter, r *http.Request) {
		handleHistory(deps, w, r)
	})

	// Dataset mutations additionally require the admin role.
	admin := http.NewServeMux()
	admin.HandleFunc("POST /v1/tables/{table}", func(w http.ResponseWriter, r *http.Request) {
		handleUploadTable(deps, w, r)
	})
	admin.HandleFunc("DELETE /v1/tables/{table}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteTable(deps, w, r)
	})

	var adminHandler http.Handler = admin
	if deps.AdminMiddleware != nil {
		adminHandler = deps.AdminMiddleware(adminHandler)
	}
	protected.Handle("POST /v1/tables/{table}", adminHandler)
	protected.Handle("DELETE /v1/tables/{table}", adminHandler)

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("GET /v1/tables", protectedHandler)
	mux.Handle("GET /v1/tables/{table}", protectedHandler)
	mux.Handle("POST /v1/tables/{table}", protectedHandler)
	mux.Handle("DELETE /v1/tables/{table}", protectedHandler)
	mux.Handle("POST /v1/query", protectedHandler)
	mux.Handle("GET /v1/history", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckLLMConfig(cfg config.Config) ReadinessCheck {
	return func(context.Context) error {
		if cfg.LLM.APIKey == "" {
			return errors.New("llm api key is not configured")
		}
		return nil
	}
}

func CheckDatasets(registry *schema.Registry) ReadinessCheck {
	return func(context.Context) error {
		if registry.Snapshot().IsEmpty() {
			return errors.New("no datasets loaded")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
