package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tabletalk/tabletalk/internal/config"
	"github.com/tabletalk/tabletalk/internal/history"
	"github.com/tabletalk/tabletalk/internal/observability"
	"github.com/tabletalk/tabletalk/internal/pipeline"
)

type queryRequest struct {
	Question string              `json:"question"`
	Tables   []string            `json:"tables"`
	History  []pipeline.ChatTurn `json:"history"`
}

// handleQuery answers one question over a server-sent event stream. The
// pipeline's events are forwarded one to one; on success an optional
// summary follows the result, streamed token by token.
func handleQuery(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body: "+err.Error(), false)
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "question is required", false)
		return
	}

	stream, err := newSSEWriter(w)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", err.Error(), false)
		return
	}

	start := time.Now()
	outcome, runErr := deps.Pipeline.Run(r.Context(), pipeline.Request{
		Question: req.Question,
		Tables:   req.Tables,
		History:  req.History,
	}, func(event pipeline.Event) {
		stream.send(string(event.Type), event)
	})

	exchange := history.Exchange{
		TraceID:  observability.TraceIDFromContext(r.Context()),
		Question: req.Question,
		SQL:      outcome.SQL,
		Outcome:  "success",
		RowCount: outcome.Result.RowCount(),
		Attempts: len(outcome.Attempts),
		Duration: time.Since(start),
	}
	if runErr != nil {
		exchange.Outcome = string(pipeline.KindOf(runErr))
	}
	if _, err := deps.History.Record(r.Context(), exchange); err != nil && deps.Logger != nil {
		deps.Logger.WarnContext(r.Context(), "history record failed", slog.Any("error", err))
	}

	if runErr != nil || deps.Summarizer == nil || !cfg.LLM.SummaryEnabled {
		return
	}

	summaryErr := deps.Summarizer.Summarize(r.Context(), req.Question, outcome.SQL, outcome.Result,
		func(token string) {
			stream.send("summary", map[string]string{"text": token})
		})
	if summaryErr != nil {
		// The answer already went out; a failed summary is not an error
		// event, just a log line.
		if deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "summary failed", slog.Any("error", summaryErr))
		}
	}
	stream.send("done", map[string]any{"attempts": len(outcome.Attempts)})
}

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a non-negative integer", false)
			return
		}
		limit = parsed
	}

	exchanges, err := deps.History.Recent(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_UNAVAILABLE", err.Error(), true)
		return
	}
	payload := make([]map[string]any, 0, len(exchanges))
	for _, exchange := range exchanges {
		payload = append(payload, map[string]any{
			"id":         exchange.ID,
			"question":   exchange.Question,
			"sql":        exchange.SQL,
			"outcome":    exchange.Outcome,
			"rowCount":   exchange.RowCount,
			"attempts":   exchange.Attempts,
			"durationMs": exchange.Duration.Milliseconds(),
			"createdAt":  exchange.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"exchanges": payload})
}
