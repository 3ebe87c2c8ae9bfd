// Package pipeline coordinates the stages that turn a natural language
// question into executed SQL: admission gating, schema pruning,
// generation, and execution-verified correction.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tabletalk/tabletalk/internal/critic"
	"github.com/tabletalk/tabletalk/internal/generate"
	"github.com/tabletalk/tabletalk/internal/observability"
	"github.com/tabletalk/tabletalk/internal/resolve"
	"github.com/tabletalk/tabletalk/internal/schema"
	"github.com/tabletalk/tabletalk/internal/store"
)

// ChatTurn is one completed exchange carried forward for coreference
// resolution in follow-up questions.
type ChatTurn struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
	RowCount int    `json:"rowCount"`
}

// Request is one question together with its conversation so far. Tables
// optionally restricts the run to the named tables; empty means every
// loaded table.
type Request struct {
	Question string
	Tables   []string
	History  []ChatTurn
}

// Outcome is the successful end state of a run.
type Outcome struct {
	SQL      string
	Result   store.Result
	Attempts []critic.Attempt
	Schema   resolve.PrunedSchema
}

// SchemaSource provides the schema a run operates on. Snapshots isolate a
// run from concurrent dataset changes.
type SchemaSource interface {
	Snapshot() schema.Schema
}

type Pipeline struct {
	resolver *resolve.Resolver
	critic   *critic.Critic
	schemas  SchemaSource
	logger   *slog.Logger
}

func New(resolver *resolve.Resolver, c *critic.Critic, schemas SchemaSource, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{resolver: resolver, critic: c, schemas: schemas, logger: logger}
}

// Run processes one question, reporting progress through emit. Exactly
// one terminal event (result or error) is emitted per run, always last,
// including on cancellation. The returned error is always a *Error whose
// kind matches the terminal error event.
//
// A non-empty req.Tables restricts the whole run (gate, pruning,
// generation) to the named tables.
//
// The admission gate only applies to fresh questions: a follow-up with
// history is admitted unconditionally, because its keywords may all be
// pronouns referring to earlier turns.
func (p *Pipeline) Run(ctx context.Context, req Request, emit Sink) (Outcome, error) {
	if emit == nil {
		emit = func(Event) {}
	}

	outcome, err := p.run(ctx, req, emit)
	if err != nil {
		kind := KindOf(err)
		observability.ObserveQuestion(string(kind))
		emit(Event{Type: EventError, Kind: kind, Message: err.Error()})
		return outcome, err
	}

	observability.ObserveQuestion("success")
	emit(Event{
		Type:          EventResult,
		ResultColumns: outcome.Result.Columns,
		Rows:          outcome.Result.Rows,
		RowCount:      outcome.Result.RowCount(),
	})
	return outcome, nil
}

func (p *Pipeline) run(ctx context.Context, req Request, emit Sink) (Outcome, error) {
	logger := p.logger.With(
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.Int("history_turns", len(req.History)),
	)

	snapshot := p.schemas.Snapshot()
	if snapshot.IsEmpty() {
		return Outcome{}, newError(FailureEmptySchema, fmt.Errorf("no datasets loaded"))
	}
	selected := snapshot.Select(req.Tables)
	if selected.IsEmpty() {
		return Outcome{}, newError(FailureEmptySchema,
			fmt.Errorf("none of the selected tables are loaded"))
	}

	if len(req.History) == 0 {
		if !p.resolver.IsRelevant(ctx, req.Question, selected) {
			logger.Info("question rejected at admission")
			observability.ObserveAdmissionRejected()
			return Outcome{}, newError(FailureAdmissionRejected,
				fmt.Errorf("question has no overlap with the loaded datasets"))
		}
		emit(Event{Type: EventAdmission, Accepted: true})
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, newError(FailureCanceled, err)
	}

	keywords := resolve.Keywords(req.Question)
	pruned := p.resolver.Prune(ctx, selected, keywords)
	if pruned.IsEmpty() && len(req.History) == 0 {
		// Follow-up questions may match nothing lexically (pronouns), so
		// only fresh questions fail here.
		return Outcome{}, newError(FailureEmptySchema,
			fmt.Errorf("no schema columns matched the question"))
	}
	// Relationships are inferred over the selection, not the pruned
	// subset, so the cacheable schema segment stays identical across
	// questions over the same tables.
	relationships := p.resolver.InferRelationships(selected)

	eventTables, eventColumns := pruned.TableNames(), pruned.ColumnCount()
	if pruned.IsEmpty() {
		eventTables, eventColumns = selectedTableNames(selected), selected.ColumnCount()
	}
	emit(Event{Type: EventSchema, Tables: eventTables, Columns: eventColumns})
	logger.Info("schema pruned",
		slog.Int("tables", len(eventTables)),
		slog.Int("columns", eventColumns),
		slog.Int("relationships", len(relationships)))

	history := make([]generate.ChatTurn, 0, len(req.History))
	for _, turn := range req.History {
		history = append(history, generate.ChatTurn{Question: turn.Question, SQL: turn.SQL})
	}

	attempt := 0
	outcome, err := p.critic.Run(ctx, generate.Request{
		Question:      req.Question,
		Schema:        selected,
		Relationships: relationships,
		Hints:         pruned.Matches,
		History:       history,
	}, func(a critic.Attempt) {
		attempt++
		emit(Event{Type: EventAttempt, Attempt: attempt, AttemptSQL: a.SQL, AttemptErr: a.Err})
	})
	if err != nil {
		logger.Warn("question failed", slog.Int("attempts", attempt), slog.Any("error", err))
		return Outcome{Attempts: outcome.Attempts, Schema: pruned}, newError(classify(err), err)
	}

	emit(Event{Type: EventSQL, SQL: outcome.SQL})
	logger.Info("question answered",
		slog.Int("attempts", len(outcome.Attempts)),
		slog.Int("rows", outcome.Result.RowCount()))

	return Outcome{
		SQL:      outcome.SQL,
		Result:   outcome.Result,
		Attempts: outcome.Attempts,
		Schema:   pruned,
	}, nil
}

func selectedTableNames(s schema.Schema) []string {
	names := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		names = append(names, table.Name)
	}
	return names
}
