package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/tabletalk/tabletalk/internal/critic"
	"github.com/tabletalk/tabletalk/internal/generate"
	"github.com/tabletalk/tabletalk/internal/match"
	"github.com/tabletalk/tabletalk/internal/resolve"
	"github.com/tabletalk/tabletalk/internal/schema"
	"github.com/tabletalk/tabletalk/internal/store"
)

type fixedSchemas struct {
	s schema.Schema
}

func (f fixedSchemas) Snapshot() schema.Schema { return f.s }

type stubGenerator struct {
	queries  []string
	calls    int
	err      error
	requests []generate.Request
}

func (g *stubGenerator) Generate(_ context.Context, req generate.Request) (string, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return "", g.err
	}
	if g.calls >= len(g.queries) {
		return "", fmt.Errorf("no more scripted queries")
	}
	sql := g.queries[g.calls]
	g.calls++
	return sql, nil
}

type stubExecutor struct {
	failing map[string]string
}

func (e *stubExecutor) Execute(_ context.Context, req store.Request) (store.Result, error) {
	if msg, ok := e.failing[req.SQL]; ok {
		return store.Result{}, &store.ExecutionError{SQL: req.SQL, Err: errors.New(msg)}
	}
	return store.Result{Columns: []string{"n"}, Rows: [][]any{{int64(42)}}}, nil
}

func testSchema() schema.Schema {
	return schema.Schema{Tables: []schema.Table{
		{Name: "orders", Columns: []schema.Column{
			{Name: "orderID", Type: "BIGINT"},
			{Name: "customerID", Type: "VARCHAR"},
		}},
		{Name: "customers", Columns: []schema.Column{
			{Name: "customerID", Type: "VARCHAR"},
			{Name: "country", Type: "VARCHAR"},
		}},
	}}
}

func newTestPipeline(generator critic.Generator, executor store.Executor) *Pipeline {
	resolver := resolve.New(match.Disabled{}, resolve.Config{})
	c := critic.New(generator, executor, critic.Config{MaxAttempts: 3})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(resolver, c, fixedSchemas{s: testSchema()}, logger)
}

func collect(events *[]Event) Sink {
	return func(e Event) { *events = append(*events, e) }
}

func terminalCount(events []Event) int {
	count := 0
	for _, e := range events {
		if e.Terminal() {
			count++
		}
	}
	return count
}

func TestRunHappyPath(t *testing.T) {
	generator := &stubGenerator{queries: []string{`SELECT COUNT(*) AS n FROM "orders"`}}
	p := newTestPipeline(generator, &stubExecutor{})

	var events []Event
	outcome, err := p.Run(context.Background(), Request{Question: "how many orders are there"}, collect(&events))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.SQL == "" || outcome.Result.RowCount() != 1 {
		t.Fatalf("outcome = %+v", outcome)
	}

	if terminalCount(events) != 1 {
		t.Fatalf("terminal events = %d, want exactly 1", terminalCount(events))
	}
	last := events[len(events)-1]
	if last.Type != EventResult {
		t.Fatalf("last event = %s", last.Type)
	}
	if last.RowCount != 1 {
		t.Fatalf("result rowCount = %d", last.RowCount)
	}

	types := make([]EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	want := []EventType{EventAdmission, EventSchema, EventAttempt, EventSQL, EventResult}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestRunRejectsOffTopicQuestion(t *testing.T) {
	generator := &stubGenerator{queries: []string{"SELECT 1"}}
	p := newTestPipeline(generator, &stubExecutor{})

	var events []Event
	_, err := p.Run(context.Background(), Request{Question: "what is the weather like today"}, collect(&events))
	if KindOf(err) != FailureAdmissionRejected {
		t.Fatalf("Run() error = %v, want admission rejection", err)
	}
	if generator.calls != 0 {
		t.Fatal("generation ran for a rejected question")
	}
	if terminalCount(events) != 1 || events[len(events)-1].Type != EventError {
		t.Fatalf("events = %+v, want single terminal error", events)
	}
	if events[len(events)-1].Kind != FailureAdmissionRejected {
		t.Fatalf("error kind = %s", events[len(events)-1].Kind)
	}
}

func TestRunSkipsGateForFollowUps(t *testing.T) {
	generator := &stubGenerator{queries: []string{"SELECT 1"}}
	p := newTestPipeline(generator, &stubExecutor{})

	var events []Event
	_, err := p.Run(context.Background(), Request{
		Question: "what about them?",
		History:  []ChatTurn{{Question: "list customer countries", SQL: `SELECT "country" FROM "customers"`, RowCount: 3}},
	}, collect(&events))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, e := range events {
		if e.Type == EventAdmission {
			t.Fatal("admission event emitted for a follow-up")
		}
	}
	// Pronoun-only follow-ups prune nothing, so the full schema is used.
	if len(generator.requests) == 0 || generator.requests[0].Schema.ColumnCount() != 4 {
		t.Fatalf("generator requests = %+v", generator.requests)
	}
	if len(generator.requests[0].History) != 1 {
		t.Fatal("chat history not forwarded to generation")
	}
}

func TestRunRestrictsToSelectedTables(t *testing.T) {
	generator := &stubGenerator{queries: []string{`SELECT COUNT(*) FROM "orders"`}}
	p := newTestPipeline(generator, &stubExecutor{})

	var events []Event
	_, err := p.Run(context.Background(), Request{
		Question: "how many orders are there",
		Tables:   []string{"orders"},
	}, collect(&events))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(generator.requests) == 0 {
		t.Fatal("generator never invoked")
	}
	sent := generator.requests[0].Schema
	if len(sent.Tables) != 1 || sent.Tables[0].Name != "orders" {
		t.Fatalf("generation schema tables = %+v, want only orders", sent.Tables)
	}
	for _, e := range events {
		if e.Type != EventSchema {
			continue
		}
		for _, name := range e.Tables {
			if name == "customers" {
				t.Fatal("unselected table reported in the schema event")
			}
		}
	}
}

func TestRunRejectsUnknownTableSelection(t *testing.T) {
	generator := &stubGenerator{queries: []string{"SELECT 1"}}
	p := newTestPipeline(generator, &stubExecutor{})

	var events []Event
	_, err := p.Run(context.Background(), Request{
		Question: "how many orders are there",
		Tables:   []string{"nonexistent"},
	}, collect(&events))
	if KindOf(err) != FailureEmptySchema {
		t.Fatalf("Run() error = %v, want empty schema", err)
	}
	if generator.calls != 0 {
		t.Fatal("generation ran without any selected tables")
	}
	if terminalCount(events) != 1 || events[len(events)-1].Type != EventError {
		t.Fatalf("events = %+v, want single terminal error", events)
	}
}

func TestRunEmitsAttemptPerCycle(t *testing.T) {
	generator := &stubGenerator{queries: []string{"BAD", "SELECT 1"}}
	p := newTestPipeline(generator, &stubExecutor{failing: map[string]string{"BAD": "Binder Error: nope"}})

	var events []Event
	_, err := p.Run(context.Background(), Request{Question: "count orders by customer"}, collect(&events))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var attempts []Event
	for _, e := range events {
		if e.Type == EventAttempt {
			attempts = append(attempts, e)
		}
	}
	if len(attempts) != 2 {
		t.Fatalf("attempt events = %d", len(attempts))
	}
	if attempts[0].Attempt != 1 || attempts[0].AttemptErr == "" {
		t.Fatalf("first attempt = %+v", attempts[0])
	}
	if attempts[1].Attempt != 2 || attempts[1].AttemptErr != "" {
		t.Fatalf("second attempt = %+v", attempts[1])
	}
}

func TestRunReportsRetriesExhausted(t *testing.T) {
	generator := &stubGenerator{queries: []string{"BAD", "BAD", "BAD"}}
	p := newTestPipeline(generator, &stubExecutor{failing: map[string]string{"BAD": "Binder Error: nope"}})

	var events []Event
	outcome, err := p.Run(context.Background(), Request{Question: "count orders"}, collect(&events))
	if KindOf(err) != FailureRetriesExhausted {
		t.Fatalf("Run() error = %v, want retries exhausted", err)
	}
	if len(outcome.Attempts) != 3 {
		t.Fatalf("attempts = %d", len(outcome.Attempts))
	}
	if terminalCount(events) != 1 || events[len(events)-1].Type != EventError {
		t.Fatalf("events = %+v", events)
	}
}

func TestRunReportsGenerationFailure(t *testing.T) {
	generator := &stubGenerator{err: errors.New("llm: completion failed")}
	p := newTestPipeline(generator, &stubExecutor{})

	var events []Event
	_, err := p.Run(context.Background(), Request{Question: "count orders"}, collect(&events))
	if KindOf(err) != FailureGeneration {
		t.Fatalf("Run() error = %v, want generation failure", err)
	}
	if terminalCount(events) != 1 {
		t.Fatalf("terminal events = %d", terminalCount(events))
	}
}

func TestRunEmptySchemaSource(t *testing.T) {
	resolver := resolve.New(match.Disabled{}, resolve.Config{})
	c := critic.New(&stubGenerator{}, &stubExecutor{}, critic.Config{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := New(resolver, c, fixedSchemas{}, logger)

	var events []Event
	_, err := p.Run(context.Background(), Request{Question: "count orders"}, collect(&events))
	if KindOf(err) != FailureEmptySchema {
		t.Fatalf("Run() error = %v, want empty schema", err)
	}
	if terminalCount(events) != 1 {
		t.Fatalf("terminal events = %d", terminalCount(events))
	}
}

func TestRunCancellationEmitsSingleErrorEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	generator := &stubGenerator{queries: []string{"SELECT 1"}}
	p := newTestPipeline(generator, &stubExecutor{})

	var events []Event
	_, err := p.Run(ctx, Request{Question: "count orders"}, collect(&events))
	if KindOf(err) != FailureCanceled {
		t.Fatalf("Run() error = %v, want canceled", err)
	}
	if terminalCount(events) != 1 || events[len(events)-1].Type != EventError {
		t.Fatalf("events = %+v", events)
	}
}

func TestKindOfUnknownError(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != FailureExecution {
		t.Fatalf("KindOf(plain) = %s", got)
	}
}
