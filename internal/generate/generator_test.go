package generate

import (
	"context"
	"strings"
	"testing"

	"github.com/tabletalk/tabletalk/internal/llm"
	"github.com/tabletalk/tabletalk/internal/resolve"
	"github.com/tabletalk/tabletalk/internal/schema"
)

func ordersSchema() schema.Schema {
	return schema.Schema{Tables: []schema.Table{
		{
			Name:     "orders",
			RowCount: 830,
			Columns: []schema.Column{
				{Name: "orderID", Type: "BIGINT", SampleValues: []string{"10248", "10249"}},
				{Name: "shipCountry", Type: "VARCHAR", Categorical: true, SampleValues: []string{"France", "Germany"}},
			},
		},
	}}
}

func TestCleanSQL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"raw", "SELECT 1", "SELECT 1"},
		{"trailing semicolon", "SELECT 1;", "SELECT 1"},
		{"sql fence", "```sql\nSELECT 1\n```", "SELECT 1"},
		{"bare fence", "```\nSELECT 1\n```", "SELECT 1"},
		{"unterminated fence", "```sql\nSELECT 1", "SELECT 1"},
		{"prose before fence", "Here you go:\n```sql\nSELECT 1;\n```", "SELECT 1"},
		{"whitespace", "  \n SELECT 1 \n ", "SELECT 1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanSQL(tc.in); got != tc.want {
				t.Fatalf("CleanSQL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSchemaSegmentStableBytes(t *testing.T) {
	relationships := []schema.Relationship{
		{LeftTable: "orders", LeftColumn: "customerID", RightTable: "customers", RightColumn: "customerID"},
	}
	first := SchemaSegment(ordersSchema(), relationships)
	for range 5 {
		if got := SchemaSegment(ordersSchema(), relationships); got != first {
			t.Fatal("SchemaSegment() output is not byte stable")
		}
	}
	if !strings.Contains(first, "orders") || !strings.Contains(first, "shipCountry (VARCHAR)") {
		t.Fatalf("segment missing schema content:\n%s", first)
	}
	if !strings.Contains(first, "values: France, Germany") {
		t.Fatalf("segment missing categorical values:\n%s", first)
	}
	if !strings.Contains(first, "orders.customerID <-> customers.customerID") {
		t.Fatalf("segment missing relationship:\n%s", first)
	}
}

func TestGenerateRefusesEmptySchema(t *testing.T) {
	called := false
	generator := New(llm.CompleterFunc(func(context.Context, llm.Request) (string, error) {
		called = true
		return "SELECT 1", nil
	}), 0)

	if _, err := generator.Generate(context.Background(), Request{Question: "anything"}); err != ErrEmptySchema {
		t.Fatalf("Generate() error = %v, want ErrEmptySchema", err)
	}
	if called {
		t.Fatal("model invoked despite empty schema")
	}
}

func TestGenerateSegmentsPrompt(t *testing.T) {
	var captured llm.Request
	generator := New(llm.CompleterFunc(func(_ context.Context, req llm.Request) (string, error) {
		captured = req
		return "```sql\nSELECT \"orderID\" FROM \"orders\";\n```", nil
	}), 0)

	sql, err := generator.Generate(context.Background(), Request{
		Question: "list order IDs",
		Schema:   ordersSchema(),
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if sql != `SELECT "orderID" FROM "orders"` {
		t.Fatalf("sql = %q", sql)
	}

	if len(captured.System) != 2 {
		t.Fatalf("system segments = %d, want rules + schema", len(captured.System))
	}
	for i, segment := range captured.System {
		if !segment.Cacheable {
			t.Fatalf("system segment %d not cacheable", i)
		}
	}
	if strings.Contains(captured.System[0].Content, "orders") {
		t.Fatal("schema content leaked into the rules segment")
	}
	if !strings.Contains(captured.System[1].Content, "Table: orders") {
		t.Fatal("schema segment missing the selected table")
	}

	if len(captured.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(captured.Messages))
	}
	final := captured.Messages[0]
	if final.Role != llm.RoleUser || !strings.Contains(final.Content, "list order IDs") {
		t.Fatalf("final message = %+v", final)
	}
	if strings.Contains(final.Content, "failed attempts") {
		t.Fatal("fresh generation mentions failures")
	}
}

func TestGenerateSchemaSegmentStableAcrossQuestions(t *testing.T) {
	var segments []llm.Segment
	generator := New(llm.CompleterFunc(func(_ context.Context, req llm.Request) (string, error) {
		segments = append(segments, req.System...)
		return "SELECT 1", nil
	}), 0)

	requests := []Request{
		{
			Question: "list order IDs",
			Schema:   ordersSchema(),
			Hints:    []resolve.ColumnMatch{{Keyword: "order", Table: "orders", Column: "orderID", Score: 100}},
		},
		{
			Question: "orders per country",
			Schema:   ordersSchema(),
			Hints:    []resolve.ColumnMatch{{Keyword: "country", Table: "orders", Column: "shipCountry", Score: 100}},
		},
	}
	for _, req := range requests {
		if _, err := generator.Generate(context.Background(), req); err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
	}

	// Both system segments must be byte-identical across questions over
	// the same table selection, or the provider cache never hits.
	if len(segments) != 4 {
		t.Fatalf("system segments = %d, want 2 per request", len(segments))
	}
	if segments[0].Content != segments[2].Content {
		t.Fatal("rules segment differs across questions")
	}
	if segments[1].Content != segments[3].Content {
		t.Fatalf("schema segment differs across questions:\n%s\n---\n%s", segments[1].Content, segments[3].Content)
	}
}

func TestGenerateKeepsHintsOutOfCacheableSegments(t *testing.T) {
	var captured llm.Request
	generator := New(llm.CompleterFunc(func(_ context.Context, req llm.Request) (string, error) {
		captured = req
		return "SELECT 1", nil
	}), 0)

	_, err := generator.Generate(context.Background(), Request{
		Question: "orders per country",
		Schema:   ordersSchema(),
		Hints:    []resolve.ColumnMatch{{Keyword: "country", Table: "orders", Column: "shipCountry", Score: 100}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	final := captured.Messages[len(captured.Messages)-1].Content
	if !strings.Contains(final, "orders.shipCountry") {
		t.Fatalf("resolver hint missing from the question turn:\n%s", final)
	}
	for i, segment := range captured.System {
		if strings.Contains(segment.Content, "matched") {
			t.Fatalf("hint text leaked into system segment %d", i)
		}
	}
}

func TestGenerateIncludesChatHistoryAsTurns(t *testing.T) {
	var captured llm.Request
	generator := New(llm.CompleterFunc(func(_ context.Context, req llm.Request) (string, error) {
		captured = req
		return "SELECT 1", nil
	}), 0)

	_, err := generator.Generate(context.Background(), Request{
		Question: "only from France?",
		Schema:   ordersSchema(),
		History: []ChatTurn{
			{Question: "how many orders", SQL: `SELECT COUNT(*) FROM "orders"`},
		},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if len(captured.Messages) != 3 {
		t.Fatalf("messages = %d, want user/assistant/user", len(captured.Messages))
	}
	if captured.Messages[0].Role != llm.RoleUser || captured.Messages[0].Content != "how many orders" {
		t.Fatalf("first turn = %+v", captured.Messages[0])
	}
	if captured.Messages[1].Role != llm.RoleAssistant || !strings.Contains(captured.Messages[1].Content, "COUNT(*)") {
		t.Fatalf("second turn = %+v", captured.Messages[1])
	}
	// Per-request content must stay outside the cacheable region.
	for i, segment := range captured.System {
		if strings.Contains(segment.Content, "only from France?") {
			t.Fatalf("question leaked into system segment %d", i)
		}
	}
}

func TestGenerateCorrectionCarriesAllFailures(t *testing.T) {
	var captured llm.Request
	generator := New(llm.CompleterFunc(func(_ context.Context, req llm.Request) (string, error) {
		captured = req
		return "SELECT 2", nil
	}), 0)

	_, err := generator.Generate(context.Background(), Request{
		Question: "count orders",
		Schema:   ordersSchema(),
		Failures: []Failure{
			{SQL: "SELECT totl FROM orders", Err: `Binder Error: column "totl" not found`},
			{SQL: "SELECT total FROM orders", Err: `Binder Error: column "total" not found`},
		},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if !strings.Contains(captured.System[0].Content, "fix broken SQL") {
		t.Fatalf("correction rules not used:\n%s", captured.System[0].Content)
	}
	final := captured.Messages[len(captured.Messages)-1].Content
	if !strings.Contains(final, "totl") {
		t.Fatal("earlier failure missing from correction prompt")
	}
	if !strings.Contains(final, `column "total" not found`) {
		t.Fatal("latest error missing from correction prompt")
	}
	if !strings.Contains(final, "Attempt 1") {
		t.Fatal("failure history not enumerated")
	}
}

func TestGenerateRejectsEmptyModelOutput(t *testing.T) {
	generator := New(llm.CompleterFunc(func(context.Context, llm.Request) (string, error) {
		return "```sql\n```", nil
	}), 0)

	if _, err := generator.Generate(context.Background(), Request{
		Question: "count orders",
		Schema:   ordersSchema(),
	}); err == nil {
		t.Fatal("Generate() accepted empty model output")
	}
}
