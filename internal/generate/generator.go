// Package generate turns a question plus the selected tables' schema
// into a SQL query through the language model, with prompt segments
// arranged for provider-side caching.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tabletalk/tabletalk/internal/llm"
	"github.com/tabletalk/tabletalk/internal/observability"
	"github.com/tabletalk/tabletalk/internal/resolve"
	"github.com/tabletalk/tabletalk/internal/schema"
)

// ErrEmptySchema is returned when the request carries no tables to query
// against. Generation never runs in that case.
var ErrEmptySchema = errors.New("generate: schema has no tables")

// ChatTurn is one completed exchange from earlier in the conversation.
type ChatTurn struct {
	Question string
	SQL      string
}

// Failure is one failed execution attempt fed back into the next prompt.
type Failure struct {
	SQL string
	Err string
}

// Request carries everything a single generation needs. Schema is the
// full schema of the selected tables, so the cacheable segment built from
// it is identical for every question over the same selection; Hints carry
// the per-question resolver matches and stay out of the cache.
type Request struct {
	Question      string
	Schema        schema.Schema
	Relationships []schema.Relationship
	Hints         []resolve.ColumnMatch
	History       []ChatTurn
	Failures      []Failure
}

type Generator struct {
	completer   llm.Completer
	temperature float64
}

func New(completer llm.Completer, temperature float64) *Generator {
	return &Generator{completer: completer, temperature: temperature}
}

// Generate produces a cleaned SQL string for the request. The system
// prompt is split into a static rules segment and a schema segment, both
// cacheable; the question, resolver hints, history and failure feedback
// stay out of the cacheable region.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	if req.Schema.IsEmpty() {
		return "", ErrEmptySchema
	}

	rules := rulesSegment
	if len(req.Failures) > 0 {
		rules = correctionRules
	}

	messages := make([]llm.Message, 0, 2*len(req.History)+1)
	for _, turn := range req.History {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: turn.Question},
			llm.Message{Role: llm.RoleAssistant, Content: turn.SQL},
		)
	}
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: questionTurn(req.Question, req.Hints, req.Failures),
	})

	start := time.Now()
	out, err := g.completer.Complete(ctx, llm.Request{
		System: []llm.Segment{
			{Content: rules, Cacheable: true},
			{Content: SchemaSegment(req.Schema, req.Relationships), Cacheable: true},
		},
		Messages:    messages,
		Temperature: g.temperature,
	})
	observability.ObserveGeneration(time.Since(start))
	if err != nil {
		return "", err
	}

	sql := CleanSQL(out)
	if sql == "" {
		return "", fmt.Errorf("generate: model returned no usable SQL")
	}
	return sql, nil
}

// CleanSQL strips markdown fences and a trailing semicolon from model
// output. Models routinely wrap queries in code blocks despite being
// told not to.
func CleanSQL(response string) string {
	response = strings.TrimSpace(response)

	if idx := strings.Index(response, "```sql"); idx != -1 {
		start := idx + len("```sql")
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		} else {
			response = response[start:]
		}
	} else if idx := strings.Index(response, "```"); idx != -1 {
		start := idx + len("```")
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		} else {
			response = response[start:]
		}
	}

	response = strings.TrimSpace(response)
	response = strings.TrimSuffix(response, ";")
	return strings.TrimSpace(response)
}
