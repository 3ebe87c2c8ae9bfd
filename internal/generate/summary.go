package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/tabletalk/tabletalk/internal/llm"
	"github.com/tabletalk/tabletalk/internal/store"
)

// summaryRows caps how much of a result is shown to the model. Enough
// for an insight, small enough to keep the summary prompt cheap.
const summaryRows = 20

const summaryRules = `You are a data analyst. Given a question, the SQL
that answered it, and the result rows, write a short plain-language
summary of what the data shows. Two or three sentences, no markdown, no
restating the SQL. Mention concrete numbers from the result.`

// Summarizer streams a plain-language reading of a query result.
type Summarizer struct {
	streamer llm.Streamer
}

func NewSummarizer(streamer llm.Streamer) *Summarizer {
	return &Summarizer{streamer: streamer}
}

// Summarize streams the summary through onToken. The rules segment is
// cacheable; the result payload is per-request.
func (s *Summarizer) Summarize(ctx context.Context, question, sql string, result store.Result, onToken func(string)) error {
	return s.streamer.Stream(ctx, llm.Request{
		System: []llm.Segment{
			{Content: summaryRules, Cacheable: true},
		},
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: summaryPrompt(question, sql, result),
		}},
	}, onToken)
}

func summaryPrompt(question, sql string, result store.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nSQL:\n%s\n\n", question, sql)
	fmt.Fprintf(&b, "Result (%d rows", result.RowCount())
	shown := result.Rows
	if len(shown) > summaryRows {
		shown = shown[:summaryRows]
		fmt.Fprintf(&b, ", first %d shown", summaryRows)
	}
	b.WriteString("):\n")
	b.WriteString(strings.Join(result.Columns, " | "))
	b.WriteByte('\n')
	for _, row := range shown {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = fmt.Sprint(cell)
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteByte('\n')
	}
	return b.String()
}
