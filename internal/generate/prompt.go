package generate

import (
	"fmt"
	"strings"

	"github.com/tabletalk/tabletalk/internal/resolve"
	"github.com/tabletalk/tabletalk/internal/schema"
)

// rulesSegment is byte-identical across all requests, so it sits first in
// the system prompt where the provider-side cache can reuse it.
const rulesSegment = `You are an expert DuckDB SQL generator.

Rules:
- Only use tables and columns from the provided schema.
- Return ONLY the raw SQL query, no markdown, no explanation.
- Never reference columns that do not exist in the schema.
- Use the exact identifier spelling from the schema and wrap ALL table and column identifiers in double quotes.
- Alias computed columns with clear names.
- Use DuckDB syntax (CURRENT_DATE, INTERVAL, SPLIT_PART).
- Use LOWER() for string comparisons so filters match regardless of casing.
- When a column lists its known values, filter with those exact values.
- If the question cannot be answered with the given schema, return: SELECT 'I cannot answer this question with the available data' AS message

Conversational context:
The conversation so far is included as prior turns. When the current
question uses pronouns ('those', 'them', 'it') or refers to earlier
results ('filter that by...'), resolve them from the earlier questions
and queries and write a new, fully self-contained query. Do not answer
that the referent is missing from the database.`

// correctionRules replaces rulesSegment on repair attempts.
const correctionRules = `You are an expert SQL debugger for DuckDB.
You fix broken SQL queries. Study all previous attempts so you do not
repeat the same mistake. Return ONLY the raw SQL query, no markdown, no
explanation.`

// SchemaSegment renders the selected tables' full schema
// deterministically: tables and columns in input order, one fixed format.
// Its bytes depend only on the table selection, never on the question, so
// the provider-side prompt cache hits across every question over the same
// selection.
func SchemaSegment(s schema.Schema, relationships []schema.Relationship) string {
	var b strings.Builder
	b.WriteString("Schema:\n")
	for _, table := range s.Tables {
		fmt.Fprintf(&b, "\nTable: %s", table.Name)
		if table.RowCount > 0 {
			fmt.Fprintf(&b, " (%d rows)", table.RowCount)
		}
		b.WriteByte('\n')
		for _, column := range table.Columns {
			fmt.Fprintf(&b, "  %s (%s)", column.Name, column.Type)
			if column.Categorical && len(column.SampleValues) > 0 {
				fmt.Fprintf(&b, " values: %s", strings.Join(column.SampleValues, ", "))
			} else if len(column.SampleValues) > 0 {
				fmt.Fprintf(&b, " e.g. %s", strings.Join(column.SampleValues, ", "))
			}
			b.WriteByte('\n')
		}
	}
	if len(relationships) > 0 {
		b.WriteString("\nRelationships:\n")
		for _, r := range relationships {
			fmt.Fprintf(&b, "  %s\n", r.String())
		}
	}
	return b.String()
}

// hintBlock lists the columns the resolver matched against the question.
// It rides in the per-turn user message, never in a cacheable segment.
func hintBlock(hints []resolve.ColumnMatch) string {
	var b strings.Builder
	b.WriteString("Columns most relevant to this question:\n")
	for _, hint := range hints {
		fmt.Fprintf(&b, "  %s.%s (matched %q)\n", hint.Table, hint.Column, hint.Keyword)
	}
	return b.String()
}

// failureBlock renders every prior failed attempt for the correction
// prompt, oldest first.
func failureBlock(failures []Failure) string {
	var b strings.Builder
	b.WriteString("Previous failed attempts:\n")
	for i, failure := range failures {
		fmt.Fprintf(&b, "\nAttempt %d:\nSQL: %s\nError: %s\n", i+1, failure.SQL, failure.Err)
	}
	return b.String()
}

func questionTurn(question string, hints []resolve.ColumnMatch, failures []Failure) string {
	if len(failures) == 0 {
		var b strings.Builder
		if len(hints) > 0 {
			b.WriteString(hintBlock(hints))
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "Question: %s\n\nReturn only the raw SQL query with no markdown or explanation.", question)
		return b.String()
	}

	last := failures[len(failures)-1]
	var b strings.Builder
	fmt.Fprintf(&b, "Original question: %s\n\n", question)
	if earlier := failures[:len(failures)-1]; len(earlier) > 0 {
		b.WriteString(failureBlock(earlier))
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Current failing SQL:\n%s\n\nCurrent error:\n%s\n\n", last.SQL, last.Err)
	b.WriteString("Fix the SQL query. Return only the corrected query with no markdown or explanation.")
	return b.String()
}
