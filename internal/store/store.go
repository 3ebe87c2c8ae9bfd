// Package store defines the query execution contract the pipeline runs
// generated SQL against.
package store

import (
	"context"
	"time"
)

type Request struct {
	SQL string
	// RowLimit > 0 caps the result by wrapping the query; 0 means no cap.
	RowLimit int
}

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

func (r Result) RowCount() int {
	return len(r.Rows)
}

type Executor interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// ExecutionError marks a failure of the SQL itself, as opposed to an
// infrastructure failure. The message is what gets fed back to the model
// for correction, so it carries the database's own wording.
type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
