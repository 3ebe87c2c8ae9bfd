// Package critic drives execution-verified SQL generation: every
// candidate query is run against the database, and failures are fed back
// into the next generation attempt until one succeeds or the attempt
// budget is spent.
package critic

import (
	"context"
	"errors"
	"fmt"

	"github.com/tabletalk/tabletalk/internal/generate"
	"github.com/tabletalk/tabletalk/internal/observability"
	"github.com/tabletalk/tabletalk/internal/store"
)

const DefaultMaxAttempts = 3

// Generator is the slice of generate.Generator the critic needs.
type Generator interface {
	Generate(ctx context.Context, req generate.Request) (string, error)
}

// Attempt records one generate-and-execute cycle. Err is empty when the
// attempt succeeded.
type Attempt struct {
	SQL string
	Err string
}

// Outcome is the final state of a critic run. On success SQL and Result
// hold the working query; Attempts always holds every cycle that ran,
// successful last one included.
type Outcome struct {
	SQL      string
	Result   store.Result
	Attempts []Attempt
}

// GenerationError marks a failure to obtain SQL at all, as opposed to
// SQL that failed to execute.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return e.Err.Error()
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// ExhaustedError reports that every attempt produced failing SQL.
type ExhaustedError struct {
	Attempts []Attempt
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("query still failing after %d attempts: %v", len(e.Attempts), e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

type Config struct {
	MaxAttempts int
	RowLimit    int
}

type Critic struct {
	generator Generator
	executor  store.Executor
	cfg       Config
}

func New(generator Generator, executor store.Executor, cfg Config) *Critic {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Critic{generator: generator, executor: executor, cfg: cfg}
}

// Run generates and executes SQL for the request until a query succeeds.
// Each failed execution is appended to the request's failure history, so
// attempt N sees all N-1 earlier failures. onAttempt, if non-nil, is
// called after every cycle. Infrastructure errors and generation errors
// abort immediately; only failures of the SQL itself are retried.
func (c *Critic) Run(ctx context.Context, req generate.Request, onAttempt func(Attempt)) (Outcome, error) {
	outcome := Outcome{}

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		sql, err := c.generator.Generate(ctx, req)
		if err != nil {
			if errors.Is(err, generate.ErrEmptySchema) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return outcome, err
			}
			return outcome, &GenerationError{Err: err}
		}
		observability.ObserveExecutionAttempt(attempt > 1)

		result, err := c.executor.Execute(ctx, store.Request{SQL: sql, RowLimit: c.cfg.RowLimit})
		if err == nil {
			record := Attempt{SQL: sql}
			outcome.Attempts = append(outcome.Attempts, record)
			outcome.SQL = sql
			outcome.Result = result
			if onAttempt != nil {
				onAttempt(record)
			}
			return outcome, nil
		}

		var execErr *store.ExecutionError
		if !errors.As(err, &execErr) {
			return outcome, err
		}

		record := Attempt{SQL: sql, Err: execErr.Error()}
		outcome.Attempts = append(outcome.Attempts, record)
		if onAttempt != nil {
			onAttempt(record)
		}
		req.Failures = append(req.Failures, generate.Failure{SQL: sql, Err: execErr.Error()})
	}

	last := outcome.Attempts[len(outcome.Attempts)-1]
	return outcome, &ExhaustedError{Attempts: outcome.Attempts, Last: errors.New(last.Err)}
}
