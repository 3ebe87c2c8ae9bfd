package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/tabletalk/tabletalk/internal/critic"
	"github.com/tabletalk/tabletalk/internal/generate"
)

// FailureKind classifies why a question did not produce a result.
type FailureKind string

const (
	// FailureAdmissionRejected means the question had no overlap with the
	// loaded schema and was turned away before generation.
	FailureAdmissionRejected FailureKind = "admission_rejected"
	// FailureEmptySchema means pruning matched no columns at all.
	FailureEmptySchema FailureKind = "empty_schema"
	// FailureGeneration means the model call itself failed.
	FailureGeneration FailureKind = "generation_failed"
	// FailureRetriesExhausted means every generated query failed to execute.
	FailureRetriesExhausted FailureKind = "retries_exhausted"
	// FailureExecution means the database failed for reasons other than
	// the SQL, for example a closed connection.
	FailureExecution FailureKind = "execution_failed"
	// FailureCanceled means the caller abandoned the question.
	FailureCanceled FailureKind = "canceled"
)

// Error is the single error type the pipeline returns, carrying its
// classification so transports can map it to a status without string
// matching.
type Error struct {
	Kind FailureKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind FailureKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// classify maps errors from the stages into a failure kind.
func classify(err error) FailureKind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailureCanceled
	case errors.Is(err, generate.ErrEmptySchema):
		return FailureEmptySchema
	default:
	}

	var exhausted *critic.ExhaustedError
	if errors.As(err, &exhausted) {
		return FailureRetriesExhausted
	}
	var genErr *critic.GenerationError
	if errors.As(err, &genErr) {
		return FailureGeneration
	}
	return FailureExecution
}

// KindOf extracts the failure kind from a pipeline error, defaulting to
// execution failure for anything unclassified.
func KindOf(err error) FailureKind {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.Kind
	}
	return FailureExecution
}
