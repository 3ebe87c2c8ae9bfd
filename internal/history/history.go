// Package history records answered questions for audit and for the
// recent-activity listing.
package history

import (
	"context"
	"time"
)

// Exchange is one completed question, successful or not.
type Exchange struct {
	ID        int64
	TraceID   string
	Question  string
	SQL       string
	Outcome   string
	RowCount  int
	Attempts  int
	Duration  time.Duration
	CreatedAt time.Time
}

type Recorder interface {
	Record(ctx context.Context, exchange Exchange) (Exchange, error)
	Recent(ctx context.Context, limit int) ([]Exchange, error)
}

// Nop is the recorder used when no history database is configured.
type Nop struct{}

func (Nop) Record(_ context.Context, exchange Exchange) (Exchange, error) {
	return exchange, nil
}

func (Nop) Recent(context.Context, int) ([]Exchange, error) {
	return nil, nil
}
