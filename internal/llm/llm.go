// Package llm abstracts the language model behind small interfaces so the
// generation pipeline can be tested without network access.
package llm

import "context"

// Role values for chat messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Segment is one piece of the system prompt. Cacheable segments carry
// content that is byte-identical across requests against the same dataset,
// so the provider can serve them from its prompt cache. Per-request
// content (the question, failure history) must never be marked cacheable,
// otherwise it would poison the cache boundary.
type Segment struct {
	Content   string
	Cacheable bool
}

// Message is a single turn of the conversation sent to the model.
type Message struct {
	Role    string
	Content string
}

// Request is a full model invocation: system segments in order, then the
// conversation turns.
type Request struct {
	System      []Segment
	Messages    []Message
	Temperature float64
}

// Completer produces a single completion for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Streamer delivers a completion incrementally through onToken. The full
// text is the concatenation of all tokens; onToken is called from a single
// goroutine.
type Streamer interface {
	Stream(ctx context.Context, req Request, onToken func(token string)) error
}

// CompleterFunc adapts a function to the Completer interface for tests.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
