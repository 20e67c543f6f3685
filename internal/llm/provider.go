package llm

import (
	"context"

	"github.com/hyperifyio/deepresearch/internal/message"
)

// Options carries the per-call knobs shared by every backend. A zero
// MaxTokens means the backend default (20000). ContextWindow values of
// 2000 or below are treated as "use the model default" and omitted from
// the request.
type Options struct {
	Model         string
	MaxTokens     int
	ContextWindow int
}

const defaultMaxTokens = 20000

// ListResult is the outcome of a list-parsing call: either the planner's
// stop sentinel, or a (possibly empty) list of strings.
type ListResult struct {
	Done  bool
	Items []string
}

// Provider is the capability set core logic needs from a chat backend.
// GenerateStream returns a lazy finite sequence of text chunks; the chunk
// channel is closed when the stream ends and a terminal error, if any, is
// delivered on the error channel. Streams are not restartable.
type Provider interface {
	Generate(ctx context.Context, msgs message.List, opts Options) (string, error)
	GenerateStream(ctx context.Context, msgs message.List, opts Options) (<-chan string, <-chan error)
	GenerateAndParseList(ctx context.Context, msgs message.List, opts Options) (ListResult, error)
}

// collect drains a stream into a single string. A non-nil error is returned
// together with whatever content arrived before it.
func collect(chunks <-chan string, errs <-chan error) (string, error) {
	var b []byte
	for c := range chunks {
		b = append(b, c...)
	}
	if err := <-errs; err != nil {
		return string(b), err
	}
	return string(b), nil
}
