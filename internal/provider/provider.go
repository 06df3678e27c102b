// Package provider wraps the hosted inference endpoint behind a small
// client interface: a cheap deployment probe, a structured chat call and a
// raw completion call, each with a streaming variant.
package provider

import "context"

// Message is one role-tagged prompt message.
type Message struct {
	Role    string
	Content string
}

// Options are the generation knobs shared by both call tiers.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// ChatResult is a non-streaming structured reply. Content is the primary
// payload; some models put their text into ReasoningContent instead. Raw
// keeps the provider object for the last-resort string rendering.
type ChatResult struct {
	Content          string
	ReasoningContent string
	Raw              any
}

// Fragment is one streamed increment. Either field may be empty.
type Fragment struct {
	Content          string
	ReasoningContent string
}

// Stream is a lazy, finite, non-restartable sequence of fragments. Recv
// returns io.EOF when the sequence is exhausted.
type Stream interface {
	Recv() (Fragment, error)
	Close() error
}

// Client is the full capability surface consumed by the selector and the
// turn executor. Probe must never perform a generation call.
type Client interface {
	Probe(ctx context.Context, model string) error
	Chat(ctx context.Context, model string, messages []Message, opts Options) (ChatResult, error)
	ChatStream(ctx context.Context, model string, messages []Message, opts Options) (Stream, error)
	Complete(ctx context.Context, model, prompt string, opts Options) (string, error)
	CompleteStream(ctx context.Context, model, prompt string, opts Options) (Stream, error)
}
