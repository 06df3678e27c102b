// Package chat runs one conversation turn end to end: pending user entry,
// tiered provider call (structured chat first, raw completion second),
// streamed or batch reply extraction, and the single durable commit.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"osschat/internal/provider"
	"osschat/internal/store"
)

// ErrGenerationFailed wraps a turn where both call tiers failed. The pending
// turn is kept with an empty failed answer; resubmitting retries it.
var ErrGenerationFailed = errors.New("generation failed on both call tiers")

// Executor drives turns against a resolved model. One Send is fully
// synchronous: at most one outbound call is in flight at a time and the two
// tiers are strictly sequential.
type Executor struct {
	store    *store.Store
	client   provider.Client
	selector *provider.Selector
	opts     provider.Options
	logger   *zap.SugaredLogger
}

func NewExecutor(st *store.Store, client provider.Client, selector *provider.Selector, opts provider.Options, logger *zap.SugaredLogger) *Executor {
	return &Executor{
		store:    st,
		client:   client,
		selector: selector,
		opts:     opts,
		logger:   logger,
	}
}

// Result reports a completed turn. PersistErr carries a durability failure
// that did not stop the turn; the in-memory transcript is authoritative.
type Result struct {
	ConversationID string
	Answer         string
	PersistErr     error
}

// Send executes one turn for the given conversation. When onPartial is
// non-nil the reply is streamed and onPartial receives the full accumulated
// text so far after every fragment (not deltas). The transcript is committed
// exactly once, after the reply is complete.
func (e *Executor) Send(ctx context.Context, convID, text string, onPartial func(string)) (*Result, error) {
	model, err := e.selector.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	level := e.store.ReasoningLevel()

	handle, persistErr := e.store.AppendUserTurn(ctx, convID, text)
	if persistErr != nil && errors.Is(persistErr, store.ErrNotFound) {
		return nil, persistErr
	}

	history, err := e.store.History(convID)
	if err != nil {
		return nil, err
	}

	answer, structuredErr := e.structuredTier(ctx, model, level, history, onPartial)
	if structuredErr != nil {
		e.logger.Warnf("chat: structured call failed, falling back to completion: %v", structuredErr)

		var legacyErr error
		answer, legacyErr = e.legacyTier(ctx, model, level, history, onPartial)
		if legacyErr != nil {
			e.logger.Errorf("chat: legacy call failed: %v", legacyErr)
			if err := e.store.FailTurn(ctx, convID, handle); err != nil && !isPersistOnly(err) {
				e.logger.Warnf("chat: could not mark turn failed: %v", err)
			}
			return nil, fmt.Errorf("%w: structured: %v; legacy: %v", ErrGenerationFailed, structuredErr, legacyErr)
		}
	}

	commitErr := e.store.CompleteTurn(ctx, convID, handle, answer)
	if commitErr != nil && !isPersistOnly(commitErr) {
		return nil, commitErr
	}

	if persistErr == nil {
		persistErr = commitErr
	}

	return &Result{ConversationID: convID, Answer: answer, PersistErr: persistErr}, nil
}

// structuredTier performs the role-tagged chat call.
func (e *Executor) structuredTier(ctx context.Context, model string, level store.ReasoningLevel, history []store.Turn, onPartial func(string)) (string, error) {
	messages := BuildMessages(level, history)

	if onPartial != nil {
		stream, err := e.client.ChatStream(ctx, model, messages, e.opts)
		if err != nil {
			return "", err
		}
		return drainStream(stream, onPartial)
	}

	res, err := e.client.Chat(ctx, model, messages, e.opts)
	if err != nil {
		return "", err
	}
	return extractText(res), nil
}

// legacyTier performs the flattened raw completion call.
func (e *Executor) legacyTier(ctx context.Context, model string, level store.ReasoningLevel, history []store.Turn, onPartial func(string)) (string, error) {
	prompt := Flatten(level, history)

	if onPartial != nil {
		stream, err := e.client.CompleteStream(ctx, model, prompt, e.opts)
		if err != nil {
			return "", err
		}
		return drainStream(stream, onPartial)
	}

	text, err := e.client.Complete(ctx, model, prompt, e.opts)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// drainStream accumulates fragments in delivery order. Individual fragments
// are concatenated untouched; only the final result is trimmed. Content
// takes precedence over reasoning text when both arrive.
func drainStream(stream provider.Stream, onPartial func(string)) (string, error) {
	defer stream.Close()

	var content, reasoning strings.Builder
	for {
		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		content.WriteString(frag.Content)
		reasoning.WriteString(frag.ReasoningContent)

		if sofar := accumulated(content.String(), reasoning.String()); sofar != "" {
			onPartial(sofar)
		}
	}

	answer := strings.TrimSpace(accumulated(content.String(), reasoning.String()))
	if answer == "" {
		return "", errors.New("stream produced no textual content")
	}
	return answer, nil
}

func accumulated(content, reasoning string) string {
	if content != "" {
		return content
	}
	return reasoning
}

// extractText locates the assistant payload in a structured response. The
// primary content field wins, then the reasoning field; as a last resort the
// raw response object is rendered to a string so the pipeline never yields
// an empty answer.
func extractText(res provider.ChatResult) string {
	if s := strings.TrimSpace(res.Content); s != "" {
		return s
	}
	if s := strings.TrimSpace(res.ReasoningContent); s != "" {
		return s
	}
	return strings.TrimSpace(fmt.Sprintf("%+v", res.Raw))
}

// isPersistOnly distinguishes durability failures (turn applied in memory)
// from real misses like a deleted conversation or bad handle.
func isPersistOnly(err error) bool {
	return err != nil &&
		!errors.Is(err, store.ErrNotFound) &&
		!errors.Is(err, store.ErrBadHandle) &&
		!errors.Is(err, store.ErrNotPending)
}
