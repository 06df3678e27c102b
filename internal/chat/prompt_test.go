package chat

import (
	"testing"

	"osschat/internal/store"
)

func TestSystemPromptPerReasoningLevel(t *testing.T) {
	cases := map[store.ReasoningLevel]string{
		store.ReasoningLow:    "You are a helpful assistant. Reasoning: low",
		store.ReasoningMedium: "You are a helpful assistant. Reasoning: medium",
		store.ReasoningHigh:   "You are a helpful assistant. Reasoning: high",
	}
	for level, want := range cases {
		if got := SystemPrompt(level); got != want {
			t.Errorf("SystemPrompt(%s) = %q, want %q", level, got, want)
		}
	}
}

func TestBuildMessagesSystemFirstThenHistory(t *testing.T) {
	turns := []store.Turn{
		{Question: "hello", Answer: "hi there"},
		{Question: "and now?", Pending: true},
	}

	msgs := BuildMessages(store.ReasoningMedium, turns)

	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "You are a helpful assistant. Reasoning: medium" {
		t.Fatalf("bad system message: %+v", msgs[0])
	}
	if msgs[1].Role != "user" || msgs[1].Content != "hello" {
		t.Fatalf("bad first user message: %+v", msgs[1])
	}
	if msgs[2].Role != "assistant" || msgs[2].Content != "hi there" {
		t.Fatalf("bad assistant message: %+v", msgs[2])
	}
	if msgs[3].Role != "user" || msgs[3].Content != "and now?" {
		t.Fatalf("bad pending user message: %+v", msgs[3])
	}
}

func TestBuildMessagesFailedTurnKeepsOnlyUserHalf(t *testing.T) {
	turns := []store.Turn{
		{Question: "broken", Failed: true},
		{Question: "retry", Pending: true},
	}

	msgs := BuildMessages(store.ReasoningLow, turns)

	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for _, m := range msgs[1:] {
		if m.Role != "user" {
			t.Fatalf("failed turn leaked an assistant message: %+v", msgs)
		}
	}
}

func TestFlattenMatchesLegacyFormat(t *testing.T) {
	turns := []store.Turn{
		{Question: "What is 2+2?", Answer: "4"},
		{Question: "And 3+3?", Pending: true},
	}

	got := Flatten(store.ReasoningHigh, turns)
	want := "System: You are a helpful assistant. Reasoning: high\n\n" +
		"User: What is 2+2?\n" +
		"Assistant: 4\n" +
		"User: And 3+3?\n" +
		"Assistant:"

	if got != want {
		t.Fatalf("flattened prompt mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestFlattenEndsWithBareAssistantMarker(t *testing.T) {
	got := Flatten(store.ReasoningMedium, []store.Turn{{Question: "hi", Pending: true}})
	if got[len(got)-len("Assistant:"):] != "Assistant:" {
		t.Fatalf("prompt must end with a bare Assistant: marker, got %q", got)
	}
}

func TestPreamblePanicsOnUnknownLevel(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unknown reasoning level")
		}
	}()
	preamble(store.ReasoningLevel("extreme"))
}
