package chat

import (
	"fmt"
	"strings"

	"osschat/internal/provider"
	"osschat/internal/store"
)

const assistantPersona = "You are a helpful assistant."

// preamble maps the closed reasoning enumeration to its prompt string. An
// unknown level is a programming error, not user input, so it panics.
func preamble(level store.ReasoningLevel) string {
	switch level {
	case store.ReasoningLow:
		return "Reasoning: low"
	case store.ReasoningMedium:
		return "Reasoning: medium"
	case store.ReasoningHigh:
		return "Reasoning: high"
	default:
		panic(fmt.Sprintf("chat: unknown reasoning level %q", level))
	}
}

// SystemPrompt is the system message injected ahead of the history.
func SystemPrompt(level store.ReasoningLevel) string {
	return assistantPersona + " " + preamble(level)
}

// BuildMessages assembles the role-tagged message list for the structured
// chat tier: system preamble first, then the transcript in order. The
// pending turn contributes only its user half; failed turns keep their user
// half so resubmitting retries them.
func BuildMessages(level store.ReasoningLevel, turns []store.Turn) []provider.Message {
	messages := make([]provider.Message, 0, 1+2*len(turns))
	messages = append(messages, provider.Message{Role: "system", Content: SystemPrompt(level)})
	for _, t := range turns {
		messages = append(messages, provider.Message{Role: "user", Content: t.Question})
		if t.Pending || t.Failed {
			continue
		}
		messages = append(messages, provider.Message{Role: "assistant", Content: t.Answer})
	}
	return messages
}

// Flatten serializes the same history into the single prompt string the
// legacy completion tier expects:
//
//	System: You are a helpful assistant. Reasoning: medium
//
//	User: <turn 1 user text>
//	Assistant: <turn 1 assistant text>
//	User: <latest user text>
//	Assistant:
//
// The trailing "Assistant:" carries no content after it.
func Flatten(level store.ReasoningLevel, turns []store.Turn) string {
	var b strings.Builder
	b.WriteString("System: ")
	b.WriteString(SystemPrompt(level))
	b.WriteString("\n\n")
	for _, t := range turns {
		b.WriteString("User: ")
		b.WriteString(t.Question)
		b.WriteString("\n")
		if t.Pending || t.Failed {
			continue
		}
		b.WriteString("Assistant: ")
		b.WriteString(t.Answer)
		b.WriteString("\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}
