package store

import (
	"encoding/json"
	"strings"
)

// SchemaVersion tags the persisted document. Snapshots carrying any other
// version (or none) are discarded on load rather than partially imported.
const SchemaVersion = 1

// ReasoningLevel is the closed three-valued selector forwarded to the model
// as a system preamble.
type ReasoningLevel string

const (
	ReasoningLow    ReasoningLevel = "Low"
	ReasoningMedium ReasoningLevel = "Medium"
	ReasoningHigh   ReasoningLevel = "High"
)

// ParseReasoningLevel validates a user-supplied level. The zero return plus
// false means the value is outside the enumeration.
func ParseReasoningLevel(raw string) (ReasoningLevel, bool) {
	switch ReasoningLevel(strings.TrimSpace(raw)) {
	case ReasoningLow:
		return ReasoningLow, true
	case ReasoningMedium:
		return ReasoningMedium, true
	case ReasoningHigh:
		return ReasoningHigh, true
	default:
		return "", false
	}
}

// Turn is the canonical in-memory form of one exchange: the user's question
// and the assistant's answer. While a request is in flight the answer is
// empty and Pending is set; a terminal provider failure clears Pending and
// sets Failed so the client can offer a resubmit.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Pending  bool   `json:"pending,omitempty"`
	Failed   bool   `json:"failed,omitempty"`
}

// Conversation is a named ordered transcript. Turn order is the transcript
// order and is never reordered.
type Conversation struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Turns []Turn `json:"messages"`
}

// Clone returns a deep copy safe to hand outside the store lock.
func (c *Conversation) Clone() *Conversation {
	cp := &Conversation{ID: c.ID, Title: c.Title}
	cp.Turns = append([]Turn(nil), c.Turns...)
	return cp
}

// Snapshot is the full persisted state exchanged with a Persister.
type Snapshot struct {
	Version       int                    `json:"version" bson:"version"`
	Active        string                 `json:"active,omitempty" bson:"active,omitempty"`
	Reasoning     string                 `json:"reasoning,omitempty" bson:"reasoning,omitempty"`
	Conversations []ConversationSnapshot `json:"conversations" bson:"conversations"`
}

// ConversationSnapshot mirrors Conversation in its wire form. Messages stay
// as TurnRecord so heterogeneous historical shapes survive decoding and get
// normalized in exactly one place (see normalizeTurns).
type ConversationSnapshot struct {
	ID       string       `json:"id" bson:"_id"`
	Title    string       `json:"title" bson:"title"`
	Messages []TurnRecord `json:"messages" bson:"messages"`
}

// TurnRecord is the tolerant decoding target for one persisted message.
// Three historical shapes exist across the variants that produced the data:
// the canonical {question, answer} pair, a role-tagged {role, content}
// message, and a bare [question, answer] tuple. Anything else decodes to the
// zero record instead of failing the whole load.
type TurnRecord struct {
	Role     string `json:"-" bson:"-"`
	Content  string `json:"-" bson:"-"`
	Question string `json:"question" bson:"question"`
	Answer   string `json:"answer" bson:"answer"`
	pair     bool
}

// MarshalJSON always emits the canonical pair form.
func (r TurnRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}{Question: r.Question, Answer: r.Answer})
}

func (r *TurnRecord) UnmarshalJSON(data []byte) error {
	*r = TurnRecord{}

	var pair struct {
		Question *string `json:"question"`
		Answer   *string `json:"answer"`
	}
	if err := json.Unmarshal(data, &pair); err == nil && (pair.Question != nil || pair.Answer != nil) {
		if pair.Question != nil {
			r.Question = *pair.Question
		}
		if pair.Answer != nil {
			r.Answer = *pair.Answer
		}
		r.pair = true
		return nil
	}

	var tagged struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &tagged); err == nil && tagged.Role != "" {
		r.Role = tagged.Role
		r.Content = tagged.Content
		return nil
	}

	var tuple []string
	if err := json.Unmarshal(data, &tuple); err == nil && len(tuple) > 0 {
		r.Question = tuple[0]
		if len(tuple) > 1 {
			r.Answer = tuple[1]
		}
		r.pair = true
		return nil
	}

	// malformed entry: keep the empty pair, never raise
	r.pair = true
	return nil
}

// recordFromTurn converts a canonical turn back to its wire form.
func recordFromTurn(t Turn) TurnRecord {
	return TurnRecord{Question: t.Question, Answer: t.Answer, pair: true}
}

// normalizeTurns is the sole ingestion point for persisted messages. Pair
// records map 1:1 to turns; role-tagged records are folded into pairs, a
// "user" record opening a new turn and an "assistant" record completing the
// last open one. Transcript order is preserved throughout.
func normalizeTurns(records []TurnRecord) []Turn {
	turns := make([]Turn, 0, len(records))
	open := false
	for _, rec := range records {
		if rec.Role == "" {
			turns = append(turns, Turn{Question: rec.Question, Answer: rec.Answer})
			open = false
			continue
		}
		switch strings.ToLower(strings.TrimSpace(rec.Role)) {
		case "assistant":
			if open {
				turns[len(turns)-1].Answer = rec.Content
				open = false
			} else {
				turns = append(turns, Turn{Answer: rec.Content})
			}
		case "system":
			// system preambles are rebuilt per request, not part of the transcript
		default:
			turns = append(turns, Turn{Question: rec.Content})
			open = true
		}
	}
	return turns
}
