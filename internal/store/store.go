package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultTitle  = "New Chat"
	titleMaxRunes = 30

	saveAttempts = 3
	saveBackoff  = 50 * time.Millisecond
)

var (
	ErrNotFound   = errors.New("conversation not found")
	ErrBadHandle  = errors.New("turn handle out of range")
	ErrNotPending = errors.New("turn is not pending")
)

// Persister is the durability boundary of the store. Implementations load
// and save full snapshots; the store never partially writes.
type Persister interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// Store owns every Conversation in the process. All mutation goes through it
// and every mutation is followed by a synchronous persist; a persist failure
// is returned to the caller but the in-memory state stays authoritative.
type Store struct {
	mu        sync.Mutex
	persister Persister
	logger    *zap.SugaredLogger

	order     []string
	byID      map[string]*Conversation
	activeID  string
	reasoning ReasoningLevel
}

// Open hydrates the store from the persister. A missing, unreadable or
// version-mismatched snapshot yields a fresh store with one empty active
// conversation instead of an error.
func Open(ctx context.Context, p Persister, logger *zap.SugaredLogger) (*Store, error) {
	s := &Store{
		persister: p,
		logger:    logger,
		byID:      make(map[string]*Conversation),
		reasoning: ReasoningMedium,
	}

	snap, err := p.Load(ctx)
	if err != nil {
		logger.Warnf("store: load failed, starting empty: %v", err)
		snap = nil
	}
	if snap != nil && snap.Version != SchemaVersion {
		if snap.Version != 0 || len(snap.Conversations) > 0 {
			logger.Warnf("store: discarding snapshot with schema version %d", snap.Version)
		}
		snap = nil
	}

	if snap != nil {
		s.hydrate(snap)
	}

	if len(s.order) == 0 {
		id := uuid.NewString()
		s.byID[id] = &Conversation{ID: id, Title: defaultTitle}
		s.order = append(s.order, id)
		s.activeID = id
		if err := s.persist(ctx); err != nil {
			logger.Warnf("store: initial persist failed: %v", err)
		}
	}

	return s, nil
}

func (s *Store) hydrate(snap *Snapshot) {
	for _, cs := range snap.Conversations {
		if cs.ID == "" {
			continue
		}
		if _, dup := s.byID[cs.ID]; dup {
			continue
		}
		title := cs.Title
		if title == "" {
			title = defaultTitle
		}
		s.byID[cs.ID] = &Conversation{
			ID:    cs.ID,
			Title: title,
			Turns: normalizeTurns(cs.Messages),
		}
		s.order = append(s.order, cs.ID)
	}

	if _, ok := s.byID[snap.Active]; ok {
		s.activeID = snap.Active
	} else if len(s.order) > 0 {
		s.activeID = s.order[0]
	}

	if level, ok := ParseReasoningLevel(snap.Reasoning); ok {
		s.reasoning = level
	}
}

// snapshot must be called with the lock held.
func (s *Store) snapshot() *Snapshot {
	snap := &Snapshot{
		Version:   SchemaVersion,
		Active:    s.activeID,
		Reasoning: string(s.reasoning),
	}
	for _, id := range s.order {
		c := s.byID[id]
		cs := ConversationSnapshot{ID: c.ID, Title: c.Title}
		for _, t := range c.Turns {
			cs.Messages = append(cs.Messages, recordFromTurn(t))
		}
		snap.Conversations = append(snap.Conversations, cs)
	}
	return snap
}

// persist writes the current state, retrying a bounded number of times.
// Transient filesystem contention is the expected failure mode, so a short
// backoff between attempts is enough.
func (s *Store) persist(ctx context.Context) error {
	snap := s.snapshot()

	var err error
	for attempt := 1; attempt <= saveAttempts; attempt++ {
		if err = s.persister.Save(ctx, snap); err == nil {
			return nil
		}
		if attempt < saveAttempts {
			time.Sleep(saveBackoff * time.Duration(attempt))
		}
	}

	s.logger.Errorf("store: persist failed after %d attempts: %v", saveAttempts, err)
	return fmt.Errorf("persist conversations: %w", err)
}

// Create allocates a new conversation, makes it active and persists. An
// empty title is auto-numbered.
func (s *Store) Create(ctx context.Context, title string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	title = trimTitle(title)
	if title == "" {
		if n := len(s.order); n > 0 {
			title = fmt.Sprintf("%s %d", defaultTitle, n+1)
		} else {
			title = defaultTitle
		}
	}

	id := uuid.NewString()
	c := &Conversation{ID: id, Title: title}
	s.byID[id] = c
	s.order = append(s.order, id)
	s.activeID = id

	return c.Clone(), s.persist(ctx)
}

// Rename replaces a conversation title. A whitespace-only title is a no-op
// and keeps the existing title.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}

	title = trimTitle(title)
	if title == "" {
		return nil
	}

	c.Title = title
	return s.persist(ctx)
}

// Delete removes a conversation. When the active one is deleted, the first
// remaining conversation in insertion order becomes active, or none.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}

	delete(s.byID, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	if s.activeID == id {
		s.activeID = ""
		if len(s.order) > 0 {
			s.activeID = s.order[0]
		}
	}

	return s.persist(ctx)
}

// Clear empties a conversation's transcript, keeping its ID and title.
func (s *Store) Clear(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}

	c.Turns = nil
	return s.persist(ctx)
}

// AppendUserTurn adds a pending turn holding the user text and persists
// immediately, so the user half survives a crash before the reply arrives.
// The returned handle addresses the turn for CompleteTurn / FailTurn.
func (s *Store) AppendUserTurn(ctx context.Context, id, text string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return -1, ErrNotFound
	}

	c.Turns = append(c.Turns, Turn{Question: text, Pending: true})
	handle := len(c.Turns) - 1

	if err := s.persist(ctx); err != nil {
		return handle, err
	}
	return handle, nil
}

// CompleteTurn fills in the assistant answer for a pending turn. The first
// completed exchange of a conversation derives its title from the question.
func (s *Store) CompleteTurn(ctx context.Context, id string, handle int, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if handle < 0 || handle >= len(c.Turns) {
		return ErrBadHandle
	}

	t := &c.Turns[handle]
	if !t.Pending {
		return ErrNotPending
	}

	t.Answer = answer
	t.Pending = false
	t.Failed = false

	if handle == 0 {
		c.Title = deriveTitle(t.Question)
	}

	return s.persist(ctx)
}

// FailTurn marks a pending turn as terminally failed. The user text is kept
// and the answer stays empty, so resubmitting the message retries the turn.
func (s *Store) FailTurn(ctx context.Context, id string, handle int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if handle < 0 || handle >= len(c.Turns) {
		return ErrBadHandle
	}

	t := &c.Turns[handle]
	t.Pending = false
	t.Failed = true

	return s.persist(ctx)
}

// SetActive switches the selected conversation and persists the selection.
func (s *Store) SetActive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	s.activeID = id
	return s.persist(ctx)
}

// Active returns the selected conversation, or nil when the store is empty.
func (s *Store) Active() *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[s.activeID]
	if !ok {
		return nil
	}
	return c.Clone()
}

// ActiveID returns the selected conversation ID, empty when none.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Get returns a copy of one conversation.
func (s *Store) Get(id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// List returns all conversations in insertion order.
func (s *Store) List() []*Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Clone())
	}
	return out
}

// History returns the transcript of one conversation for prompt assembly.
// The pending turn, if any, contributes only its user half.
func (s *Store) History(id string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]Turn(nil), c.Turns...), nil
}

// SetReasoningLevel updates the process-wide reasoning selector.
func (s *Store) SetReasoningLevel(ctx context.Context, level ReasoningLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reasoning = level
	return s.persist(ctx)
}

// ReasoningLevel returns the current reasoning selector.
func (s *Store) ReasoningLevel() ReasoningLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reasoning
}

func trimTitle(title string) string {
	return strings.TrimSpace(title)
}

// deriveTitle keeps the first 30 characters of the first user message,
// appending "..." only when something was cut off.
func deriveTitle(question string) string {
	runes := []rune(question)
	if len(runes) <= titleMaxRunes {
		return question
	}
	return string(runes[:titleMaxRunes]) + "..."
}
