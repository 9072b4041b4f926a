// Package chatstate holds the current chat session, its message sequence
// and the known session summaries. Every change to the sequence or the
// current session is written through to durable client storage.
package chatstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"campuschat/pkg/domain"
	"campuschat/pkg/store"
)

// State is safe for concurrent use. Storage writes happen under the lock
// so the stored sequence always matches the last in-memory mutation.
type State struct {
	store        store.Store
	logger       *slog.Logger
	now          func() time.Time
	newChatTitle string

	mu         sync.RWMutex
	current    *domain.ChatSession
	messages   []domain.Message
	sessions   []domain.SessionSummary
	generation uint64
}

type Option func(*State)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// WithNewChatTitle sets the title used for archived sessions whose first
// message is empty.
func WithNewChatTitle(title string) Option {
	return func(s *State) { s.newChatTitle = title }
}

func New(s store.Store, logger *slog.Logger, opts ...Option) *State {
	if logger == nil {
		logger = slog.Default()
	}
	st := &State{
		store:        s,
		logger:       logger.With("component", "chat"),
		now:          time.Now,
		newChatTitle: "New chat",
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// Rehydrate loads the current session and message sequence from storage.
// Malformed slots are logged and treated as absent.
func (s *State) Rehydrate(ctx context.Context) error {
	var session domain.ChatSession
	hasSession, err := store.GetJSON(ctx, s.store, store.KeyCurrentSession, &session)
	if err != nil {
		if !errors.Is(err, store.ErrMalformed) {
			return fmt.Errorf("load current session: %w", err)
		}
		s.logger.Warn("ignoring malformed stored session", "err", err)
		hasSession = false
	}
	var messages []domain.Message
	hasMessages, err := store.GetJSON(ctx, s.store, store.KeyChatMessages, &messages)
	if err != nil {
		if !errors.Is(err, store.ErrMalformed) {
			return fmt.Errorf("load messages: %w", err)
		}
		s.logger.Warn("ignoring malformed stored messages", "err", err)
		hasMessages = false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if hasSession && session.SessionID != "" {
		s.current = &session
	}
	if hasMessages && len(messages) > 0 {
		s.messages = messages
	}
	return nil
}

// StartNewChat archives a non-empty conversation as a summary at the head
// of the session list, then clears the current session and sequence in
// memory and in storage. It returns the archived summary, if any.
func (s *State) StartNewChat(ctx context.Context) (*domain.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var archived *domain.SessionSummary
	if len(s.messages) > 0 {
		now := s.now()
		id := domain.ID(strconv.FormatInt(now.UnixMilli(), 10))
		if s.current != nil && s.current.SessionID != "" {
			id = s.current.SessionID
		}
		title := domain.TruncateTitle(s.messages[0].Message, domain.TitleLength)
		if title == "" {
			title = s.newChatTitle
		}
		summary := domain.SessionSummary{
			ID:           id,
			Title:        title,
			MessageCount: len(s.messages),
			Timestamp:    domain.NewTimestamp(now),
		}
		s.sessions = append([]domain.SessionSummary{summary}, s.sessions...)
		archived = &summary
	}

	s.current = nil
	s.messages = nil
	s.generation++
	if err := s.store.Remove(ctx, store.KeyChatMessages, store.KeyCurrentSession); err != nil {
		return archived, fmt.Errorf("clear chat slots: %w", err)
	}
	return archived, nil
}

// AddMessage appends msg and persists the full sequence.
func (s *State) AddMessage(ctx context.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return s.persistMessagesLocked(ctx)
}

// UpdateMessage applies fn to the message with the given id and persists
// the sequence. It reports whether the message was found.
func (s *State) UpdateMessage(ctx context.Context, id string, fn func(*domain.Message)) (bool, error) {
	if id == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			fn(&s.messages[i])
			return true, s.persistMessagesLocked(ctx)
		}
	}
	return false, nil
}

// SetSessionMessages replaces the sequence wholesale.
func (s *State) SetSessionMessages(ctx context.Context, messages []domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append([]domain.Message(nil), messages...)
	return s.persistMessagesLocked(ctx)
}

// SetCurrentSession replaces the current session. A nil session is kept
// in memory only.
func (s *State) SetCurrentSession(ctx context.Context, session *domain.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session == nil {
		s.current = nil
		return nil
	}
	cp := *session
	s.current = &cp
	return s.persistSessionLocked(ctx)
}

// SwitchSession makes session current with the given history. In-flight
// work tagged with the previous generation becomes stale.
func (s *State) SwitchSession(ctx context.Context, session domain.ChatSession, messages []domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.current = &session
	s.messages = append([]domain.Message(nil), messages...)
	if err := s.persistSessionLocked(ctx); err != nil {
		return err
	}
	return s.persistMessagesLocked(ctx)
}

// SetSessions replaces the summaries.
func (s *State) SetSessions(list []domain.SessionSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append([]domain.SessionSummary(nil), list...)
}

// RemoveSession drops the summary with the given id.
func (s *State) RemoveSession(id domain.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, summary := range s.sessions {
		if summary.ID == id {
			s.sessions = append(s.sessions[:i:i], s.sessions[i+1:]...)
			return true
		}
	}
	return false
}

// CurrentSession returns a copy of the current session.
func (s *State) CurrentSession() (domain.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return domain.ChatSession{}, false
	}
	return *s.current, true
}

// Messages returns a copy of the sequence in display order.
func (s *State) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Message(nil), s.messages...)
}

// Sessions returns a copy of the summaries, most recent first.
func (s *State) Sessions() []domain.SessionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.SessionSummary(nil), s.sessions...)
}

// Generation changes whenever the conversation is replaced.
func (s *State) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

func (s *State) persistMessagesLocked(ctx context.Context) error {
	msgs := s.messages
	if msgs == nil {
		msgs = []domain.Message{}
	}
	if err := store.SetJSON(ctx, s.store, store.KeyChatMessages, msgs); err != nil {
		return fmt.Errorf("persist messages: %w", err)
	}
	return nil
}

func (s *State) persistSessionLocked(ctx context.Context) error {
	if err := store.SetJSON(ctx, s.store, store.KeyCurrentSession, s.current); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}
