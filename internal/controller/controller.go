// Package controller is the chat page logic, independent of rendering:
// loading the session list, sending messages with lazy session creation,
// and switching, deleting and searching sessions.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"campuschat/internal/chatstate"
	"campuschat/internal/i18n"
	"campuschat/internal/util"
	"campuschat/pkg/apiclient"
	"campuschat/pkg/domain"
)

var (
	// ErrEmptyMessage rejects blank input before anything is appended.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrRateLimited rejects a send over the configured quota.
	ErrRateLimited = errors.New("too many messages")
	// ErrNoSession is returned by operations that need a current session.
	ErrNoSession = errors.New("no current session")

	errStaleSession = errors.New("session created for a replaced conversation")
)

// ChatAPI is the part of the backend the controller talks to.
type ChatAPI interface {
	StartSession(ctx context.Context) (domain.ID, error)
	SendMessage(ctx context.Context, sessionID domain.ID, message string) (apiclient.SendMessageResponse, error)
	History(ctx context.Context, sessionID domain.ID) ([]domain.Message, error)
	EndSession(ctx context.Context, sessionID domain.ID) error
	ListSessions(ctx context.Context) ([]domain.RemoteSession, error)
	DeleteSession(ctx context.Context, sessionID domain.ID) error
}

// Limiter throttles sends per key.
type Limiter interface {
	Allow(key string) bool
}

// Phase is the lazy session-creation state.
type Phase int

const (
	PhaseNoSession Phase = iota
	PhaseCreating
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseNoSession:
		return "no-session"
	case PhaseCreating:
		return "creating"
	case PhaseActive:
		return "active"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Config wires the controller's dependencies.
type Config struct {
	API     ChatAPI
	Chat    *chatstate.State
	Texts   i18n.Catalog
	Logger  *slog.Logger
	Limiter Limiter
	// LimitKey names the throttle bucket, usually the user id.
	LimitKey func() string
	Now      func() time.Time
}

type Controller struct {
	api      ChatAPI
	chat     *chatstate.State
	texts    i18n.Catalog
	logger   *slog.Logger
	limiter  Limiter
	limitKey func() string
	now      func() time.Time

	sessions singleflight.Group
	mu       sync.Mutex
	creating int
}

func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	limitKey := cfg.LimitKey
	if limitKey == nil {
		limitKey = func() string { return "" }
	}
	return &Controller{
		api:      cfg.API,
		chat:     cfg.Chat,
		texts:    cfg.Texts,
		logger:   logger.With("component", "controller"),
		limiter:  cfg.Limiter,
		limitKey: limitKey,
		now:      now,
	}
}

// SendResult describes what a Send appended.
type SendResult struct {
	User      domain.Message
	Reply     domain.Message
	SessionID domain.ID
	// Err is the backend failure behind an error reply, if any.
	Err error
	// Discarded is set when the conversation was replaced while the
	// request was in flight and its outcome was dropped.
	Discarded bool
}

// Mount loads the backend session list and rehydrates the stored
// conversation concurrently. A failed list fetch yields an empty list.
func (c *Controller) Mount(ctx context.Context) error {
	var (
		g         errgroup.Group
		summaries []domain.SessionSummary
	)
	g.Go(func() error {
		summaries = c.fetchSummaries(ctx)
		return nil
	})
	g.Go(func() error {
		return c.chat.Rehydrate(ctx)
	})
	err := g.Wait()
	c.chat.SetSessions(summaries)
	if err != nil {
		c.logger.Warn("rehydrate failed", "err", err)
		return err
	}
	return nil
}

// RefreshSessions replaces the summaries with the backend list. On error
// the current summaries are kept.
func (c *Controller) RefreshSessions(ctx context.Context) error {
	remote, err := c.api.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	c.chat.SetSessions(c.summarize(remote))
	return nil
}

// Outgoing is a user message appended by Begin and not yet answered.
type Outgoing struct {
	Message    domain.Message
	generation uint64
}

// Send is Begin followed by Complete.
func (c *Controller) Send(ctx context.Context, text string, files []string) (SendResult, error) {
	out, err := c.Begin(ctx, text, files)
	if err != nil {
		return SendResult{}, err
	}
	return c.Complete(ctx, out), nil
}

// Begin validates text and appends it as a pending user message, without
// touching the network. Blank text and throttled sends append nothing.
func (c *Controller) Begin(ctx context.Context, text string, files []string) (Outgoing, error) {
	if strings.TrimSpace(text) == "" {
		return Outgoing{}, ErrEmptyMessage
	}
	if c.limiter != nil && !c.limiter.Allow(c.limitKey()) {
		return Outgoing{}, ErrRateLimited
	}
	gen := c.chat.Generation()
	userMsg := domain.Message{
		ID:        util.NewMessageID(),
		Sender:    domain.SenderUser,
		Message:   text,
		Timestamp: domain.NewTimestamp(c.now()),
		Files:     append([]string(nil), files...),
		Status:    domain.MessagePending,
	}
	c.warnPersist(c.chat.AddMessage(ctx, userMsg))
	return Outgoing{Message: userMsg, generation: gen}, nil
}

// Complete creates a session when none is current, forwards the message and
// appends the reply or an error reply. The user message is never removed;
// backend failures are reported through SendResult.Err and a visible bot
// message.
func (c *Controller) Complete(ctx context.Context, out Outgoing) SendResult {
	gen := out.generation
	userMsg := out.Message
	text := userMsg.Message
	result := SendResult{User: userMsg}

	sessionID, err := c.ensureSession(ctx, gen)
	if c.chat.Generation() != gen {
		c.logger.Info("conversation replaced during session start; dropping send")
		result.Discarded = true
		return result
	}
	if err != nil {
		c.logger.Warn("start session failed", "err", err)
		result.User = c.settle(ctx, userMsg, domain.MessageFailed)
		result.Reply = c.reply(ctx, c.texts.SessionStartFailed, nil, true)
		result.Err = err
		return result
	}
	result.SessionID = sessionID

	resp, err := c.api.SendMessage(ctx, sessionID, text)
	if !c.isCurrent(gen, sessionID) {
		c.logger.Info("dropping late reply", "session_id", sessionID)
		result.Discarded = true
		return result
	}
	if err != nil {
		c.logger.Warn("send message failed", "session_id", sessionID, "err", err)
		msg := apiclient.BackendMessage(err)
		if msg == "" {
			msg = c.texts.NoReply
		}
		result.User = c.settle(ctx, userMsg, domain.MessageFailed)
		result.Reply = c.reply(ctx, msg, nil, true)
		result.Err = err
		return result
	}

	answer := resp.Response
	if answer == "" {
		answer = c.texts.MessageReceived
	}
	result.User = c.settle(ctx, userMsg, domain.MessageSent)
	result.Reply = c.reply(ctx, answer, resp.Metadata, false)
	return result
}

// NewChat archives the current conversation and clears it.
func (c *Controller) NewChat(ctx context.Context) (*domain.SessionSummary, error) {
	return c.chat.StartNewChat(ctx)
}

// EndSession closes the current session on the backend, then starts a new
// chat. On backend failure the conversation is left as is.
func (c *Controller) EndSession(ctx context.Context) error {
	current, ok := c.chat.CurrentSession()
	if !ok {
		return ErrNoSession
	}
	if err := c.api.EndSession(ctx, current.SessionID); err != nil {
		return fmt.Errorf("end session %s: %w", current.SessionID, err)
	}
	_, err := c.chat.StartNewChat(ctx)
	return err
}

// SelectSession loads a stored session's history and makes it current.
func (c *Controller) SelectSession(ctx context.Context, sessionID domain.ID) error {
	history, err := c.api.History(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load history %s: %w", sessionID, err)
	}
	session := domain.ChatSession{SessionID: sessionID}
	for _, summary := range c.chat.Sessions() {
		if summary.ID == sessionID {
			session.Title = summary.Title
			break
		}
	}
	return c.chat.SwitchSession(ctx, session, history)
}

// DeleteSession deletes a session on the backend and drops its summary.
// Deleting the current session also clears the conversation.
func (c *Controller) DeleteSession(ctx context.Context, sessionID domain.ID) error {
	if err := c.api.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	if current, ok := c.chat.CurrentSession(); ok && current.SessionID == sessionID {
		if _, err := c.chat.StartNewChat(ctx); err != nil {
			c.logger.Warn("clear deleted session", "err", err)
		}
	}
	c.chat.RemoveSession(sessionID)
	return nil
}

// Search returns backend sessions whose title or messages contain query,
// case-insensitively. An empty query returns every session.
func (c *Controller) Search(ctx context.Context, query string) ([]domain.RemoteSession, error) {
	remote, err := c.api.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return remote, nil
	}
	var out []domain.RemoteSession
	for _, session := range remote {
		if matches(session, query) {
			out = append(out, session)
		}
	}
	return out, nil
}

// Phase reports the lazy session-creation state.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	creating := c.creating
	c.mu.Unlock()
	if creating > 0 {
		return PhaseCreating
	}
	if _, ok := c.chat.CurrentSession(); ok {
		return PhaseActive
	}
	return PhaseNoSession
}

func (c *Controller) Messages() []domain.Message { return c.chat.Messages() }

func (c *Controller) Sessions() []domain.SessionSummary { return c.chat.Sessions() }

func (c *Controller) CurrentSession() (domain.ChatSession, bool) { return c.chat.CurrentSession() }

// ensureSession returns the current session id, creating one when absent.
// Concurrent callers of the same conversation generation wait for a single
// creation; a newer conversation never joins an older one's.
func (c *Controller) ensureSession(ctx context.Context, gen uint64) (domain.ID, error) {
	if current, ok := c.chat.CurrentSession(); ok {
		return current.SessionID, nil
	}
	v, err, _ := c.sessions.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		if c.chat.Generation() != gen {
			return domain.ID(""), errStaleSession
		}
		if current, ok := c.chat.CurrentSession(); ok {
			return current.SessionID, nil
		}
		c.setCreating(true)
		defer c.setCreating(false)

		id, err := c.api.StartSession(ctx)
		if err != nil {
			return domain.ID(""), err
		}
		if c.chat.Generation() != gen {
			return domain.ID(""), errStaleSession
		}
		session := domain.ChatSession{SessionID: id, CreatedAt: domain.NewTimestamp(c.now())}
		c.warnPersist(c.chat.SetCurrentSession(ctx, &session))
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(domain.ID), nil
}

func (c *Controller) setCreating(v bool) {
	c.mu.Lock()
	if v {
		c.creating++
	} else {
		c.creating--
	}
	c.mu.Unlock()
}

func (c *Controller) isCurrent(gen uint64, sessionID domain.ID) bool {
	if c.chat.Generation() != gen {
		return false
	}
	current, ok := c.chat.CurrentSession()
	return ok && current.SessionID == sessionID
}

func (c *Controller) settle(ctx context.Context, msg domain.Message, status domain.MessageStatus) domain.Message {
	_, err := c.chat.UpdateMessage(ctx, msg.ID, func(m *domain.Message) { m.Status = status })
	c.warnPersist(err)
	msg.Status = status
	return msg
}

func (c *Controller) reply(ctx context.Context, text string, metadata []byte, isError bool) domain.Message {
	msg := domain.Message{
		ID:        util.NewMessageID(),
		Sender:    domain.SenderBot,
		Message:   text,
		Timestamp: domain.NewTimestamp(c.now()),
		Metadata:  metadata,
		IsError:   isError,
	}
	c.warnPersist(c.chat.AddMessage(ctx, msg))
	return msg
}

func (c *Controller) warnPersist(err error) {
	if err != nil {
		c.logger.Warn("persist chat state", "err", err)
	}
}

func (c *Controller) fetchSummaries(ctx context.Context) []domain.SessionSummary {
	remote, err := c.api.ListSessions(ctx)
	if err != nil {
		c.logger.Warn("fetch sessions failed; showing none", "err", err)
		return []domain.SessionSummary{}
	}
	return c.summarize(remote)
}

func (c *Controller) summarize(remote []domain.RemoteSession) []domain.SessionSummary {
	out := make([]domain.SessionSummary, 0, len(remote))
	for _, session := range remote {
		out = append(out, session.Summary(c.texts.NewChatTitle))
	}
	return out
}

func matches(session domain.RemoteSession, query string) bool {
	if strings.Contains(strings.ToLower(session.Title), query) {
		return true
	}
	for _, msg := range session.Messages {
		if strings.Contains(strings.ToLower(msg.Message), query) {
			return true
		}
	}
	return false
}
