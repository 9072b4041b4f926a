package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"campuschat/internal/chatstate"
	"campuschat/internal/i18n"
	"campuschat/pkg/apiclient"
	"campuschat/pkg/domain"
	"campuschat/pkg/store"
)

type fakeAPI struct {
	mu sync.Mutex

	startID    domain.ID
	startErr   error
	startCalls atomic.Int32
	startGate  chan struct{}

	reply    apiclient.SendMessageResponse
	sendErr  error
	sendHook func()
	sent     []string

	history   []domain.Message
	list      []domain.RemoteSession
	listErr   error
	deleted   []domain.ID
	deleteErr error
	ended     []domain.ID
	endErr    error
}

func (f *fakeAPI) StartSession(ctx context.Context) (domain.ID, error) {
	f.startCalls.Add(1)
	if f.startGate != nil {
		<-f.startGate
	}
	return f.startID, f.startErr
}

func (f *fakeAPI) SendMessage(ctx context.Context, sessionID domain.ID, message string) (apiclient.SendMessageResponse, error) {
	f.mu.Lock()
	f.sent = append(f.sent, message)
	hook := f.sendHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return f.reply, f.sendErr
}

func (f *fakeAPI) History(ctx context.Context, sessionID domain.ID) ([]domain.Message, error) {
	return f.history, nil
}

func (f *fakeAPI) EndSession(ctx context.Context, sessionID domain.ID) error {
	f.ended = append(f.ended, sessionID)
	return f.endErr
}

func (f *fakeAPI) ListSessions(ctx context.Context) ([]domain.RemoteSession, error) {
	return f.list, f.listErr
}

func (f *fakeAPI) DeleteSession(ctx context.Context, sessionID domain.ID) error {
	f.deleted = append(f.deleted, sessionID)
	return f.deleteErr
}

var texts = i18n.Lookup("en")

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func newTestController(t *testing.T, api *fakeAPI) (*Controller, *chatstate.State, store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore()
	chat := chatstate.New(st, logger)
	ctrl := New(Config{
		API:    api,
		Chat:   chat,
		Texts:  texts,
		Logger: logger,
		Now:    func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	return ctrl, chat, st
}

func TestSendCreatesSessionAndAppendsReply(t *testing.T) {
	api := &fakeAPI{startID: "s1", reply: apiclient.SendMessageResponse{Response: "hello back"}}
	ctrl, _, _ := newTestController(t, api)
	ctx := context.Background()

	if ctrl.Phase() != PhaseNoSession {
		t.Fatalf("expected no session before first send, got %s", ctrl.Phase())
	}
	res, err := ctrl.Send(ctx, "hi", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.SessionID != "s1" || res.Err != nil || res.Discarded {
		t.Fatalf("unexpected result: %+v", res)
	}
	msgs := ctrl.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected user and bot message, got %d", len(msgs))
	}
	if msgs[0].Sender != domain.SenderUser || msgs[0].Status != domain.MessageSent {
		t.Fatalf("unexpected user message: %+v", msgs[0])
	}
	if msgs[1].Sender != domain.SenderBot || msgs[1].Message != "hello back" || msgs[1].IsError {
		t.Fatalf("unexpected bot message: %+v", msgs[1])
	}
	if ctrl.Phase() != PhaseActive {
		t.Fatalf("expected active phase, got %s", ctrl.Phase())
	}

	if _, err := ctrl.Send(ctx, "again", nil); err != nil {
		t.Fatalf("second send: %v", err)
	}
	if got := api.startCalls.Load(); got != 1 {
		t.Fatalf("expected one session start, got %d", got)
	}
}

func TestSendRejectsBlankText(t *testing.T) {
	api := &fakeAPI{startID: "s1"}
	ctrl, _, _ := newTestController(t, api)
	if _, err := ctrl.Send(context.Background(), "   ", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if len(ctrl.Messages()) != 0 || api.startCalls.Load() != 0 {
		t.Fatalf("blank send must not touch state or backend")
	}
}

func TestSendSessionStartFailure(t *testing.T) {
	api := &fakeAPI{startErr: errors.New("boom")}
	ctrl, _, _ := newTestController(t, api)

	res, err := ctrl.Send(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Err == nil {
		t.Fatalf("expected backend error in result")
	}
	msgs := ctrl.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected user message and one error, got %d", len(msgs))
	}
	if msgs[0].Status != domain.MessageFailed {
		t.Fatalf("expected failed user message, got %q", msgs[0].Status)
	}
	if msgs[1].Sender != domain.SenderBot || msgs[1].Message != texts.SessionStartFailed {
		t.Fatalf("unexpected error message: %+v", msgs[1])
	}
	if _, ok := ctrl.CurrentSession(); ok {
		t.Fatalf("no session should be set")
	}
	if len(api.sent) != 0 {
		t.Fatalf("message must not be sent without a session")
	}
}

func TestSendFailureUsesBackendMessage(t *testing.T) {
	api := &fakeAPI{
		startID: "s1",
		sendErr: &apiclient.APIError{Status: 500, Message: "quota exceeded"},
	}
	ctrl, _, _ := newTestController(t, api)

	if _, err := ctrl.Send(context.Background(), "hi", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs := ctrl.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Status != domain.MessageFailed {
		t.Fatalf("expected failed user message")
	}
	if !msgs[1].IsError || msgs[1].Message != "quota exceeded" {
		t.Fatalf("unexpected error reply: %+v", msgs[1])
	}
}

func TestSendFailureFallsBackToLocalizedText(t *testing.T) {
	api := &fakeAPI{startID: "s1", sendErr: &apiclient.NetworkError{Op: "send", Err: errors.New("refused")}}
	ctrl, _, _ := newTestController(t, api)

	if _, err := ctrl.Send(context.Background(), "hi", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs := ctrl.Messages()
	if msgs[1].Message != texts.NoReply || !msgs[1].IsError {
		t.Fatalf("unexpected fallback reply: %+v", msgs[1])
	}
}

func TestSendEmptyReplyUsesReceivedText(t *testing.T) {
	api := &fakeAPI{startID: "s1"}
	ctrl, _, _ := newTestController(t, api)

	if _, err := ctrl.Send(context.Background(), "hi", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := ctrl.Messages()[1].Message; got != texts.MessageReceived {
		t.Fatalf("expected received fallback, got %q", got)
	}
}

func TestSendRateLimited(t *testing.T) {
	api := &fakeAPI{startID: "s1"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	chat := chatstate.New(store.NewMemoryStore(), logger)
	ctrl := New(Config{API: api, Chat: chat, Texts: texts, Logger: logger, Limiter: denyAll{}})

	if _, err := ctrl.Send(context.Background(), "hi", nil); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if len(ctrl.Messages()) != 0 {
		t.Fatalf("throttled send must not append")
	}
}

func TestConcurrentSendsShareOneSession(t *testing.T) {
	api := &fakeAPI{startID: "s1", startGate: make(chan struct{}), reply: apiclient.SendMessageResponse{Response: "ok"}}
	ctrl, _, _ := newTestController(t, api)

	var wg sync.WaitGroup
	for _, text := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			if _, err := ctrl.Send(context.Background(), text, nil); err != nil {
				t.Errorf("send %s: %v", text, err)
			}
		}(text)
	}
	deadline := time.Now().Add(2 * time.Second)
	for ctrl.Phase() != PhaseCreating && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	// Let the late senders reach the shared creation before releasing it.
	time.Sleep(20 * time.Millisecond)
	close(api.startGate)
	wg.Wait()

	if got := api.startCalls.Load(); got != 1 {
		t.Fatalf("expected one session start, got %d", got)
	}
	if got := len(ctrl.Messages()); got != 6 {
		t.Fatalf("expected 6 messages, got %d", got)
	}
}

func TestLateReplyAfterNewChatIsDiscarded(t *testing.T) {
	api := &fakeAPI{startID: "s1", reply: apiclient.SendMessageResponse{Response: "late"}}
	ctrl, _, _ := newTestController(t, api)
	ctx := context.Background()
	api.sendHook = func() {
		if _, err := ctrl.NewChat(ctx); err != nil {
			t.Errorf("new chat: %v", err)
		}
	}

	res, err := ctrl.Send(ctx, "hi", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Discarded {
		t.Fatalf("expected discarded result")
	}
	if got := len(ctrl.Messages()); got != 0 {
		t.Fatalf("late reply leaked into new chat: %d messages", got)
	}
	sessions := ctrl.Sessions()
	if len(sessions) != 1 || sessions[0].ID != "s1" {
		t.Fatalf("expected archived s1, got %+v", sessions)
	}
}

func TestNewConversationDoesNotJoinReplacedSessionStart(t *testing.T) {
	api := &fakeAPI{startID: "s1", startGate: make(chan struct{}), reply: apiclient.SendMessageResponse{Response: "ok"}}
	ctrl, _, _ := newTestController(t, api)
	ctx := context.Background()

	first := make(chan SendResult, 1)
	go func() {
		res, err := ctrl.Send(ctx, "old conversation", nil)
		if err != nil {
			t.Errorf("first send: %v", err)
		}
		first <- res
	}()
	waitFor(t, func() bool { return api.startCalls.Load() == 1 })

	if _, err := ctrl.NewChat(ctx); err != nil {
		t.Fatalf("new chat: %v", err)
	}

	second := make(chan SendResult, 1)
	go func() {
		res, err := ctrl.Send(ctx, "new conversation", nil)
		if err != nil {
			t.Errorf("second send: %v", err)
		}
		second <- res
	}()
	waitFor(t, func() bool { return api.startCalls.Load() == 2 })
	close(api.startGate)

	if res := <-first; !res.Discarded {
		t.Fatalf("expected first send to be discarded, got %+v", res)
	}
	res := <-second
	if res.Discarded || res.Err != nil || res.SessionID != "s1" {
		t.Fatalf("second send should succeed on its own session, got %+v", res)
	}
	msgs := ctrl.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Message != "new conversation" || msgs[0].Status != domain.MessageSent {
		t.Fatalf("unexpected user message: %+v", msgs[0])
	}
	if msgs[1].IsError || msgs[1].Message != "ok" {
		t.Fatalf("unexpected reply: %+v", msgs[1])
	}
}

func TestBeginAppendsPendingWithoutNetwork(t *testing.T) {
	api := &fakeAPI{startID: "s1", reply: apiclient.SendMessageResponse{Response: "ok"}}
	ctrl, _, st := newTestController(t, api)
	ctx := context.Background()

	out, err := ctrl.Begin(ctx, "hello", []string{"notes.pdf"})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	msgs := ctrl.Messages()
	if len(msgs) != 1 || msgs[0].Status != domain.MessagePending || msgs[0].ID != out.Message.ID {
		t.Fatalf("expected one pending message, got %+v", msgs)
	}
	if api.startCalls.Load() != 0 || len(api.sent) != 0 {
		t.Fatalf("begin must not call the backend")
	}
	var stored []domain.Message
	if ok, err := store.GetJSON(ctx, st, store.KeyChatMessages, &stored); !ok || err != nil || len(stored) != 1 {
		t.Fatalf("pending message not persisted: ok=%v err=%v %+v", ok, err, stored)
	}

	res := ctrl.Complete(ctx, out)
	if res.User.Status != domain.MessageSent || res.Reply.Message != "ok" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestMountListFailureYieldsEmptyList(t *testing.T) {
	api := &fakeAPI{listErr: errors.New("down")}
	ctrl, chat, st := newTestController(t, api)
	ctx := context.Background()
	if err := store.SetJSON(ctx, st, store.KeyChatMessages, []domain.Message{{Sender: domain.SenderUser, Message: "kept"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	chat.SetSessions([]domain.SessionSummary{{ID: "old"}})

	if err := ctrl.Mount(ctx); err != nil {
		t.Fatalf("mount: %v", err)
	}
	if got := ctrl.Sessions(); len(got) != 0 {
		t.Fatalf("expected empty session list, got %+v", got)
	}
	if msgs := ctrl.Messages(); len(msgs) != 1 || msgs[0].Message != "kept" {
		t.Fatalf("expected rehydrated message, got %+v", msgs)
	}
}

func TestMountProjectsRemoteSessions(t *testing.T) {
	api := &fakeAPI{list: []domain.RemoteSession{
		{SessionID: "a", Messages: []domain.Message{{Message: "first question"}}},
		{ID: "b", Title: "Named", MessageCount: 4},
	}}
	ctrl, _, _ := newTestController(t, api)

	if err := ctrl.Mount(context.Background()); err != nil {
		t.Fatalf("mount: %v", err)
	}
	got := ctrl.Sessions()
	if len(got) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(got))
	}
	if got[0].ID != "a" || got[0].Title != "first question" || got[0].MessageCount != 1 {
		t.Fatalf("unexpected first summary: %+v", got[0])
	}
	if got[1].ID != "b" || got[1].Title != "Named" || got[1].MessageCount != 4 {
		t.Fatalf("unexpected second summary: %+v", got[1])
	}
}

func TestSelectSessionLoadsHistory(t *testing.T) {
	api := &fakeAPI{history: []domain.Message{
		{Sender: domain.SenderUser, Message: "q"},
		{Sender: domain.SenderBot, Message: "a"},
	}}
	ctrl, chat, _ := newTestController(t, api)
	chat.SetSessions([]domain.SessionSummary{{ID: "s9", Title: "Exams"}})

	if err := ctrl.SelectSession(context.Background(), "s9"); err != nil {
		t.Fatalf("select: %v", err)
	}
	current, ok := ctrl.CurrentSession()
	if !ok || current.SessionID != "s9" || current.Title != "Exams" {
		t.Fatalf("unexpected current session: %+v", current)
	}
	if len(ctrl.Messages()) != 2 {
		t.Fatalf("expected history to be loaded")
	}
}

func TestDeleteCurrentSessionClearsConversation(t *testing.T) {
	api := &fakeAPI{startID: "s1", reply: apiclient.SendMessageResponse{Response: "ok"}}
	ctrl, _, _ := newTestController(t, api)
	ctx := context.Background()
	if _, err := ctrl.Send(ctx, "hi", nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := ctrl.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := ctrl.CurrentSession(); ok {
		t.Fatalf("current session should be cleared")
	}
	if len(ctrl.Messages()) != 0 {
		t.Fatalf("messages should be cleared")
	}
	for _, s := range ctrl.Sessions() {
		if s.ID == "s1" {
			t.Fatalf("deleted session still listed")
		}
	}
}

func TestDeleteFailureKeepsSummary(t *testing.T) {
	api := &fakeAPI{deleteErr: errors.New("nope")}
	ctrl, chat, _ := newTestController(t, api)
	chat.SetSessions([]domain.SessionSummary{{ID: "x"}})

	if err := ctrl.DeleteSession(context.Background(), "x"); err == nil {
		t.Fatalf("expected error")
	}
	if len(ctrl.Sessions()) != 1 {
		t.Fatalf("summary should be kept on failure")
	}
}

func TestEndSession(t *testing.T) {
	api := &fakeAPI{startID: "s1", reply: apiclient.SendMessageResponse{Response: "ok"}}
	ctrl, _, _ := newTestController(t, api)
	ctx := context.Background()

	if err := ctrl.EndSession(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if _, err := ctrl.Send(ctx, "hi", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := ctrl.EndSession(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}
	if len(api.ended) != 1 || api.ended[0] != "s1" {
		t.Fatalf("unexpected ended sessions: %v", api.ended)
	}
	if ctrl.Phase() != PhaseNoSession {
		t.Fatalf("expected no session after end")
	}
}

func TestSearchMatchesMessagesCaseInsensitive(t *testing.T) {
	api := &fakeAPI{list: []domain.RemoteSession{
		{SessionID: "a", Messages: []domain.Message{{Message: "When is the Library open?"}}},
		{SessionID: "b", Messages: []domain.Message{{Message: "Exam dates"}}},
		{SessionID: "c", Title: "library card"},
	}}
	ctrl, _, _ := newTestController(t, api)

	got, err := ctrl.Search(context.Background(), "LIBRARY")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 || got[0].Key() != "a" || got[1].Key() != "c" {
		t.Fatalf("unexpected matches: %+v", got)
	}
	all, err := ctrl.Search(context.Background(), "")
	if err != nil || len(all) != 3 {
		t.Fatalf("empty query should return all: %d %v", len(all), err)
	}
}
