package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"campuschat/pkg/domain"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func TestClientAttachesBearerToken(t *testing.T) {
	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{"user": map[string]any{"id": 7, "name": "Sara", "email": "s@example.com"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, WithTokenSource(staticToken("tok-1")))
	user, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if authHeader != "Bearer tok-1" {
		t.Fatalf("unexpected auth header %q", authHeader)
	}
	if user.ID != "7" || user.Name != "Sara" {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestClientOmitsBearerWithoutToken(t *testing.T) {
	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{"user": map[string]any{"id": "u1"}, "token": "t"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, WithTokenSource(staticToken("")))
	if _, err := c.Login(context.Background(), "a@b.c", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if authHeader != "" {
		t.Fatalf("expected no auth header, got %q", authHeader)
	}
}

func TestUnauthorizedHandlerRunsForEveryOperation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthenticated."})
	}))
	defer srv.Close()

	var calls int32
	c := NewClient(srv.URL, time.Second,
		WithTokenSource(staticToken("expired")),
		WithUnauthorizedHandler(func(context.Context) { atomic.AddInt32(&calls, 1) }),
	)
	ctx := context.Background()
	ops := map[string]func() error{
		"register": func() error { _, err := c.Register(ctx, RegisterRequest{}); return err },
		"login":    func() error { _, err := c.Login(ctx, "a", "b"); return err },
		"logout":   func() error { return c.Logout(ctx) },
		"me":       func() error { _, err := c.Me(ctx); return err },
		"start":    func() error { _, err := c.StartSession(ctx); return err },
		"send":     func() error { _, err := c.SendMessage(ctx, "s1", "hi"); return err },
		"history":  func() error { _, err := c.History(ctx, "s1"); return err },
		"end":      func() error { return c.EndSession(ctx, "s1") },
		"list":     func() error { _, err := c.ListSessions(ctx); return err },
		"delete":   func() error { return c.DeleteSession(ctx, "s1") },
	}
	for name, op := range ops {
		before := atomic.LoadInt32(&calls)
		err := op()
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", name, err)
		}
		if got := atomic.LoadInt32(&calls) - before; got != 1 {
			t.Fatalf("%s: handler should run exactly once, ran %d times", name, got)
		}
	}
}

func TestAPIErrorCarriesBackendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":  "The email has already been taken.",
			"errors": map[string][]string{"email": {"taken"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Register(context.Background(), RegisterRequest{Email: "dup@example.com"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T %v", err, err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || apiErr.Message != "The email has already been taken." {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if got := apiErr.Errors["email"]; len(got) != 1 || got[0] != "taken" {
		t.Fatalf("unexpected field errors %v", apiErr.Errors)
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Fatalf("422 must not match ErrUnauthorized")
	}
}

func TestAPIErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.SendMessage(context.Background(), "s1", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if msg := BackendMessage(err); msg != "" {
		t.Fatalf("expected no backend message, got %q", msg)
	}
	if !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected status in error text, got %q", err.Error())
	}
}

func TestNetworkErrorMatchesErrNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url, time.Second)
	_, err := c.StartSession(context.Background())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestSendMessagePayloadAndResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/message" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["session_id"] != "s1" || body["message"] != "hello" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"response":"hi there","metadata":{"sources":2}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	resp, err := c.SendMessage(context.Background(), "s1", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Response != "hi there" || string(resp.Metadata) != `{"sources":2}` {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestListSessionsAcceptsBothShapes(t *testing.T) {
	bodies := map[string]string{
		"array":     `{"sessions":[{"session_id":"a"},{"session_id":"b"}]}`,
		"paginated": `{"sessions":{"data":[{"session_id":"a"},{"session_id":"b"}],"current_page":1}}`,
		"bare":      `[{"session_id":"a"},{"session_id":"b"}]`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			sessions, err := NewClient(srv.URL, time.Second).ListSessions(context.Background())
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(sessions) != 2 || sessions[0].Key() != "a" || sessions[1].Key() != "b" {
				t.Fatalf("unexpected sessions %+v", sessions)
			}
		})
	}
}

func TestListSessionsMissingKeyIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	sessions, err := NewClient(srv.URL, time.Second).ListSessions(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected empty list, got %+v", sessions)
	}
}

func TestHistoryEscapesSessionID(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"messages":[{"sender":"user","message":"hi"},{"sender":"bot","message":"hello"}]}`))
	}))
	defer srv.Close()

	msgs, err := NewClient(srv.URL, time.Second).History(context.Background(), domain.ID("a/b"))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if path != "/chat/session/a%2Fb/history" {
		t.Fatalf("unexpected path %q", path)
	}
	if len(msgs) != 2 || msgs[1].Sender != domain.SenderBot {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}
