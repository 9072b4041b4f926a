package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"campuschat/internal/util"
	"campuschat/pkg/domain"
)

const maxErrorBody = 1 << 20

// TokenSource yields the current bearer token, or "" when signed out.
type TokenSource interface {
	Token() string
}

// Client calls the chat backend over HTTP.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	tokens         TokenSource
	onUnauthorized func(context.Context)
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its transport is used as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTokenSource sets where bearer tokens come from.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithUnauthorizedHandler registers fn to run on every 401 response,
// whichever operation received it.
func WithUnauthorizedHandler(fn func(context.Context)) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// NewClient constructs a backend client.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &util.LoggingTransport{},
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (AuthResponse, error) {
	var resp AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/register", req, &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	payload := map[string]string{"email": email, "password": password}
	var resp AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", payload, &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

func (c *Client) Me(ctx context.Context) (domain.User, error) {
	var resp struct {
		User *domain.User `json:"user"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/auth/me", nil, &resp); err != nil {
		return domain.User{}, err
	}
	if resp.User == nil {
		return domain.User{}, errors.New("auth/me: response has no user")
	}
	return *resp.User, nil
}

func (c *Client) StartSession(ctx context.Context) (domain.ID, error) {
	var resp struct {
		SessionID domain.ID `json:"session_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/chat/session/start", nil, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", errors.New("session/start: response has no session_id")
	}
	return resp.SessionID, nil
}

func (c *Client) SendMessage(ctx context.Context, sessionID domain.ID, message string) (SendMessageResponse, error) {
	payload := sendMessageRequest{SessionID: sessionID, Message: message}
	var resp SendMessageResponse
	if err := c.doJSON(ctx, http.MethodPost, "/chat/message", payload, &resp); err != nil {
		return SendMessageResponse{}, err
	}
	return resp, nil
}

func (c *Client) History(ctx context.Context, sessionID domain.ID) ([]domain.Message, error) {
	var resp struct {
		Messages []domain.Message `json:"messages"`
	}
	path := fmt.Sprintf("/chat/session/%s/history", url.PathEscape(sessionID.String()))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Messages == nil {
		return []domain.Message{}, nil
	}
	return resp.Messages, nil
}

func (c *Client) EndSession(ctx context.Context, sessionID domain.ID) error {
	path := fmt.Sprintf("/chat/session/%s/end", url.PathEscape(sessionID.String()))
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

// ListSessions returns the user's sessions. The backend wraps the list
// either directly or in a paginator ({"data": [...]}); both are accepted.
func (c *Client) ListSessions(ctx context.Context) ([]domain.RemoteSession, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/chat/sessions", nil, &raw); err != nil {
		return nil, err
	}
	return decodeSessionList(raw)
}

func (c *Client) DeleteSession(ctx context.Context, sessionID domain.ID) error {
	path := fmt.Sprintf("/chat/session/%s", url.PathEscape(sessionID.String()))
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// Health pings the backend.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		apiErr := decodeAPIError(resp)
		if resp.StatusCode == http.StatusUnauthorized && c.onUnauthorized != nil {
			c.onUnauthorized(ctx)
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) *APIError {
	var errResp struct {
		Error   string              `json:"error"`
		Message string              `json:"message"`
		Code    string              `json:"code"`
		Errors  map[string][]string `json:"errors"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = json.Unmarshal(data, &errResp)
	return &APIError{
		Status:  resp.StatusCode,
		Message: strings.TrimSpace(errResp.Error),
		Detail:  strings.TrimSpace(errResp.Message),
		Code:    strings.TrimSpace(errResp.Code),
		Errors:  errResp.Errors,
	}
}
