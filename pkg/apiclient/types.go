package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"

	"campuschat/pkg/domain"
)

type RegisterRequest struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

type AuthResponse struct {
	User  domain.User `json:"user"`
	Token string      `json:"token"`
}

type SendMessageResponse struct {
	Response string          `json:"response"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type sendMessageRequest struct {
	SessionID domain.ID `json:"session_id"`
	Message   string    `json:"message"`
}

// decodeSessionList accepts {"sessions": [...]}, {"sessions": {"data": [...]}},
// {"data": [...]} and a bare array. Anything else yields an empty list.
func decodeSessionList(raw json.RawMessage) ([]domain.RemoteSession, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []domain.RemoteSession{}, nil
	}
	if raw[0] == '[' {
		var list []domain.RemoteSession
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode sessions: %w", err)
		}
		return list, nil
	}
	var envelope struct {
		Sessions json.RawMessage `json:"sessions"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	switch {
	case len(envelope.Sessions) > 0:
		return decodeSessionList(envelope.Sessions)
	case len(envelope.Data) > 0:
		return decodeSessionList(envelope.Data)
	default:
		return []domain.RemoteSession{}, nil
	}
}
