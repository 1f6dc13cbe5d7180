package taskclient

import (
	"context"

	"github.com/capitalize-ai/call-negotiator/internal/model"
)

// SessionMirror uploads session snapshots to the backend.
type SessionMirror struct {
	client *Client
}

// NewSessionMirror wraps c as a snapshot mirror.
func NewSessionMirror(c *Client) *SessionMirror {
	return &SessionMirror{client: c}
}

// Name identifies the mirror in metrics and logs.
func (m *SessionMirror) Name() string { return "backend" }

// Mirror writes env to PUT /api/sessions/{id}.
func (m *SessionMirror) Mirror(ctx context.Context, env model.Envelope) error {
	return m.client.PutSession(ctx, env)
}
