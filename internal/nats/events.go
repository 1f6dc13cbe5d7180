package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/capitalize-ai/call-negotiator/internal/channel"
	"github.com/capitalize-ai/call-negotiator/internal/model"
)

// SubjectPrefix is the prefix for all realtime call subjects.
const SubjectPrefix = "calls"

// CallEventSubject returns the subject carrying events for a realtime session.
func CallEventSubject(sessionID string) string {
	return fmt.Sprintf("%s.%s.events", SubjectPrefix, sessionID)
}

func validSessionToken(sessionID string) bool {
	return sessionID != "" && !strings.ContainsAny(sessionID, ". *>\t\r\n")
}

// CallEvents is a channel.Dialer backed by core NATS subscriptions.
type CallEvents struct {
	client *Client
}

// NewCallEvents creates a realtime transport on the given connection.
func NewCallEvents(client *Client) *CallEvents {
	return &CallEvents{client: client}
}

// Dial subscribes to the session subject. Messages for one subscription are
// delivered sequentially by the NATS client, preserving arrival order.
func (e *CallEvents) Dial(ctx context.Context, sessionID string, deliver func([]byte)) (channel.Conn, error) {
	if !validSessionToken(sessionID) {
		return nil, fmt.Errorf("invalid realtime session id %q", sessionID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	subject := CallEventSubject(sessionID)
	sub, err := e.client.Conn().Subscribe(subject, func(m *nats.Msg) {
		deliver(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	e.client.log.Debug("subscribed to call events", zap.String("subject", subject))
	return &subscription{sub: sub}, nil
}

// Publish sends one event to a realtime session.
func (e *CallEvents) Publish(ctx context.Context, sessionID string, ev model.Event) error {
	if !validSessionToken(sessionID) {
		return fmt.Errorf("invalid realtime session id %q", sessionID)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := e.client.Conn().Publish(CallEventSubject(sessionID), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return e.client.Conn().FlushWithContext(ctx)
}

type subscription struct {
	sub *nats.Subscription
}

func (s *subscription) Close() error {
	if err := s.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
		return err
	}
	return nil
}
