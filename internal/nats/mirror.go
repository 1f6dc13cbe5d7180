package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/call-negotiator/internal/model"
)

// SessionBucket is the JetStream key/value bucket holding mirrored session envelopes.
const SessionBucket = "NEGOTIATION_SESSIONS"

// SnapshotMirror copies persisted session envelopes into JetStream KV.
type SnapshotMirror struct {
	kv jetstream.KeyValue
}

// NewSnapshotMirror ensures the bucket exists and returns a mirror writing to it.
func NewSnapshotMirror(ctx context.Context, client *Client) (*SnapshotMirror, error) {
	kv, err := EnsureBucket(ctx, client.JetStream())
	if err != nil {
		return nil, err
	}
	return &SnapshotMirror{kv: kv}, nil
}

// EnsureBucket ensures the session bucket exists with proper configuration.
func EnsureBucket(ctx context.Context, js jetstream.JetStream) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, SessionBucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("failed to look up bucket: %w", err)
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      SessionBucket,
		Description: "Latest negotiation session envelopes",
		History:     1,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	return kv, nil
}

// Name identifies the mirror in logs and metrics.
func (m *SnapshotMirror) Name() string {
	return "nats"
}

// Mirror stores the envelope under its session id.
func (m *SnapshotMirror) Mirror(ctx context.Context, env model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if _, err := m.kv.Put(ctx, env.SessionID, data); err != nil {
		return fmt.Errorf("failed to mirror session %s: %w", env.SessionID, err)
	}
	return nil
}
