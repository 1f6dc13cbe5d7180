// Package store persists negotiation session envelopes.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/capitalize-ai/call-negotiator/internal/model"
)

var (
	// ErrNotFound means no envelope or active pointer exists.
	ErrNotFound = errors.New("session not found")

	// ErrSchemaMismatch means the stored envelope was written by another schema version.
	ErrSchemaMismatch = errors.New("unsupported snapshot schema version")
)

// Store is durable key/value storage of one envelope per session plus an
// "active session" pointer.
type Store interface {
	// Save writes env, replacing any older revision of the same session.
	Save(ctx context.Context, env model.Envelope) error

	// Load returns the envelope for sessionID.
	Load(ctx context.Context, sessionID string) (model.Envelope, error)

	// SetActive points the active-session pointer at sessionID.
	SetActive(ctx context.Context, sessionID string) error

	// Active returns the session the pointer refers to.
	Active(ctx context.Context) (string, error)

	// Delete removes a session envelope.
	Delete(ctx context.Context, sessionID string) error

	Close() error
}

// EncodeEnvelope serialises an envelope in its on-disk shape.
func EncodeEnvelope(env model.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// DecodeEnvelope parses an envelope and rejects other schema versions.
func DecodeEnvelope(raw []byte) (model.Envelope, error) {
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if err := checkVersion(env); err != nil {
		return model.Envelope{}, err
	}
	return env, nil
}

func checkVersion(env model.Envelope) error {
	if env.SchemaVersion != model.SchemaVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrSchemaMismatch, env.SchemaVersion, model.SchemaVersion)
	}
	return nil
}

// LoadActive follows the active pointer and loads its envelope.
func LoadActive(ctx context.Context, s Store) (model.Envelope, error) {
	id, err := s.Active(ctx)
	if err != nil {
		return model.Envelope{}, err
	}
	return s.Load(ctx, id)
}
