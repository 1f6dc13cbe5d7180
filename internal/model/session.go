package model

import (
	"encoding/json"
	"time"
)

// SchemaVersion is the persisted envelope version this build reads and writes.
const SchemaVersion = 1

// SessionMode says whether one or many negotiations run side by side.
type SessionMode string

const (
	ModeSingle     SessionMode = "single"
	ModeConcurrent SessionMode = "concurrent"
)

// Snapshot is the engine state worth keeping across restarts.
type Snapshot struct {
	Phase          Phase              `json:"phase"`
	Messages       []Message          `json:"messages"`
	Context        NegotiationContext `json:"context"`
	AnalysisLoaded bool               `json:"analysis_loaded"`
}

// Envelope is the versioned, persisted wrapper around a snapshot.
type Envelope struct {
	SchemaVersion int             `json:"schema_version"`
	SessionID     string          `json:"session_id"`
	Mode          SessionMode     `json:"mode"`
	Revision      int64           `json:"revision"`
	TaskIDs       []string        `json:"task_ids"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Data          json.RawMessage `json:"data"`
}

// NewEnvelope encodes a snapshot into a current-version envelope.
func NewEnvelope(sessionID string, mode SessionMode, revision int64, taskIDs []string, snap Snapshot) (Envelope, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return Envelope{}, err
	}
	if taskIDs == nil {
		taskIDs = []string{}
	}
	return Envelope{
		SchemaVersion: SchemaVersion,
		SessionID:     sessionID,
		Mode:          mode,
		Revision:      revision,
		TaskIDs:       taskIDs,
		UpdatedAt:     time.Now().UTC(),
		Data:          data,
	}, nil
}

// Snapshot decodes the envelope payload.
func (e Envelope) Snapshot() (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(e.Data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
