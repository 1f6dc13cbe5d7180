package model

import (
	"encoding/json"
	"errors"
	"time"
)

// EventType represents the type of realtime call event.
type EventType string

const (
	EventTypeCallStatus       EventType = "call_status"
	EventTypeTranscriptUpdate EventType = "transcript_update"
	EventTypeAgentThinking    EventType = "agent_thinking"
	EventTypeStrategyUpdate   EventType = "strategy_update"
	EventTypeAudioLevel       EventType = "audio_level"
	EventTypeAnalysisReady    EventType = "analysis_ready"
)

// ErrUnknownEventType is returned when a frame names a type this service does not handle.
var ErrUnknownEventType = errors.New("unknown event type")

// Event is the realtime wire envelope for a call session.
type Event struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// CallStatusData is the payload of a call_status event.
type CallStatusData struct {
	Status  CallStatus `json:"status"`
	Detail  string     `json:"detail,omitempty"`
	Message string     `json:"message,omitempty"`
}

// TranscriptData is the payload of a transcript_update event.
type TranscriptData struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// ThinkingData is the payload of an agent_thinking event.
type ThinkingData struct {
	Delta string `json:"delta"`
}

// StrategyData is the payload of a strategy_update event.
type StrategyData struct {
	Strategy string `json:"strategy"`
	Reason   string `json:"reason,omitempty"`
}

// AudioLevelData is the payload of an audio_level event.
type AudioLevelData struct {
	Level   float64 `json:"level"`
	Speaker string  `json:"speaker,omitempty"`
}

// AnalysisReadyData is the payload of an analysis_ready event.
type AnalysisReadyData struct {
	TaskID string `json:"task_id,omitempty"`
}

// ParseEvent decodes one realtime frame. Frames with the wrong shape or an
// unknown type return an error.
func ParseEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, err
	}
	switch ev.Type {
	case EventTypeCallStatus, EventTypeTranscriptUpdate, EventTypeAgentThinking,
		EventTypeStrategyUpdate, EventTypeAudioLevel, EventTypeAnalysisReady:
		return ev, nil
	}
	return Event{}, ErrUnknownEventType
}

// Decode unmarshals the event payload into dst. An absent payload leaves dst untouched.
func (e Event) Decode(dst any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	return json.Unmarshal(e.Data, dst)
}

// NewEvent builds an event with a JSON-encoded payload.
func NewEvent(t EventType, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	now := time.Now()
	return Event{Type: t, Data: raw, Timestamp: &now}, nil
}
