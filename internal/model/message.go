package model

import (
	"time"

	"github.com/google/uuid"
)

// Role represents the kind of entry in the conversation log.
type Role string

const (
	RoleUser          Role = "user"
	RoleAssistant     Role = "assistant"
	RoleStatus        Role = "status"
	RoleAnalysis      Role = "analysis"
	RoleAudio         Role = "audio"
	RoleSearchResults Role = "search_results"
)

// Speaker identifies who said a transcript line during the call.
type Speaker string

const (
	SpeakerAgent    Speaker = "agent"
	SpeakerReceiver Speaker = "receiver"
)

// Message is one entry of the conversation log.
//
// Analysis, audio and search-result messages carry their content in the
// payload field matching their role and leave Text empty.
type Message struct {
	ID      string  `json:"id"`
	Role    Role    `json:"role"`
	Text    string  `json:"text,omitempty"`
	Speaker Speaker `json:"speaker,omitempty"`

	Analysis    *Analysis      `json:"analysis,omitempty"`
	AudioTaskID string         `json:"audio_task_id,omitempty"`
	Results     []SearchResult `json:"results,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewMessage creates a text message with a fresh time-ordered ID.
func NewMessage(role Role, text string) Message {
	return Message{
		ID:        newMessageID(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UTC().Round(0),
	}
}

// NewTranscriptMessage creates an assistant-role message attributed to a call participant.
func NewTranscriptMessage(speaker Speaker, text string) Message {
	msg := NewMessage(RoleAssistant, text)
	msg.Speaker = speaker
	return msg
}

// NewAnalysisMessage wraps a post-call analysis.
func NewAnalysisMessage(analysis *Analysis) Message {
	msg := NewMessage(RoleAnalysis, "")
	msg.Analysis = analysis
	return msg
}

// NewAudioMessage references the call recording for a task.
func NewAudioMessage(taskID string) Message {
	msg := NewMessage(RoleAudio, "")
	msg.AudioTaskID = taskID
	return msg
}

// NewSearchResultsMessage carries discovery results the user can pick from.
func NewSearchResultsMessage(results []SearchResult) Message {
	msg := NewMessage(RoleSearchResults, "")
	msg.Results = results
	return msg
}

// HasPayload reports whether the role stores its content outside Text.
func (r Role) HasPayload() bool {
	switch r {
	case RoleAnalysis, RoleAudio, RoleSearchResults:
		return true
	}
	return false
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
