package model

import "time"

// Location is an optional hint passed to the backend when creating a task.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CreateTaskRequest asks the backend to create a negotiation task.
type CreateTaskRequest struct {
	TargetPhone string    `json:"target_phone"`
	Objective   string    `json:"objective"`
	Style       string    `json:"style"`
	Context     string    `json:"context,omitempty"`
	Location    *Location `json:"location,omitempty"`
}

// TaskSummary describes a task in listings and creation responses.
type TaskSummary struct {
	ID          string    `json:"id"`
	Objective   string    `json:"objective"`
	TargetPhone string    `json:"target_phone"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// TaskDetail is the full task record used when reopening a past session.
type TaskDetail struct {
	TaskSummary
	Style    string  `json:"style,omitempty"`
	Context  string  `json:"context,omitempty"`
	Duration float64 `json:"duration_seconds,omitempty"`
}

// CallResult is the response to a call start.
type CallResult struct {
	OK        bool    `json:"ok"`
	Message   string  `json:"message"`
	SessionID *string `json:"session_id"`
}

// RealtimeSession returns the realtime session identifier, if any.
func (r *CallResult) RealtimeSession() string {
	if r == nil || r.SessionID == nil {
		return ""
	}
	return *r.SessionID
}

// ActionResult is the response to stop, transfer and touch-tone requests.
type ActionResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Analysis is the structured post-call summary.
type Analysis struct {
	Summary        string   `json:"summary"`
	Outcome        string   `json:"outcome"`
	KeyMoments     []string `json:"key_moments,omitempty"`
	Tactics        []string `json:"tactics,omitempty"`
	NextSteps      []string `json:"next_steps,omitempty"`
	ObjectiveMet   bool     `json:"objective_met"`
	SentimentScore *float64 `json:"sentiment_score,omitempty"`
}

// TranscriptTurn is one utterance from the finished call.
type TranscriptTurn struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// SearchResult is one business returned by discovery.
type SearchResult struct {
	Title   string   `json:"title"`
	URL     string   `json:"url,omitempty"`
	Snippet string   `json:"snippet,omitempty"`
	Phones  []string `json:"phone_numbers,omitempty"`
}

// Phone returns the first phone number of the result.
func (r SearchResult) Phone() string {
	if len(r.Phones) == 0 {
		return ""
	}
	return r.Phones[0]
}

// SearchResponse is the discovery search envelope.
type SearchResponse struct {
	OK      bool           `json:"ok"`
	Count   int            `json:"count"`
	Results []SearchResult `json:"results"`
}

// VoiceReadiness reports backend telephony/voice capabilities.
type VoiceReadiness struct {
	Telephony     bool `json:"telephony"`
	Transcription bool `json:"transcription"`
	Synthesis     bool `json:"synthesis"`
	Agent         bool `json:"agent"`
}
