// Package model defines data structures for the call negotiation service.
package model

// Phase is the user-facing state of a negotiation conversation.
type Phase string

const (
	PhaseObjective  Phase = "objective"
	PhaseDiscovery  Phase = "discovery"
	PhasePhone      Phase = "phone"
	PhaseConnecting Phase = "connecting"
	PhaseActive     Phase = "active"
	PhaseEnded      Phase = "ended"
)

var transitions = map[Phase][]Phase{
	PhaseObjective:  {PhaseDiscovery, PhasePhone, PhaseConnecting},
	PhaseDiscovery:  {PhaseConnecting, PhasePhone},
	PhasePhone:      {PhaseConnecting},
	PhaseConnecting: {PhaseActive, PhaseObjective, PhaseEnded},
	PhaseActive:     {PhaseEnded},
	PhaseEnded:      {PhaseObjective, PhaseConnecting},
}

// CanTransition reports whether the state machine allows moving from one phase to another.
// Staying in the same phase is always allowed.
func CanTransition(from, to Phase) bool {
	if from == to {
		return true
	}
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := transitions[p]
	return ok
}

// Live reports whether a call may be attached to the phase.
func (p Phase) Live() bool {
	return p == PhaseConnecting || p == PhaseActive
}

// CallStatus mirrors the telephony state of the live call leg.
type CallStatus string

const (
	CallStatusPending          CallStatus = "pending"
	CallStatusDialing          CallStatus = "dialing"
	CallStatusConnected        CallStatus = "connected"
	CallStatusMediaEstablished CallStatus = "media_established"
	CallStatusActive           CallStatus = "active"
	CallStatusDisconnected     CallStatus = "disconnected"
	CallStatusEnded            CallStatus = "ended"
	CallStatusFailed           CallStatus = "failed"

	// CallStatusInternal is backend bookkeeping and carries no user meaning.
	CallStatusInternal CallStatus = "internal"
)

// NegotiationContext holds what the engine knows about the current negotiation.
type NegotiationContext struct {
	Objective string `json:"objective"`
	Phone     string `json:"phone"`
	Research  string `json:"research,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
}
