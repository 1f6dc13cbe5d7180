package engine

import "fmt"

// WelcomeMessage opens every fresh session.
const WelcomeMessage = "Hi! Tell me what you'd like to negotiate, or send me the phone number you want me to call."

// DefaultObjective is used when the user starts with a bare phone number.
const DefaultObjective = "General inquiry"

const (
	phonePrompt       = "What phone number should I call?"
	activeAck         = "The call is in progress. I can't change its direction from chat, but you can end or transfer it."
	connectingAck     = "I'm still connecting your call."
	endedHint         = "This negotiation has ended. Start a new one or call again."
	callEndedStatus   = "Call ended"
	analysisPreparing = "The call has ended. I'm preparing your analysis now."
	noLiveCall        = "There's no live call right now."
	degradedStart     = "Call started. Live updates aren't available for this call."
	noCallService     = "no response from the call service"
	liveUnavailable   = "I couldn't open live updates for this call, so you won't see the conversation as it happens."
)

var statusText = map[string]string{
	"dialing":           "Dialing...",
	"connected":         "Connected to the line",
	"media_established": "Audio connected",
	"active":            "Negotiation in progress",
	"disconnected":      "Call disconnected",
}

func discoveryOffer(n int) string {
	if n == 1 {
		return "I found a business that can help. Tap it to call, or send me a different number."
	}
	return fmt.Sprintf("I found %d businesses that can help. Pick one to call, or send me a different number.", n)
}

func callingStatus(phone string) string {
	return fmt.Sprintf("Calling %s...", phone)
}

func callStartFailed(reason string) string {
	return fmt.Sprintf("I couldn't start the call: %s", reason)
}

func callFailedStatus(detail string) string {
	if detail == "" {
		return "Call failed"
	}
	return fmt.Sprintf("Call failed: %s", detail)
}

func actionFailed(action, reason string) string {
	return fmt.Sprintf("I couldn't %s: %s", action, reason)
}

func loadFailed(reason string) string {
	return fmt.Sprintf("I couldn't open that negotiation: %s", reason)
}
