package entities

import "time"

// NotificationKind enumerates user-facing call notifications
type NotificationKind string

const (
	NotificationState     NotificationKind = "state"
	NotificationAdvisory  NotificationKind = "advisory"
	NotificationUtterance NotificationKind = "utterance"
	NotificationCallEnded NotificationKind = "call_ended"
	NotificationError     NotificationKind = "error"
)

// Advisory enumerates the advisory texts surfaced during a call
type Advisory string

const (
	AdvisoryNoisyEnvironment   Advisory = "noisy_environment"
	AdvisoryConnectionUnstable Advisory = "connection_unstable"
	AdvisorySessionEndingSoon  Advisory = "session_ending_soon"
	AdvisoryTextFallback       Advisory = "text_fallback"
)

var advisoryMessages = map[Advisory]string{
	AdvisoryNoisyEnvironment:   "It sounds noisy around you. Moving somewhere quieter will help me hear you.",
	AdvisoryConnectionUnstable: "Your connection looks unstable. The text chat may work better right now.",
	AdvisorySessionEndingSoon:  "This call will end in about a minute.",
	AdvisoryTextFallback:       "Having trouble hearing each other? You can switch to text chat instead.",
}

// Message returns the user-facing text for the advisory
func (a Advisory) Message() string {
	return advisoryMessages[a]
}

// Notification is a discrete event surfaced to the user interface
type Notification struct {
	Kind      NotificationKind `json:"type"`
	CallID    string           `json:"call_id,omitempty"`
	State     CallState        `json:"state,omitempty"`
	Advisory  Advisory         `json:"advisory,omitempty"`
	Message   string           `json:"message,omitempty"`
	Utterance *Utterance       `json:"utterance,omitempty"`
	Reason    EndReason        `json:"reason,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// NoiseSignalKind enumerates what the noise monitor asks the call to do
type NoiseSignalKind string

const (
	NoiseProfileChange NoiseSignalKind = "profile_change"
	NoiseAdvisory      NoiseSignalKind = "advisory"
	NoiseFallbackOffer NoiseSignalKind = "fallback_offer"
)

// NoiseSignal is emitted by the noise monitor
type NoiseSignal struct {
	Kind  NoiseSignalKind
	Noisy bool
	Level float64
}
