package domain

// Device socket message types
const (
	DeviceMessageCallStart      = "call_start"
	DeviceMessageCallEnd        = "call_end"
	DeviceMessageCaptureDenied  = "capture_denied"
	DeviceMessageCaptureStopped = "capture_stopped"
	DeviceMessagePing           = "ping"
	DeviceMessagePong           = "pong"
	DeviceMessagePlaybackClear  = "playback_clear"
	DeviceMessageError          = "error"
)

// DeviceMessage is a JSON control message exchanged with a connected device.
// Audio itself travels as binary frames.
type DeviceMessage struct {
	Type       string `json:"type"`
	Profile    string `json:"profile,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}
