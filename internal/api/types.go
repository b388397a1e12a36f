package api

import (
	"time"

	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/internal/netquality"
)

// DeviceAuthRequest represents the request payload for device authentication
type DeviceAuthRequest struct {
	DeviceID  string `json:"device_id"`
	SecretKey string `json:"secret_key"`
}

// DeviceAuthResponse represents the response payload for device authentication
type DeviceAuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	DeviceID  string    `json:"device_id"`
}

// HealthResponse is the liveness payload
type HealthResponse struct {
	Status           string `json:"status"`
	Service          string `json:"service"`
	ConnectedDevices int    `json:"connected_devices"`
}

// CallStatusResponse describes a device's latest call. Network is the path to
// the speech service; Link is the device's own connection to the bridge.
type CallStatusResponse struct {
	DeviceID  string                `json:"device_id"`
	Connected bool                  `json:"connected"`
	Call      *entities.CallSession `json:"call,omitempty"`
	Network   *netquality.Quality   `json:"network,omitempty"`
	Link      *netquality.Quality   `json:"link,omitempty"`
}

// TranscriptResponse lists the stored utterances of a call
type TranscriptResponse struct {
	CallID     string               `json:"call_id"`
	Utterances []entities.Utterance `json:"utterances"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
