package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/satriahrh/concierge-voice/domain"
)

const (
	defaultCaptureRate = 16000
	minCaptureRate     = 8000
	maxCaptureRate     = 48000
)

// MessageValidator parses and validates control messages sent by devices
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses an incoming text frame. Missing sample rates
// default to 16 kHz.
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (domain.DeviceMessage, error) {
	var msg domain.DeviceMessage
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		return msg, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch msg.Type {
	case domain.DeviceMessageCallStart:
		if msg.SampleRate == 0 {
			msg.SampleRate = defaultCaptureRate
		}
		if msg.SampleRate < minCaptureRate || msg.SampleRate > maxCaptureRate {
			return msg, fmt.Errorf("sample_rate must be between %d and %d", minCaptureRate, maxCaptureRate)
		}
	case domain.DeviceMessageCaptureDenied:
	case domain.DeviceMessageCallEnd,
		domain.DeviceMessageCaptureStopped,
		domain.DeviceMessagePing:
	case "":
		return msg, fmt.Errorf("message type is required")
	default:
		return msg, fmt.Errorf("unsupported message type: %s", msg.Type)
	}

	return msg, nil
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(message string) domain.DeviceMessage {
	return domain.DeviceMessage{
		Type:      domain.DeviceMessageError,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
}

// CreatePongMessage creates a pong response echoing the ping timestamp
func CreatePongMessage(ping domain.DeviceMessage) domain.DeviceMessage {
	return domain.DeviceMessage{
		Type:      domain.DeviceMessagePong,
		Timestamp: ping.Timestamp,
	}
}
