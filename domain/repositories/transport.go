package repositories

import (
	"context"

	"github.com/satriahrh/concierge-voice/domain/entities"
)

// Dialer opens duplex sessions with the remote real-time speech service
type Dialer interface {
	Dial(ctx context.Context, credential entities.Credential) (Transport, error)
}

// Transport is one stateful full-duplex connection to the remote speech service.
// Events is closed after the final entities.Closed event has been delivered.
type Transport interface {
	// Configure sends the session configuration; it must be the first message
	Configure(ctx context.Context, config entities.SessionConfig) error
	// Reconfigure replaces the VAD parameters without ending the session
	Reconfigure(ctx context.Context, vad entities.VADProfile) error
	SendAudio(envelope entities.AudioEnvelope) error
	SendText(text string) error
	SendToolResponses(responses []entities.ToolResponse) error
	// EndActivity sends the end-of-turn pair (activity end, audio stream end)
	EndActivity() error
	Events() <-chan entities.LiveEvent
	// Close closes the connection with a normal close code
	Close() error
}

// CredentialProvider supplies the credential used to open a transport
type CredentialProvider interface {
	Credential(ctx context.Context) (entities.Credential, error)
}

// InstructionProvider supplies the system instruction for a call profile
type InstructionProvider interface {
	Instruction(ctx context.Context, profile, deviceID string) (string, error)
}

// PropertyDirectory answers guest questions about the property a device belongs to
type PropertyDirectory interface {
	Lookup(ctx context.Context, deviceID, topic string) (string, error)
}
