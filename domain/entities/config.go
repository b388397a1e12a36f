package entities

import (
	"errors"
	"time"
)

// Sensitivity is the server-side VAD sensitivity level
type Sensitivity string

const (
	SensitivityHigh Sensitivity = "high"
	SensitivityLow  Sensitivity = "low"
)

// VADProfile holds the voice-activity-detection parameters sent to the remote service
type VADProfile struct {
	Name             string        `json:"name" yaml:"name"`
	StartSensitivity Sensitivity   `json:"start_sensitivity" yaml:"start_sensitivity"`
	EndSensitivity   Sensitivity   `json:"end_sensitivity" yaml:"end_sensitivity"`
	PrefixPadding    time.Duration `json:"prefix_padding" yaml:"prefix_padding"`
	SilenceDuration  time.Duration `json:"silence_duration" yaml:"silence_duration"`
}

// SensitiveVAD is used in quiet environments
func SensitiveVAD() VADProfile {
	return VADProfile{
		Name:             "sensitive",
		StartSensitivity: SensitivityHigh,
		EndSensitivity:   SensitivityHigh,
		PrefixPadding:    20 * time.Millisecond,
		SilenceDuration:  500 * time.Millisecond,
	}
}

// NoisyVAD is used once the environment is classified as noisy. Background noise
// must be louder and last longer before it counts as the user speaking.
func NoisyVAD() VADProfile {
	return VADProfile{
		Name:             "noisy",
		StartSensitivity: SensitivityLow,
		EndSensitivity:   SensitivityLow,
		PrefixPadding:    100 * time.Millisecond,
		SilenceDuration:  1200 * time.Millisecond,
	}
}

// FunctionDeclaration describes one tool the model may call
type FunctionDeclaration struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// SessionConfig is the configuration message sent when a duplex session opens
type SessionConfig struct {
	Model               string
	Voice               string
	Language            string
	SystemInstruction   string
	Tools               []FunctionDeclaration
	InputTranscription  bool
	OutputTranscription bool
	VAD                 VADProfile
	ResumptionHandle    string
}

// WithResumption returns a copy of the configuration that resumes the given handle
func (c SessionConfig) WithResumption(handle string) SessionConfig {
	c.ResumptionHandle = handle
	return c
}

func (c SessionConfig) Validate() error {
	if c.Model == "" {
		return errors.New("model is required")
	}
	if c.Voice == "" {
		return errors.New("voice is required")
	}
	if c.Language == "" {
		return errors.New("language is required")
	}
	return nil
}

// CredentialKind tells a transport how to present a credential
type CredentialKind string

const (
	CredentialBearer CredentialKind = "bearer"
	CredentialAPIKey CredentialKind = "api_key"
)

// Credential is an auth token acquired before a call starts
type Credential struct {
	Kind      CredentialKind
	Token     string
	ExpiresAt time.Time
}

// MediaChunk is one encoded media payload inside an outbound envelope
type MediaChunk struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mime_type"`
}

// AudioEnvelope is a serialized send batch handed to the transport
type AudioEnvelope struct {
	Chunks []MediaChunk `json:"media_chunks"`
}

// Bytes returns the total payload size of the envelope
func (e AudioEnvelope) Bytes() int {
	n := 0
	for _, c := range e.Chunks {
		n += len(c.Data)
	}
	return n
}
