package entities

import "time"

// LiveEvent is one inbound event from the remote speech service, already decoded
// from whatever shape the wire protocol used. The set of variants is closed.
type LiveEvent interface {
	liveEvent()
}

// SetupComplete acknowledges the session configuration
type SetupComplete struct{}

// AudioFrame carries 16-bit little-endian mono PCM produced by the model
type AudioFrame struct {
	Data       []byte
	SampleRate int
}

// TranscriptFragment is a piece of streamed transcription text
type TranscriptFragment struct {
	Role Role
	Text string
}

// Interrupted signals that the user started speaking over the assistant
type Interrupted struct{}

// TurnComplete signals the end of the model's turn
type TurnComplete struct{}

// ToolCall asks the client to run one or more functions
type ToolCall struct {
	Calls []FunctionCall
}

// ResumptionUpdate carries a new session resumption handle
type ResumptionUpdate struct {
	Handle    string
	Resumable bool
}

// GoAway warns that the remote service will close the connection soon
type GoAway struct {
	TimeLeft time.Duration
}

// Closed is always the last event delivered by a transport
type Closed struct {
	Code   int
	Normal bool
	Err    error
}

func (SetupComplete) liveEvent()      {}
func (AudioFrame) liveEvent()         {}
func (TranscriptFragment) liveEvent() {}
func (Interrupted) liveEvent()        {}
func (TurnComplete) liveEvent()       {}
func (ToolCall) liveEvent()           {}
func (ResumptionUpdate) liveEvent()   {}
func (GoAway) liveEvent()             {}
func (Closed) liveEvent()             {}

// FunctionCall is a single tool invocation requested by the model
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResponse is the result of a FunctionCall sent back to the model
type ToolResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}
