package live

import (
	"context"
	"errors"
	"sync"

	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/domain/repositories"
)

const (
	mockSampleRate   = 24000
	mockReplySamples = mockSampleRate / 10
	mockEventBuffer  = 64
)

var errMockClosed = errors.New("mock transport closed")

// MockDialer opens in-process sessions that acknowledge setup and answer
// every text turn with a short silent reply. It is used for local runs
// without a speech service.
type MockDialer struct {
	mu    sync.Mutex
	dials int
}

// NewMockDialer creates a new mock dialer
func NewMockDialer() *MockDialer {
	return &MockDialer{}
}

// Dial implements repositories.Dialer
func (d *MockDialer) Dial(ctx context.Context, credential entities.Credential) (repositories.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	return &MockTransport{events: make(chan entities.LiveEvent, mockEventBuffer)}, nil
}

// Dials returns how many sessions were opened
func (d *MockDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// MockTransport implements repositories.Transport in memory
type MockTransport struct {
	mu         sync.Mutex
	events     chan entities.LiveEvent
	closed     bool
	configured entities.SessionConfig
	audio      int
}

func (t *MockTransport) Events() <-chan entities.LiveEvent {
	return t.events
}

func (t *MockTransport) Configure(ctx context.Context, config entities.SessionConfig) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errMockClosed
	}
	t.configured = config
	t.pushLocked(entities.SetupComplete{})
	if config.ResumptionHandle == "" {
		t.pushLocked(entities.ResumptionUpdate{Handle: "mock-handle", Resumable: true})
	}
	return nil
}

func (t *MockTransport) Reconfigure(ctx context.Context, vad entities.VADProfile) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errMockClosed
	}
	t.configured.VAD = vad
	return nil
}

func (t *MockTransport) SendAudio(envelope entities.AudioEnvelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errMockClosed
	}
	t.audio++
	return nil
}

// SendText answers with the text as assistant transcript and a short
// silent audio frame
func (t *MockTransport) SendText(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errMockClosed
	}
	t.pushLocked(entities.TranscriptFragment{Role: entities.RoleAssistant, Text: text})
	t.pushLocked(entities.AudioFrame{Data: make([]byte, mockReplySamples*2), SampleRate: mockSampleRate})
	t.pushLocked(entities.TurnComplete{})
	return nil
}

func (t *MockTransport) SendToolResponses(responses []entities.ToolResponse) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errMockClosed
	}
	t.pushLocked(entities.TurnComplete{})
	return nil
}

func (t *MockTransport) EndActivity() error {
	return nil
}

func (t *MockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.pushLocked(entities.Closed{Code: 1000, Normal: true})
	close(t.events)
	return nil
}

// AudioEnvelopes returns how many audio envelopes were sent
func (t *MockTransport) AudioEnvelopes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.audio
}

// pushLocked drops events when nobody reads them
func (t *MockTransport) pushLocked(event entities.LiveEvent) {
	select {
	case t.events <- event:
	default:
	}
}
