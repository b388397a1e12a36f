package live

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/domain/repositories"
	"github.com/satriahrh/concierge-voice/internal/audio"
	"github.com/satriahrh/concierge-voice/internal/metrics"
)

const (
	defaultModel      = "gemini-2.0-flash-live-001"
	defaultAPIVersion = "v1beta"
	eventBuffer       = 64
)

var (
	// ErrNotConfigured is returned when sending before Configure
	ErrNotConfigured = errors.New("live session not configured")
	// ErrNotResumable is returned by Reconfigure before the service issued a resumption handle
	ErrNotResumable = errors.New("live session has no resumption handle yet")
	// ErrClosed is returned when sending on a closed transport
	ErrClosed = errors.New("live session closed")
)

// GeminiConfig holds configuration for the Gemini Live transport
type GeminiConfig struct {
	Model      string // Optional: live model used when the session config names none (default "gemini-2.0-flash-live-001")
	APIVersion string // Optional: API version (default "v1beta")
	BaseURL    string // Optional: API base URL
}

// GeminiDialer opens sessions on the Gemini Live API
type GeminiDialer struct {
	model      string
	apiVersion string
	baseURL    string
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

var _ repositories.Dialer = (*GeminiDialer)(nil)
var _ repositories.Transport = (*GeminiTransport)(nil)

// NewGeminiDialer creates a dialer for the Gemini Live API
func NewGeminiDialer(config GeminiConfig, logger *zap.Logger, m *metrics.Metrics) *GeminiDialer {
	model := config.Model
	if model == "" {
		model = defaultModel
		logger.Info("Using default live model", zap.String("model", model))
	}
	apiVersion := config.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &GeminiDialer{
		model:      model,
		apiVersion: apiVersion,
		baseURL:    config.BaseURL,
		logger:     logger,
		metrics:    m,
	}
}

// Dial creates a client for the credential. The websocket itself is opened by
// Configure because the Live API carries the configuration in its handshake.
func (d *GeminiDialer) Dial(ctx context.Context, credential entities.Credential) (repositories.Transport, error) {
	if credential.Token == "" {
		return nil, fmt.Errorf("gemini live requires an API key")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  credential.Token,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			APIVersion: d.apiVersion,
			BaseURL:    d.baseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiTransport{
		client:  client,
		model:   d.model,
		events:  make(chan entities.LiveEvent, eventBuffer),
		closing: make(chan struct{}),
		logger:  d.logger,
		metrics: d.metrics,
	}, nil
}

// GeminiTransport adapts a genai live session to repositories.Transport.
// genai sessions are not safe for concurrent writes, so every send holds mu.
type GeminiTransport struct {
	client  *genai.Client
	model   string
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	session    *genai.Session
	config     entities.SessionConfig
	handle     string
	generation int
	finished   bool

	events    chan entities.LiveEvent
	closing   chan struct{}
	closeOnce sync.Once
}

// Events delivers translated server messages, ending with entities.Closed
func (t *GeminiTransport) Events() <-chan entities.LiveEvent {
	return t.events
}

// Configure opens the live session with the given configuration
func (t *GeminiTransport) Configure(ctx context.Context, config entities.SessionConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid session config: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session != nil {
		return fmt.Errorf("live session already configured")
	}
	t.config = config
	if config.ResumptionHandle != "" {
		t.handle = config.ResumptionHandle
	}
	return t.connectLocked(ctx, false)
}

// Reconfigure applies new VAD parameters. The Live API accepts configuration
// only in the handshake, so the session is transparently resumed on a fresh
// connection with the latest resumption handle.
func (t *GeminiTransport) Reconfigure(ctx context.Context, vad entities.VADProfile) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return ErrNotConfigured
	}
	if t.handle == "" {
		return ErrNotResumable
	}

	previous := t.session
	t.config.VAD = vad
	if err := t.connectLocked(ctx, true); err != nil {
		return err
	}
	previous.Close()
	t.logger.Info("Live session resumed with new VAD profile", zap.String("profile", vad.Name))
	return nil
}

// connectLocked dials a session and starts its receive loop; the caller holds mu
func (t *GeminiTransport) connectLocked(ctx context.Context, resuming bool) error {
	if isClosed(t.closing) {
		return ErrClosed
	}

	model := t.config.Model
	if model == "" {
		model = t.model
	}
	session, err := t.client.Live.Connect(ctx, model, connectConfig(t.config.WithResumption(t.handle)))
	if err != nil {
		return fmt.Errorf("failed to connect live session: %w", err)
	}

	t.generation++
	t.session = session
	go t.receive(session, t.generation, resuming)
	return nil
}

// SendAudio streams each media chunk as realtime audio
func (t *GeminiTransport) SendAudio(envelope entities.AudioEnvelope) error {
	return t.withSession(func(s *genai.Session) error {
		for _, chunk := range envelope.Chunks {
			if err := s.SendRealtimeInput(genai.LiveRealtimeInput{
				Audio: &genai.Blob{Data: chunk.Data, MIMEType: chunk.MIMEType},
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// SendText sends a complete user turn
func (t *GeminiTransport) SendText(text string) error {
	return t.withSession(func(s *genai.Session) error {
		return s.SendClientContent(genai.LiveClientContentInput{
			Turns:        []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
			TurnComplete: genai.Ptr(true),
		})
	})
}

// SendToolResponses answers tool calls
func (t *GeminiTransport) SendToolResponses(responses []entities.ToolResponse) error {
	out := make([]*genai.FunctionResponse, 0, len(responses))
	for _, r := range responses {
		out = append(out, &genai.FunctionResponse{ID: r.ID, Name: r.Name, Response: r.Response})
	}
	return t.withSession(func(s *genai.Session) error {
		return s.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: out})
	})
}

// EndActivity sends activity end followed by audio stream end
func (t *GeminiTransport) EndActivity() error {
	return t.withSession(func(s *genai.Session) error {
		if err := s.SendRealtimeInput(genai.LiveRealtimeInput{ActivityEnd: &genai.ActivityEnd{}}); err != nil {
			return err
		}
		return s.SendRealtimeInput(genai.LiveRealtimeInput{AudioStreamEnd: true})
	})
}

// Close ends the session
func (t *GeminiTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closing)
	})

	t.mu.Lock()
	session := t.session
	t.mu.Unlock()

	if session == nil {
		t.finish(entities.Closed{Code: websocket.CloseNormalClosure, Normal: true})
		return nil
	}
	return session.Close()
}

func (t *GeminiTransport) withSession(fn func(s *genai.Session) error) error {
	if isClosed(t.closing) {
		return ErrClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return ErrNotConfigured
	}
	return fn(t.session)
}

func (t *GeminiTransport) receive(session *genai.Session, generation int, resuming bool) {
	for {
		msg, err := session.Receive()
		if err != nil {
			t.mu.Lock()
			current := generation == t.generation
			t.mu.Unlock()
			if !current {
				// Replaced by a resumed session
				return
			}
			t.finish(t.classify(err))
			return
		}

		for _, event := range Translate(msg) {
			if _, ok := event.(entities.SetupComplete); ok && resuming {
				resuming = false
				continue
			}
			if u, ok := event.(entities.ResumptionUpdate); ok && u.Resumable && u.Handle != "" {
				t.mu.Lock()
				t.handle = u.Handle
				t.mu.Unlock()
			}
			t.metrics.InboundMessages.WithLabelValues("live").Inc()
			select {
			case t.events <- event:
			case <-t.closing:
			}
		}
	}
}

func (t *GeminiTransport) classify(err error) entities.Closed {
	var ce *websocket.CloseError
	switch {
	case errors.As(err, &ce):
		return entities.Closed{Code: ce.Code, Normal: ce.Code == websocket.CloseNormalClosure, Err: err}
	case isClosed(t.closing):
		return entities.Closed{Code: websocket.CloseNormalClosure, Normal: true}
	}
	t.logger.Warn("Live session lost", zap.Error(err))
	return entities.Closed{Code: websocket.CloseAbnormalClosure, Err: err}
}

func (t *GeminiTransport) finish(closed entities.Closed) {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	t.mu.Unlock()

	if closed.Normal {
		closed.Err = nil
	}
	select {
	case t.events <- closed:
	default:
		// Consumer stopped reading; the final event is best effort after Close
		if !isClosed(t.closing) {
			t.events <- closed
		}
	}
	close(t.events)
}

// Translate converts a genai server message into live events
func Translate(msg *genai.LiveServerMessage) []entities.LiveEvent {
	if msg == nil {
		return nil
	}

	var events []entities.LiveEvent
	if msg.SetupComplete != nil {
		events = append(events, entities.SetupComplete{})
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			events = append(events, entities.TranscriptFragment{Role: entities.RoleUser, Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			events = append(events, entities.TranscriptFragment{Role: entities.RoleAssistant, Text: sc.OutputTranscription.Text})
		}
		if sc.Interrupted {
			events = append(events, entities.Interrupted{})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
					continue
				}
				events = append(events, entities.AudioFrame{
					Data:       p.InlineData.Data,
					SampleRate: audio.RateFromMIME(p.InlineData.MIMEType, audio.OutputSampleRate),
				})
			}
		}
		if sc.TurnComplete {
			events = append(events, entities.TurnComplete{})
		}
	}

	if tc := msg.ToolCall; tc != nil {
		calls := make([]entities.FunctionCall, 0, len(tc.FunctionCalls))
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			calls = append(calls, entities.FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		if len(calls) > 0 {
			events = append(events, entities.ToolCall{Calls: calls})
		}
	}

	if u := msg.SessionResumptionUpdate; u != nil {
		events = append(events, entities.ResumptionUpdate{Handle: u.NewHandle, Resumable: u.Resumable})
	}
	if msg.GoAway != nil {
		events = append(events, entities.GoAway{TimeLeft: msg.GoAway.TimeLeft})
	}
	return events
}

func connectConfig(config entities.SessionConfig) *genai.LiveConnectConfig {
	out := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: config.Voice},
			},
			LanguageCode: config.Language,
		},
		RealtimeInputConfig: &genai.RealtimeInputConfig{
			AutomaticActivityDetection: activityDetection(config.VAD),
		},
		SessionResumption: &genai.SessionResumptionConfig{Handle: config.ResumptionHandle},
	}
	if config.SystemInstruction != "" {
		out.SystemInstruction = genai.NewContentFromText(config.SystemInstruction, genai.RoleUser)
	}
	if config.InputTranscription {
		out.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if config.OutputTranscription {
		out.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if len(config.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(config.Tools))
		for _, tool := range config.Tools {
			decl := &genai.FunctionDeclaration{Name: tool.Name, Description: tool.Description}
			if tool.Parameters != nil {
				decl.ParametersJsonSchema = tool.Parameters
			}
			decls = append(decls, decl)
		}
		out.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return out
}

func activityDetection(vad entities.VADProfile) *genai.AutomaticActivityDetection {
	start, end := genai.StartSensitivityHigh, genai.EndSensitivityHigh
	if vad.StartSensitivity == entities.SensitivityLow {
		start = genai.StartSensitivityLow
	}
	if vad.EndSensitivity == entities.SensitivityLow {
		end = genai.EndSensitivityLow
	}
	return &genai.AutomaticActivityDetection{
		StartOfSpeechSensitivity: start,
		EndOfSpeechSensitivity:   end,
		PrefixPaddingMs:          genai.Ptr(int32(vad.PrefixPadding.Milliseconds())),
		SilenceDurationMs:        genai.Ptr(int32(vad.SilenceDuration.Milliseconds())),
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
