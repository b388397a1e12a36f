package live

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/satriahrh/concierge-voice/domain/entities"
)

func TestTranslateServerContent(t *testing.T) {
	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			InputTranscription:  &genai.Transcription{Text: "Is breakfast included?"},
			OutputTranscription: &genai.Transcription{Text: "Yes"},
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{Data: []byte{1, 0, 2, 0}, MIMEType: "audio/pcm;rate=24000"}},
				{Text: "ignored"},
			}},
			TurnComplete: true,
		},
	}

	events := Translate(msg)
	if len(events) != 4 {
		t.Fatalf("Expected 4 events, got %d: %#v", len(events), events)
	}
	if f := events[0].(entities.TranscriptFragment); f.Role != entities.RoleUser {
		t.Errorf("Expected user transcription first, got %#v", f)
	}
	if f := events[1].(entities.TranscriptFragment); f.Role != entities.RoleAssistant || f.Text != "Yes" {
		t.Errorf("Expected assistant transcription second, got %#v", f)
	}
	if a := events[2].(entities.AudioFrame); a.SampleRate != 24000 || len(a.Data) != 4 {
		t.Errorf("Unexpected audio frame %#v", a)
	}
	if _, ok := events[3].(entities.TurnComplete); !ok {
		t.Errorf("Expected turn complete last, got %#v", events[3])
	}
}

func TestTranslateControlMessages(t *testing.T) {
	msg := &genai.LiveServerMessage{
		SetupComplete: &genai.LiveServerSetupComplete{},
		ToolCall: &genai.LiveServerToolCall{FunctionCalls: []*genai.FunctionCall{
			{ID: "1", Name: "end_call", Args: map[string]any{"reason": "done"}},
		}},
		SessionResumptionUpdate: &genai.LiveServerSessionResumptionUpdate{NewHandle: "h", Resumable: true},
		GoAway:                  &genai.LiveServerGoAway{TimeLeft: 20 * time.Second},
	}

	events := Translate(msg)
	if len(events) != 4 {
		t.Fatalf("Expected 4 events, got %d", len(events))
	}
	if _, ok := events[0].(entities.SetupComplete); !ok {
		t.Errorf("Expected SetupComplete, got %#v", events[0])
	}
	if tc := events[1].(entities.ToolCall); len(tc.Calls) != 1 || tc.Calls[0].Name != "end_call" {
		t.Errorf("Unexpected tool call %#v", tc)
	}
	if u := events[2].(entities.ResumptionUpdate); u.Handle != "h" || !u.Resumable {
		t.Errorf("Unexpected resumption update %#v", u)
	}
	if g := events[3].(entities.GoAway); g.TimeLeft != 20*time.Second {
		t.Errorf("Unexpected go away %#v", g)
	}
}

func TestTranslateInterrupted(t *testing.T) {
	events := Translate(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{Interrupted: true}})
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if _, ok := events[0].(entities.Interrupted); !ok {
		t.Errorf("Expected Interrupted, got %#v", events[0])
	}
	if Translate(nil) != nil {
		t.Error("Expected no events for nil message")
	}
}

func TestConnectConfig(t *testing.T) {
	config := entities.SessionConfig{
		Model:               "gemini-live",
		Voice:               "Puck",
		Language:            "en-GB",
		SystemInstruction:   "Be brief.",
		Tools:               []entities.FunctionDeclaration{{Name: "lookup_property", Parameters: map[string]any{"type": "object"}}},
		InputTranscription:  true,
		OutputTranscription: true,
		VAD:                 entities.NoisyVAD(),
		ResumptionHandle:    "resume-me",
	}

	out := connectConfig(config)
	if len(out.ResponseModalities) != 1 || out.ResponseModalities[0] != genai.ModalityAudio {
		t.Errorf("Expected audio modality, got %v", out.ResponseModalities)
	}
	if out.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Puck" {
		t.Error("Expected voice to be set")
	}
	vad := out.RealtimeInputConfig.AutomaticActivityDetection
	if vad.StartOfSpeechSensitivity != genai.StartSensitivityLow || vad.EndOfSpeechSensitivity != genai.EndSensitivityLow {
		t.Errorf("Expected low sensitivities, got %v/%v", vad.StartOfSpeechSensitivity, vad.EndOfSpeechSensitivity)
	}
	if *vad.SilenceDurationMs != 1200 {
		t.Errorf("Expected 1200ms silence, got %d", *vad.SilenceDurationMs)
	}
	if out.SessionResumption.Handle != "resume-me" {
		t.Errorf("Expected resumption handle, got %q", out.SessionResumption.Handle)
	}
	if out.InputAudioTranscription == nil || out.OutputAudioTranscription == nil {
		t.Error("Expected both transcription configs")
	}
	if len(out.Tools) != 1 || out.Tools[0].FunctionDeclarations[0].ParametersJsonSchema == nil {
		t.Error("Expected tool declaration with parameters")
	}
}

func TestGeminiTransportRequiresConfigure(t *testing.T) {
	d := NewGeminiDialer(GeminiConfig{}, zaptest.NewLogger(t), nil)
	if _, err := d.Dial(context.Background(), entities.Credential{}); err == nil {
		t.Fatal("Expected error for empty API key")
	}

	tr, err := d.Dial(context.Background(), entities.Credential{Kind: entities.CredentialAPIKey, Token: "test-key"})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if err := tr.SendText("hello"); err != ErrNotConfigured {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
	if err := tr.Reconfigure(context.Background(), entities.SensitiveVAD()); err != ErrNotConfigured {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}

	tr.Close()
	ev, ok := <-tr.Events()
	if !ok {
		t.Fatal("Expected a final Closed event")
	}
	if closed := ev.(entities.Closed); !closed.Normal {
		t.Errorf("Expected normal close, got %+v", closed)
	}
	if err := tr.SendText("late"); err != ErrClosed {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}
