package transport

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/satriahrh/concierge-voice/domain/entities"
)

func TestDecodeAcceptsBothSpellings(t *testing.T) {
	pcm := base64.StdEncoding.EncodeToString([]byte{1, 0, 2, 0})

	tests := []struct {
		name string
		json string
	}{
		{
			name: "camelCase",
			json: `{"serverContent":{"inputTranscription":{"text":"Hi"},"outputTranscription":{"text":"Hello"},` +
				`"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"` + pcm + `"}}]},"turnComplete":true}}`,
		},
		{
			name: "snake_case",
			json: `{"server_content":{"input_transcription":{"text":"Hi"},"output_transcription":{"text":"Hello"},` +
				`"model_turn":{"parts":[{"inline_data":{"mime_type":"audio/pcm;rate=24000","data":"` + pcm + `"}}]},"turn_complete":true}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := Decode(false, []byte(tt.json))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if len(events) != 4 {
				t.Fatalf("Expected 4 events, got %d: %#v", len(events), events)
			}
			if f, ok := events[0].(entities.TranscriptFragment); !ok || f.Role != entities.RoleUser || f.Text != "Hi" {
				t.Errorf("Expected user fragment first, got %#v", events[0])
			}
			if f, ok := events[1].(entities.TranscriptFragment); !ok || f.Role != entities.RoleAssistant || f.Text != "Hello" {
				t.Errorf("Expected assistant fragment second, got %#v", events[1])
			}
			if a, ok := events[2].(entities.AudioFrame); !ok || len(a.Data) != 4 || a.SampleRate != 24000 {
				t.Errorf("Expected audio frame third, got %#v", events[2])
			}
			if _, ok := events[3].(entities.TurnComplete); !ok {
				t.Errorf("Expected turn complete last, got %#v", events[3])
			}
		})
	}
}

func TestDecodeTopLevelTranscription(t *testing.T) {
	events, err := Decode(false, []byte(`{"output_transcription":{"text":"llo"}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if f := events[0].(entities.TranscriptFragment); f.Text != "llo" || f.Role != entities.RoleAssistant {
		t.Errorf("Unexpected fragment %#v", f)
	}
}

func TestDecodeControlEvents(t *testing.T) {
	tests := []struct {
		name  string
		json  string
		check func(t *testing.T, ev entities.LiveEvent)
	}{
		{
			name: "setup complete",
			json: `{"setupComplete":{}}`,
			check: func(t *testing.T, ev entities.LiveEvent) {
				if _, ok := ev.(entities.SetupComplete); !ok {
					t.Errorf("got %#v", ev)
				}
			},
		},
		{
			name: "interrupted",
			json: `{"serverContent":{"interrupted":true}}`,
			check: func(t *testing.T, ev entities.LiveEvent) {
				if _, ok := ev.(entities.Interrupted); !ok {
					t.Errorf("got %#v", ev)
				}
			},
		},
		{
			name: "resumption update",
			json: `{"sessionResumptionUpdate":{"newHandle":"h-42","resumable":true}}`,
			check: func(t *testing.T, ev entities.LiveEvent) {
				u, ok := ev.(entities.ResumptionUpdate)
				if !ok || u.Handle != "h-42" || !u.Resumable {
					t.Errorf("got %#v", ev)
				}
			},
		},
		{
			name: "go away",
			json: `{"goAway":{"timeLeft":"30s"}}`,
			check: func(t *testing.T, ev entities.LiveEvent) {
				g, ok := ev.(entities.GoAway)
				if !ok || g.TimeLeft != 30*time.Second {
					t.Errorf("got %#v", ev)
				}
			},
		},
		{
			name: "tool call keeps argument spelling",
			json: `{"toolCall":{"functionCalls":[{"id":"c1","name":"lookup_property","args":{"topicName":"wifi"}}]}}`,
			check: func(t *testing.T, ev entities.LiveEvent) {
				tc, ok := ev.(entities.ToolCall)
				if !ok || len(tc.Calls) != 1 {
					t.Fatalf("got %#v", ev)
				}
				call := tc.Calls[0]
				if call.ID != "c1" || call.Name != "lookup_property" || call.Args["topicName"] != "wifi" {
					t.Errorf("got %#v", call)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := Decode(false, []byte(tt.json))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if len(events) != 1 {
				t.Fatalf("Expected 1 event, got %d", len(events))
			}
			tt.check(t, events[0])
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode(false, []byte(`{"serverContent":`)); err == nil {
		t.Error("Expected error for truncated JSON")
	}
	if _, err := Decode(false, []byte(`plain text`)); err == nil {
		t.Error("Expected error for non-JSON text frame")
	}
	bad := `{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm","data":"***"}}]}}}`
	if _, err := Decode(false, []byte(bad)); err == nil {
		t.Error("Expected error for invalid base64 audio")
	}
}

func TestDecodeUnknownMessageIsIgnored(t *testing.T) {
	events, err := Decode(false, []byte(`{"usageMetadata":{"totalTokenCount":12}}`))
	if err != nil || len(events) != 0 {
		t.Errorf("Expected unknown message to be ignored, got %v, %v", events, err)
	}
}

func TestDecodeRawBinaryAudio(t *testing.T) {
	events, err := Decode(true, []byte{0, 1, 2, 3})
	if err != nil || len(events) != 1 {
		t.Fatalf("Expected one audio frame, got %v, %v", events, err)
	}
	if f := events[0].(entities.AudioFrame); f.SampleRate != 24000 {
		t.Errorf("Expected 24kHz raw audio, got %d", f.SampleRate)
	}
}

func TestDecodeBinaryAudioThatLooksLikeJSON(t *testing.T) {
	frames := [][]byte{
		{'{', 0x10, 0x00, 0x01, 0x7f, 0x22},
		{' ', '{', 0x03, 0x00},
		{'\n', 0x00, 0x00, 0x00},
	}
	for _, frame := range frames {
		events, err := Decode(true, frame)
		if err != nil {
			t.Fatalf("Decode(%v) error = %v", frame, err)
		}
		if len(events) != 1 {
			t.Fatalf("Decode(%v) = %d events, want 1", frame, len(events))
		}
		f, ok := events[0].(entities.AudioFrame)
		if !ok || len(f.Data) != len(frame) {
			t.Errorf("Expected the whole frame as audio, got %#v", events[0])
		}
	}
}

func TestDecodeSkipsOnlyTheBadAudioPart(t *testing.T) {
	good := base64.StdEncoding.EncodeToString([]byte{1, 0, 2, 0})
	msg := `{"serverContent":{"modelTurn":{"parts":[` +
		`{"inlineData":{"mimeType":"audio/pcm","data":"***"}},` +
		`{"inlineData":{"mimeType":"audio/pcm","data":"` + good + `"}}]},` +
		`"turnComplete":true},"sessionResumptionUpdate":{"newHandle":"h2","resumable":true}}`

	events, err := Decode(false, []byte(msg))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Decode() error = %v, want ErrMalformedFrame", err)
	}

	var audioFrames, turnComplete, resumption int
	for _, event := range events {
		switch e := event.(type) {
		case entities.AudioFrame:
			audioFrames++
			if len(e.Data) != 4 {
				t.Errorf("Unexpected audio %v", e.Data)
			}
		case entities.TurnComplete:
			turnComplete++
		case entities.ResumptionUpdate:
			resumption++
		}
	}
	if audioFrames != 1 || turnComplete != 1 || resumption != 1 {
		t.Errorf("audio=%d turnComplete=%d resumption=%d, want 1 each", audioFrames, turnComplete, resumption)
	}
}
