package transport

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/internal/audio"
)

// ErrMalformedFrame is returned for inbound frames that cannot be decoded
var ErrMalformedFrame = errors.New("malformed inbound frame")

// Keys whose values are caller-defined and must keep their original spelling
var opaqueKeys = map[string]bool{
	"args":     true,
	"response": true,
}

// Decode turns one inbound websocket frame into zero or more live events.
// The remote service may spell fields in camelCase or snake_case, nest
// transcriptions inside server content or send them at the top level, and
// stream raw PCM as non-JSON binary frames.
func Decode(binary bool, data []byte) ([]entities.LiveEvent, error) {
	trimmed := bytes.TrimLeftFunc(data, unicode.IsSpace)
	if len(trimmed) == 0 && !binary {
		return nil, nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		if !binary {
			return nil, fmt.Errorf("%w: text frame is not a JSON object", ErrMalformedFrame)
		}
		return rawAudio(data), nil
	}

	var raw map[string]any
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		// PCM samples can start with '{' or whitespace bytes
		if binary {
			return rawAudio(data), nil
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	msg := normalize(raw)

	var (
		events []entities.LiveEvent
		errs   []error
	)
	if _, ok := msg["setup_complete"]; ok {
		events = append(events, entities.SetupComplete{})
	}

	// Transcriptions may arrive at the top level or inside server content
	events = append(events, transcriptions(msg)...)

	if sc := object(msg, "server_content"); sc != nil {
		events = append(events, transcriptions(sc)...)
		if boolean(sc, "interrupted") {
			events = append(events, entities.Interrupted{})
		}
		if turn := object(sc, "model_turn"); turn != nil {
			frames, err := audioParts(turn)
			if err != nil {
				errs = append(errs, err)
			}
			events = append(events, frames...)
		}
		if boolean(sc, "turn_complete") {
			events = append(events, entities.TurnComplete{})
		}
	}

	if tc := object(msg, "tool_call"); tc != nil {
		var calls []entities.FunctionCall
		for _, item := range list(tc, "function_calls") {
			fc, ok := item.(map[string]any)
			if !ok {
				continue
			}
			args, _ := fc["args"].(map[string]any)
			calls = append(calls, entities.FunctionCall{
				ID:   str(fc, "id"),
				Name: str(fc, "name"),
				Args: args,
			})
		}
		if len(calls) > 0 {
			events = append(events, entities.ToolCall{Calls: calls})
		}
	}

	if su := object(msg, "session_resumption_update"); su != nil {
		events = append(events, entities.ResumptionUpdate{
			Handle:    str(su, "new_handle"),
			Resumable: boolean(su, "resumable"),
		})
	}

	if ga := object(msg, "go_away"); ga != nil {
		events = append(events, entities.GoAway{TimeLeft: duration(ga["time_left"])})
	}

	return events, errors.Join(errs...)
}

func rawAudio(data []byte) []entities.LiveEvent {
	if len(data) == 0 {
		return nil
	}
	return []entities.LiveEvent{entities.AudioFrame{Data: data, SampleRate: audio.OutputSampleRate}}
}

func transcriptions(obj map[string]any) []entities.LiveEvent {
	var events []entities.LiveEvent
	if t := object(obj, "input_transcription"); t != nil {
		if text := str(t, "text"); text != "" {
			events = append(events, entities.TranscriptFragment{Role: entities.RoleUser, Text: text})
		}
	}
	if t := object(obj, "output_transcription"); t != nil {
		if text := str(t, "text"); text != "" {
			events = append(events, entities.TranscriptFragment{Role: entities.RoleAssistant, Text: text})
		}
	}
	return events
}

// audioParts decodes every inline audio part. A part that is not valid
// base64 is skipped; the remaining parts are still returned.
func audioParts(turn map[string]any) ([]entities.LiveEvent, error) {
	var (
		events []entities.LiveEvent
		errs   []error
	)
	for _, item := range list(turn, "parts") {
		p, ok := item.(map[string]any)
		if !ok {
			continue
		}
		inline := object(p, "inline_data")
		if inline == nil {
			continue
		}
		mime := str(inline, "mime_type")
		if mime != "" && !strings.HasPrefix(mime, "audio/pcm") {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(str(inline, "data"))
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: inline audio is not base64: %v", ErrMalformedFrame, err))
			continue
		}
		events = append(events, entities.AudioFrame{Data: data, SampleRate: audio.RateFromMIME(mime, audio.OutputSampleRate)})
	}
	return events, errors.Join(errs...)
}

// duration accepts the protobuf JSON form ("12.5s") or a number of seconds
func duration(v any) time.Duration {
	switch t := v.(type) {
	case string:
		if d, err := time.ParseDuration(t); err == nil {
			return d
		}
	case float64:
		return time.Duration(t * float64(time.Second))
	}
	return 0
}

// normalize rewrites every structural key to snake_case
func normalize(v map[string]any) map[string]any {
	out := make(map[string]any, len(v))
	for key, value := range v {
		key = snakeCase(key)
		if opaqueKeys[key] {
			out[key] = value
			continue
		}
		out[key] = normalizeValue(value)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalize(t)
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	}
	return v
}

func snakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func object(m map[string]any, key string) map[string]any {
	o, _ := m[key].(map[string]any)
	return o
}

func list(m map[string]any, key string) []any {
	l, _ := m[key].([]any)
	return l
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolean(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}
