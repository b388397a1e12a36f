package transport

import (
	"github.com/satriahrh/concierge-voice/domain/entities"
)

// Outbound wire messages. Field names follow the snake_case spelling of the
// real-time speech protocol.

type setupMessage struct {
	Setup setupPayload `json:"setup"`
}

type setupPayload struct {
	Model                    string              `json:"model"`
	GenerationConfig         generationConfig    `json:"generation_config"`
	SystemInstruction        *content            `json:"system_instruction,omitempty"`
	Tools                    []toolSet           `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}           `json:"input_audio_transcription,omitempty"`
	OutputAudioTranscription *struct{}           `json:"output_audio_transcription,omitempty"`
	RealtimeInputConfig      realtimeInputConfig `json:"realtime_input_config"`
	SessionResumption        sessionResumption   `json:"session_resumption"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"response_modalities"`
	SpeechConfig       speechConfig `json:"speech_config"`
}

type speechConfig struct {
	VoiceConfig  voiceConfig `json:"voice_config"`
	LanguageCode string      `json:"language_code,omitempty"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuilt_voice_config"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voice_name"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type toolSet struct {
	FunctionDeclarations []entities.FunctionDeclaration `json:"function_declarations"`
}

type realtimeInputConfig struct {
	AutomaticActivityDetection activityDetection `json:"automatic_activity_detection"`
}

type activityDetection struct {
	StartOfSpeechSensitivity string `json:"start_of_speech_sensitivity"`
	EndOfSpeechSensitivity   string `json:"end_of_speech_sensitivity"`
	PrefixPaddingMs          int64  `json:"prefix_padding_ms"`
	SilenceDurationMs        int64  `json:"silence_duration_ms"`
}

type sessionResumption struct {
	Handle string `json:"handle,omitempty"`
}

type sessionUpdateMessage struct {
	SessionUpdate sessionUpdate `json:"session_update"`
}

type sessionUpdate struct {
	RealtimeInputConfig realtimeInputConfig `json:"realtime_input_config"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtime_input"`
}

// MediaChunk data is []byte, which encoding/json writes as base64
type realtimeInput struct {
	MediaChunks    []entities.MediaChunk `json:"media_chunks,omitempty"`
	ActivityEnd    *struct{}             `json:"activity_end,omitempty"`
	AudioStreamEnd bool                  `json:"audio_stream_end,omitempty"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"client_content"`
}

type clientContent struct {
	Turns        []content `json:"turns"`
	TurnComplete bool      `json:"turn_complete"`
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"tool_response"`
}

type toolResponse struct {
	FunctionResponses []entities.ToolResponse `json:"function_responses"`
}

func buildRealtimeInputConfig(vad entities.VADProfile) realtimeInputConfig {
	start, end := "START_SENSITIVITY_HIGH", "END_SENSITIVITY_HIGH"
	if vad.StartSensitivity == entities.SensitivityLow {
		start = "START_SENSITIVITY_LOW"
	}
	if vad.EndSensitivity == entities.SensitivityLow {
		end = "END_SENSITIVITY_LOW"
	}
	return realtimeInputConfig{
		AutomaticActivityDetection: activityDetection{
			StartOfSpeechSensitivity: start,
			EndOfSpeechSensitivity:   end,
			PrefixPaddingMs:          vad.PrefixPadding.Milliseconds(),
			SilenceDurationMs:        vad.SilenceDuration.Milliseconds(),
		},
	}
}

func buildSetup(config entities.SessionConfig) setupMessage {
	payload := setupPayload{
		Model: config.Model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: speechConfig{
				VoiceConfig:  voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: config.Voice}},
				LanguageCode: config.Language,
			},
		},
		RealtimeInputConfig: buildRealtimeInputConfig(config.VAD),
		SessionResumption:   sessionResumption{Handle: config.ResumptionHandle},
	}
	if config.SystemInstruction != "" {
		payload.SystemInstruction = &content{Parts: []part{{Text: config.SystemInstruction}}}
	}
	if len(config.Tools) > 0 {
		payload.Tools = []toolSet{{FunctionDeclarations: config.Tools}}
	}
	if config.InputTranscription {
		payload.InputAudioTranscription = &struct{}{}
	}
	if config.OutputTranscription {
		payload.OutputAudioTranscription = &struct{}{}
	}
	return setupMessage{Setup: payload}
}
