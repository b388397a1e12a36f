// Command deviceclient simulates a room device: it authenticates, starts a
// call, streams a raw PCM16 file as the microphone and records what the
// assistant plays back.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/concierge-voice/domain"
	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/internal/api"
	"github.com/satriahrh/concierge-voice/internal/audio"
)

const frameDuration = 20 * time.Millisecond

type options struct {
	server     string
	deviceID   string
	secret     string
	profile    string
	input      string
	output     string
	sampleRate int
}

func main() {
	var opts options
	flag.StringVar(&opts.server, "server", "http://localhost:8080", "bridge base URL")
	flag.StringVar(&opts.deviceID, "device", "room-101", "device id")
	flag.StringVar(&opts.secret, "secret", "", "device provisioning secret")
	flag.StringVar(&opts.profile, "profile", "guest", "call profile")
	flag.StringVar(&opts.input, "in", "", "raw mono PCM16 little-endian file to stream (a test tone when empty)")
	flag.StringVar(&opts.output, "out", "playback.pcm", "file receiving the assistant's 24kHz PCM16 audio")
	flag.IntVar(&opts.sampleRate, "rate", 16000, "sample rate of the input file")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if err := run(opts, logger); err != nil {
		logger.Fatal("Device client failed", zap.Error(err))
	}
}

func run(opts options, logger *zap.Logger) error {
	token, err := authenticate(opts)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	logger.Info("Authenticated", zap.String("device_id", opts.deviceID))

	wsURL, err := url.Parse(opts.server)
	if err != nil {
		return err
	}
	if wsURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	} else {
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/ws"

	headers := http.Header{}
	headers.Add("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL.String(), headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	out, err := os.Create(opts.output)
	if err != nil {
		return err
	}
	defer out.Close()

	samples, err := loadInput(opts)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go receive(conn, out, logger, done)

	if err := conn.WriteJSON(domain.DeviceMessage{
		Type:       domain.DeviceMessageCallStart,
		Profile:    opts.profile,
		SampleRate: opts.sampleRate,
	}); err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	frameLen := opts.sampleRate * int(frameDuration) / int(time.Second)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for offset := 0; ; offset += frameLen {
		select {
		case <-done:
			return nil
		case <-interrupt:
			logger.Info("Ending call")
			_ = conn.WriteJSON(domain.DeviceMessage{Type: domain.DeviceMessageCallEnd})
			select {
			case <-done:
			case <-time.After(2 * time.Second):
			}
			return conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		case <-ticker.C:
			// loop the input so the microphone never goes quiet
			frame := make([]int16, frameLen)
			for i := range frame {
				frame[i] = samples[(offset+i)%len(samples)]
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, audio.EncodeLE(frame)); err != nil {
				return fmt.Errorf("send audio: %w", err)
			}
		}
	}
}

func authenticate(opts options) (string, error) {
	body, _ := json.Marshal(api.DeviceAuthRequest{DeviceID: opts.deviceID, SecretKey: opts.secret})
	resp, err := http.Post(opts.server+"/api/v1/device/auth", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, e.Message)
	}

	var auth api.DeviceAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", err
	}
	return auth.Token, nil
}

func loadInput(opts options) ([]int16, error) {
	if opts.input == "" {
		return tone(opts.sampleRate, 440, time.Second), nil
	}
	data, err := os.ReadFile(opts.input)
	if err != nil {
		return nil, err
	}
	samples, err := audio.DecodeLE(data)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%s holds no samples", opts.input)
	}
	return samples, nil
}

func tone(rate int, freq float64, length time.Duration) []int16 {
	n := rate * int(length) / int(time.Second)
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = float32(0.2 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return audio.FloatToPCM16(frame)
}

func receive(conn *websocket.Conn, out *os.File, logger *zap.Logger, done chan<- struct{}) {
	defer close(done)
	for {
		kind, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Connection lost", zap.Error(err))
			}
			return
		}

		if kind == websocket.BinaryMessage {
			if _, err := out.Write(message); err != nil {
				logger.Error("Failed to record playback", zap.Error(err))
			}
			continue
		}

		var envelope struct {
			Type entities.NotificationKind `json:"type"`
		}
		if err := json.Unmarshal(message, &envelope); err != nil {
			logger.Warn("Unreadable message", zap.ByteString("message", message))
			continue
		}
		logger.Info("Received", zap.String("type", string(envelope.Type)), zap.ByteString("message", message))
		if envelope.Type == entities.NotificationCallEnded {
			return
		}
	}
}
