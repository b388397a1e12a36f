package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/concierge-voice/domain"
	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/internal/audio"
	"github.com/satriahrh/concierge-voice/internal/call"
	"github.com/satriahrh/concierge-voice/usecase"
)

type startRequest struct {
	deviceID string
	profile  string
	devices  call.Devices
	notify   func(entities.Notification)
	openErr  error
}

// fakeCalls opens the capture device the way a call would and records requests
type fakeCalls struct {
	mu       sync.Mutex
	starts   chan startRequest
	startErr error
	ended    []entities.EndReason
}

func newFakeCalls() *fakeCalls {
	return &fakeCalls{starts: make(chan startRequest, 4)}
}

func (f *fakeCalls) StartCall(ctx context.Context, deviceID, profile string, devices call.Devices, notify func(entities.Notification)) (*entities.CallSession, error) {
	f.mu.Lock()
	startErr := f.startErr
	f.mu.Unlock()

	req := startRequest{deviceID: deviceID, profile: profile, devices: devices, notify: notify}
	if startErr == nil {
		req.openErr = devices.Capture.Open(ctx)
	}
	f.starts <- req

	if startErr != nil {
		return nil, startErr
	}
	if req.openErr != nil {
		return nil, req.openErr
	}
	return entities.NewCallSession(deviceID, profile, time.Now()), nil
}

func (f *fakeCalls) EndCall(deviceID string, reason entities.EndReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, reason)
	return nil
}

func (f *fakeCalls) endReasons() []entities.EndReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entities.EndReason{}, f.ended...)
}

func setupTestServer(t *testing.T, calls CallService) *Hub {
	t.Helper()

	logger := zaptest.NewLogger(t)
	hub := NewHub(calls, clock.New(), logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func dialDevice(t *testing.T, hub *Hub, deviceID string) *websocket.Conn {
	t.Helper()

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		return HandleWebSocketWithAuth(hub, c, c.QueryParam("device_id"), zap.NewNop())
	})
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?device_id=" + deviceID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("Failed to send message: %v", err)
	}
}

// readType reads text frames until one of the given type arrives
func readType(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Failed waiting for %q: %v", want, err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Invalid JSON from server: %v", err)
		}
		if msg["type"] == want {
			return msg
		}
	}
}

func nextStart(t *testing.T, calls *fakeCalls) startRequest {
	t.Helper()
	select {
	case req := <-calls.starts:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for StartCall")
		return startRequest{}
	}
}

func TestCallStartStreamsCapture(t *testing.T) {
	calls := newFakeCalls()
	hub := setupTestServer(t, calls)
	conn := dialDevice(t, hub, "device-1")

	sendJSON(t, conn, domain.DeviceMessage{Type: domain.DeviceMessageCallStart, Profile: "guest", SampleRate: 48000})
	req := nextStart(t, calls)

	if req.deviceID != "device-1" || req.profile != "guest" {
		t.Errorf("Unexpected start request %+v", req)
	}
	if req.openErr != nil {
		t.Fatalf("Capture Open() error = %v", req.openErr)
	}
	if rate := req.devices.Capture.SampleRate(); rate != 48000 {
		t.Errorf("SampleRate() = %d, want 48000", rate)
	}

	pcm := audio.EncodeLE([]int16{16384, -16384, 0})
	if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		t.Fatalf("Failed to send audio: %v", err)
	}

	select {
	case frame := <-req.devices.Capture.Frames():
		if len(frame) != 3 {
			t.Fatalf("Expected 3 samples, got %d", len(frame))
		}
		if math.Abs(float64(frame[0])-0.5) > 0.001 || math.Abs(float64(frame[1])+0.5) > 0.001 || frame[2] != 0 {
			t.Errorf("Unexpected samples %v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Capture frame never arrived")
	}

	if !hub.IsConnected("device-1") {
		t.Error("Expected device-1 to be connected")
	}
}

func TestNotificationsReachDevice(t *testing.T) {
	calls := newFakeCalls()
	hub := setupTestServer(t, calls)
	conn := dialDevice(t, hub, "device-1")

	sendJSON(t, conn, domain.DeviceMessage{Type: domain.DeviceMessageCallStart})
	req := nextStart(t, calls)

	req.notify(entities.Notification{
		Kind:     entities.NotificationAdvisory,
		Advisory: entities.AdvisoryNoisyEnvironment,
		Message:  entities.AdvisoryNoisyEnvironment.Message(),
	})

	msg := readType(t, conn, string(entities.NotificationAdvisory))
	if msg["advisory"] != string(entities.AdvisoryNoisyEnvironment) {
		t.Errorf("advisory = %v", msg["advisory"])
	}
}

func TestCaptureDeniedStillStartsCall(t *testing.T) {
	calls := newFakeCalls()
	hub := setupTestServer(t, calls)
	conn := dialDevice(t, hub, "device-1")

	sendJSON(t, conn, domain.DeviceMessage{Type: domain.DeviceMessageCaptureDenied, Profile: "setup"})
	req := nextStart(t, calls)

	if !errors.Is(req.openErr, errCaptureDenied) {
		t.Errorf("Open() error = %v, want errCaptureDenied", req.openErr)
	}
}

func TestRejectedCallReportsError(t *testing.T) {
	calls := newFakeCalls()
	calls.startErr = fmt.Errorf("%w: unknown profile karaoke", usecase.ErrCallRejected)
	hub := setupTestServer(t, calls)
	conn := dialDevice(t, hub, "device-1")

	sendJSON(t, conn, domain.DeviceMessage{Type: domain.DeviceMessageCallStart, Profile: "karaoke"})
	nextStart(t, calls)

	msg := readType(t, conn, domain.DeviceMessageError)
	if !strings.Contains(msg["message"].(string), "karaoke") {
		t.Errorf("message = %v", msg["message"])
	}
}

func TestSecondCallStartIsRejected(t *testing.T) {
	calls := newFakeCalls()
	hub := setupTestServer(t, calls)
	conn := dialDevice(t, hub, "device-1")

	sendJSON(t, conn, domain.DeviceMessage{Type: domain.DeviceMessageCallStart})
	first := nextStart(t, calls)

	sendJSON(t, conn, domain.DeviceMessage{Type: domain.DeviceMessageCallStart})
	msg := readType(t, conn, domain.DeviceMessageError)
	if msg["message"] != call.ErrCallInProgress.Error() {
		t.Errorf("message = %v", msg["message"])
	}

	// frames still reach the first call
	if err := conn.WriteMessage(websocket.BinaryMessage, audio.EncodeLE([]int16{1, 2})); err != nil {
		t.Fatalf("Failed to send audio: %v", err)
	}
	select {
	case <-first.devices.Capture.Frames():
	case <-time.After(2 * time.Second):
		t.Fatal("First call lost its capture stream")
	}
}

func TestCallEndAndPing(t *testing.T) {
	calls := newFakeCalls()
	hub := setupTestServer(t, calls)
	conn := dialDevice(t, hub, "device-1")

	sendJSON(t, conn, domain.DeviceMessage{Type: domain.DeviceMessagePing, Timestamp: 1234})
	pong := readType(t, conn, domain.DeviceMessagePong)
	if pong["timestamp"] != float64(1234) {
		t.Errorf("pong timestamp = %v", pong["timestamp"])
	}

	sendJSON(t, conn, domain.DeviceMessage{Type: domain.DeviceMessageCallEnd})
	sendJSON(t, conn, domain.DeviceMessage{Type: domain.DeviceMessagePing})
	readType(t, conn, domain.DeviceMessagePong)

	reasons := calls.endReasons()
	if len(reasons) != 1 || reasons[0] != entities.EndReasonUser {
		t.Errorf("EndCall reasons = %v", reasons)
	}
}

func TestInvalidMessageReportsError(t *testing.T) {
	hub := setupTestServer(t, newFakeCalls())
	conn := dialDevice(t, hub, "device-1")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)); err != nil {
		t.Fatalf("Failed to send message: %v", err)
	}
	msg := readType(t, conn, domain.DeviceMessageError)
	if !strings.Contains(msg["message"].(string), "dance") {
		t.Errorf("message = %v", msg["message"])
	}
}

func TestDisconnectLosesCapture(t *testing.T) {
	calls := newFakeCalls()
	hub := setupTestServer(t, calls)
	conn := dialDevice(t, hub, "device-1")

	sendJSON(t, conn, domain.DeviceMessage{Type: domain.DeviceMessageCallStart})
	req := nextStart(t, calls)

	conn.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-req.devices.Capture.Frames():
			if open {
				continue
			}
			if !errors.Is(req.devices.Capture.Err(), errDisconnected) {
				t.Errorf("Err() = %v, want errDisconnected", req.devices.Capture.Err())
			}
			return
		case <-deadline:
			t.Fatal("Capture stream was not closed after disconnect")
		}
	}
}

func TestCaptureStoppedByDevice(t *testing.T) {
	calls := newFakeCalls()
	hub := setupTestServer(t, calls)
	conn := dialDevice(t, hub, "device-1")

	sendJSON(t, conn, domain.DeviceMessage{Type: domain.DeviceMessageCallStart})
	req := nextStart(t, calls)

	sendJSON(t, conn, domain.DeviceMessage{Type: domain.DeviceMessageCaptureStopped})

	select {
	case _, open := <-req.devices.Capture.Frames():
		if open {
			t.Fatal("Expected the frames channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Capture stream was not closed")
	}
	if !errors.Is(req.devices.Capture.Err(), errCaptureStopped) {
		t.Errorf("Err() = %v, want errCaptureStopped", req.devices.Capture.Err())
	}
}

func nextWrite(t *testing.T, c *Client) WriteData {
	t.Helper()
	select {
	case data := <-c.send:
		return data
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for an outbound message")
		return WriteData{}
	}
}

func expectNoWrite(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("Unexpected outbound message type %d: %s", data.Type, data.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPlaybackSinkSchedulesOnClock(t *testing.T) {
	mock := clock.NewMock()
	client := &Client{send: make(chan WriteData, 16), logger: zap.NewNop()}
	sink := newPlaybackSink(client, mock)

	if sink.CurrentTime() != 0 {
		t.Errorf("CurrentTime() = %v, want 0", sink.CurrentTime())
	}

	first, err := sink.Schedule([]float32{0.5, -0.5}, 24000, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	pending, _ := sink.Schedule([]float32{0.25}, 24000, 300*time.Millisecond)

	expectNoWrite(t, client)

	mock.Add(100 * time.Millisecond)
	data := nextWrite(t, client)
	if data.Type != websocket.BinaryMessage {
		t.Fatalf("Expected binary audio, got type %d", data.Type)
	}
	samples, err := audio.DecodeLE(data.Payload)
	if err != nil || len(samples) != 2 {
		t.Fatalf("Unexpected payload %v, %v", samples, err)
	}

	// interruption: the sent buffer triggers one clear, the pending one is dropped
	first.Stop()
	pending.Stop()
	clear := nextWrite(t, client)
	if clear.Type != websocket.TextMessage || !strings.Contains(string(clear.Payload), domain.DeviceMessagePlaybackClear) {
		t.Errorf("Expected playback_clear, got %s", clear.Payload)
	}

	mock.Add(time.Second)
	expectNoWrite(t, client)
}

func TestPlaybackClearIsCoalesced(t *testing.T) {
	mock := clock.NewMock()
	client := &Client{send: make(chan WriteData, 16), logger: zap.NewNop()}
	sink := newPlaybackSink(client, mock)

	a, _ := sink.Schedule([]float32{0.1}, 24000, 0)
	b, _ := sink.Schedule([]float32{0.1}, 24000, 0)
	mock.Add(time.Millisecond)
	nextWrite(t, client)
	nextWrite(t, client)

	a.Stop()
	b.Stop()
	a.Stop()

	nextWrite(t, client)
	expectNoWrite(t, client)
}

func TestDeviceLinkIsMeasuredOnConnect(t *testing.T) {
	calls := newFakeCalls()
	hub := setupTestServer(t, calls)
	conn := dialDevice(t, hub, "device-1")

	// control frames are answered while the device reads
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := hub.LinkQuality("device-1"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the link measurement")
		}
		time.Sleep(5 * time.Millisecond)
	}

	q, _ := hub.LinkQuality("device-1")
	if !q.Sufficient {
		t.Errorf("Expected a loopback link to be sufficient, got %+v", q)
	}
	if hub.ConnectedDevices() != 1 {
		t.Errorf("ConnectedDevices() = %d, want 1", hub.ConnectedDevices())
	}
	if _, ok := hub.LinkQuality("device-2"); ok {
		t.Error("Expected no link for a device that is not connected")
	}

	sendJSON(t, conn, domain.DeviceMessage{Type: domain.DeviceMessageCallStart})
	if req := nextStart(t, calls); req.devices.Link == nil {
		t.Error("Expected the call to be gated on the device link")
	}
}
