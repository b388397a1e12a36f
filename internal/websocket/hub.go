package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/concierge-voice/domain"
	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/internal/call"
	"github.com/satriahrh/concierge-voice/internal/netquality"
	"github.com/satriahrh/concierge-voice/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	sendBuffer = 256

	startCallTimeout = 20 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// CallService starts and ends calls on behalf of connected devices
type CallService interface {
	StartCall(ctx context.Context, deviceID, profile string, devices call.Devices, notify func(entities.Notification)) (*entities.CallSession, error)
	EndCall(deviceID string, reason entities.EndReason) error
}

// Hub maintains the set of connected devices
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	// Closed when Run returns
	done chan struct{}

	calls     CallService
	validator *MessageValidator
	clock     clock.Clock
	logger    *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(calls CallService, clk clock.Clock, logger *zap.Logger) *Hub {
	if clk == nil {
		clk = clock.New()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		calls:      calls,
		validator:  NewMessageValidator(),
		clock:      clk,
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			previous := h.clients[client.deviceID]
			h.clients[client.deviceID] = client
			h.mu.Unlock()
			if previous != nil {
				h.logger.Info("Replacing existing device connection", zap.String("deviceID", client.deviceID))
				previous.closeSend()
			}
			h.logger.Info("Client registered", zap.String("deviceID", client.deviceID))

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.deviceID]; ok && current == client {
				delete(h.clients, client.deviceID)
			}
			h.mu.Unlock()
			client.closeSend()
			h.logger.Info("Client unregistered", zap.String("deviceID", client.deviceID))

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				client.closeSend()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// IsConnected reports whether a device currently holds a socket
func (h *Hub) IsConnected(deviceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[deviceID]
	return ok
}

// ConnectedDevices returns how many devices hold a socket
func (h *Hub) ConnectedDevices() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// LinkQuality returns the measured quality of a connected device's own link.
// ok is false when the device is not connected or has not answered a ping.
func (h *Hub) LinkQuality(deviceID string) (netquality.Quality, bool) {
	h.mu.RLock()
	client, connected := h.clients[deviceID]
	h.mu.RUnlock()
	if !connected {
		return netquality.Quality{}, false
	}
	return client.link.Quality()
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub. During
// a call it is the capture device, the playback device and the notification
// sink of the call.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// Device ID for this client
	deviceID string

	logger *zap.Logger

	playback *playbackSink
	link     *deviceLink

	mu       sync.Mutex
	capture  *captureStream
	starting bool
	closed   bool
}

// HandleWebSocketWithAuth handles websocket requests with pre-authenticated device ID
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, deviceID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan WriteData, sendBuffer),
		deviceID: deviceID,
		logger:   logger.With(zap.String("deviceID", deviceID)),
	}
	client.playback = newPlaybackSink(client, hub.clock)
	client.link = newDeviceLink(hub.clock, maxDeviceRTT)

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return errors.New("hub is not running")
	}

	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.loseCapture(errDisconnected)
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.link.pong(appData)
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processCaptureFrame(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	// measure the link right away so the first call can be gated on it
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.PingMessage, c.link.pingPayload()); err != nil {
		return
	}

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, c.link.pingPayload()); err != nil {
				return
			}
		}
	}
}

// processMessage processes control messages from the device
func (c *Client) processMessage(message []byte) {
	msg, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Rejected device message", zap.Error(err))
		c.sendControl(CreateErrorMessage(err.Error()))
		return
	}

	switch msg.Type {
	case domain.DeviceMessageCallStart:
		c.handleCallStart(msg, false)
	case domain.DeviceMessageCaptureDenied:
		c.handleCallStart(msg, true)
	case domain.DeviceMessageCallEnd:
		if err := c.hub.calls.EndCall(c.deviceID, entities.EndReasonUser); err != nil {
			c.sendControl(CreateErrorMessage(err.Error()))
		}
	case domain.DeviceMessageCaptureStopped:
		c.loseCapture(errCaptureStopped)
	case domain.DeviceMessagePing:
		c.sendControl(CreatePongMessage(msg))
	}
}

// handleCallStart starts a call with a fresh capture stream. A denied
// microphone still goes through the call so the failure is reported the same
// way as any other start failure.
func (c *Client) handleCallStart(msg domain.DeviceMessage, denied bool) {
	c.mu.Lock()
	if c.starting || (c.capture != nil && c.capture.isOpen()) {
		c.mu.Unlock()
		c.sendControl(CreateErrorMessage(call.ErrCallInProgress.Error()))
		return
	}
	capture := newCaptureStream(msg.SampleRate, denied)
	c.capture = capture
	c.starting = true
	c.mu.Unlock()

	go c.startCall(msg.Profile, capture)
}

func (c *Client) startCall(profile string, capture *captureStream) {
	ctx, cancel := context.WithTimeout(context.Background(), startCallTimeout)
	defer func() {
		cancel()
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	devices := call.Devices{Capture: capture, Playback: c.playback, Link: c.link}
	session, err := c.hub.calls.StartCall(ctx, c.deviceID, profile, devices, c.Notify)
	if err != nil {
		c.logger.Warn("Call did not start", zap.String("profile", profile), zap.Error(err))
		// failures after the call was accepted already reached the device
		// as notifications
		if errors.Is(err, usecase.ErrCallRejected) {
			c.sendControl(CreateErrorMessage(err.Error()))
		}
		return
	}
	c.logger.Info("Call started", zap.String("callID", session.ID), zap.String("profile", session.Profile))
}

func (c *Client) processCaptureFrame(data []byte) {
	c.mu.Lock()
	capture := c.capture
	c.mu.Unlock()

	if capture == nil {
		c.logger.Debug("Capture frame without a call", zap.Int("size", len(data)))
		return
	}
	if err := capture.push(data); err != nil {
		c.logger.Warn("Invalid capture frame", zap.Int("size", len(data)), zap.Error(err))
	}
}

func (c *Client) loseCapture(err error) {
	c.mu.Lock()
	capture := c.capture
	c.mu.Unlock()
	if capture != nil {
		capture.lose(err)
	}
}

// Notify forwards a call notification to the device as JSON
func (c *Client) Notify(n entities.Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		c.logger.Error("Failed to marshal notification", zap.Error(err))
		return
	}
	c.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload})
}

func (c *Client) sendControl(msg domain.DeviceMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal device message", zap.Error(err))
		return
	}
	c.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload})
}

// enqueue never blocks; a device that stops reading loses messages
func (c *Client) enqueue(data WriteData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("Send buffer full, dropping message", zap.Int("type", data.Type))
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
