package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/domain/repositories"
	"github.com/satriahrh/concierge-voice/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4 * 1024 * 1024

	defaultHandshakeTimeout = 10 * time.Second
	defaultSendBuffer       = 256
	defaultEventBuffer      = 64
)

var (
	// ErrClosed is returned when sending on a closed transport
	ErrClosed = errors.New("transport closed")
	// ErrBackpressure is returned when audio is sent faster than the socket drains
	ErrBackpressure = errors.New("transport send buffer full")
)

// Config holds configuration for the relay transport
type Config struct {
	URL              string        // Required: websocket URL of the speech relay
	HandshakeTimeout time.Duration // Optional: dial handshake timeout (default 10s)
	SendBuffer       int           // Optional: outbound messages buffered (default 256)
	EventBuffer      int           // Optional: inbound events buffered (default 64)
}

// ValidateConfig validates the transport Config
func ValidateConfig(config Config) error {
	if config.URL == "" {
		return fmt.Errorf("relay URL is required")
	}
	u, err := url.Parse(config.URL)
	if err != nil {
		return fmt.Errorf("invalid relay URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("relay URL must use ws or wss, got %q", u.Scheme)
	}
	return nil
}

// Dialer opens relay transports
type Dialer struct {
	url              string
	handshakeTimeout time.Duration
	sendBuffer       int
	eventBuffer      int
	logger           *zap.Logger
	metrics          *metrics.Metrics
}

var _ repositories.Dialer = (*Dialer)(nil)
var _ repositories.Transport = (*Client)(nil)

// NewDialer creates a relay dialer
func NewDialer(config Config, logger *zap.Logger, m *metrics.Metrics) (*Dialer, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	handshake := config.HandshakeTimeout
	if handshake == 0 {
		handshake = defaultHandshakeTimeout
		logger.Info("Using default handshake timeout", zap.Duration("handshakeTimeout", handshake))
	}
	sendBuffer := config.SendBuffer
	if sendBuffer == 0 {
		sendBuffer = defaultSendBuffer
	}
	eventBuffer := config.EventBuffer
	if eventBuffer == 0 {
		eventBuffer = defaultEventBuffer
	}
	if m == nil {
		m = metrics.NewNop()
	}

	return &Dialer{
		url:              config.URL,
		handshakeTimeout: handshake,
		sendBuffer:       sendBuffer,
		eventBuffer:      eventBuffer,
		logger:           logger,
		metrics:          m,
	}, nil
}

// Dial opens one duplex session. Bearer credentials travel in the
// Authorization header, API keys as the key query parameter.
func (d *Dialer) Dial(ctx context.Context, credential entities.Credential) (repositories.Transport, error) {
	target := d.url
	header := http.Header{}
	switch credential.Kind {
	case entities.CredentialBearer:
		header.Set("Authorization", "Bearer "+credential.Token)
	case entities.CredentialAPIKey:
		u, err := url.Parse(d.url)
		if err != nil {
			return nil, fmt.Errorf("invalid relay URL: %w", err)
		}
		q := u.Query()
		q.Set("key", credential.Token)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: d.handshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("relay connection failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("relay connection failed: %w", err)
	}

	client := &Client{
		conn:    conn,
		send:    make(chan outbound, d.sendBuffer),
		events:  make(chan entities.LiveEvent, d.eventBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		logger:  d.logger,
		metrics: d.metrics,
	}

	go client.writePump()
	go client.readPump()

	d.logger.Info("Connected to speech relay", zap.String("url", d.url))
	return client, nil
}

type outbound struct {
	Type    int
	Payload []byte
}

// Client is one relay connection. All writes go through writePump.
type Client struct {
	conn   *websocket.Conn
	send   chan outbound
	events chan entities.LiveEvent

	// closing is closed by Close; done when the read side has finished
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Events delivers decoded inbound events, ending with entities.Closed
func (c *Client) Events() <-chan entities.LiveEvent {
	return c.events
}

// Configure sends the setup message
func (c *Client) Configure(ctx context.Context, config entities.SessionConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid session config: %w", err)
	}
	return c.writeJSON(ctx, buildSetup(config))
}

// Reconfigure pushes new VAD parameters on the open session
func (c *Client) Reconfigure(ctx context.Context, vad entities.VADProfile) error {
	return c.writeJSON(ctx, sessionUpdateMessage{
		SessionUpdate: sessionUpdate{RealtimeInputConfig: buildRealtimeInputConfig(vad)},
	})
}

// SendAudio queues an audio envelope without blocking
func (c *Client) SendAudio(envelope entities.AudioEnvelope) error {
	payload, err := json.Marshal(realtimeInputMessage{
		RealtimeInput: realtimeInput{MediaChunks: envelope.Chunks},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal audio: %w", err)
	}

	select {
	case <-c.closing:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- outbound{Type: websocket.TextMessage, Payload: payload}:
		return nil
	default:
		return ErrBackpressure
	}
}

// SendText sends a complete user turn, used for the opening utterance
func (c *Client) SendText(text string) error {
	return c.writeJSON(context.Background(), clientContentMessage{
		ClientContent: clientContent{
			Turns:        []content{{Role: "user", Parts: []part{{Text: text}}}},
			TurnComplete: true,
		},
	})
}

// SendToolResponses answers tool calls
func (c *Client) SendToolResponses(responses []entities.ToolResponse) error {
	return c.writeJSON(context.Background(), toolResponseMessage{
		ToolResponse: toolResponse{FunctionResponses: responses},
	})
}

// EndActivity marks the end of user input
func (c *Client) EndActivity() error {
	if err := c.writeJSON(context.Background(), realtimeInputMessage{
		RealtimeInput: realtimeInput{ActivityEnd: &struct{}{}},
	}); err != nil {
		return err
	}
	return c.writeJSON(context.Background(), realtimeInputMessage{
		RealtimeInput: realtimeInput{AudioStreamEnd: true},
	})
}

// Close sends a normal close frame and tears the connection down
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
	})
	return nil
}

func (c *Client) writeJSON(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	select {
	case <-c.closing:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- outbound{Type: websocket.TextMessage, Payload: payload}:
		return nil
	case <-c.closing:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readPump decodes inbound frames until the connection ends
func (c *Client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}

		events, err := Decode(messageType == websocket.BinaryMessage, message)
		if err != nil {
			c.metrics.MalformedFrames.Inc()
			c.logger.Warn("Dropping malformed frame", zap.Int("bytes", len(message)), zap.Error(err))
		}
		for _, event := range events {
			c.metrics.InboundMessages.WithLabelValues(eventKind(event)).Inc()
			select {
			case c.events <- event:
			case <-c.closing:
			}
		}
	}
}

// finish delivers the final Closed event, then marks the transport done and
// closes the events channel
func (c *Client) finish(err error) {
	closed := entities.Closed{Code: websocket.CloseAbnormalClosure, Err: err}

	var ce *websocket.CloseError
	switch {
	case errors.As(err, &ce):
		closed.Code = ce.Code
		closed.Normal = ce.Code == websocket.CloseNormalClosure
	case isClosing(c.closing):
		closed.Code = websocket.CloseNormalClosure
		closed.Normal = true
	}
	if closed.Normal {
		closed.Err = nil
		c.logger.Info("Relay connection closed")
	} else {
		c.logger.Warn("Relay connection lost", zap.Int("code", closed.Code), zap.Error(err))
	}

	// The consumer may already be gone after a local Close
	select {
	case c.events <- closed:
	case <-c.closing:
		select {
		case c.events <- closed:
		default:
		}
	}
	close(c.done)
	close(c.events)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Warn("Relay write failed", zap.Error(err))
				return
			}

		case <-c.closing:
			// Drain what was queued before Close, then say goodbye
			for {
				select {
				case message := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return

		case <-c.done:
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func isClosing(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func eventKind(event entities.LiveEvent) string {
	switch event.(type) {
	case entities.SetupComplete:
		return "setup_complete"
	case entities.AudioFrame:
		return "audio"
	case entities.TranscriptFragment:
		return "transcript"
	case entities.Interrupted:
		return "interrupted"
	case entities.TurnComplete:
		return "turn_complete"
	case entities.ToolCall:
		return "tool_call"
	case entities.ResumptionUpdate:
		return "resumption_update"
	case entities.GoAway:
		return "go_away"
	case entities.Closed:
		return "closed"
	}
	return "unknown"
}
