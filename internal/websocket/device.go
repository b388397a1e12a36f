package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/satriahrh/concierge-voice/domain"
	"github.com/satriahrh/concierge-voice/domain/repositories"
	"github.com/satriahrh/concierge-voice/internal/audio"
)

const captureBuffer = 64

var (
	errCaptureDenied  = errors.New("microphone permission denied on device")
	errCaptureStopped = errors.New("capture stopped by device")
	errDisconnected   = errors.New("device disconnected")
)

// captureStream is the capture device of one call: PCM16 binary frames from
// the socket, decoded to float frames
type captureStream struct {
	rate   int
	denied bool

	mu      sync.Mutex
	frames  chan []float32
	err     error
	open    bool
	done    bool
	dropped uint64
}

var _ repositories.CaptureDevice = (*captureStream)(nil)

func newCaptureStream(rate int, denied bool) *captureStream {
	return &captureStream{
		rate:   rate,
		denied: denied,
		frames: make(chan []float32, captureBuffer),
	}
}

func (s *captureStream) Open(ctx context.Context) error {
	if s.denied {
		return errCaptureDenied
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return s.err
	}
	s.open = true
	return nil
}

func (s *captureStream) SampleRate() int {
	return s.rate
}

func (s *captureStream) Frames() <-chan []float32 {
	return s.frames
}

func (s *captureStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops accepting frames. The frames channel is left open; the encoder
// stops on its own context.
func (s *captureStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

func (s *captureStream) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open && !s.done
}

// push decodes one binary frame. Frames arriving while the stream is closed
// or the consumer lags are dropped.
func (s *captureStream) push(data []byte) error {
	samples, err := audio.DecodeLE(data)
	if err != nil {
		return err
	}
	frame := audio.PCM16ToFloat(samples)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open || s.done {
		return nil
	}
	select {
	case s.frames <- frame:
	default:
		s.dropped++
	}
	return nil
}

// lose ends the stream; a call using it ends with capture lost
func (s *captureStream) lose(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.err = err
	close(s.frames)
}

// playbackSink is the playback device of a connection. Its clock is the time
// since the connection opened; buffers are written to the socket when their
// start time comes.
type playbackSink struct {
	client *Client
	clock  clock.Clock
	origin time.Time

	mu      sync.Mutex
	cleared bool
}

var _ repositories.PlaybackDevice = (*playbackSink)(nil)

func newPlaybackSink(client *Client, clk clock.Clock) *playbackSink {
	return &playbackSink{client: client, clock: clk, origin: clk.Now(), cleared: true}
}

func (p *playbackSink) CurrentTime() time.Duration {
	return p.clock.Since(p.origin)
}

func (p *playbackSink) Schedule(samples []float32, sampleRate int, at time.Duration) (repositories.ScheduledBuffer, error) {
	payload := audio.EncodeLE(audio.FloatToPCM16(samples))

	delay := at - p.CurrentTime()
	if delay < 0 {
		delay = 0
	}

	b := &scheduledBuffer{sink: p}
	b.mu.Lock()
	b.timer = p.clock.AfterFunc(delay, func() { b.play(payload) })
	b.mu.Unlock()
	return b, nil
}

func (p *playbackSink) write(payload []byte) {
	p.mu.Lock()
	p.cleared = false
	p.mu.Unlock()
	p.client.enqueue(WriteData{Type: websocket.BinaryMessage, Payload: payload})
}

// clear tells the device to drop audio it already received. Several buffers
// stopped by one interruption produce a single message.
func (p *playbackSink) clear() {
	p.mu.Lock()
	if p.cleared {
		p.mu.Unlock()
		return
	}
	p.cleared = true
	p.mu.Unlock()
	p.client.sendControl(domain.DeviceMessage{Type: domain.DeviceMessagePlaybackClear})
}

type bufferState int

const (
	bufferPending bufferState = iota
	bufferSent
	bufferStopped
)

type scheduledBuffer struct {
	sink *playbackSink

	mu    sync.Mutex
	timer *clock.Timer
	state bufferState
}

func (b *scheduledBuffer) play(payload []byte) {
	b.mu.Lock()
	if b.state != bufferPending {
		b.mu.Unlock()
		return
	}
	b.state = bufferSent
	b.mu.Unlock()
	b.sink.write(payload)
}

func (b *scheduledBuffer) Stop() {
	b.mu.Lock()
	prev := b.state
	b.state = bufferStopped
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()

	if prev == bufferSent {
		b.sink.clear()
	}
}
