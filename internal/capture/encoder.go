package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/domain/repositories"
	"github.com/satriahrh/concierge-voice/internal/audio"
	"github.com/satriahrh/concierge-voice/internal/metrics"
)

const (
	defaultFlushInterval  = 100 * time.Millisecond
	defaultEnvelopeBuffer = 32
)

// ErrCaptureLost is returned by Run when the capture device stops mid-call
var ErrCaptureLost = errors.New("capture device lost")

// Observer receives every raw frame before it is encoded
type Observer interface {
	Observe(frame []float32)
}

// Config holds configuration for the Encoder
type Config struct {
	FlushInterval  time.Duration // Optional: batch flush cadence (default 100ms)
	SampleRate     int           // Optional: outbound sample rate (default 16000)
	EnvelopeBuffer int           // Optional: envelopes buffered before dropping (default 32)
}

// Stats is a snapshot of encoder counters
type Stats struct {
	Frames  uint64
	Sent    uint64
	Dropped uint64
}

// Encoder turns capture frames into timed PCM16 envelopes
type Encoder struct {
	flushInterval time.Duration
	sampleRate    int
	clock         clock.Clock
	observer      Observer
	envelopes     chan entities.AudioEnvelope
	closeOnce     sync.Once
	logger        *zap.Logger
	metrics       *metrics.Metrics

	frames  atomic.Uint64
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// ValidateConfig validates the encoder Config
func ValidateConfig(config Config) error {
	if config.FlushInterval < 0 {
		return fmt.Errorf("flush interval must be positive, got %s", config.FlushInterval)
	}
	if config.SampleRate < 0 {
		return fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.EnvelopeBuffer < 0 {
		return fmt.Errorf("envelope buffer must be positive, got %d", config.EnvelopeBuffer)
	}
	return nil
}

// NewEncoder creates an encoder. observer may be nil.
func NewEncoder(config Config, clk clock.Clock, observer Observer, logger *zap.Logger, m *metrics.Metrics) (*Encoder, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	flushInterval := config.FlushInterval
	if flushInterval == 0 {
		flushInterval = defaultFlushInterval
	}
	sampleRate := config.SampleRate
	if sampleRate == 0 {
		sampleRate = audio.InputSampleRate
	}
	buffer := config.EnvelopeBuffer
	if buffer == 0 {
		buffer = defaultEnvelopeBuffer
	}
	if m == nil {
		m = metrics.NewNop()
	}

	return &Encoder{
		flushInterval: flushInterval,
		sampleRate:    sampleRate,
		clock:         clk,
		observer:      observer,
		envelopes:     make(chan entities.AudioEnvelope, buffer),
		logger:        logger,
		metrics:       m,
	}, nil
}

// Envelopes delivers serialized batches. It is closed when Run returns.
func (e *Encoder) Envelopes() <-chan entities.AudioEnvelope {
	return e.envelopes
}

// Stats returns the encoder counters
func (e *Encoder) Stats() Stats {
	return Stats{
		Frames:  e.frames.Load(),
		Sent:    e.sent.Load(),
		Dropped: e.dropped.Load(),
	}
}

// Run consumes frames from the device until ctx is cancelled or the device stops.
// Cancellation returns nil; a device that stops on its own returns ErrCaptureLost.
func (e *Encoder) Run(ctx context.Context, device repositories.CaptureDevice) error {
	defer e.closeOnce.Do(func() { close(e.envelopes) })

	ticker := e.clock.Ticker(e.flushInterval)
	defer ticker.Stop()

	batch := NewSendBatch(e.sampleRate)
	resampler := audio.NewResampler(device.SampleRate(), e.sampleRate)
	frames := device.Frames()

	for {
		select {
		case <-ctx.Done():
			return nil

		case frame, ok := <-frames:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				if err := device.Err(); err != nil {
					e.logger.Warn("Capture device stopped", zap.Error(err))
					return fmt.Errorf("%w: %v", ErrCaptureLost, err)
				}
				e.logger.Warn("Capture device stopped without error")
				return ErrCaptureLost
			}

			e.frames.Add(1)
			e.metrics.CaptureFrames.Inc()
			if e.observer != nil {
				e.observer.Observe(frame)
			}
			batch.Append(audio.FloatToPCM16(resampler.Process(frame)))

		case <-ticker.C:
			e.flush(batch)
		}
	}
}

func (e *Encoder) flush(batch *SendBatch) {
	envelope, ok := batch.Envelope()
	if !ok {
		return
	}

	select {
	case e.envelopes <- envelope:
		e.sent.Add(1)
		e.metrics.SendBatches.Inc()
		e.metrics.SendBatchBytes.Observe(float64(envelope.Bytes()))
	default:
		// Capture must never block on a lagging transport
		if e.dropped.Add(1) == 1 {
			e.logger.Warn("Dropping audio envelopes, transport is not keeping up")
		}
		e.metrics.DroppedEnvelopes.Inc()
	}
}
