package repositories

import (
	"context"
	"time"
)

// CaptureDevice is a source of mono float frames in [-1, 1]
type CaptureDevice interface {
	// Open requests access to the device. A denied permission is returned as an error.
	Open(ctx context.Context) error
	SampleRate() int
	// Frames is closed when the device stops; Err then explains why
	Frames() <-chan []float32
	Err() error
	Close() error
}

// PlaybackDevice is a sink that plays buffers at scheduled times on its own clock
type PlaybackDevice interface {
	// CurrentTime returns the output clock position
	CurrentTime() time.Duration
	Schedule(samples []float32, sampleRate int, at time.Duration) (ScheduledBuffer, error)
}

// ScheduledBuffer is a buffer handed to a PlaybackDevice
type ScheduledBuffer interface {
	// Stop cancels the buffer whether it is pending or playing
	Stop()
}
