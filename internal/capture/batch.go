package capture

import (
	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/internal/audio"
)

// SendBatch accumulates encoded samples between flushes. It is owned by a
// single encoder goroutine and is not safe for concurrent use.
type SendBatch struct {
	samples    []int16
	sampleRate int
}

// NewSendBatch creates an empty batch for audio at the given rate
func NewSendBatch(sampleRate int) *SendBatch {
	return &SendBatch{
		samples:    make([]int16, 0, sampleRate/10),
		sampleRate: sampleRate,
	}
}

// Append adds encoded samples to the batch
func (b *SendBatch) Append(samples []int16) {
	b.samples = append(b.samples, samples...)
}

// Len returns the number of samples waiting to be sent
func (b *SendBatch) Len() int {
	return len(b.samples)
}

// Envelope serializes the batch into a single-chunk envelope and clears it.
// The second return value is false when the batch was empty.
func (b *SendBatch) Envelope() (entities.AudioEnvelope, bool) {
	if len(b.samples) == 0 {
		return entities.AudioEnvelope{}, false
	}

	envelope := entities.AudioEnvelope{
		Chunks: []entities.MediaChunk{{
			Data:     audio.EncodeLE(b.samples),
			MIMEType: audio.MIMEType(b.sampleRate),
		}},
	}
	b.samples = b.samples[:0]
	return envelope, true
}
