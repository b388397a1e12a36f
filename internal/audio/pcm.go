package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// InputSampleRate is the rate of audio sent to the speech service
	InputSampleRate = 16000
	// OutputSampleRate is the rate of audio produced by the speech service
	OutputSampleRate = 24000
)

// ErrOddLength is returned when a PCM16 payload has a dangling byte
var ErrOddLength = errors.New("pcm16 payload has odd length")

// Chunk is a buffer of mono 16-bit signed PCM samples
type Chunk struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the playback length of the chunk
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// FloatToPCM16 clamps each sample to [-1, 1] and scales it to int16.
// Negative values scale by 32768 and positive by 32767 so both ends are reachable.
func FloatToPCM16(frame []float32) []int16 {
	out := make([]int16, len(frame))
	for i, s := range frame {
		if s != s { // NaN
			s = 0
		}
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		if s < 0 {
			out[i] = int16(s * 32768)
		} else {
			out[i] = int16(s * 32767)
		}
	}
	return out
}

// PCM16ToFloat converts int16 samples to floats in [-1, 1)
func PCM16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// EncodeLE serializes samples as little-endian bytes
func EncodeLE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodeLE parses little-endian PCM16 bytes
func DecodeLE(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(data))
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out, nil
}

// RMS returns the root-mean-square loudness of a frame
func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// Resampler resamples a stream of mono frames using linear interpolation. It
// keeps the interpolation position and the previous frame's last sample, so the
// output length tracks the exact rate ratio however the stream is framed.
type Resampler struct {
	inputRate  int
	outputRate int
	step       float64

	pos    float64 // next output position in input samples, relative to the frame start
	prev   float32
	primed bool
}

// NewResampler creates a resampler converting inputRate to outputRate
func NewResampler(inputRate, outputRate int) *Resampler {
	r := &Resampler{inputRate: inputRate, outputRate: outputRate}
	if inputRate > 0 && outputRate > 0 {
		r.step = float64(inputRate) / float64(outputRate)
	}
	return r
}

// Process resamples the next frame of the stream. Equal or invalid rates
// return the input unchanged.
func (r *Resampler) Process(input []float32) []float32 {
	if r.inputRate == r.outputRate || r.step == 0 {
		return input
	}
	if len(input) == 0 {
		return nil
	}
	if !r.primed {
		r.prev = input[0]
		r.primed = true
	}

	// index -1 refers to the last sample of the previous frame
	at := func(i int) float32 {
		if i < 0 {
			return r.prev
		}
		if i >= len(input) {
			return input[len(input)-1]
		}
		return input[i]
	}

	end := float64(len(input) - 1)
	output := make([]float32, 0, int(float64(len(input))/r.step)+1)
	for ; r.pos <= end; r.pos += r.step {
		base := math.Floor(r.pos)
		idx := int(base)
		frac := float32(r.pos - base)
		output = append(output, at(idx)*(1-frac)+at(idx+1)*frac)
	}

	r.pos -= float64(len(input))
	r.prev = input[len(input)-1]
	return output
}

// MIMEType returns the media-type tag used for PCM at the given rate
func MIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// RateFromMIME extracts the rate parameter of an "audio/pcm;rate=N" media type,
// returning fallback when it is absent or invalid
func RateFromMIME(mime string, fallback int) int {
	for _, param := range strings.Split(mime, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && key == "rate" {
			if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
				return rate
			}
		}
	}
	return fallback
}
