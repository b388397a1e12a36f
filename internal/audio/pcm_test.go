package audio

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestFloatToPCM16(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"full positive", 1, 32767},
		{"full negative", -1, -32768},
		{"clamped positive", 2.5, 32767},
		{"clamped negative", -7, -32768},
		{"half", 0.5, 16383},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FloatToPCM16([]float32{tt.in})[0]
			if got != tt.want {
				t.Errorf("FloatToPCM16(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestFloatToPCM16NaN(t *testing.T) {
	got := FloatToPCM16([]float32{float32(math.NaN())})
	if got[0] != 0 {
		t.Errorf("Expected NaN to encode as silence, got %d", got[0])
	}
}

func TestEncodeDecodeLE(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	data := EncodeLE(samples)

	if len(data) != 10 {
		t.Fatalf("Expected 10 bytes, got %d", len(data))
	}

	if data[2] != 0x01 || data[3] != 0x00 {
		t.Errorf("Expected little-endian encoding, got % x", data[2:4])
	}

	decoded, err := DecodeLE(data)
	if err != nil {
		t.Fatalf("DecodeLE returned error: %v", err)
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, samples[i], decoded[i])
		}
	}
}

func TestDecodeLEOddLength(t *testing.T) {
	_, err := DecodeLE([]byte{1, 2, 3})
	if !errors.Is(err, ErrOddLength) {
		t.Errorf("Expected ErrOddLength, got %v", err)
	}
}

func TestPCM16ToFloatRange(t *testing.T) {
	out := PCM16ToFloat([]int16{-32768, 0, 32767})
	if out[0] != -1 {
		t.Errorf("Expected -1, got %v", out[0])
	}
	if out[1] != 0 {
		t.Errorf("Expected 0, got %v", out[1])
	}
	if out[2] >= 1 {
		t.Errorf("Expected value below 1, got %v", out[2])
	}
}

func TestChunkDuration(t *testing.T) {
	chunk := Chunk{Samples: make([]int16, 2400), SampleRate: OutputSampleRate}
	if chunk.Duration() != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %v", chunk.Duration())
	}

	if (Chunk{Samples: make([]int16, 10)}).Duration() != 0 {
		t.Error("Chunk without sample rate should have zero duration")
	}
}

func TestRMS(t *testing.T) {
	if RMS(nil) != 0 {
		t.Error("Empty frame should have zero RMS")
	}

	got := RMS([]float32{0.5, -0.5, 0.5, -0.5})
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Expected RMS 0.5, got %v", got)
	}
}

func TestResamplerDownsamplesFrame(t *testing.T) {
	input := make([]float32, 480)
	for i := range input {
		input[i] = float32(i) / 480
	}

	out := NewResampler(48000, InputSampleRate).Process(input)
	if len(out) != 160 {
		t.Fatalf("Expected 160 samples, got %d", len(out))
	}

	for i := 1; i < len(out); i++ {
		if out[i] < out[i-1] {
			t.Fatalf("Resampled ramp should stay monotonic at %d", i)
		}
	}

}

func TestResamplerKeepsRatioAcrossFrames(t *testing.T) {
	tests := []struct {
		name       string
		inputRate  int
		outputRate int
		frameSize  int
	}{
		{name: "44.1k to 16k in 10ms frames", inputRate: 44100, outputRate: InputSampleRate, frameSize: 441},
		{name: "44.1k to 16k in odd frames", inputRate: 44100, outputRate: InputSampleRate, frameSize: 1023},
		{name: "22.05k to 16k", inputRate: 22050, outputRate: InputSampleRate, frameSize: 256},
		{name: "8k to 16k", inputRate: 8000, outputRate: InputSampleRate, frameSize: 80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResampler(tt.inputRate, tt.outputRate)

			// ten seconds of audio
			total := tt.inputRate * 10
			produced := 0
			for fed := 0; fed < total; fed += tt.frameSize {
				n := tt.frameSize
				if fed+n > total {
					n = total - fed
				}
				produced += len(r.Process(make([]float32, n)))
			}

			want := tt.outputRate * 10
			if diff := produced - want; diff < -1 || diff > 1 {
				t.Errorf("Produced %d samples, want %d within one", produced, want)
			}
		})
	}
}

func TestResamplerInterpolatesAcrossFrameBoundary(t *testing.T) {
	r := NewResampler(48000, InputSampleRate)

	var out []float32
	ramp := make([]float32, 0, 1000)
	for i := 0; i < 1000; i++ {
		ramp = append(ramp, float32(i))
	}
	// uneven frames so output positions fall between frames
	for _, size := range []int{7, 100, 1, 392, 500} {
		out = append(out, r.Process(ramp[:size])...)
		ramp = ramp[size:]
	}

	for i, got := range out {
		if want := float32(3 * i); math.Abs(float64(got-want)) > 1e-3 {
			t.Fatalf("Sample %d = %v, want %v", i, got, want)
		}
	}

	same := NewResampler(16000, 16000)
	input := []float32{1, 2, 3}
	if got := same.Process(input); &got[0] != &input[0] {
		t.Error("Equal rates should return the input unchanged")
	}
}

func TestMIMEType(t *testing.T) {
	if got := MIMEType(16000); got != "audio/pcm;rate=16000" {
		t.Errorf("Unexpected MIME type %q", got)
	}
}

func TestRateFromMIME(t *testing.T) {
	tests := []struct {
		mime string
		want int
	}{
		{"audio/pcm;rate=24000", 24000},
		{"audio/pcm; rate=16000", 16000},
		{"audio/pcm", 24000},
		{"audio/pcm;rate=abc", 24000},
	}
	for _, tt := range tests {
		if got := RateFromMIME(tt.mime, 24000); got != tt.want {
			t.Errorf("RateFromMIME(%q) = %d, want %d", tt.mime, got, tt.want)
		}
	}
}
