package noise

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/concierge-voice/domain/entities"
)

func constantFrame(level float32) []float32 {
	frame := make([]float32, 160)
	for i := range frame {
		frame[i] = level
	}
	return frame
}

func fill(m *Monitor, level float32, n int) {
	for i := 0; i < n; i++ {
		m.Observe(constantFrame(level))
	}
}

func drain(m *Monitor) []entities.NoiseSignal {
	var out []entities.NoiseSignal
	for {
		select {
		case s := <-m.Signals():
			out = append(out, s)
		default:
			return out
		}
	}
}

func newTestMonitor(t *testing.T) (*Monitor, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	m, err := NewMonitor(Config{}, mock, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewMonitor failed: %v", err)
	}
	return m, mock
}

func TestMonitorHysteresis(t *testing.T) {
	m, _ := newTestMonitor(t)

	fill(m, 0.05, 100)
	m.Tick()
	signals := drain(m)
	if len(signals) != 2 {
		t.Fatalf("Expected profile change and advisory, got %+v", signals)
	}
	if signals[0].Kind != entities.NoiseProfileChange || !signals[0].Noisy {
		t.Errorf("Expected noisy profile change first, got %+v", signals[0])
	}
	if signals[1].Kind != entities.NoiseAdvisory {
		t.Errorf("Expected advisory second, got %+v", signals[1])
	}

	// Inside the band: stays noisy
	fill(m, 0.03, 100)
	m.Tick()
	if s := drain(m); len(s) != 0 {
		t.Errorf("Expected no signal inside the hysteresis band, got %+v", s)
	}
	if !m.Noisy() {
		t.Error("Expected monitor to stay noisy")
	}

	fill(m, 0.01, 100)
	m.Tick()
	signals = drain(m)
	if len(signals) != 1 || signals[0].Kind != entities.NoiseProfileChange || signals[0].Noisy {
		t.Fatalf("Expected single quiet profile change, got %+v", signals)
	}
}

func TestMonitorNoChatterInsideBand(t *testing.T) {
	m, _ := newTestMonitor(t)

	levels := []float32{0.03, 0.021, 0.034, 0.025, 0.033, 0.022}
	for _, level := range levels {
		fill(m, level, 100)
		m.Tick()
	}
	if s := drain(m); len(s) != 0 {
		t.Errorf("Expected no signals while oscillating inside the band, got %+v", s)
	}
	if m.Noisy() {
		t.Error("Expected monitor to remain quiet")
	}
}

func TestMonitorAdvisoryRateLimited(t *testing.T) {
	m, mock := newTestMonitor(t)

	toggle := func() []entities.NoiseSignal {
		fill(m, 0.05, 100)
		m.Tick()
		s := drain(m)
		fill(m, 0.0, 100)
		m.Tick()
		drain(m)
		return s
	}

	if s := toggle(); len(s) != 2 {
		t.Fatalf("Expected advisory on first noisy transition, got %+v", s)
	}
	mock.Add(10 * time.Second)
	if s := toggle(); len(s) != 1 {
		t.Errorf("Expected advisory suppressed within a minute, got %+v", s)
	}
	mock.Add(time.Minute)
	if s := toggle(); len(s) != 2 {
		t.Errorf("Expected advisory again after a minute, got %+v", s)
	}
}

func TestMonitorFallbackOfferedOnce(t *testing.T) {
	m, _ := newTestMonitor(t)

	// Interruptions while quiet do not trigger an offer
	m.RecordInterruption()
	if s := drain(m); len(s) != 0 {
		t.Fatalf("Expected no offer while quiet, got %+v", s)
	}

	fill(m, 0.05, 100)
	m.Tick()
	drain(m)

	m.RecordInterruption()
	m.RecordInterruption()
	signals := drain(m)
	if len(signals) != 1 || signals[0].Kind != entities.NoiseFallbackOffer {
		t.Fatalf("Expected one fallback offer, got %+v", signals)
	}

	m.RecordInterruption()
	m.RecordInterruption()
	if s := drain(m); len(s) != 0 {
		t.Errorf("Expected fallback offer only once per call, got %+v", s)
	}
}

func TestMonitorRunTicksOnInterval(t *testing.T) {
	m, mock := newTestMonitor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	fill(m, 0.1, 10)
	deadline := time.Now().Add(2 * time.Second)
	for !m.Noisy() && time.Now().Before(deadline) {
		mock.Add(2 * time.Second)
	}
	if !m.Noisy() {
		t.Fatal("Expected Run to classify the environment as noisy")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestValidateConfig(t *testing.T) {
	if err := ValidateConfig(Config{NoisyThreshold: 0.01, QuietThreshold: 0.02}); err == nil {
		t.Error("Expected error when quiet threshold is above noisy threshold")
	}
	if err := ValidateConfig(Config{}); err != nil {
		t.Errorf("Expected defaults to be valid, got %v", err)
	}
}
