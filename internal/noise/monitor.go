package noise

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/internal/audio"
)

const (
	defaultWindow                = 100
	defaultInterval              = 2 * time.Second
	defaultNoisyThreshold        = 0.035
	defaultQuietThreshold        = 0.02
	defaultInterruptionThreshold = 3
	defaultAdvisoryEvery         = time.Minute
)

// Config holds configuration for the noise Monitor
type Config struct {
	Window                int           `yaml:"window"`                 // RMS values kept (default 100)
	Interval              time.Duration `yaml:"interval"`               // classification cadence (default 2s)
	NoisyThreshold        float64       `yaml:"noisy_threshold"`        // quiet to noisy at or above (default 0.035)
	QuietThreshold        float64       `yaml:"quiet_threshold"`        // noisy to quiet at or below (default 0.02)
	InterruptionThreshold int           `yaml:"interruption_threshold"` // barge-ins before a text fallback offer (default 3)
	AdvisoryEvery         time.Duration `yaml:"advisory_every"`         // minimum gap between noise advisories (default 1m)
}

// ValidateConfig validates the noise Config
func ValidateConfig(config Config) error {
	if config.Window < 0 {
		return fmt.Errorf("window must be positive, got %d", config.Window)
	}
	if config.NoisyThreshold < 0 || config.QuietThreshold < 0 {
		return fmt.Errorf("thresholds must be positive")
	}
	noisy, quiet := config.NoisyThreshold, config.QuietThreshold
	if noisy == 0 {
		noisy = defaultNoisyThreshold
	}
	if quiet == 0 {
		quiet = defaultQuietThreshold
	}
	if quiet >= noisy {
		return fmt.Errorf("quiet threshold %.4f must be below noisy threshold %.4f", quiet, noisy)
	}
	return nil
}

// Monitor classifies the acoustic environment from capture loudness and asks
// the call to switch VAD profiles when it changes
type Monitor struct {
	interval              time.Duration
	noisyThreshold        float64
	quietThreshold        float64
	interruptionThreshold int
	clock                 clock.Clock
	limiter               *rate.Limiter
	logger                *zap.Logger

	mu            sync.Mutex
	ring          []float64
	pos           int
	filled        int
	noisy         bool
	level         float64
	interruptions int
	offered       bool

	signals chan entities.NoiseSignal
}

// NewMonitor creates a noise monitor
func NewMonitor(config Config, clk clock.Clock, logger *zap.Logger) (*Monitor, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	window := config.Window
	if window == 0 {
		window = defaultWindow
	}
	interval := config.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	noisy := config.NoisyThreshold
	if noisy == 0 {
		noisy = defaultNoisyThreshold
	}
	quiet := config.QuietThreshold
	if quiet == 0 {
		quiet = defaultQuietThreshold
	}
	interruptions := config.InterruptionThreshold
	if interruptions <= 0 {
		interruptions = defaultInterruptionThreshold
	}
	advisoryEvery := config.AdvisoryEvery
	if advisoryEvery <= 0 {
		advisoryEvery = defaultAdvisoryEvery
	}

	return &Monitor{
		interval:              interval,
		noisyThreshold:        noisy,
		quietThreshold:        quiet,
		interruptionThreshold: interruptions,
		clock:                 clk,
		limiter:               rate.NewLimiter(rate.Every(advisoryEvery), 1),
		logger:                logger,
		ring:                  make([]float64, window),
		signals:               make(chan entities.NoiseSignal, 16),
	}, nil
}

// Signals delivers profile changes, advisories and fallback offers
func (m *Monitor) Signals() <-chan entities.NoiseSignal {
	return m.signals
}

// Observe records the loudness of one capture frame
func (m *Monitor) Observe(frame []float32) {
	if len(frame) == 0 {
		return
	}
	level := audio.RMS(frame)

	m.mu.Lock()
	m.ring[m.pos] = level
	m.pos = (m.pos + 1) % len(m.ring)
	if m.filled < len(m.ring) {
		m.filled++
	}
	m.mu.Unlock()
}

// Noisy reports the current classification
func (m *Monitor) Noisy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.noisy
}

// Tick re-classifies the environment from the current window
func (m *Monitor) Tick() {
	m.mu.Lock()
	if m.filled == 0 {
		m.mu.Unlock()
		return
	}
	var sum float64
	for i := 0; i < m.filled; i++ {
		sum += m.ring[i]
	}
	avg := sum / float64(m.filled)
	m.level = avg

	var out []entities.NoiseSignal
	switch {
	case !m.noisy && avg >= m.noisyThreshold:
		m.noisy = true
		out = append(out, entities.NoiseSignal{Kind: entities.NoiseProfileChange, Noisy: true, Level: avg})
		if m.limiter.AllowN(m.clock.Now(), 1) {
			out = append(out, entities.NoiseSignal{Kind: entities.NoiseAdvisory, Noisy: true, Level: avg})
		}
		m.logger.Info("Environment classified as noisy", zap.Float64("level", avg))
	case m.noisy && avg <= m.quietThreshold:
		m.noisy = false
		out = append(out, entities.NoiseSignal{Kind: entities.NoiseProfileChange, Noisy: false, Level: avg})
		m.logger.Info("Environment classified as quiet", zap.Float64("level", avg))
	}
	m.mu.Unlock()

	for _, s := range out {
		m.emit(s)
	}
}

// RecordInterruption counts a barge-in. Repeated barge-ins in a noisy
// environment produce a single text fallback offer per call.
func (m *Monitor) RecordInterruption() {
	m.mu.Lock()
	m.interruptions++
	offer := m.noisy && !m.offered && m.interruptions >= m.interruptionThreshold
	if offer {
		m.offered = true
	}
	level := m.level
	m.mu.Unlock()

	if offer {
		m.emit(entities.NoiseSignal{Kind: entities.NoiseFallbackOffer, Noisy: true, Level: level})
	}
}

// Run ticks the classifier until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

func (m *Monitor) emit(signal entities.NoiseSignal) {
	select {
	case m.signals <- signal:
	default:
		m.logger.Warn("Noise signal dropped, consumer is not keeping up", zap.String("kind", string(signal.Kind)))
	}
}
