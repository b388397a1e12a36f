package netquality

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/concierge-voice/internal/metrics"
)

const (
	defaultInterval         = 10 * time.Second
	defaultMaxRTT           = time.Second
	defaultFailureThreshold = 2
	defaultProbeTimeout     = 5 * time.Second
)

// Config holds configuration for the connection quality Monitor
type Config struct {
	Interval         time.Duration // Optional: sampling cadence (default 10s)
	MaxRTT           time.Duration // Optional: RTT above which calls are refused (default 1s)
	FailureThreshold int           // Optional: consecutive probe failures before insufficient (default 2)
	ProbeTimeout     time.Duration // Optional: per-probe deadline (default 5s)
}

// Monitor periodically samples the network path and decides whether it can
// carry a voice call
type Monitor struct {
	prober           Prober
	interval         time.Duration
	maxRTT           time.Duration
	failureThreshold int
	probeTimeout     time.Duration
	clock            clock.Clock
	logger           *zap.Logger
	metrics          *metrics.Metrics

	mu          sync.RWMutex
	current     Quality
	subscribers map[int]chan Quality
	nextID      int
}

// NewMonitor creates a monitor. Until the first sample the connection is
// considered sufficient.
func NewMonitor(prober Prober, config Config, clk clock.Clock, logger *zap.Logger, m *metrics.Metrics) *Monitor {
	interval := config.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	maxRTT := config.MaxRTT
	if maxRTT <= 0 {
		maxRTT = defaultMaxRTT
	}
	threshold := config.FailureThreshold
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	timeout := config.ProbeTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	if m == nil {
		m = metrics.NewNop()
	}
	m.ConnectionSufficient.Set(1)

	return &Monitor{
		prober:           prober,
		interval:         interval,
		maxRTT:           maxRTT,
		failureThreshold: threshold,
		probeTimeout:     timeout,
		clock:            clk,
		logger:           logger,
		metrics:          m,
		current:          Quality{Class: ClassUnknown, Sufficient: true},
		subscribers:      make(map[int]chan Quality),
	}
}

// Sufficient reports whether a new call may start
func (m *Monitor) Sufficient() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Sufficient
}

// Current returns the latest verdict
func (m *Monitor) Current() Quality {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe returns a channel receiving every change of the Sufficient verdict
// and a function that cancels the subscription
func (m *Monitor) Subscribe() (<-chan Quality, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan Quality, 4)
	m.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Run samples immediately and then on every interval until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	m.Sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample(ctx)
		}
	}
}

// Sample runs one probe and updates the verdict
func (m *Monitor) Sample(ctx context.Context) Quality {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	measurement, err := m.prober.Probe(probeCtx)

	m.mu.Lock()
	previous := m.current
	next := previous
	next.SampledAt = m.clock.Now()

	if err != nil {
		next.Failures++
		if next.Failures >= m.failureThreshold {
			next.Sufficient = false
		}
		m.logger.Warn("Connection probe failed", zap.Int("failures", next.Failures), zap.Error(err))
	} else {
		next.Failures = 0
		next.RTT = measurement.RTT
		next.DownlinkKbps = measurement.DownlinkKbps
		next.Class = Classify(measurement.RTT, measurement.DownlinkKbps)
		next.Sufficient = m.judge(next)
		m.metrics.ConnectionRTT.Observe(measurement.RTT.Seconds())
	}
	m.current = next

	var subscribers []chan Quality
	if next.Sufficient != previous.Sufficient {
		for _, ch := range m.subscribers {
			subscribers = append(subscribers, ch)
		}
		m.logger.Info("Connection quality changed",
			zap.Bool("sufficient", next.Sufficient),
			zap.String("class", string(next.Class)),
			zap.Duration("rtt", next.RTT))
	}
	// Sends happen under the lock so an unsubscribe cannot close a channel mid-send
	for _, ch := range subscribers {
		select {
		case ch <- next:
		default:
		}
	}
	m.mu.Unlock()

	if next.Sufficient {
		m.metrics.ConnectionSufficient.Set(1)
	} else {
		m.metrics.ConnectionSufficient.Set(0)
	}
	return next
}

func (m *Monitor) judge(q Quality) bool {
	return Acceptable(q, m.maxRTT)
}

// Acceptable reports whether a sampled link can carry a voice call
func Acceptable(q Quality, maxRTT time.Duration) bool {
	if q.RTT > maxRTT {
		return false
	}
	switch q.Class {
	case ClassSlow2G, Class2G:
		return false
	}
	return true
}
