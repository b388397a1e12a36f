package playback

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/domain/repositories"
	"github.com/satriahrh/concierge-voice/internal/audio"
	"github.com/satriahrh/concierge-voice/internal/metrics"
)

const (
	defaultQueueDepth   = 60
	defaultLookahead    = 2
	defaultEpsilon      = 10 * time.Millisecond
	defaultPollInterval = 50 * time.Millisecond
)

// Config holds configuration for the Scheduler
type Config struct {
	QueueDepth   int           `yaml:"queue_depth"`   // chunks kept before evicting the oldest (default 60)
	Lookahead    int           `yaml:"lookahead"`     // units scheduled ahead on the device (default 2)
	Epsilon      time.Duration `yaml:"epsilon"`       // minimum lead before a unit starts (default 10ms)
	PollInterval time.Duration `yaml:"poll_interval"` // retry cadence while the queue is empty (default 50ms)
}

// Stats is a snapshot of the scheduler
type Stats struct {
	Queued     int
	InFlight   int
	Scheduled  uint64
	Dropped    uint64
	Interrupts uint64
	NextStart  time.Duration
}

type unit struct {
	buffer repositories.ScheduledBuffer
	timer  *clock.Timer
	end    time.Duration
}

// Scheduler decodes inbound audio and schedules it back-to-back on the
// playback device clock
type Scheduler struct {
	device       repositories.PlaybackDevice
	lookahead    int
	epsilon      time.Duration
	pollInterval time.Duration
	clock        clock.Clock
	logger       *zap.Logger
	metrics      *metrics.Metrics

	mu         sync.Mutex
	queue      *Queue
	nextStart  time.Duration
	inFlight   map[uint64]*unit
	nextUnitID uint64
	pollTimer  *clock.Timer
	generation uint64
	closed     bool

	scheduled  uint64
	dropped    uint64
	interrupts uint64
}

// NewScheduler creates a scheduler for the given device
func NewScheduler(device repositories.PlaybackDevice, config Config, clk clock.Clock, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	depth := config.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	lookahead := config.Lookahead
	if lookahead <= 0 {
		lookahead = defaultLookahead
	}
	epsilon := config.Epsilon
	if epsilon <= 0 {
		epsilon = defaultEpsilon
	}
	poll := config.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	if m == nil {
		m = metrics.NewNop()
	}

	return &Scheduler{
		device:       device,
		lookahead:    lookahead,
		epsilon:      epsilon,
		pollInterval: poll,
		clock:        clk,
		logger:       logger,
		metrics:      m,
		queue:        NewQueue(depth),
		nextStart:    device.CurrentTime(),
		inFlight:     make(map[uint64]*unit),
	}
}

// Enqueue decodes a frame and queues it for playback. Frames that cannot be
// decoded are dropped; the call carries on.
func (s *Scheduler) Enqueue(frame entities.AudioFrame) {
	samples, err := audio.DecodeLE(frame.Data)
	if err != nil {
		s.logger.Warn("Dropping undecodable audio chunk", zap.Int("bytes", len(frame.Data)), zap.Error(err))
		s.mu.Lock()
		s.drop("decode", 1)
		s.mu.Unlock()
		return
	}
	if len(samples) == 0 {
		return
	}
	rate := frame.SampleRate
	if rate <= 0 {
		rate = audio.OutputSampleRate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.drop("closed", 1)
		return
	}

	if s.queue.Push(audio.Chunk{Samples: samples, SampleRate: rate}) {
		s.drop("overflow", 1)
		s.logger.Debug("Playback queue full, evicted oldest chunk")
	} else {
		s.metrics.PlaybackQueueDepth.Inc()
	}
	s.pump()
}

// pump moves chunks from the queue onto the device until the lookahead is
// full; the caller holds the lock
func (s *Scheduler) pump() {
	for len(s.inFlight) < s.lookahead {
		chunk, ok := s.queue.Pop()
		if !ok {
			return
		}
		s.metrics.PlaybackQueueDepth.Dec()
		s.scheduleChunk(chunk)
	}
}

func (s *Scheduler) scheduleChunk(chunk audio.Chunk) {
	now := s.device.CurrentTime()
	start := now + s.epsilon
	if s.nextStart > start {
		start = s.nextStart
	}

	buffer, err := s.device.Schedule(audio.PCM16ToFloat(chunk.Samples), chunk.SampleRate, start)
	if err != nil {
		s.logger.Warn("Playback device rejected chunk", zap.Error(err))
		s.drop("device", 1)
		return
	}

	end := start + chunk.Duration()
	s.nextStart = end
	s.scheduled++
	s.metrics.ChunksScheduled.Inc()

	id := s.nextUnitID
	s.nextUnitID++
	gen := s.generation
	u := &unit{buffer: buffer, end: end}
	u.timer = s.clock.AfterFunc(end-now, func() { s.complete(id, gen) })
	s.inFlight[id] = u
}

func (s *Scheduler) complete(id uint64, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.generation {
		return
	}
	delete(s.inFlight, id)
	s.pump()
	if len(s.inFlight) == 0 {
		s.armPoll()
	}
}

// armPoll retries scheduling while the queue is empty; the caller holds the lock
func (s *Scheduler) armPoll() {
	if s.pollTimer != nil {
		return
	}
	gen := s.generation
	s.pollTimer = s.clock.AfterFunc(s.pollInterval, func() { s.poll(gen) })
}

func (s *Scheduler) poll(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.generation {
		return
	}
	s.pollTimer = nil
	s.pump()
	if len(s.inFlight) == 0 {
		s.armPoll()
	}
}

// Interrupt stops everything scheduled or playing, cancels all timers, empties
// the queue and moves the playback clock back to the device time. Calling it
// repeatedly has the same effect as calling it once.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked()
}

func (s *Scheduler) interruptLocked() {
	stopped := len(s.inFlight)
	for id, u := range s.inFlight {
		u.timer.Stop()
		u.buffer.Stop()
		delete(s.inFlight, id)
	}
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
	cleared := s.queue.Clear()
	s.metrics.PlaybackQueueDepth.Sub(float64(cleared))
	s.nextStart = s.device.CurrentTime()
	s.generation++

	if stopped > 0 || cleared > 0 {
		s.interrupts++
		s.drop("interrupted", cleared)
		s.logger.Debug("Playback interrupted", zap.Int("stopped", stopped), zap.Int("cleared", cleared))
	}
}

// Close interrupts playback and refuses further scheduling
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked()
	s.closed = true
}

// Stats returns a snapshot of the scheduler state
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Queued:     s.queue.Len(),
		InFlight:   len(s.inFlight),
		Scheduled:  s.scheduled,
		Dropped:    s.dropped,
		Interrupts: s.interrupts,
		NextStart:  s.nextStart,
	}
}

// drop counts discarded chunks; the caller holds the lock
func (s *Scheduler) drop(reason string, n int) {
	if n <= 0 {
		return
	}
	s.dropped += uint64(n)
	s.metrics.ChunksDropped.WithLabelValues(reason).Add(float64(n))
}
