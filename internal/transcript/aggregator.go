package transcript

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/concierge-voice/domain/entities"
)

// DefaultDelay is the quiet period after which buffered text becomes an utterance
const DefaultDelay = 4 * time.Second

type buffer struct {
	text  strings.Builder
	first time.Time
	timer *clock.Timer
	gen   uint64
}

// Aggregator reassembles streamed transcription fragments into utterances,
// one buffer per speaker, each with its own inactivity debounce
type Aggregator struct {
	delay  time.Duration
	clock  clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	buffers map[entities.Role]*buffer
	pending []entities.Utterance // finalized but not accepted by out
	closed  bool

	out chan entities.Utterance
}

// NewAggregator creates an aggregator. A non-positive delay uses DefaultDelay.
func NewAggregator(delay time.Duration, clk clock.Clock, logger *zap.Logger) *Aggregator {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Aggregator{
		delay:   delay,
		clock:   clk,
		logger:  logger,
		buffers: make(map[entities.Role]*buffer),
		out:     make(chan entities.Utterance, 16),
	}
}

// Utterances delivers utterances finalized by the debounce timer.
// The channel is never closed; stop reading after Close.
func (a *Aggregator) Utterances() <-chan entities.Utterance {
	return a.out
}

// Add appends a fragment verbatim to the role's buffer and restarts its timer
func (a *Aggregator) Add(role entities.Role, fragment string) {
	if fragment == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	buf, ok := a.buffers[role]
	if !ok {
		buf = &buffer{}
		a.buffers[role] = buf
	}
	if buf.text.Len() == 0 {
		buf.first = a.clock.Now()
	}
	buf.text.WriteString(fragment)

	if buf.timer != nil {
		buf.timer.Stop()
	}
	buf.gen++
	gen := buf.gen
	buf.timer = a.clock.AfterFunc(a.delay, func() { a.expire(role, gen) })
}

// expire finalizes the role's buffer. The hand-off happens under the lock so
// an utterance is always either in out or returned by the next Flush.
func (a *Aggregator) expire(role entities.Role, gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.buffers[role]
	if a.closed || !ok || buf.gen != gen {
		return
	}
	utterance, ok := take(role, buf)
	if !ok {
		return
	}
	select {
	case a.out <- utterance:
	default:
		a.logger.Warn("Utterance consumer is behind, holding until flush", zap.String("role", string(role)))
		a.pending = append(a.pending, utterance)
	}
}

// take drains the buffer; the caller holds the lock
func take(role entities.Role, buf *buffer) (entities.Utterance, bool) {
	if buf.timer != nil {
		buf.timer.Stop()
		buf.timer = nil
	}
	buf.gen++
	text := strings.TrimSpace(buf.text.String())
	buf.text.Reset()
	if text == "" {
		return entities.Utterance{}, false
	}
	return entities.Utterance{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: buf.first,
	}, true
}

// DiscardInFlight drops the role's partial text, e.g. the assistant's
// sentence cut off by a barge-in
func (a *Aggregator) DiscardInFlight(role entities.Role) {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf, ok := a.buffers[role]
	if !ok {
		return
	}
	if buf.timer != nil {
		buf.timer.Stop()
		buf.timer = nil
	}
	buf.gen++
	if buf.text.Len() > 0 {
		a.logger.Debug("Discarding partial transcript", zap.String("role", string(role)), zap.Int("length", buf.text.Len()))
	}
	buf.text.Reset()
}

// Flush finalizes every non-empty buffer immediately, oldest first, together
// with finalized utterances the consumer did not take
func (a *Aggregator) Flush() []entities.Utterance {
	a.mu.Lock()
	defer a.mu.Unlock()

	utterances := a.pending
	a.pending = nil
	for role, buf := range a.buffers {
		if u, ok := take(role, buf); ok {
			utterances = append(utterances, u)
		}
	}
	sort.SliceStable(utterances, func(i, j int) bool {
		return utterances[i].Timestamp.Before(utterances[j].Timestamp)
	})
	return utterances
}

// Close cancels every debounce timer; later fragments are ignored. Utterances
// already finalized stay readable from Utterances and Flush.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for _, buf := range a.buffers {
		if buf.timer != nil {
			buf.timer.Stop()
			buf.timer = nil
		}
		buf.gen++
	}
}
