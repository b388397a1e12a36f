package websocket

import (
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/satriahrh/concierge-voice/internal/call"
	"github.com/satriahrh/concierge-voice/internal/netquality"
)

const maxDeviceRTT = time.Second

// deviceLink times websocket control pings. The ping payload carries the
// send time and is echoed back in the pong, so no per-ping state is kept.
type deviceLink struct {
	clock  clock.Clock
	maxRTT time.Duration

	mu       sync.Mutex
	rtt      time.Duration
	measured time.Time
}

var _ call.LinkGate = (*deviceLink)(nil)

func newDeviceLink(clk clock.Clock, maxRTT time.Duration) *deviceLink {
	return &deviceLink{clock: clk, maxRTT: maxRTT}
}

func (l *deviceLink) pingPayload() []byte {
	return strconv.AppendInt(nil, l.clock.Now().UnixNano(), 10)
}

// pong records the round trip of an echoed ping payload
func (l *deviceLink) pong(appData string) {
	sent, err := strconv.ParseInt(appData, 10, 64)
	if err != nil {
		return
	}
	now := l.clock.Now()
	rtt := now.Sub(time.Unix(0, sent))
	if rtt < 0 {
		return
	}

	l.mu.Lock()
	l.rtt = rtt
	l.measured = now
	l.mu.Unlock()
}

// Quality returns the latest verdict. ok is false before the first pong.
func (l *deviceLink) Quality() (netquality.Quality, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.measured.IsZero() {
		return netquality.Quality{Class: netquality.ClassUnknown, Sufficient: true}, false
	}
	q := netquality.Quality{
		Class:     netquality.Classify(l.rtt, 0),
		RTT:       l.rtt,
		SampledAt: l.measured,
	}
	q.Sufficient = netquality.Acceptable(q, l.maxRTT)
	return q, true
}

// Sufficient reports whether the device link can carry a call. An unmeasured
// link is given the benefit of the doubt.
func (l *deviceLink) Sufficient() bool {
	q, _ := l.Quality()
	return q.Sufficient
}
