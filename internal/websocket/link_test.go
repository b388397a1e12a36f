package websocket

import (
	"strconv"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/satriahrh/concierge-voice/internal/netquality"
)

func TestDeviceLinkMeasuresPingRoundTrip(t *testing.T) {
	mock := clock.NewMock()
	link := newDeviceLink(mock, time.Second)

	if _, ok := link.Quality(); ok {
		t.Error("Expected no measurement before the first pong")
	}
	if !link.Sufficient() {
		t.Error("Expected an unmeasured link to be sufficient")
	}

	payload := string(link.pingPayload())
	mock.Add(80 * time.Millisecond)
	link.pong(payload)

	q, ok := link.Quality()
	if !ok {
		t.Fatal("Expected a measurement after the pong")
	}
	if q.RTT != 80*time.Millisecond || q.Class != netquality.Class4G || !q.Sufficient {
		t.Errorf("Unexpected quality %+v", q)
	}

	payload = string(link.pingPayload())
	mock.Add(1500 * time.Millisecond)
	link.pong(payload)

	if link.Sufficient() {
		q, _ := link.Quality()
		t.Errorf("Expected a 1.5s round trip to block calls, got %+v", q)
	}
}

func TestDeviceLinkIgnoresForeignPongs(t *testing.T) {
	mock := clock.NewMock()
	link := newDeviceLink(mock, time.Second)

	link.pong("")
	link.pong("not-a-timestamp")
	link.pong(strconv.FormatInt(mock.Now().Add(time.Hour).UnixNano(), 10))

	if _, ok := link.Quality(); ok {
		t.Error("Expected unreadable or future payloads to be ignored")
	}
}
