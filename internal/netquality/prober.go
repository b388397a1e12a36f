package netquality

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
)

// Measurement is the raw result of one probe
type Measurement struct {
	RTT          time.Duration
	DownlinkKbps float64
}

// Prober measures the network path to the speech service
type Prober interface {
	Probe(ctx context.Context) (Measurement, error)
}

// HTTPProber times a GET request against the speech service host. RTT is the
// time to response headers; downlink is derived from the body transfer. Any
// response below 500 proves the path works, so the host root can be probed
// even when it answers 404.
type HTTPProber struct {
	url    string
	client *http.Client
	clock  clock.Clock
}

// NewHTTPProber creates a prober against url. client may be nil.
func NewHTTPProber(url string, client *http.Client, clk clock.Clock) *HTTPProber {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPProber{url: url, client: client, clock: clk}
}

// Probe performs one measurement
func (p *HTTPProber) Probe(ctx context.Context) (Measurement, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Measurement{}, fmt.Errorf("failed to create probe request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	start := p.clock.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return Measurement{}, fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()
	rtt := p.clock.Since(start)

	if resp.StatusCode >= http.StatusInternalServerError {
		return Measurement{}, fmt.Errorf("probe returned status %d", resp.StatusCode)
	}

	bodyStart := p.clock.Now()
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return Measurement{}, fmt.Errorf("failed to read probe body: %w", err)
	}
	elapsed := p.clock.Since(bodyStart)

	m := Measurement{RTT: rtt}
	// Tiny bodies arrive in one segment and say nothing about throughput
	if n >= 16*1024 && elapsed > 0 {
		m.DownlinkKbps = float64(n*8) / elapsed.Seconds() / 1000
	}
	return m, nil
}
