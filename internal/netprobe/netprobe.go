// Package netprobe answers one question: does the device currently have
// a working path to the backend?
//
// The probe issues a lightweight GET against the backend health endpoint
// and caches the verdict briefly, so hot paths like the analytics engine
// can ask often without hammering the network. Any HTTP response counts
// as online; a server that answers with an error is still reachable, and
// what to do about the error is the caller's business.
package netprobe

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/clock"
)

// Config configures a Probe.
type Config struct {
	// URL is probed with a GET. Usually the backend health endpoint.
	URL string

	// Timeout bounds each probe request. Defaults to 5 seconds.
	Timeout time.Duration

	// TTL is how long a verdict is reused before re-probing. Defaults
	// to 10 seconds.
	TTL time.Duration

	// HTTPClient overrides the transport. If nil, a dedicated client
	// with Timeout is used.
	HTTPClient *http.Client

	// Clock ages cached verdicts. Defaults to the system clock.
	Clock clock.Clock
}

// Probe checks backend reachability with a short-lived cache.
type Probe struct {
	url    string
	client *http.Client
	ttl    time.Duration
	clock  clock.Clock

	mu        sync.Mutex
	checked   bool
	lastOK    bool
	lastCheck time.Time
}

// New creates a probe from cfg.
func New(cfg Config) *Probe {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Probe{
		url:    cfg.URL,
		client: client,
		ttl:    ttl,
		clock:  clk,
	}
}

// Online reports whether the backend answered a recent probe. Verdicts
// are cached for the TTL.
func (p *Probe) Online(ctx context.Context) bool {
	p.mu.Lock()
	if p.checked && p.clock.Now().Sub(p.lastCheck) < p.ttl {
		ok := p.lastOK
		p.mu.Unlock()
		return ok
	}
	p.mu.Unlock()

	ok := p.check(ctx)

	p.mu.Lock()
	p.checked = true
	p.lastOK = ok
	p.lastCheck = p.clock.Now()
	p.mu.Unlock()

	return ok
}

// Reset drops the cached verdict so the next Online call probes again.
func (p *Probe) Reset() {
	p.mu.Lock()
	p.checked = false
	p.mu.Unlock()
}

func (p *Probe) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return true
}
