// Package health implements the health checker (spec §4.3): a single
// background probe task, fixed interval, liveness-then-readiness per
// backend, with an "optimistically ready until first probe" startup
// policy.
//
// The background-loop-with-stop-channel shape is adapted from the
// teacher's AuditLogger.eventProcessor (internal/security/audit.go):
// a single goroutine driven by a time.Ticker, torn down with a
// sync.WaitGroup on Stop. Unlike the audit logger, there is no work
// queue here — each tick drives one full sweep over the registered
// backends, serialized per backend to avoid a thundering herd (spec
// §9).
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Snapshot is the per-backend health state (spec §3 HealthSnapshot).
type Snapshot struct {
	Healthy             bool      `json:"healthy"`
	Ready               bool      `json:"ready"`
	LastCheck           time.Time `json:"last_check"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Prober is the minimal shape the checker needs from a backend: its
// name and the two health URLs to probe.
type Prober struct {
	Name          string
	LivenessURL   string
	ReadinessURL  string
}

// Checker runs the periodic probe loop and answers routability checks.
type Checker struct {
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	log      *logrus.Logger

	mu        sync.RWMutex
	snapshots map[string]*Snapshot
	backends  []Prober

	firstSweepDone bool
	stopCh         chan struct{}
	wg             sync.WaitGroup
}

// New builds a Checker. interval is the sweep period (default 30s per
// spec §4.3); timeout bounds each individual probe request (default
// ~2s).
func New(backends []Prober, interval, timeout time.Duration, log *logrus.Logger) *Checker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	snapshots := make(map[string]*Snapshot, len(backends))
	for _, b := range backends {
		// Readiness is optimistically true until the first probe
		// completes, to avoid a cold-start outage (spec §4.3).
		snapshots[b.Name] = &Snapshot{Healthy: true, Ready: true}
	}
	return &Checker{
		interval:  interval,
		timeout:   timeout,
		client:    &http.Client{Timeout: timeout},
		log:       log,
		snapshots: snapshots,
		backends:  backends,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the background probe loop. It performs one sweep
// immediately so "after the first full sweep, gating becomes strict"
// (spec §4.3) happens promptly rather than waiting a full interval.
func (c *Checker) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

func (c *Checker) loop(ctx context.Context) {
	defer c.wg.Done()

	c.sweep(ctx)
	c.mu.Lock()
	c.firstSweepDone = true
	c.mu.Unlock()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

// Stop halts the probe loop and waits for it to exit.
func (c *Checker) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Checker) sweep(ctx context.Context) {
	// Serialized per backend to avoid a thundering herd (spec §9).
	for _, b := range c.backends {
		c.probeOne(ctx, b)
	}
}

func (c *Checker) probeOne(ctx context.Context, b Prober) {
	healthy, liveErr := c.probe(ctx, b.LivenessURL)
	ready := false
	readyErr := ""
	if healthy {
		ready, readyErr = c.probe(ctx, b.ReadinessURL)
	}

	lastError := liveErr
	if healthy && readyErr != "" {
		lastError = readyErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snapshots[b.Name]
	if !ok {
		snap = &Snapshot{}
		c.snapshots[b.Name] = snap
	}
	snap.LastCheck = time.Now()
	snap.Healthy = healthy
	snap.Ready = healthy && ready
	snap.LastError = lastError
	if snap.Healthy && snap.Ready {
		snap.ConsecutiveFailures = 0
	} else {
		snap.ConsecutiveFailures++
	}

	if c.log != nil && (!snap.Healthy || !snap.Ready) {
		c.log.WithFields(logrus.Fields{
			"backend": b.Name,
			"healthy": snap.Healthy,
			"ready":   snap.Ready,
			"error":   snap.LastError,
		}).Warn("backend health probe failed")
	}
}

func (c *Checker) probe(ctx context.Context, url string) (ok bool, errMsg string) {
	if url == "" {
		return false, "no probe url configured"
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, "non-2xx status: " + resp.Status
	}
	return true, ""
}

// IsRoutable is the gate contract (spec §4.3): "before admission, the
// request path asks the health checker is_routable(backend_name)".
func (c *Checker) IsRoutable(backendName string) (bool, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[backendName]
	if !ok {
		return true, ""
	}
	if snap.Ready {
		return true, ""
	}
	return false, snap.LastError
}

// Snapshot returns a copy of the current health state for backendName.
func (c *Checker) Snapshot(backendName string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[backendName]
	if !ok {
		return Snapshot{}, false
	}
	return *snap, true
}

// All returns a copy of every tracked backend's snapshot, keyed by
// backend name, for /v1/gateway/status.
func (c *Checker) All() map[string]Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Snapshot, len(c.snapshots))
	for name, snap := range c.snapshots {
		out[name] = *snap
	}
	return out
}
