// Package admission implements the admission controller (spec §4.2):
// a table of counted semaphores keyed by (backend_name, route_kind),
// with non-blocking acquire and no queueing.
//
// The concurrency shape — a map of per-key state behind a RWMutex,
// with a dedicated mutex per entry — is adapted from the teacher's
// InMemoryRateLimiter (internal/security/ratelimit.go), repurposed
// from a time-windowed token bucket (rate limiting) into a bare
// counted semaphore (concurrency limiting): there is no refill clock
// here, capacity is fixed at load time, and a rejected acquire never
// queues.
package admission

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/local-gateway/internal/gatewayerror"
)

// Slot is the ephemeral token returned by a successful TryAcquire. It
// must be released exactly once.
type Slot struct {
	backendName string
	routeKind   string
	released    bool
}

type semaphore struct {
	mu       sync.Mutex
	limit    int
	inflight int
}

// Controller holds one semaphore per (backend_name, route_kind).
type Controller struct {
	mu    sync.RWMutex
	table map[string]*semaphore
	log   *logrus.Logger
}

// New builds a Controller. limits maps "<backend>.<route_kind>" to its
// capacity, mirroring the registry's per-backend concurrency_limits.
func New(limits map[string]int, log *logrus.Logger) *Controller {
	c := &Controller{
		table: make(map[string]*semaphore, len(limits)),
		log:   log,
	}
	for key, limit := range limits {
		c.table[key] = &semaphore{limit: limit}
	}
	return c
}

func key(backendName, routeKind string) string {
	return backendName + "." + routeKind
}

// TryAcquire attempts to take a slot for (backendName, routeKind).
// Non-blocking: returns a gatewayerror.Error immediately if the
// semaphore is saturated, or if no entry exists for the key (a route
// kind not admitted for this backend — a misconfiguration, surfaced
// the same way as exhaustion since both must fail fast before any
// upstream call).
func (c *Controller) TryAcquire(backendName, routeKind string) (*Slot, error) {
	c.mu.RLock()
	sem, ok := c.table[key(backendName, routeKind)]
	c.mu.RUnlock()
	if !ok {
		return nil, gatewayerror.BackendOverloaded(backendName, routeKind).WithDetail(map[string]any{"reason": "not_admitted"})
	}

	sem.mu.Lock()
	defer sem.mu.Unlock()
	if sem.inflight >= sem.limit {
		return nil, gatewayerror.BackendOverloaded(backendName, routeKind)
	}
	sem.inflight++
	return &Slot{backendName: backendName, routeKind: routeKind}, nil
}

// Release returns a slot's capacity. Idempotent per call site is NOT
// guaranteed by the controller — a double release on the same *Slot
// is a programming error and panics, so tests can detect it (spec
// §4.2: "double-release is a programming error and must be detected
// in test").
func (c *Controller) Release(slot *Slot) {
	if slot == nil {
		return
	}
	if slot.released {
		panic(fmt.Sprintf("admission: double release of slot %s.%s", slot.backendName, slot.routeKind))
	}
	slot.released = true

	c.mu.RLock()
	sem, ok := c.table[key(slot.backendName, slot.routeKind)]
	c.mu.RUnlock()
	if !ok {
		return
	}
	sem.mu.Lock()
	defer sem.mu.Unlock()
	if sem.inflight > 0 {
		sem.inflight--
	}
}

// Stat is one entry of Stats().
type Stat struct {
	Limit     int `json:"limit"`
	Inflight  int `json:"inflight"`
	Available int `json:"available"`
}

// Stats returns a snapshot of every configured key's capacity and
// current usage, for /v1/gateway/status.
func (c *Controller) Stats() map[string]Stat {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Stat, len(c.table))
	for k, sem := range c.table {
		sem.mu.Lock()
		out[k] = Stat{
			Limit:     sem.limit,
			Inflight:  sem.inflight,
			Available: sem.limit - sem.inflight,
		}
		sem.mu.Unlock()
	}
	return out
}
