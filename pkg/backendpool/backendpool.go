// Package backendpool implements the load balancer's backend table:
// the statically configured set of upstream servers, the two
// selection policies (round robin and least connections), and the
// periodic health checker that keeps each backend's liveness flag
// current. It is the Go translation of the original load balancer's
// global backend array and its mutex-guarded selection functions.
package backendpool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cachetier/cachetier/pkg/logging"
)

// ErrNoActiveBackend is returned by Select when no configured backend
// is currently active.
var ErrNoActiveBackend = errors.New("backendpool: no active backend")

// Policy selects a backend from a pool.
type Policy int

const (
	// RoundRobin advances a cursor across active backends, matching
	// the original's wired default.
	RoundRobin Policy = iota
	// LeastConnections picks the active backend with the fewest
	// lifetime selections, ties broken by lowest index.
	LeastConnections
)

func (p Policy) String() string {
	switch p {
	case RoundRobin:
		return "round-robin"
	case LeastConnections:
		return "least-connections"
	default:
		return "unknown"
	}
}

// ParsePolicy parses a policy name as accepted by the --policy flag.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "round-robin", "":
		return RoundRobin, nil
	case "least-connections":
		return LeastConnections, nil
	default:
		return 0, fmt.Errorf("backendpool: unknown selection policy %q", s)
	}
}

// Backend is one configured upstream target. All mutable fields are
// only ever touched while the owning Pool's lock is held.
type Backend struct {
	Host string
	Port int

	active       bool
	requestCount int64
}

// Addr returns the backend's dial address.
func (b *Backend) Addr() string {
	return net.JoinHostPort(b.Host, fmt.Sprintf("%d", b.Port))
}

// Stat is a point-in-time, lock-free snapshot of one backend.
type Stat struct {
	Host         string
	Port         int
	Active       bool
	RequestCount int64
}

// Pool holds the backend table behind a single lock, exactly as the
// original's backend_mutex protects the entire global array: no
// operation here ever holds two of the module's locks at once.
type Pool struct {
	log logging.Logger

	mu       sync.Mutex
	backends []*Backend
	cursor   int
}

// New creates a pool from the given backend addresses, all initially
// marked active (mirroring the original's static initializer, which
// starts every configured backend as active pending the first health
// check).
func New(log logging.Logger, backends []*Backend) *Pool {
	for _, b := range backends {
		b.active = true
	}
	return &Pool{log: log, backends: backends}
}

// Len returns the number of configured backends.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backends)
}

// Select picks a backend according to policy, incrementing its
// request count on success. It returns ErrNoActiveBackend if no
// backend is currently active.
func (p *Pool) Select(policy Policy) (*Backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.backends) == 0 {
		return nil, ErrNoActiveBackend
	}

	switch policy {
	case LeastConnections:
		return p.selectLeastConnectionsLocked()
	default:
		return p.selectRoundRobinLocked()
	}
}

// selectRoundRobinLocked advances the cursor at most len(backends)
// positions looking for an active backend, then leaves the cursor one
// past the selected index, so the next call resumes scanning at the
// backend after the one just chosen. Inactive backends are skipped and
// each active backend is chosen once per rotation. The caller must hold
// the lock.
func (p *Pool) selectRoundRobinLocked() (*Backend, error) {
	n := len(p.backends)
	for attempts := 0; attempts < n; attempts++ {
		b := p.backends[p.cursor]
		if b.active {
			b.requestCount++
			p.cursor = (p.cursor + 1) % n
			return b, nil
		}
		p.cursor = (p.cursor + 1) % n
	}
	return nil, ErrNoActiveBackend
}

// selectLeastConnectionsLocked scans every backend, picking the
// minimum request count among active ones, ties broken by lowest
// index. The caller must hold the lock.
func (p *Pool) selectLeastConnectionsLocked() (*Backend, error) {
	var selected *Backend
	for _, b := range p.backends {
		if !b.active {
			continue
		}
		if selected == nil || b.requestCount < selected.requestCount {
			selected = b
		}
	}
	if selected == nil {
		return nil, ErrNoActiveBackend
	}
	selected.requestCount++
	return selected, nil
}

// Stats returns a snapshot of every backend, in configured order.
func (p *Pool) Stats() []Stat {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make([]Stat, len(p.backends))
	for i, b := range p.backends {
		stats[i] = Stat{Host: b.Host, Port: b.Port, Active: b.active, RequestCount: b.requestCount}
	}
	return stats
}

// setActive updates a single backend's liveness flag under the pool
// lock.
func (p *Pool) setActive(b *Backend, active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b.active = active
}

// HealthChecker periodically dials every backend in the pool and
// updates its Active flag from the dial result.
type HealthChecker struct {
	pool     *Pool
	log      logging.Logger
	interval time.Duration
	timeout  time.Duration
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewHealthChecker creates a checker that probes every backend every
// interval with the given per-probe dial timeout.
func NewHealthChecker(pool *Pool, log logging.Logger, interval, timeout time.Duration) *HealthChecker {
	d := &net.Dialer{}
	return &HealthChecker{
		pool:     pool,
		log:      log,
		interval: interval,
		timeout:  timeout,
		dial:     d.DialContext,
	}
}

// Run performs an initial health sweep, then repeats it every interval
// until ctx is cancelled.
func (h *HealthChecker) Run(ctx context.Context) error {
	h.sweep(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.sweep(ctx)
		}
	}
}

func (h *HealthChecker) sweep(ctx context.Context) {
	h.log.Infoln("Performing health check on backends...")

	for _, b := range h.pool.backends {
		probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
		conn, err := h.dial(probeCtx, "tcp", b.Addr())
		cancel()

		active := err == nil
		if conn != nil {
			conn.Close()
		}
		h.pool.setActive(b, active)

		status := "DOWN"
		if active {
			status = "UP"
		}
		h.log.Infof("Backend %s is %s", b.Addr(), status)
	}

	h.printStats()
}

func (h *HealthChecker) printStats() {
	stats := h.pool.Stats()

	h.log.Infoln("=== Backend Statistics ===")
	for i, s := range stats {
		state := "INACTIVE"
		if s.Active {
			state = "ACTIVE"
		}
		h.log.Infof("Backend %d: %s:%d - %s - Requests: %d", i, s.Host, s.Port, state, s.RequestCount)
	}
	h.log.Infoln("========================")
}
