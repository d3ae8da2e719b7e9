// Package coordinator provides the per-session serialization primitive:
// every mutation of a given session runs inside an exclusive section for that
// session id, while operations on different ids proceed in parallel.
package coordinator

import (
	"errors"
	"sync"
	"time"

	"github.com/decred/slog"
)

// Defaults per the engine contract.
const (
	DefaultWaitTimeout = 5 * time.Second
	DefaultPendingCap  = 100

	// Sections held longer than this log a warning; something is stalling
	// the session's op stream.
	slowAcquireWarn = 100 * time.Millisecond
)

var (
	// ErrTooBusy is returned when a session already has the maximum number
	// of pending operations queued.
	ErrTooBusy = errors.New("coordinator: too many pending operations")

	// ErrTimeout is returned when the exclusive section could not be
	// acquired within the wait timeout.
	ErrTimeout = errors.New("coordinator: lock acquire timed out")
)

// Op is a unit of work executed inside the exclusive section. Ops run to
// completion even if the submitting transport has gone away; a half-applied
// mutation must never be observable.
type Op func() error

// Config tunes a Coordinator. Zero values take the defaults.
type Config struct {
	WaitTimeout time.Duration
	PendingCap  int
	Log         slog.Logger
}

// Coordinator owns one lock per live session id plus the create lock that
// serializes id allocation.
type Coordinator struct {
	log         slog.Logger
	waitTimeout time.Duration
	pendingCap  int

	mu      sync.Mutex
	entries map[string]*entry

	createMu sync.Mutex
}

// entry is the lock state for one key. pending counts ops queued or running;
// entries are dropped once idle to keep the table bounded by live sessions.
type entry struct {
	sem     chan struct{}
	pending int
}

// New creates a coordinator.
func New(cfg Config) *Coordinator {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.PendingCap <= 0 {
		cfg.PendingCap = DefaultPendingCap
	}
	return &Coordinator{
		log:         cfg.Log,
		waitTimeout: cfg.WaitTimeout,
		pendingCap:  cfg.PendingCap,
		entries:     make(map[string]*entry),
	}
}

// Run executes op with exclusive access to key. Fails fast with ErrTooBusy
// when the pending cap is exceeded and with ErrTimeout when the section
// cannot be acquired in time. The op's own error is returned as-is.
func (c *Coordinator) Run(key string, op Op) error {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		c.entries[key] = e
	}
	if e.pending >= c.pendingCap {
		c.mu.Unlock()
		return ErrTooBusy
	}
	e.pending++
	c.mu.Unlock()

	acquired := time.Now()
	timer := time.NewTimer(c.waitTimeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
	case <-timer.C:
		c.release(key, e, false)
		return ErrTimeout
	}
	if wait := time.Since(acquired); wait > slowAcquireWarn && c.log != nil {
		c.log.Warnf("slow section acquire for %s: %v", key, wait)
	}

	defer c.release(key, e, true)
	return op()
}

// TryRun is Run with a caller-supplied wait budget; used by the tick driver,
// which would rather skip a beat than pile up behind a stuck session.
func (c *Coordinator) TryRun(key string, wait time.Duration, op Op) error {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		c.entries[key] = e
	}
	if e.pending >= c.pendingCap {
		c.mu.Unlock()
		return ErrTooBusy
	}
	e.pending++
	c.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case e.sem <- struct{}{}:
	case <-timer.C:
		c.release(key, e, false)
		return ErrTimeout
	}
	defer c.release(key, e, true)
	return op()
}

func (c *Coordinator) release(key string, e *entry, held bool) {
	if held {
		<-e.sem
	}
	c.mu.Lock()
	e.pending--
	if e.pending == 0 {
		delete(c.entries, key)
	}
	c.mu.Unlock()
}

// Pending returns the number of ops queued or running for key.
func (c *Coordinator) Pending(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.pending
	}
	return 0
}

// RunCreate executes op under the singleton create lock, closing the
// create/create window during id allocation and registry insert.
func (c *Coordinator) RunCreate(op Op) error {
	c.createMu.Lock()
	defer c.createMu.Unlock()
	return op()
}
