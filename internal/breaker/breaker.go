// Package breaker implements a per-source circuit breaker with a sliding
// failure window.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/justice-rest/Intel-sub005/internal/telemetry"
)

// State is the lifecycle state of one source's circuit.
type State int

// Circuit states.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned by Execute when a circuit rejects the call.
var ErrOpen = errors.New("circuit open")

// Config tunes the breaker. Zero values fall back to defaults.
type Config struct {
	// FailureThreshold failures within FailureWindow open the circuit.
	FailureThreshold int
	FailureWindow    time.Duration
	// ResetTimeout is how long after the last failure an open circuit
	// waits before admitting probes.
	ResetTimeout time.Duration
	// SuccessThreshold consecutive probe successes close a half-open
	// circuit.
	SuccessThreshold int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = 2 * time.Minute
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 5 * time.Minute
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	return c
}

type failure struct {
	at  time.Time
	err string
}

type circuit struct {
	state          State
	failures       []failure
	successes      int
	lastFailure    time.Time
	lastTransition time.Time
}

// Snapshot is a read-only view of one circuit for the health surface.
type Snapshot struct {
	Source       string    `json:"source"`
	State        string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
	RetryAfter   int64     `json:"retry_after_ms,omitempty"`
}

// Breaker tracks one circuit per source. Circuits are created lazily and
// live for the process lifetime; a restart resets everything to CLOSED.
// All methods are safe for concurrent use.
//
// While HALF_OPEN the breaker admits any number of concurrent probe calls
// between transitions; the first recorded failure reopens the circuit.
type Breaker struct {
	mu       sync.Mutex
	cfg      Config
	circuits map[string]*circuit
	now      func() time.Time
}

// New creates a Breaker.
func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:      cfg.withDefaults(),
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
	return b
}

// Allow reports whether a call to the source may proceed. It is
// side-effect-free apart from the lazy OPEN to HALF_OPEN transition once
// ResetTimeout has elapsed since the last failure. When the circuit stays
// open, retryAfter estimates the remaining cooldown.
func (b *Breaker) Allow(sourceID string) (allowed bool, retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(sourceID)
	b.refresh(sourceID, c)
	if c.state == StateOpen {
		remaining := b.cfg.ResetTimeout - b.now().Sub(c.lastFailure)
		if remaining < 0 {
			remaining = 0
		}
		return false, remaining
	}
	return true, 0
}

// RecordSuccess feeds one successful call into the circuit.
func (b *Breaker) RecordSuccess(sourceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(sourceID)
	b.refresh(sourceID, c)
	switch c.state {
	case StateHalfOpen:
		c.successes++
		if c.successes >= b.cfg.SuccessThreshold {
			b.transition(sourceID, c, StateClosed)
			c.failures = nil
		}
	case StateClosed:
		// Successes do not erase windowed failures, but pruning happens
		// in refresh so stale entries age out regardless.
	}
}

// RecordFailure feeds one failed call into the circuit.
func (b *Breaker) RecordFailure(sourceID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(sourceID)
	b.refresh(sourceID, c)

	now := b.now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	c.failures = append(c.failures, failure{at: now, err: msg})
	c.lastFailure = now

	switch c.state {
	case StateHalfOpen:
		// Any failure during probing reopens immediately.
		b.transition(sourceID, c, StateOpen)
	case StateClosed:
		if b.windowedFailures(c) >= b.cfg.FailureThreshold {
			b.transition(sourceID, c, StateOpen)
		}
	}
}

// Execute wraps fn with the breaker: rejected calls return ErrOpen, and
// fn's outcome is recorded automatically.
func (b *Breaker) Execute(ctx context.Context, sourceID string, fn func(context.Context) error) error {
	allowed, retryAfter := b.Allow(sourceID)
	if !allowed {
		return fmt.Errorf("%w: retry after %s", ErrOpen, retryAfter)
	}
	if err := fn(ctx); err != nil {
		b.RecordFailure(sourceID, err)
		return err
	}
	b.RecordSuccess(sourceID)
	return nil
}

// Reset forces one circuit back to CLOSED, clearing its failure history.
func (b *Breaker) Reset(sourceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(sourceID)
	if c.state != StateClosed {
		b.transition(sourceID, c, StateClosed)
	}
	c.failures = nil
	c.successes = 0
}

// Snapshot returns the health view for one source.
func (b *Breaker) Snapshot(sourceID string) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(sourceID)
	b.refresh(sourceID, c)
	return b.snapshotLocked(sourceID, c)
}

// Snapshots returns health views for every source seen so far.
func (b *Breaker) Snapshots() []Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Snapshot, 0, len(b.circuits))
	for id, c := range b.circuits {
		b.refresh(id, c)
		out = append(out, b.snapshotLocked(id, c))
	}
	return out
}

func (b *Breaker) snapshotLocked(sourceID string, c *circuit) Snapshot {
	s := Snapshot{
		Source:       sourceID,
		State:        c.state.String(),
		FailureCount: b.windowedFailures(c),
	}
	if !c.lastFailure.IsZero() {
		s.LastFailure = c.lastFailure
	}
	if c.state == StateOpen {
		if remaining := b.cfg.ResetTimeout - b.now().Sub(c.lastFailure); remaining > 0 {
			s.RetryAfter = remaining.Milliseconds()
		}
	}
	return s
}

// circuit returns the lazily created circuit for a source. Caller holds mu.
func (b *Breaker) circuit(sourceID string) *circuit {
	c, ok := b.circuits[sourceID]
	if !ok {
		c = &circuit{state: StateClosed, lastTransition: b.now()}
		b.circuits[sourceID] = c
	}
	return c
}

// refresh prunes the failure window and performs the lazy OPEN to
// HALF_OPEN transition. Caller holds mu.
func (b *Breaker) refresh(sourceID string, c *circuit) {
	cutoff := b.now().Add(-b.cfg.FailureWindow)
	kept := c.failures[:0]
	for _, f := range c.failures {
		if f.at.After(cutoff) {
			kept = append(kept, f)
		}
	}
	c.failures = kept

	if c.state == StateOpen && b.now().Sub(c.lastFailure) >= b.cfg.ResetTimeout {
		b.transition(sourceID, c, StateHalfOpen)
	}
}

func (b *Breaker) windowedFailures(c *circuit) int {
	cutoff := b.now().Add(-b.cfg.FailureWindow)
	n := 0
	for _, f := range c.failures {
		if f.at.After(cutoff) {
			n++
		}
	}
	return n
}

// transition moves a circuit to a new state. Caller holds mu.
func (b *Breaker) transition(sourceID string, c *circuit, to State) {
	if c.state == to {
		return
	}
	c.state = to
	c.lastTransition = b.now()
	if to == StateHalfOpen {
		c.successes = 0
	}
	telemetry.IncBreakerTransition(sourceID, to.String())
}
