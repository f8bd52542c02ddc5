// Package breaker provides the failure-detecting gate that protects the
// remote sync call. After a run of consecutive failures the breaker opens
// and fails fast without touching the network; once a cooldown has elapsed
// it admits a single trial call whose outcome decides whether the circuit
// closes again.
//
// There are no background timers: state transitions are evaluated lazily
// on each Execute call from the elapsed time on the injected clock.
package breaker

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/clock"
)

// ErrOpen is returned when the breaker rejects a call without invoking
// the operation. Callers classify it with errors.Is.
var ErrOpen = errors.New("circuit breaker is open")

// State identifies the breaker's position.
type State int

const (
	// StateClosed passes operations through and counts failures.
	StateClosed State = iota
	// StateOpen fails fast until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits exactly one trial operation.
	StateHalfOpen
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds breaker tuning. The zero value of any field falls back to
// its default.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit. Default 5.
	FailureThreshold int
	// Timeout is how long the circuit stays open before admitting a
	// trial call. Default 60s.
	Timeout time.Duration
	// Clock supplies the time used for cooldown checks. Default: system.
	Clock clock.Clock
	// Logger receives state-change messages. Default: stderr.
	Logger *log.Logger
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Timeout:          60 * time.Second,
	}
}

// Breaker is a circuit breaker with Closed, Open and HalfOpen states.
// It is safe for concurrent use.
type Breaker struct {
	mu            sync.Mutex
	state         State
	failureCount  int
	openedAt      time.Time
	trialInFlight bool

	threshold int
	timeout   time.Duration
	clock     clock.Clock
	logger    *log.Logger
}

// New creates a breaker from cfg, applying defaults for unset fields.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[breaker] ", log.LstdFlags)
	}

	return &Breaker{
		state:     StateClosed,
		threshold: cfg.FailureThreshold,
		timeout:   cfg.Timeout,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
}

// Execute runs op through the breaker.
//
// In Closed state the operation runs and its outcome feeds the failure
// counter. In Open state Execute returns ErrOpen immediately without
// invoking op, until the cooldown has elapsed. The first call after the
// cooldown runs as the HalfOpen trial; while that trial is in flight all
// other callers are rejected with ErrOpen.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}

	opErr := op(ctx)
	b.settle(trial, opErr)
	return opErr
}

// admit decides whether a call may proceed, applying the lazy
// Open-to-HalfOpen transition. It returns whether the admitted call is
// the half-open trial.
func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.clock.Now().Sub(b.openedAt) < b.timeout {
			return false, ErrOpen
		}
		b.state = StateHalfOpen
		b.trialInFlight = false
		b.logger.Printf("circuit half-open after %v cooldown", b.timeout)
	}

	if b.state == StateHalfOpen {
		if b.trialInFlight {
			return false, ErrOpen
		}
		b.trialInFlight = true
		return true, nil
	}

	return false, nil
}

// settle records the outcome of an admitted call. Manual Open or Reset
// calls may have moved the state while the operation ran; outcomes are
// only applied if the state they were admitted under still holds.
func (b *Breaker) settle(trial bool, opErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trialInFlight = false
		if b.state != StateHalfOpen {
			return
		}
		if opErr != nil {
			b.state = StateOpen
			b.openedAt = b.clock.Now()
			b.logger.Printf("circuit reopened: trial call failed: %v", opErr)
			return
		}
		b.state = StateClosed
		b.failureCount = 0
		b.logger.Printf("circuit closed: trial call succeeded")
		return
	}

	if b.state != StateClosed {
		return
	}
	if opErr == nil {
		b.failureCount = 0
		return
	}
	b.failureCount++
	if b.failureCount >= b.threshold {
		b.state = StateOpen
		b.openedAt = b.clock.Now()
		b.logger.Printf("circuit opened after %d consecutive failures", b.failureCount)
	}
}

// State returns the breaker's current state, applying the lazy cooldown
// transition so callers observe HalfOpen once the timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.clock.Now().Sub(b.openedAt) >= b.timeout {
		return StateHalfOpen
	}
	return b.state
}

// FailureCount returns the current consecutive-failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Open forces the circuit open, bypassing the failure counter. Intended
// for operational control and tests.
func (b *Breaker) Open() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateOpen
	b.openedAt = b.clock.Now()
	b.trialInFlight = false
	b.logger.Printf("circuit manually opened")
}

// Reset forces the circuit closed and clears the failure counter.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failureCount = 0
	b.openedAt = time.Time{}
	b.trialInFlight = false
	b.logger.Printf("circuit manually reset")
}
