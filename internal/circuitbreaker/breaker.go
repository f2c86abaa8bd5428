// Package circuitbreaker stops calling a failing source for a while and backs
// off further each time the source keeps failing after a trial call.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the state of the circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

type Config struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// OpenTimeout is how long the circuit first stays open.
	OpenTimeout time.Duration
	// MaxOpenTimeout caps the doubling of OpenTimeout on repeated trips.
	MaxOpenTimeout time.Duration
	// OnStateChange is an optional callback when state changes.
	OnStateChange func(from, to State)
}

type Breaker struct {
	mu           sync.Mutex
	config       Config
	state        State
	failureCount int
	openTimeout  time.Duration
	openedAt     time.Time
	now          func() time.Time
}

func New(config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 2 * time.Minute
	}
	if config.MaxOpenTimeout < config.OpenTimeout {
		config.MaxOpenTimeout = config.OpenTimeout
	}

	return &Breaker{
		config:      config,
		state:       StateClosed,
		openTimeout: config.OpenTimeout,
		now:         time.Now,
	}
}

// Execute runs fn unless the circuit is open. Cancellation of ctx is not
// counted as a failure of the protected call.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}

	b.afterCall(err)
	return err
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}

	elapsed := b.now().Sub(b.openedAt)
	if elapsed < b.openTimeout {
		return fmt.Errorf("%w: retry in %v", ErrCircuitOpen, b.openTimeout-elapsed)
	}

	b.transitionTo(StateHalfOpen)
	return nil
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failureCount = 0
		b.openTimeout = b.config.OpenTimeout
		b.transitionTo(StateClosed)
		return
	}

	b.failureCount++

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.FailureThreshold {
			b.open()
		}
	case StateHalfOpen:
		// The trial call failed: stay away longer this time.
		b.openTimeout = min(b.openTimeout*2, b.config.MaxOpenTimeout)
		b.open()
	}
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.transitionTo(StateOpen)
}

func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	oldState := b.state
	b.state = newState
	if newState != StateClosed {
		b.failureCount = 0
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(oldState, newState)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	State       State
	Failures    int
	OpenTimeout time.Duration
	OpenedAt    time.Time
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:       b.state,
		Failures:    b.failureCount,
		OpenTimeout: b.openTimeout,
		OpenedAt:    b.openedAt,
	}
}
