package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, Cooldown: 30 * time.Second}
}

type BreakerSnapshot struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	FailureCount  int    `json:"failure_count"`
	SuccessCount  int    `json:"success_count"`
	LastFailureAt int64  `json:"last_failure_at,omitempty"`
	OpenedAt      int64  `json:"opened_at,omitempty"`
}

var errPanicked = Transient(errors.New("protected call panicked"))

// CircuitBreaker guards calls to one external service. Only transient errors
// count as failures: a 4xx still proves the service is up.
type CircuitBreaker struct {
	name     string
	cfg      BreakerConfig
	now      func() time.Time
	onChange func(name string, from, to State)

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	lastFailureAt time.Time
	openedAt      time.Time
	trialInFlight bool
}

func newBreaker(name string, cfg BreakerConfig, now func() time.Time, onChange func(string, State, State)) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	return &CircuitBreaker{name: name, cfg: cfg, now: now, onChange: onChange}
}

func (b *CircuitBreaker) Name() string { return b.name }

func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute calls fn unless the circuit is open. A panic in fn counts as a
// failure and is re-raised once the breaker has recorded it.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if openErr := b.allow(); openErr != nil {
		return openErr
	}
	defer func() {
		if r := recover(); r != nil {
			b.record(errPanicked)
			panic(r)
		}
	}()
	err = fn(ctx)
	b.record(err)
	return err
}

func (b *CircuitBreaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.trialInFlight = true
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			return ErrCircuitOpen
		}
		b.trialInFlight = true
		return nil
	default:
		return nil
	}
}

func (b *CircuitBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := err != nil && IsTransient(err)

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		if failed {
			b.lastFailureAt = b.now()
			b.trip()
			return
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.failures = 0
			b.successes = 0
			b.transition(StateClosed)
		}
	case StateClosed:
		if !failed {
			b.failures = 0
			return
		}
		b.failures++
		b.successes = 0
		b.lastFailureAt = b.now()
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	}
}

func (b *CircuitBreaker) trip() {
	b.openedAt = b.now()
	b.successes = 0
	b.transition(StateOpen)
}

func (b *CircuitBreaker) transition(to State) {
	from := b.state
	b.state = to
	if from != to && b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := BreakerSnapshot{
		Name:         b.name,
		State:        b.state.String(),
		FailureCount: b.failures,
		SuccessCount: b.successes,
	}
	if !b.lastFailureAt.IsZero() {
		s.LastFailureAt = b.lastFailureAt.Unix()
	}
	if !b.openedAt.IsZero() {
		s.OpenedAt = b.openedAt.Unix()
	}
	return s
}
