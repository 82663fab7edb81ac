package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call during cooldown.
var ErrOpen = errors.New("circuit breaker is open")

type Settings struct {
	Name        string
	MaxFailures int
	Cooldown    time.Duration
}

// CircuitBreaker guards a fallible side effect with an explicit
// {failureCount, cooldownUntil} state instead of process-global counters.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	cooldown      time.Duration
	failureCount  int
	cooldownUntil time.Time
	halfOpen      bool
	mu            sync.Mutex
}

func NewCircuitBreaker(settings Settings) *CircuitBreaker {
	return &CircuitBreaker{
		name:        settings.Name,
		maxFailures: settings.MaxFailures,
		cooldown:    settings.Cooldown,
	}
}

func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	now := time.Now()
	if !cb.cooldownUntil.IsZero() && now.Before(cb.cooldownUntil) {
		cb.mu.Unlock()
		return ErrOpen
	}
	if !cb.cooldownUntil.IsZero() {
		// Cooldown elapsed; allow one probe through.
		cb.halfOpen = true
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failureCount++
		if cb.failureCount >= cb.maxFailures || cb.halfOpen {
			cb.cooldownUntil = time.Now().Add(cb.cooldown)
		}
		cb.halfOpen = false
		return err
	}

	cb.failureCount = 0
	cb.cooldownUntil = time.Time{}
	cb.halfOpen = false
	return nil
}

// Open reports whether the breaker is currently rejecting calls.
func (cb *CircuitBreaker) Open() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return !cb.cooldownUntil.IsZero() && time.Now().Before(cb.cooldownUntil)
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}
