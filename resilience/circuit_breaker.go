package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/convocart/convocart/core"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed allows all requests through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows limited requests for testing
	StateHalfOpen
)

// String returns the string representation of the state
func (s CircuitState) String() string {
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

// ErrorClassifier determines which errors count toward the failure threshold.
type ErrorClassifier func(error) bool

// DefaultErrorClassifier counts only infrastructure errors. A declined card
// or an incomplete customization is the caller's problem, not the remote's,
// and must not open the circuit for everyone else.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if core.IsValidation(err) || core.IsNotFound(err) || core.IsConfigurationError(err) {
		return false
	}
	if errors.Is(err, core.ErrPaymentDeclined) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name identifies the circuit breaker in logs
	Name string

	// FailureThreshold is the number of counted failures before opening
	FailureThreshold int

	// RecoveryTimeout is how long to wait before entering half-open
	RecoveryTimeout time.Duration

	// HalfOpenRequests is the number of test requests allowed in half-open
	HalfOpenRequests int

	// Classifier decides which errors count; nil means DefaultErrorClassifier
	Classifier ErrorClassifier

	// Logger receives state transitions; nil means no logging
	Logger core.Logger
}

// DefaultCircuitBreakerConfig provides sensible defaults
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenRequests: 2,
	}
}

// CircuitBreaker guards a remote dependency. After FailureThreshold counted
// failures it opens and rejects calls until RecoveryTimeout passes, then
// admits HalfOpenRequests probes; their outcome closes or reopens it.
type CircuitBreaker struct {
	config *CircuitBreakerConfig

	mu           sync.Mutex
	state        CircuitState
	failures     int
	halfOpenUsed int
	halfOpenOK   int
	openedAt     time.Time

	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given configuration.
func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig("default")
	}
	if config.Classifier == nil {
		config.Classifier = DefaultErrorClassifier
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.HalfOpenRequests <= 0 {
		config.HalfOpenRequests = 1
	}
	return &CircuitBreaker{
		config:  config,
		state:   StateClosed,
		nowFunc: time.Now,
	}
}

// CanExecute reports whether a call may proceed right now.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.nowFunc().Sub(cb.openedAt) >= cb.config.RecoveryTimeout {
			cb.transition(StateHalfOpen)
			cb.halfOpenUsed++
			return true
		}
		return false
	case StateHalfOpen:
		if cb.halfOpenUsed < cb.config.HalfOpenRequests {
			cb.halfOpenUsed++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.halfOpenOK++
		if cb.halfOpenOK >= cb.config.HalfOpenRequests {
			cb.transition(StateClosed)
		}
	}
}

// RecordFailure records a failed call. Errors the classifier rejects are
// ignored.
func (cb *CircuitBreaker) RecordFailure(err error) {
	if !cb.config.Classifier(err) {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// Execute runs fn under the breaker's protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.CanExecute() {
		return core.ErrCircuitOpen
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := fn(); err != nil {
		cb.RecordFailure(err)
		return err
	}
	cb.RecordSuccess()
	return nil
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transition moves to a new state. Caller holds the lock.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	switch to {
	case StateOpen:
		cb.openedAt = cb.nowFunc()
		cb.halfOpenUsed = 0
		cb.halfOpenOK = 0
	case StateClosed:
		cb.failures = 0
		cb.halfOpenUsed = 0
		cb.halfOpenOK = 0
	case StateHalfOpen:
		cb.halfOpenUsed = 0
		cb.halfOpenOK = 0
	}

	if cb.config.Logger != nil {
		cb.config.Logger.Info("Circuit breaker state change", map[string]interface{}{
			"operation": "circuit_transition",
			"name":      cb.config.Name,
			"from":      from.String(),
			"to":        to.String(),
		})
	}
}
