package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejects
// planner calls to prevent cascading failures against a degraded model
// endpoint.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds the configuration for the planner circuit
// breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures that trips the
	// circuit. Default: 3.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before transitioning to
	// half-open. Default: 30s.
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of consecutive successes in
	// half-open state required to close the circuit again. Default: 2.
	HalfOpenMaxSuccesses uint32
}

// CircuitBreakerMetrics reports request counters for observability.
type CircuitBreakerMetrics struct {
	TotalRequests        uint64
	TotalSuccesses       uint64
	TotalFailures        uint64
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker wraps gobreaker around the model clients. While a model
// endpoint is failing, planner calls are rejected immediately with
// ErrCircuitOpen so queries fall back to the rule-based plan instead of
// stacking up blocked requests.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	mu      sync.RWMutex
	metrics CircuitBreakerMetrics
}

// NewCircuitBreaker creates a circuit breaker with default settings
// (3 failures to trip, 30s open, 2 successes to close).
func NewCircuitBreaker() *CircuitBreaker {
	return NewCircuitBreakerWithConfig(CircuitBreakerConfig{
		MaxFailures:          3,
		Timeout:              30 * time.Second,
		HalfOpenMaxSuccesses: 2,
	})
}

// NewCircuitBreakerWithConfig creates a circuit breaker with custom settings.
func NewCircuitBreakerWithConfig(config CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{}

	cb.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "PlannerCircuitBreaker",
		MaxRequests: config.HalfOpenMaxSuccesses,
		Interval:    0, // counts are never cleared periodically
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
	})
	return cb
}

// Execute runs fn through the circuit breaker. If the circuit is open it
// returns ErrCircuitOpen immediately without invoking fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	select {
	case <-ctx.Done():
		cb.recordFailure()
		return nil, ctx.Err()
	default:
	}

	result, err := cb.breaker.Execute(func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return fn()
	})

	if err != nil {
		cb.recordFailure()
		if errors.Is(err, gobreaker.ErrOpenState) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}

	cb.recordSuccess()
	return result, nil
}

// State returns "closed", "open" or "half-open".
func (cb *CircuitBreaker) State() string {
	switch cb.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Metrics returns the current request counters.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	counts := cb.breaker.Counts()
	return CircuitBreakerMetrics{
		TotalRequests:        cb.metrics.TotalRequests,
		TotalSuccesses:       cb.metrics.TotalSuccesses,
		TotalFailures:        cb.metrics.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.metrics.TotalRequests++
	cb.metrics.TotalSuccesses++
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.metrics.TotalRequests++
	cb.metrics.TotalFailures++
}
