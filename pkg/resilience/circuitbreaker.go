package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"smile-ai/backend/pkg/logger"
)

// ErrCircuitOpen is returned without calling the protected function while the breaker is open
var ErrCircuitOpen = errors.New("circuit open")

// State represents the current state of a circuit breaker
type State string

const (
	// StateClosed lets every call through
	StateClosed State = "closed"
	// StateOpen short-circuits calls until the retry timeout passes
	StateOpen State = "open"
	// StateHalfOpen lets a limited number of probe calls through
	StateHalfOpen State = "half-open"
)

// Config holds configuration for a circuit breaker
type Config struct {
	Name             string
	FailureThreshold uint
	SuccessThreshold uint
	// Timeout bounds each call; zero leaves the caller's deadline alone
	Timeout      time.Duration
	RetryTimeout time.Duration
}

// DefaultConfig returns the breaker settings used for outbound providers
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          15 * time.Second,
		RetryTimeout:     30 * time.Second,
	}
}

// Stats is a point-in-time view of a breaker's counters
type Stats struct {
	Name              string
	State             State
	TotalRequests     uint64
	TotalFailures     uint64
	TotalSuccesses    uint64
	Rejected          uint64
	ConsecutiveErrors uint64
	OpenCount         uint64
	LastFailure       time.Time
}

// CircuitBreaker stops calling a failing dependency for a while after
// FailureThreshold consecutive failures
type CircuitBreaker struct {
	cfg Config
	log *logger.Logger
	now func() time.Time

	mu              sync.Mutex
	state           State
	failureCount    uint
	successCount    uint
	inFlightProbes  uint
	generation      uint64
	nextAttemptTime time.Time
	stats           Stats
}

// NewCircuitBreaker creates a closed breaker. Zero thresholds fall back to 1.
func NewCircuitBreaker(cfg Config, log *logger.Logger) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	if log == nil {
		log = logger.Discard()
	}
	return &CircuitBreaker{
		cfg:   cfg,
		log:   log,
		now:   time.Now,
		state: StateClosed,
		stats: Stats{Name: cfg.Name},
	}
}

// admission records which state period a call was let through in. Results
// from an earlier period no longer describe the dependency and are ignored.
type admission struct {
	generation uint64
	probe      bool
}

// Execute runs fn through the breaker. fn receives a context bounded by
// Config.Timeout. Cancellation of the caller's own context is not counted
// as a dependency failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	adm, ok := cb.allowRequest()
	if !ok {
		cb.log.WithContext(ctx).Warn("Circuit breaker preventing request",
			"name", cb.cfg.Name,
			"state", string(cb.State()),
		)
		return ErrCircuitOpen
	}

	callCtx := ctx
	if cb.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cb.cfg.Timeout)
		defer cancel()
	}

	start := cb.now()
	err := fn(callCtx)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		cb.recordSuccess(adm)
		cb.log.WithContext(ctx).Debug("Circuit breaker recorded success",
			"name", cb.cfg.Name,
			"duration", elapsed.String(),
		)
	case ctx.Err() != nil:
		cb.releaseProbe(adm)
	default:
		cb.recordFailure(adm)
		cb.log.WithContext(ctx).Warn("Circuit breaker recorded failure",
			"name", cb.cfg.Name,
			"error", err.Error(),
			"duration", elapsed.String(),
		)
	}
	return err
}

func (cb *CircuitBreaker) allowRequest() (admission, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.TotalRequests++

	switch cb.state {
	case StateClosed:
		return admission{generation: cb.generation}, true
	case StateOpen:
		if cb.now().Before(cb.nextAttemptTime) {
			cb.stats.Rejected++
			return admission{}, false
		}
		cb.toHalfOpen()
		fallthrough
	case StateHalfOpen:
		if cb.successCount+cb.inFlightProbes >= cb.cfg.SuccessThreshold {
			cb.stats.Rejected++
			return admission{}, false
		}
		cb.inFlightProbes++
		return admission{generation: cb.generation, probe: true}, true
	}
	return admission{}, false
}

func (cb *CircuitBreaker) recordSuccess(adm admission) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.TotalSuccesses++
	cb.stats.ConsecutiveErrors = 0

	if adm.generation != cb.generation {
		return
	}

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		if !adm.probe {
			return
		}
		cb.inFlightProbes--
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.toClosed()
		}
	}
}

func (cb *CircuitBreaker) recordFailure(adm admission) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.TotalFailures++
	cb.stats.ConsecutiveErrors++
	cb.stats.LastFailure = cb.now()

	if adm.generation != cb.generation {
		return
	}

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.toOpen()
		}
	case StateHalfOpen:
		// A single failed probe reopens the circuit.
		cb.toOpen()
	}
}

func (cb *CircuitBreaker) releaseProbe(adm admission) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if adm.probe && adm.generation == cb.generation && cb.inFlightProbes > 0 {
		cb.inFlightProbes--
	}
}

func (cb *CircuitBreaker) toOpen() {
	cb.generation++
	cb.state = StateOpen
	cb.inFlightProbes = 0
	cb.successCount = 0
	cb.stats.OpenCount++
	cb.nextAttemptTime = cb.now().Add(cb.cfg.RetryTimeout)

	cb.log.Info("Circuit breaker opened",
		"name", cb.cfg.Name,
		"failures", cb.failureCount,
		"nextAttempt", cb.nextAttemptTime.Format(time.RFC3339),
	)
}

func (cb *CircuitBreaker) toHalfOpen() {
	cb.generation++
	cb.state = StateHalfOpen
	cb.successCount = 0
	cb.inFlightProbes = 0

	cb.log.Info("Circuit breaker half-open", "name", cb.cfg.Name)
}

func (cb *CircuitBreaker) toClosed() {
	cb.generation++
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.inFlightProbes = 0

	cb.log.Info("Circuit breaker closed", "name", cb.cfg.Name)
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

// Stats returns a copy of the breaker's counters
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := cb.stats
	s.State = cb.state
	return s
}
