package health

import (
	"context"
	"time"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Name identifies the check in aggregated reports
	Name() string
}

// CheckFunc adapts a function to Checker.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) Result
}

func (c CheckFunc) Check(ctx context.Context) Result { return c.Fn(ctx) }
func (c CheckFunc) Name() string                     { return c.CheckName }

// Config contains common configuration for health monitoring
type Config struct {
	// Interval is the time between health checks
	Interval time.Duration

	// Timeout is the maximum time to wait for a health check to complete
	Timeout time.Duration

	// Retries is the number of consecutive failures before marking as unhealthy
	Retries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
	}
}

// Status tracks the rolling health of one checker
type Status struct {
	// ConsecutiveFailures tracks the number of consecutive failed checks
	ConsecutiveFailures int

	// ConsecutiveSuccesses tracks the number of consecutive successful checks
	ConsecutiveSuccesses int

	// LastCheck is the timestamp of the last health check
	LastCheck time.Time

	// LastResult is the result of the last health check
	LastResult Result

	// Healthy indicates the current aggregated verdict
	Healthy bool

	// StartedAt is when health monitoring started
	StartedAt time.Time
}

// NewStatus creates a new Status with default values
func NewStatus() *Status {
	return &Status{
		Healthy:   true, // Assume healthy until proven otherwise
		StartedAt: time.Now(),
	}
}

// Update folds a new result into the status. A single failure does not
// flip the verdict; Retries consecutive failures do.
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}

// Run executes every checker once, bounding each by the configured
// timeout, and returns the results keyed by checker name.
func Run(ctx context.Context, cfg Config, checkers ...Checker) map[string]Result {
	results := make(map[string]Result, len(checkers))
	for _, c := range checkers {
		checkCtx := ctx
		var cancel context.CancelFunc
		if cfg.Timeout > 0 {
			checkCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}
		start := time.Now()
		res := c.Check(checkCtx)
		if cancel != nil {
			cancel()
		}
		if res.CheckedAt.IsZero() {
			res.CheckedAt = start
		}
		if res.Duration == 0 {
			res.Duration = time.Since(start)
		}
		results[c.Name()] = res
	}
	return results
}
