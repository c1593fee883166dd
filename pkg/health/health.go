package health

import (
	"context"
	"fmt"
	"time"
)

// CheckType represents the kind of reachability probe
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result represents the outcome of a probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all probes must implement
type Checker interface {
	// Check performs the probe and returns the result
	Check(ctx context.Context) Result

	// Type returns the kind of probe
	Type() CheckType
}

// NewChecker builds a probe of the given kind. TCP targets are host:port,
// HTTP targets are URLs.
func NewChecker(kind CheckType, target string, timeout time.Duration) (Checker, error) {
	if target == "" {
		return nil, fmt.Errorf("probe target required")
	}
	switch kind {
	case CheckTypeTCP, "":
		c := NewTCPChecker(target)
		if timeout > 0 {
			c.WithTimeout(timeout)
		}
		return c, nil
	case CheckTypeHTTP:
		c := NewHTTPChecker(target)
		if timeout > 0 {
			c.WithTimeout(timeout)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown probe type %q", kind)
	}
}

// Status tracks consecutive probe outcomes
type Status struct {
	// ConsecutiveFailures tracks the number of consecutive failed checks
	ConsecutiveFailures int

	// ConsecutiveSuccesses tracks the number of consecutive successful checks
	ConsecutiveSuccesses int

	// LastResult is the result of the last check
	LastResult Result

	// Healthy flips to false after Retries consecutive failures and back to
	// true on the first success
	Healthy bool
}

// NewStatus creates a Status that is healthy until proven otherwise
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update records result. retries is the number of consecutive failures
// tolerated before the status turns unhealthy.
func (s *Status) Update(result Result, retries int) {
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= retries {
		s.Healthy = false
	}
}

func failed(start time.Time, format string, args ...interface{}) Result {
	return Result{
		Healthy:   false,
		Message:   fmt.Sprintf(format, args...),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
