// Package circuitbreaker gates outbound provider calls behind a per-provider
// failure threshold. State is process-local and lost on restart.
package circuitbreaker

import (
	"sync"
	"time"
)

// Config holds the configuration for a circuit breaker
type Config struct {
	// Threshold is the consecutive-failure count that opens the breaker
	Threshold int
	// ResetTimeout is how long the breaker stays open after the last failure
	ResetTimeout time.Duration
}

// DefaultConfig returns the standard provider-call configuration
func DefaultConfig() Config {
	return Config{
		Threshold:    5,
		ResetTimeout: 60 * time.Second,
	}
}

// Breaker tracks consecutive failures for one provider
type Breaker struct {
	name   string
	config Config

	failures    int
	lastFailure time.Time

	// onTrip fires when the failure count reaches the threshold
	onTrip func(name string)

	mu sync.Mutex
}

// New creates a breaker with the given name and configuration
func New(name string, config Config) *Breaker {
	if config.Threshold <= 0 {
		config.Threshold = DefaultConfig().Threshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultConfig().ResetTimeout
	}
	return &Breaker{name: name, config: config}
}

// OnTrip sets a callback invoked when the breaker opens
func (b *Breaker) OnTrip(fn func(name string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = fn
}

// CanExecute reports whether a call may proceed. While the failure count is at
// or above the threshold, calls are denied until ResetTimeout has elapsed since
// the last failure; at that point the counter is zeroed and the gate fully
// reopens. Reopening admits calls at an unlimited rate rather than a single
// bounded probe: the breaker only re-trips after the counter again reaches the
// threshold.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.config.Threshold {
		return true
	}

	if time.Since(b.lastFailure) < b.config.ResetTimeout {
		return false
	}

	b.failures = 0
	return true
}

// RecordSuccess zeroes the failure counter
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// RecordFailure increments the failure counter and stamps the failure time
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.failures++
	b.lastFailure = time.Now()
	tripped := b.failures == b.config.Threshold
	onTrip := b.onTrip
	b.mu.Unlock()

	if tripped && onTrip != nil {
		onTrip(b.name)
	}
}

// Stats is a point-in-time snapshot of breaker state
type Stats struct {
	Name        string     `json:"name"`
	Open        bool       `json:"open"`
	Failures    int        `json:"failures"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
}

// Stats returns the current statistics
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := Stats{
		Name:     b.name,
		Failures: b.failures,
		Open:     b.failures >= b.config.Threshold && time.Since(b.lastFailure) < b.config.ResetTimeout,
	}
	if !b.lastFailure.IsZero() {
		last := b.lastFailure
		stats.LastFailure = &last
	}
	return stats
}
