// Package retry runs provider calls under an exponential-backoff retry loop
// that honors Retry-After headers and defers to the circuit breaker before
// every retry attempt.
package retry

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"connector-hub/internal/common/logging"
)

// StatusError is implemented by failures that carry an HTTP status and,
// optionally, a Retry-After header value. Retryability decisions and delay
// computation both key off it.
type StatusError interface {
	error
	StatusCode() int
	RetryAfterHeader() string
}

// Gate is the circuit-breaker view the handler consults before retrying
type Gate interface {
	CanExecute(provider string) bool
}

// Config tunes the retry loop
type Config struct {
	// MaxRetries is the number of retries after the initial attempt
	MaxRetries int
	// BaseDelay seeds the exponential backoff
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff
	MaxDelay time.Duration
	// RetryableStatuses is the allow-list of response codes worth retrying
	RetryableStatuses map[int]bool
}

// DefaultConfig returns the standard provider-call retry configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		RetryableStatuses: map[int]bool{
			http.StatusRequestTimeout:      true,
			http.StatusTooManyRequests:     true,
			http.StatusInternalServerError: true,
			http.StatusBadGateway:          true,
			http.StatusServiceUnavailable:  true,
			http.StatusGatewayTimeout:      true,
		},
	}
}

// Handler executes tasks with retries
type Handler struct {
	config Config
	gate   Gate
	logger logging.Logger
}

// NewHandler creates a retry handler. gate may be nil, in which case retries
// are never short-circuited.
func NewHandler(config Config, gate Gate, logger logging.Logger) *Handler {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = DefaultConfig().BaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = DefaultConfig().MaxDelay
	}
	if config.RetryableStatuses == nil {
		config.RetryableStatuses = DefaultConfig().RetryableStatuses
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handler{config: config, gate: gate, logger: logger}
}

// Execute runs task up to MaxRetries+1 times. Before every retry (never the
// first attempt) the circuit breaker is consulted; when it denies, the loop
// aborts immediately with the last observed error instead of waiting out a
// backoff. Non-retryable errors propagate unchanged.
func (h *Handler) Execute(ctx context.Context, provider string, task func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= h.config.MaxRetries; attempt++ {
		if attempt > 0 && h.gate != nil && !h.gate.CanExecute(provider) {
			h.logger.Warn("Aborting retries, circuit breaker open",
				logging.String("provider", provider),
				logging.Int("attempt", attempt),
			)
			return lastErr
		}

		err := task(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == h.config.MaxRetries || !h.retryable(err) {
			return lastErr
		}

		delay := h.delayFor(err, attempt)
		h.logger.Debug("Retrying provider call",
			logging.String("provider", provider),
			logging.Int("attempt", attempt+1),
			logging.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

// retryable reports whether the failure status is in the allow-list. Errors
// that carry no status are never retried.
func (h *Handler) retryable(err error) bool {
	statusErr, ok := err.(StatusError)
	if !ok {
		return false
	}
	return h.config.RetryableStatuses[statusErr.StatusCode()]
}

// delayFor computes the wait before the next attempt: the Retry-After header
// when the failure carries one, exponential backoff with jitter otherwise.
func (h *Handler) delayFor(err error, attempt int) time.Duration {
	if statusErr, ok := err.(StatusError); ok {
		if delay, ok := parseRetryAfter(statusErr.RetryAfterHeader()); ok {
			return delay
		}
	}

	delay := h.config.BaseDelay << uint(attempt)
	delay += time.Duration(rand.Int63n(int64(time.Second)))
	if delay > h.config.MaxDelay {
		delay = h.config.MaxDelay
	}
	return delay
}

// parseRetryAfter handles both forms of the header: an integer number of
// seconds, or an HTTP date (clamped to zero when already past).
func parseRetryAfter(header string) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}

	if target, err := http.ParseTime(header); err == nil {
		delay := time.Until(target)
		if delay < 0 {
			delay = 0
		}
		return delay, true
	}

	return 0, false
}
