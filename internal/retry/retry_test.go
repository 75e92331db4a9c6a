package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// httpErr is the minimal StatusError used throughout the tests
type httpErr struct {
	status     int
	retryAfter string
}

var _ StatusError = (*httpErr)(nil)

func (e *httpErr) Error() string            { return fmt.Sprintf("status %d", e.status) }
func (e *httpErr) StatusCode() int          { return e.status }
func (e *httpErr) RetryAfterHeader() string { return e.retryAfter }

// stubGate scripts CanExecute answers
type stubGate struct {
	allow bool
	calls int
}

func (g *stubGate) CanExecute(string) bool {
	g.calls++
	return g.allow
}

func fastConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		RetryableStatuses: map[int]bool{
			http.StatusTooManyRequests:     true,
			http.StatusInternalServerError: true,
		},
	}
}

func TestHandler_SucceedsFirstAttempt(t *testing.T) {
	h := NewHandler(fastConfig(), nil, nil)

	calls := 0
	err := h.Execute(context.Background(), "github", func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestHandler_RetriesUntilSuccess(t *testing.T) {
	h := NewHandler(fastConfig(), nil, nil)

	calls := 0
	err := h.Execute(context.Background(), "github", func(context.Context) error {
		calls++
		if calls < 3 {
			return &httpErr{status: 500}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestHandler_ExhaustsRetries(t *testing.T) {
	h := NewHandler(fastConfig(), nil, nil)

	calls := 0
	want := &httpErr{status: 500}
	err := h.Execute(context.Background(), "github", func(context.Context) error {
		calls++
		return want
	})

	assert.Equal(t, want, err, "exhausted retries propagate the last error unchanged")
	assert.Equal(t, 4, calls, "maxRetries+1 attempts")
}

func TestHandler_NonRetryableStatus(t *testing.T) {
	h := NewHandler(fastConfig(), nil, nil)

	calls := 0
	want := &httpErr{status: 404}
	err := h.Execute(context.Background(), "github", func(context.Context) error {
		calls++
		return want
	})

	assert.Equal(t, want, err)
	assert.Equal(t, 1, calls, "status outside the allow-list must not retry")
}

func TestHandler_PlainErrorNotRetried(t *testing.T) {
	h := NewHandler(fastConfig(), nil, nil)

	calls := 0
	want := errors.New("no status")
	err := h.Execute(context.Background(), "github", func(context.Context) error {
		calls++
		return want
	})

	assert.Equal(t, want, err)
	assert.Equal(t, 1, calls)
}

func TestHandler_CircuitOpenAbortsWithLastError(t *testing.T) {
	gate := &stubGate{allow: false}
	h := NewHandler(fastConfig(), gate, nil)

	calls := 0
	want := &httpErr{status: 500}
	start := time.Now()
	err := h.Execute(context.Background(), "github", func(context.Context) error {
		calls++
		return want
	})

	assert.Equal(t, want, err, "abort surfaces the last observed error")
	assert.Equal(t, 1, calls, "first attempt runs without consulting the gate")
	assert.Equal(t, 1, gate.calls, "gate consulted once, before the first retry")
	assert.Less(t, time.Since(start), 500*time.Millisecond, "abort must not wait out a backoff")
}

func TestHandler_GateConsultedBeforeEveryRetry(t *testing.T) {
	gate := &stubGate{allow: true}
	h := NewHandler(fastConfig(), gate, nil)

	_ = h.Execute(context.Background(), "github", func(context.Context) error {
		return &httpErr{status: 500}
	})

	assert.Equal(t, 3, gate.calls, "one consult per retry, none for the first attempt")
}

func TestHandler_RetryAfterSeconds(t *testing.T) {
	config := fastConfig()
	config.MaxRetries = 1
	h := NewHandler(config, nil, nil)

	calls := 0
	var gap time.Duration
	var last time.Time
	_ = h.Execute(context.Background(), "github", func(context.Context) error {
		now := time.Now()
		if calls > 0 {
			gap = now.Sub(last)
		}
		last = now
		calls++
		return &httpErr{status: 429, retryAfter: "1"}
	})

	require.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, gap, time.Second, "Retry-After: 1 delays the next attempt at least 1s")
}

func TestHandler_RetryAfterHTTPDate(t *testing.T) {
	config := fastConfig()
	config.MaxRetries = 1
	h := NewHandler(config, nil, nil)

	// A date in the past clamps to zero delay rather than going negative
	past := time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)

	start := time.Now()
	calls := 0
	_ = h.Execute(context.Background(), "github", func(context.Context) error {
		calls++
		return &httpErr{status: 500, retryAfter: past}
	})

	assert.Equal(t, 2, calls)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestHandler_BackoffCappedAtMaxDelay(t *testing.T) {
	config := Config{
		MaxRetries:        2,
		BaseDelay:         10 * time.Millisecond,
		MaxDelay:          30 * time.Millisecond,
		RetryableStatuses: map[int]bool{500: true},
	}
	h := NewHandler(config, nil, nil)

	start := time.Now()
	_ = h.Execute(context.Background(), "github", func(context.Context) error {
		return &httpErr{status: 500}
	})

	// Two sleeps, each capped at 30ms (jitter included in the cap)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHandler_ContextCancellationDuringBackoff(t *testing.T) {
	config := fastConfig()
	config.BaseDelay = 10 * time.Second
	config.MaxDelay = 10 * time.Second
	h := NewHandler(config, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := h.Execute(ctx, "github", func(context.Context) error {
		return &httpErr{status: 500}
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
		ok     bool
	}{
		{"empty", "", 0, false},
		{"integer seconds", "2", 2 * time.Second, true},
		{"zero seconds", "0", 0, true},
		{"negative", "-1", 0, false},
		{"garbage", "soon", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseRetryAfter(tt.header)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}

	t.Run("http date in the future", func(t *testing.T) {
		header := time.Now().Add(3 * time.Second).UTC().Format(http.TimeFormat)
		got, ok := parseRetryAfter(header)
		require.True(t, ok)
		assert.Greater(t, got, time.Second)
		assert.LessOrEqual(t, got, 3*time.Second)
	})
}
