// Package ratelimit queues outbound calls per provider under a concurrency cap
// and a requests-per-second cap. Waiting callers suspend on the limiter without
// blocking unrelated providers or goroutines.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"connector-hub/internal/metrics"
)

// Config holds the two per-provider limits
type Config struct {
	// Concurrency caps simultaneous in-flight calls
	Concurrency int64
	// RequestsPerSecond caps admission rate; fractional rates below 1 are
	// honored by widening the window instead of truncating to zero
	RequestsPerSecond float64
}

// DefaultConfig returns conservative provider defaults
func DefaultConfig() Config {
	return Config{
		Concurrency:       5,
		RequestsPerSecond: 2,
	}
}

// providerQueue is the admission state for one provider
type providerQueue struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

func newProviderQueue(config Config) *providerQueue {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConfig().Concurrency
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}

	// qps >= 1 admits floor(qps) per one-second window; qps < 1 admits a
	// single request per 1/qps-second window.
	burst := int(config.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &providerQueue{
		sem:     semaphore.NewWeighted(config.Concurrency),
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst),
	}
}

// Limiter manages one queue per provider
type Limiter struct {
	queues   map[string]*providerQueue
	configs  map[string]Config
	defaults Config
	recorder metrics.Recorder
	mu       sync.Mutex
}

// NewLimiter creates a limiter whose unknown providers get the default config
func NewLimiter(defaults Config, recorder metrics.Recorder) *Limiter {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Limiter{
		queues:   make(map[string]*providerQueue),
		configs:  make(map[string]Config),
		defaults: defaults,
		recorder: recorder,
	}
}

// SetProviderLimits overrides the limits for one provider. It only affects
// queues created after the call.
func (l *Limiter) SetProviderLimits(provider string, config Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configs[provider] = config
	delete(l.queues, provider)
}

func (l *Limiter) queue(provider string) *providerQueue {
	l.mu.Lock()
	defer l.mu.Unlock()

	if q, ok := l.queues[provider]; ok {
		return q
	}

	config, ok := l.configs[provider]
	if !ok {
		config = l.defaults
	}

	q := newProviderQueue(config)
	l.queues[provider] = q
	return q
}

// Do runs task once the provider's queue admits it. The queue-depth gauge is
// incremented before admission and decremented after the task completes, so it
// always reflects the instantaneous pending count.
func (l *Limiter) Do(ctx context.Context, provider string, task func() error) error {
	q := l.queue(provider)

	l.recorder.AddGauge(metrics.GaugeRateLimitQueueDepth, 1, metrics.Provider(provider))
	defer l.recorder.AddGauge(metrics.GaugeRateLimitQueueDepth, -1, metrics.Provider(provider))

	if err := q.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer q.sem.Release(1)

	if err := q.limiter.Wait(ctx); err != nil {
		return err
	}

	return task()
}
