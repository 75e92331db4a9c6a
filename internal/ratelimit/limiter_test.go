package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connector-hub/internal/metrics"
)

func TestLimiter_TaskResultPropagates(t *testing.T) {
	l := NewLimiter(DefaultConfig(), nil)

	require.NoError(t, l.Do(context.Background(), "github", func() error { return nil }))

	want := errors.New("boom")
	err := l.Do(context.Background(), "github", func() error { return want })
	assert.ErrorIs(t, err, want)
}

func TestLimiter_ConcurrencyCap(t *testing.T) {
	l := NewLimiter(Config{Concurrency: 2, RequestsPerSecond: 1000}, nil)

	var inFlight, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), "github", func() error {
				now := atomic.AddInt64(&inFlight, 1)
				for {
					old := atomic.LoadInt64(&peak)
					if now <= old || atomic.CompareAndSwapInt64(&peak, old, now) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt64(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestLimiter_ThroughputCap(t *testing.T) {
	// 10 qps: the third admission cannot land in the same instant as the first
	l := NewLimiter(Config{Concurrency: 10, RequestsPerSecond: 10}, nil)

	start := time.Now()
	for i := 0; i < 12; i++ {
		require.NoError(t, l.Do(context.Background(), "github", func() error { return nil }))
	}
	elapsed := time.Since(start)

	// Burst of 10 admitted immediately, then 2 more at 100ms spacing
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}

func TestLimiter_FractionalRate(t *testing.T) {
	// 0.5 qps means one request per 2-second window, not zero requests
	l := NewLimiter(Config{Concurrency: 1, RequestsPerSecond: 0.5}, nil)

	start := time.Now()
	require.NoError(t, l.Do(context.Background(), "rss", func() error { return nil }))
	first := time.Since(start)
	assert.Less(t, first, 500*time.Millisecond, "first request should be admitted immediately")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := l.Do(ctx, "rss", func() error { return nil })
	assert.Error(t, err, "second request inside the widened window should still be waiting")
}

func TestLimiter_QueueDepthGauge(t *testing.T) {
	rec := metrics.NewMemoryRecorder()
	l := NewLimiter(Config{Concurrency: 1, RequestsPerSecond: 1000}, rec)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = l.Do(context.Background(), "github", func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = l.Do(context.Background(), "github", func() error { return nil })
	}()

	// One running plus one queued
	assert.Eventually(t, func() bool {
		return rec.Gauge(metrics.GaugeRateLimitQueueDepth, metrics.Provider("github")) == 2
	}, time.Second, 5*time.Millisecond)

	close(release)
	wg.Wait()

	assert.Equal(t, float64(0), rec.Gauge(metrics.GaugeRateLimitQueueDepth, metrics.Provider("github")))
}

func TestLimiter_GaugeDecrementsOnFailure(t *testing.T) {
	rec := metrics.NewMemoryRecorder()
	l := NewLimiter(DefaultConfig(), rec)

	_ = l.Do(context.Background(), "github", func() error { return errors.New("boom") })

	assert.Equal(t, float64(0), rec.Gauge(metrics.GaugeRateLimitQueueDepth, metrics.Provider("github")))
}

func TestLimiter_PerProviderQueues(t *testing.T) {
	l := NewLimiter(Config{Concurrency: 1, RequestsPerSecond: 0.1}, nil)
	l.SetProviderLimits("fast", Config{Concurrency: 5, RequestsPerSecond: 1000})

	// Exhaust the slow provider's window
	require.NoError(t, l.Do(context.Background(), "slow", func() error { return nil }))

	// The fast provider is unaffected
	start := time.Now()
	require.NoError(t, l.Do(context.Background(), "fast", func() error { return nil }))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLimiter_ContextCancellation(t *testing.T) {
	l := NewLimiter(Config{Concurrency: 1, RequestsPerSecond: 0.1}, nil)

	require.NoError(t, l.Do(context.Background(), "slow", func() error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Do(ctx, "slow", func() error { return nil })
	assert.Error(t, err)
}
