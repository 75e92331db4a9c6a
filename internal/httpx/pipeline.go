// Package httpx is the outbound HTTP pipeline for provider API calls. It
// chains the rate limiter, retry handler, and circuit breaker around a
// transport call and layers conditional-request caching on top, so connectors
// get resilience without knowing about any of the parts. The pipeline is
// oblivious to tokens; callers supply whatever auth headers they need.
package httpx

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"connector-hub/internal/circuitbreaker"
	"connector-hub/internal/common/errors"
	"connector-hub/internal/common/logging"
	"connector-hub/internal/etagcache"
	"connector-hub/internal/metrics"
	"connector-hub/internal/ratelimit"
	"connector-hub/internal/retry"
)

// Request describes one provider API call
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	// Provider selects the rate-limit queue and circuit breaker
	Provider string
	// CacheKey enables conditional caching for GET requests when non-empty
	CacheKey string
}

// Response is the pipeline result
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
	// FromCache is set when the body was served from the conditional cache
	FromCache bool
	// NotModified preserves the origin's 304 answer for observability even
	// though Status/Body carry the cached 200 payload
	NotModified bool
}

// httpError is the retryable failure shape produced by attempts
type httpError struct {
	status     int
	retryAfter string
	url        string
}

var _ retry.StatusError = (*httpError)(nil)

func (e *httpError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", e.url, e.status)
}

func (e *httpError) StatusCode() int          { return e.status }
func (e *httpError) RetryAfterHeader() string { return e.retryAfter }

// Config assembles a pipeline
type Config struct {
	Timeout   time.Duration
	RateLimit ratelimit.Config
	Retry     retry.Config
	Breaker   circuitbreaker.Config
	CacheTTL  time.Duration
	CacheSize int
}

// DefaultConfig returns the standard pipeline configuration
func DefaultConfig() Config {
	return Config{
		Timeout:   30 * time.Second,
		RateLimit: ratelimit.DefaultConfig(),
		Retry:     retry.DefaultConfig(),
		Breaker:   circuitbreaker.DefaultConfig(),
		CacheTTL:  etagcache.DefaultTTL,
		CacheSize: etagcache.DefaultMaxSize,
	}
}

// Pipeline executes requests with resilience and conditional caching
type Pipeline struct {
	client   *http.Client
	limiter  *ratelimit.Limiter
	retry    *retry.Handler
	breakers *circuitbreaker.Manager
	cache    *etagcache.Cache
	recorder metrics.Recorder
	logger   logging.Logger
}

// New creates a pipeline. recorder and logger may be nil.
func New(config Config, recorder metrics.Recorder, logger logging.Logger) *Pipeline {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	breakers := circuitbreaker.NewManager(config.Breaker, logger)

	return &Pipeline{
		client:   &http.Client{Timeout: config.Timeout},
		limiter:  ratelimit.NewLimiter(config.RateLimit, recorder),
		retry:    retry.NewHandler(config.Retry, breakers, logger),
		breakers: breakers,
		cache:    etagcache.New(config.CacheTTL, config.CacheSize),
		recorder: recorder,
		logger:   logger,
	}
}

// SetProviderLimits overrides the rate limits for one provider
func (p *Pipeline) SetProviderLimits(provider string, config ratelimit.Config) {
	p.limiter.SetProviderLimits(provider, config)
}

// BreakerStats exposes circuit breaker state for health reporting
func (p *Pipeline) BreakerStats() []circuitbreaker.Stats {
	return p.breakers.AllStats()
}

// Do executes the request through the rate limiter, retry handler, and circuit
// breaker, with conditional-request caching for GETs that carry a cache key.
func (p *Pipeline) Do(ctx context.Context, req Request) (*Response, error) {
	provider := metrics.Provider(req.Provider)
	p.recorder.IncrCounter(metrics.CounterHTTPRequests, 1, provider)

	start := time.Now()
	defer func() {
		p.recorder.ObserveHistogram(metrics.HistogramRequestDuration,
			float64(time.Since(start).Milliseconds()), provider)
	}()

	conditional := req.Method == http.MethodGet && req.CacheKey != ""
	if conditional {
		if etag := p.cache.GetETag(req.CacheKey); etag != "" {
			if req.Headers == nil {
				req.Headers = make(map[string]string)
			}
			req.Headers["If-None-Match"] = etag
		}
	}

	var response *Response
	err := p.limiter.Do(ctx, req.Provider, func() error {
		return p.retry.Execute(ctx, req.Provider, func(ctx context.Context) error {
			result, err := p.attempt(ctx, req, conditional)
			if err != nil {
				return err
			}
			response = result
			return nil
		})
	})
	if err != nil {
		p.recorder.IncrCounter(metrics.CounterErrors, 1, provider)
		return nil, p.classify(err, req)
	}

	return response, nil
}

// attempt performs one transport call and records the breaker outcome
func (p *Pipeline) attempt(ctx context.Context, req Request, conditional bool) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, errors.ValidationError("invalid request: " + err.Error())
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.breakers.RecordFailure(req.Provider)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.breakers.RecordFailure(req.Provider)
		return nil, err
	}

	if resp.StatusCode == http.StatusNotModified && conditional {
		p.breakers.RecordSuccess(req.Provider)
		return p.serveFromCache(req), nil
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.breakers.RecordSuccess(req.Provider)

		headers := flattenHeaders(resp.Header)
		if conditional {
			if etag := resp.Header.Get("ETag"); etag != "" {
				p.cache.Set(req.CacheKey, etagcache.Snapshot{
					Status:  resp.StatusCode,
					Headers: headers,
					Body:    body,
				}, etag)
			}
		}

		return &Response{
			Status:  resp.StatusCode,
			Headers: headers,
			Body:    body,
		}, nil
	}

	p.breakers.RecordFailure(req.Provider)
	return nil, &httpError{
		status:     resp.StatusCode,
		retryAfter: resp.Header.Get("Retry-After"),
		url:        req.URL,
	}
}

// serveFromCache rehydrates a 304 answer from the stored 200 payload
func (p *Pipeline) serveFromCache(req Request) *Response {
	p.recorder.IncrCounter(metrics.CounterCacheHits, 1, metrics.Provider(req.Provider))

	entry := p.cache.Get(req.CacheKey)
	if entry == nil {
		// Entry expired between the ETag lookup and the 304; nothing to serve
		p.logger.Warn("304 received but cache entry gone",
			logging.String("provider", req.Provider),
			logging.String("cache_key", req.CacheKey),
		)
		return &Response{Status: http.StatusNotModified, NotModified: true}
	}

	return &Response{
		Status:      entry.Snapshot.Status,
		Headers:     entry.Snapshot.Headers,
		Body:        entry.Snapshot.Body,
		FromCache:   true,
		NotModified: true,
	}
}

// classify maps a final pipeline failure onto the error taxonomy
func (p *Pipeline) classify(err error, req Request) error {
	var httpErr *httpError
	if stderrors.As(err, &httpErr) {
		switch {
		case httpErr.status >= 400 && httpErr.status < 500:
			return errors.ClientError(httpErr.status, httpErr.Error()).
				WithContext("provider", req.Provider)
		case httpErr.status >= 500:
			return errors.ServerError(httpErr.status, httpErr.Error()).
				WithContext("provider", req.Provider)
		}
	}

	if stderrors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return errors.TimeoutError("request to " + req.Provider)
	}

	if appErr, ok := err.(*errors.AppError); ok {
		return appErr
	}

	return errors.NetworkError("request to "+req.Provider+" failed", err)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

func flattenHeaders(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for key := range header {
		flat[key] = header.Get(key)
	}
	return flat
}
