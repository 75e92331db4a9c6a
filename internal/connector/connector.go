// Package connector is the assembled public surface of the hub. A Hub wires
// the token store, refresh orchestrator, HTTP pipeline, and sweep scheduler
// together; a Connector narrows that surface to one provider so host
// applications deal in userIDs and API calls, never in tokens.
package connector

import (
	"context"
	"strings"

	"connector-hub/internal/circuitbreaker"
	"connector-hub/internal/common/errors"
	"connector-hub/internal/common/logging"
	"connector-hub/internal/config"
	"connector-hub/internal/crypto"
	"connector-hub/internal/events"
	"connector-hub/internal/httpx"
	"connector-hub/internal/metrics"
	"connector-hub/internal/oauth2client"
	"connector-hub/internal/ratelimit"
	"connector-hub/internal/redisx"
	"connector-hub/internal/refresh"
	"connector-hub/internal/refreshlock"
	"connector-hub/internal/retry"
	"connector-hub/internal/scheduler"
	"connector-hub/internal/storage"
	"connector-hub/internal/tokenstore"
)

// Options carries the assembled dependencies for a Hub. Zero-value configs
// fall back to package defaults; Backend and Refresher are required.
type Options struct {
	Backend    storage.Backend
	Cipher     *crypto.TokenCipher
	LockClient *redisx.Client
	Refresher  refresh.Refresher
	Recorder   metrics.Recorder
	Logger     logging.Logger

	StoreConfig    tokenstore.Config
	LockConfig     refreshlock.Config
	RefreshConfig  refresh.Config
	PipelineConfig httpx.Config
	SweepSchedule  string
}

// Hub owns the shared machinery behind every connector
type Hub struct {
	store        *tokenstore.Store
	orchestrator *refresh.Orchestrator
	pipeline     *httpx.Pipeline
	dispatcher   *events.Dispatcher
	sweeper      *scheduler.Sweeper
	recorder     metrics.Recorder
	logger       logging.Logger
}

// New assembles a hub from explicit dependencies
func New(options Options) *Hub {
	logger := options.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	recorder := options.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if options.SweepSchedule == "" {
		options.SweepSchedule = "@every 5m"
	}
	if options.PipelineConfig.Timeout == 0 {
		options.PipelineConfig = httpx.DefaultConfig()
	}

	dispatcher := events.NewDispatcher(logger)
	store := tokenstore.NewStore(options.Backend, options.Cipher, dispatcher, options.StoreConfig, logger)
	lock := refreshlock.NewLock(options.LockClient, options.LockConfig, logger)
	orchestrator := refresh.New(store, lock, options.Refresher, options.RefreshConfig, recorder, logger)

	return &Hub{
		store:        store,
		orchestrator: orchestrator,
		pipeline:     httpx.New(options.PipelineConfig, recorder, logger),
		dispatcher:   dispatcher,
		sweeper:      scheduler.New(orchestrator, options.SweepSchedule, logger),
		recorder:     recorder,
		logger:       logger,
	}
}

// NewFromConfig assembles a hub from environment configuration. providers
// maps provider names to their OAuth registrations.
func NewFromConfig(ctx context.Context, cfg *config.Config, providers map[string]oauth2client.ProviderConfig, recorder metrics.Recorder, logger logging.Logger) (*Hub, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigError(err.Error())
	}

	var cipher *crypto.TokenCipher
	if cfg.TokenEncryptionKey != "" {
		var err error
		cipher, err = crypto.NewTokenCipher(cfg.TokenEncryptionKey, cfg.TokenEncryptionPreviousKeys...)
		if err != nil {
			return nil, err
		}
	}

	var backend storage.Backend
	var lockClient *redisx.Client
	if storage.Kind(cfg.StorageBackend) == storage.KindRedis {
		// One client serves both token storage and refresh coordination
		client, err := redisx.NewClient(cfg.RedisConfig())
		if err != nil {
			return nil, err
		}
		backend = storage.NewRedisBackend(client)
		lockClient = client
	} else {
		var err error
		backend, err = storage.New(ctx, cfg.StorageConfig())
		if err != nil {
			return nil, err
		}
	}

	return New(Options{
		Backend:    backend,
		Cipher:     cipher,
		LockClient: lockClient,
		Refresher:  oauth2client.New(providers, logger),
		Recorder:   recorder,
		Logger:     logger,
		StoreConfig: tokenstore.Config{
			RetentionBuffer: cfg.TokenRetentionBuffer,
			ExpiryMargin:    cfg.PreRefreshMargin,
		},
		LockConfig: refreshlock.Config{
			LeaseTTL:    cfg.RefreshLockTTL,
			WaitTimeout: cfg.RefreshWaitTimeout,
		},
		RefreshConfig: refresh.Config{
			PreRefreshMargin: cfg.PreRefreshMargin,
		},
		PipelineConfig: httpx.Config{
			Timeout:   cfg.HTTPTimeout,
			RateLimit: cfg.RateLimitConfig(),
			Retry: retry.Config{
				MaxRetries: cfg.HTTPMaxRetries,
				BaseDelay:  cfg.HTTPRetryBaseDelay,
				MaxDelay:   cfg.HTTPRetryMaxDelay,
			},
			Breaker: circuitbreaker.Config{
				Threshold:    cfg.BreakerThreshold,
				ResetTimeout: cfg.BreakerResetTimeout,
			},
			CacheTTL:  cfg.ETagCacheTTL,
			CacheSize: cfg.ETagCacheMaxSize,
		},
		SweepSchedule: cfg.RefreshSweepSchedule,
	}), nil
}

// Subscribe registers an observer for token lifecycle events
func (h *Hub) Subscribe(observer events.Observer) {
	h.dispatcher.Subscribe(observer)
}

// SetProviderLimits overrides outbound rate limits for one provider
func (h *Hub) SetProviderLimits(provider string, limits ratelimit.Config) {
	h.pipeline.SetProviderLimits(provider, limits)
}

// Start begins the proactive refresh sweep
func (h *Hub) Start() error {
	return h.sweeper.Start()
}

// Stop halts the refresh sweep
func (h *Hub) Stop() {
	h.sweeper.Stop()
}

// Connector returns the per-provider surface
func (h *Hub) Connector(provider string) *Connector {
	return &Connector{provider: provider, hub: h}
}

// Connector exposes one provider's operations
type Connector struct {
	provider string
	hub      *Hub
}

// APIRequest describes one provider API call made on a user's behalf
type APIRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	// Resource names the logical endpoint for conditional caching; GETs
	// with a non-empty Resource participate in the ETag cache
	Resource string
}

// SaveToken persists a credential obtained from the authorization flow and
// registers it for proactive refreshing
func (c *Connector) SaveToken(ctx context.Context, userID string, record tokenstore.TokenRecord, metadata map[string]string) error {
	if err := c.hub.store.Save(ctx, userID, c.provider, record, metadata); err != nil {
		return err
	}
	c.hub.sweeper.Register(userID, c.provider)
	c.hub.recorder.IncrCounter(metrics.CounterConnections, 1, metrics.Provider(c.provider))
	return nil
}

// GetAccessToken returns a usable access token, refreshing it when needed
func (c *Connector) GetAccessToken(ctx context.Context, userID string) (string, error) {
	return c.hub.orchestrator.GetAccessToken(ctx, userID, c.provider)
}

// CallAPI executes a provider API call with the user's credential injected
// and full pipeline resilience applied
func (c *Connector) CallAPI(ctx context.Context, userID string, req APIRequest) (*httpx.Response, error) {
	record, err := c.hub.orchestrator.GetToken(ctx, userID, c.provider)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(req.Headers)+1)
	for key, value := range req.Headers {
		headers[key] = value
	}
	headers["Authorization"] = authScheme(record.TokenType) + " " + record.AccessToken

	var cacheKey string
	if req.Method == "GET" && req.Resource != "" {
		cacheKey = userID + ":" + c.provider + ":" + req.Resource
	}

	return c.hub.pipeline.Do(ctx, httpx.Request{
		Method:   req.Method,
		URL:      req.URL,
		Headers:  headers,
		Body:     req.Body,
		Provider: c.provider,
		CacheKey: cacheKey,
	})
}

// Disconnect removes the stored credential and stops refreshing it
func (c *Connector) Disconnect(ctx context.Context, userID string) error {
	c.hub.sweeper.Deregister(userID, c.provider)
	if err := c.hub.store.Delete(ctx, userID, c.provider); err != nil {
		return err
	}
	c.hub.recorder.IncrCounter(metrics.CounterConnections, -1, metrics.Provider(c.provider))
	return nil
}

// ReportItemsFetched records how many items the last fetch produced
func (c *Connector) ReportItemsFetched(count int) {
	c.hub.recorder.SetGauge(metrics.GaugeItemsFetched, float64(count), metrics.Provider(c.provider))
}

// authScheme normalizes the token type into an Authorization scheme
func authScheme(tokenType string) string {
	switch strings.ToLower(tokenType) {
	case "", "bearer":
		return "Bearer"
	default:
		return tokenType
	}
}
