// Package refresh implements the single-flight token refresh protocol. Within
// one process, concurrent callers for the same (user, provider) collapse onto
// an in-flight future; across processes, a lease lock collapses them onto one
// holder. The lease is best-effort: under coordination-backend outages or
// lease expiry two instances may both refresh, which providers tolerate.
package refresh

import (
	"context"
	"sync"
	"time"

	"connector-hub/internal/common/errors"
	"connector-hub/internal/common/logging"
	"connector-hub/internal/metrics"
	"connector-hub/internal/refreshlock"
	"connector-hub/internal/tokenstore"
)

const (
	// DefaultPreRefreshMargin refreshes tokens this long before they expire
	DefaultPreRefreshMargin = 5 * time.Minute
	// DefaultGraceDelay keeps a resolved future visible to callers that
	// looked it up just before resolution
	DefaultGraceDelay = time.Second
)

// Refresher exchanges a refresh token for a new credential set. An invalid or
// revoked grant must surface as a reauth-required error; anything else is
// treated as transient.
type Refresher interface {
	Refresh(ctx context.Context, provider, refreshToken string) (tokenstore.TokenRecord, error)
}

// RefresherFunc adapts a function to the Refresher interface
type RefresherFunc func(ctx context.Context, provider, refreshToken string) (tokenstore.TokenRecord, error)

func (f RefresherFunc) Refresh(ctx context.Context, provider, refreshToken string) (tokenstore.TokenRecord, error) {
	return f(ctx, provider, refreshToken)
}

// Config tunes the orchestrator
type Config struct {
	PreRefreshMargin time.Duration
	GraceDelay       time.Duration
}

// DefaultConfig returns the standard orchestrator configuration
func DefaultConfig() Config {
	return Config{
		PreRefreshMargin: DefaultPreRefreshMargin,
		GraceDelay:       DefaultGraceDelay,
	}
}

// future is one in-flight refresh shared by all local callers
type future struct {
	done   chan struct{}
	record *tokenstore.TokenRecord
	err    error
}

func (f *future) resolve(record *tokenstore.TokenRecord, err error) {
	f.record = record
	f.err = err
	close(f.done)
}

// Orchestrator ties the token store, the lease lock, and the OAuth refresher
// into one getAccessToken operation
type Orchestrator struct {
	store     *tokenstore.Store
	lock      *refreshlock.Lock
	refresher Refresher
	config    Config
	recorder  metrics.Recorder
	logger    logging.Logger

	mu       sync.Mutex
	inflight map[string]*future
}

// New creates an orchestrator. recorder and logger may be nil.
func New(store *tokenstore.Store, lock *refreshlock.Lock, refresher Refresher, config Config, recorder metrics.Recorder, logger logging.Logger) *Orchestrator {
	if config.PreRefreshMargin <= 0 {
		config.PreRefreshMargin = DefaultPreRefreshMargin
	}
	if config.GraceDelay <= 0 {
		config.GraceDelay = DefaultGraceDelay
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Orchestrator{
		store:     store,
		lock:      lock,
		refresher: refresher,
		config:    config,
		recorder:  recorder,
		logger:    logger,
		inflight:  make(map[string]*future),
	}
}

// GetAccessToken returns a usable access token for the credential, refreshing
// it first when it is expired or inside the pre-refresh margin
func (o *Orchestrator) GetAccessToken(ctx context.Context, userID, provider string) (string, error) {
	record, err := o.GetToken(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	return record.AccessToken, nil
}

// GetToken is GetAccessToken returning the full credential record
func (o *Orchestrator) GetToken(ctx context.Context, userID, provider string) (*tokenstore.TokenRecord, error) {
	record, err := o.store.Get(ctx, userID, provider, true)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errors.NotFoundError("token").WithCredential(userID, provider)
	}

	if !o.needsRefresh(record) {
		// An expired token without a refresh token is still returned;
		// there is nothing else to do with it
		return record, nil
	}

	key := userID + ":" + provider

	o.mu.Lock()
	if existing, ok := o.inflight[key]; ok {
		o.mu.Unlock()
		o.recorder.IncrCounter(metrics.CounterRefreshDedupLocal, 1, metrics.Provider(provider))
		return o.await(ctx, existing)
	}

	f := &future{done: make(chan struct{})}
	o.inflight[key] = f
	o.mu.Unlock()

	// The initiating caller's cancellation must not poison the future
	// other callers are already waiting on
	refreshCtx := context.WithoutCancel(ctx)
	f.resolve(o.refreshOrFollow(refreshCtx, userID, provider, record))

	time.AfterFunc(o.config.GraceDelay, func() {
		o.mu.Lock()
		if o.inflight[key] == f {
			delete(o.inflight, key)
		}
		o.mu.Unlock()
	})

	return o.await(ctx, f)
}

// needsRefresh reports whether the record should be refreshed now. Only
// records carrying a refresh token and an expiry inside the margin qualify.
func (o *Orchestrator) needsRefresh(record *tokenstore.TokenRecord) bool {
	if record.RefreshToken == "" || record.ExpiresAt == nil {
		return false
	}
	return !record.ExpiresAt.After(time.Now().Add(o.config.PreRefreshMargin))
}

func (o *Orchestrator) await(ctx context.Context, f *future) (*tokenstore.TokenRecord, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
		return f.record, f.err
	}
}

// refreshOrFollow either performs the refresh under the distributed lease or,
// when another instance holds it, waits for that instance and re-reads the
// store
func (o *Orchestrator) refreshOrFollow(ctx context.Context, userID, provider string, record *tokenstore.TokenRecord) (*tokenstore.TokenRecord, error) {
	if !o.lock.TryAcquire(ctx, userID, provider) {
		o.recorder.IncrCounter(metrics.CounterRefreshDedupDistrib, 1, metrics.Provider(provider))
		o.lock.WaitForRelease(ctx, userID, provider)

		refreshed, err := o.store.Get(ctx, userID, provider, false)
		if err != nil {
			return nil, err
		}
		if refreshed == nil {
			return nil, errors.RefreshClusterError("refresh on another instance did not produce a token").
				WithCredential(userID, provider)
		}
		return refreshed, nil
	}
	defer o.lock.Release(ctx, userID, provider)

	return o.doRefresh(ctx, userID, provider, record)
}

// doRefresh calls the OAuth refresher and persists the outcome
func (o *Orchestrator) doRefresh(ctx context.Context, userID, provider string, record *tokenstore.TokenRecord) (*tokenstore.TokenRecord, error) {
	tag := metrics.Provider(provider)
	o.recorder.IncrCounter(metrics.CounterRefreshAttempts, 1, tag)

	start := time.Now()
	refreshed, err := o.refresher.Refresh(ctx, provider, record.RefreshToken)
	o.recorder.ObserveHistogram(metrics.HistogramRefreshDuration,
		float64(time.Since(start).Milliseconds()), tag)

	if err != nil {
		o.recorder.IncrCounter(metrics.CounterRefreshFailures, 1, tag)
		return nil, o.classifyFailure(ctx, userID, provider, err)
	}

	// Providers that rotate refresh tokens return a new one; providers that
	// do not return the field at all keep the old one usable
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = record.RefreshToken
	}

	if err := o.store.Update(ctx, userID, provider, refreshed, nil); err != nil {
		return nil, err
	}

	o.logger.Info("Token refreshed",
		logging.String("user_id", userID),
		logging.String("provider", provider),
	)
	return &refreshed, nil
}

// classifyFailure splits refresh failures into terminal and transient. A
// revoked grant can never succeed again, so the stored token is deleted.
func (o *Orchestrator) classifyFailure(ctx context.Context, userID, provider string, err error) error {
	if errors.IsType(err, errors.ErrTypeReauthRequired) {
		if deleteErr := o.store.Delete(ctx, userID, provider); deleteErr != nil {
			o.logger.Error("Failed to delete token after invalid grant", deleteErr,
				logging.String("user_id", userID),
				logging.String("provider", provider),
			)
		}
		o.logger.Warn("Refresh grant invalid, re-authentication required",
			logging.String("user_id", userID),
			logging.String("provider", provider),
		)
		return err
	}

	if appErr, ok := err.(*errors.AppError); ok && appErr.Type == errors.ErrTypeRefreshTransient {
		return appErr
	}
	return errors.RefreshTransientError("token refresh failed", err).
		WithCredential(userID, provider)
}
