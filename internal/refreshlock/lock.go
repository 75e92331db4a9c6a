// Package refreshlock provides best-effort cross-instance mutual exclusion
// for token refreshes. The lease is a short-TTL Redis key, not a consensus
// lock: when the coordination backend is absent or unreachable the lock
// degrades to local-only deduplication by granting every acquisition, and a
// lease can expire before its holder finishes. Both are accepted behaviors.
package refreshlock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"connector-hub/internal/common/logging"
	"connector-hub/internal/redisx"
)

const (
	// DefaultLeaseTTL bounds how long a crashed holder can block others
	DefaultLeaseTTL = 10 * time.Second
	// DefaultPollInterval paces the existence checks in WaitForRelease
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultWaitTimeout caps how long a waiter polls before giving up.
	// It is deliberately shorter than the lease TTL; a waiter that gives
	// up re-reads the token store rather than waiting out the lease.
	DefaultWaitTimeout = 5 * time.Second
)

// Config tunes the lease lock
type Config struct {
	LeaseTTL     time.Duration
	PollInterval time.Duration
	WaitTimeout  time.Duration
}

// DefaultConfig returns the standard lock configuration
func DefaultConfig() Config {
	return Config{
		LeaseTTL:     DefaultLeaseTTL,
		PollInterval: DefaultPollInterval,
		WaitTimeout:  DefaultWaitTimeout,
	}
}

// Lock coordinates refresh attempts across instances. client may be nil, in
// which case every acquisition succeeds immediately.
type Lock struct {
	client *redisx.Client
	config Config
	logger logging.Logger
}

// NewLock creates a lease lock over the given Redis client. client and logger
// may be nil.
func NewLock(client *redisx.Client, config Config, logger logging.Logger) *Lock {
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = DefaultLeaseTTL
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.WaitTimeout <= 0 {
		config.WaitTimeout = DefaultWaitTimeout
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Lock{client: client, config: config, logger: logger}
}

// Key returns the lease key for one (user, provider) refresh
func Key(userID, provider string) string {
	return "refresh_lock:" + userID + ":" + provider
}

// TryAcquire attempts to take the lease. It returns true when the lease was
// taken, and also when no backend is configured or the backend is unreachable,
// so that refreshes proceed under local-only deduplication.
func (l *Lock) TryAcquire(ctx context.Context, userID, provider string) bool {
	if l.client == nil {
		return true
	}

	acquired, err := l.client.SetNX(ctx, Key(userID, provider), uuid.NewString(), l.config.LeaseTTL)
	if err != nil {
		l.logger.Warn("Refresh lock backend unreachable, proceeding without lease",
			logging.String("user_id", userID),
			logging.String("provider", provider),
		)
		return true
	}
	return acquired
}

// WaitForRelease polls the lease key until it disappears or the wait timeout
// elapses. Timing out is not an error; the caller re-reads the token store to
// learn the outcome.
func (l *Lock) WaitForRelease(ctx context.Context, userID, provider string) {
	if l.client == nil {
		return
	}

	key := Key(userID, provider)
	deadline := time.Now().Add(l.config.WaitTimeout)
	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	for {
		exists, err := l.client.Exists(ctx, key)
		if err != nil || !exists {
			return
		}
		if time.Now().After(deadline) {
			l.logger.Warn("Timed out waiting for refresh lock release",
				logging.String("user_id", userID),
				logging.String("provider", provider),
				logging.Duration("waited", l.config.WaitTimeout),
			)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Release deletes the lease key. It is idempotent and must run even when the
// refresh attempt failed; backend errors are logged, never surfaced, since
// the lease TTL bounds the damage of a leaked lock.
func (l *Lock) Release(ctx context.Context, userID, provider string) {
	if l.client == nil {
		return
	}

	if err := l.client.Delete(ctx, Key(userID, provider)); err != nil {
		l.logger.Warn("Failed to release refresh lock, lease will expire on its own",
			logging.String("user_id", userID),
			logging.String("provider", provider),
		)
	}
}
