// Package scheduler runs the proactive refresh sweep. Connected credentials
// are refreshed on a cron schedule before they expire, so interactive calls
// rarely pay the refresh latency themselves. The sweep reuses the single
// flight orchestrator, which makes it safe to run on every instance at once.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"connector-hub/internal/common/errors"
	"connector-hub/internal/common/logging"
)

// DefaultSweepTimeout bounds one credential's refresh inside a sweep
const DefaultSweepTimeout = 30 * time.Second

// TokenRefresher is the orchestrator surface the sweeper drives
type TokenRefresher interface {
	GetAccessToken(ctx context.Context, userID, provider string) (string, error)
}

// Credential identifies one registered (user, provider) pair
type Credential struct {
	UserID   string
	Provider string
}

// Sweeper refreshes registered credentials on a schedule
type Sweeper struct {
	cron     *cron.Cron
	refresh  TokenRefresher
	schedule string
	timeout  time.Duration
	logger   logging.Logger

	mu          sync.Mutex
	credentials map[Credential]struct{}
}

// New creates a sweeper with the given cron schedule, e.g. "@every 5m".
// logger may be nil.
func New(refresh TokenRefresher, schedule string, logger logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Sweeper{
		cron:        cron.New(),
		refresh:     refresh,
		schedule:    schedule,
		timeout:     DefaultSweepTimeout,
		logger:      logger,
		credentials: make(map[Credential]struct{}),
	}
}

// Register adds a credential to the sweep set
func (s *Sweeper) Register(userID, provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[Credential{UserID: userID, Provider: provider}] = struct{}{}
}

// Deregister removes a credential from the sweep set, typically on disconnect
func (s *Sweeper) Deregister(userID, provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, Credential{UserID: userID, Provider: provider})
}

// Start schedules the sweep and begins running it
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.Sweep); err != nil {
		return errors.ConfigError("invalid sweep schedule: " + err.Error())
	}
	s.cron.Start()
	s.logger.Info("Refresh sweep scheduled", logging.String("schedule", s.schedule))
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep refreshes every registered credential once. Tokens that are fresh or
// have no refresh token come back from the orchestrator without network I/O,
// so sweeping is cheap when there is nothing to do.
func (s *Sweeper) Sweep() {
	s.mu.Lock()
	credentials := make([]Credential, 0, len(s.credentials))
	for credential := range s.credentials {
		credentials = append(credentials, credential)
	}
	s.mu.Unlock()

	for _, credential := range credentials {
		s.sweepOne(credential)
	}
}

func (s *Sweeper) sweepOne(credential Credential) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err := s.refresh.GetAccessToken(ctx, credential.UserID, credential.Provider)
	if err == nil {
		return
	}

	// A dead grant stays registered; the user may reconnect under the same
	// identity and the sweep picks the new token up automatically
	if errors.IsType(err, errors.ErrTypeReauthRequired) || errors.IsType(err, errors.ErrTypeNotFound) {
		s.logger.Warn("Credential needs re-authorization, skipping in sweep",
			logging.String("user_id", credential.UserID),
			logging.String("provider", credential.Provider),
		)
		return
	}

	s.logger.Error("Sweep refresh failed", err,
		logging.String("user_id", credential.UserID),
		logging.String("provider", credential.Provider),
	)
}
