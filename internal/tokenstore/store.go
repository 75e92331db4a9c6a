// Package tokenstore persists OAuth credentials through a pluggable key-value
// backend. Envelopes are serialized to JSON, optionally encrypted, and written
// with an expiry-aware retention TTL so that a stale token stays retrievable
// long enough for its refresh token to be consumed. All mutations emit
// lifecycle events for observers.
package tokenstore

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"connector-hub/internal/common/errors"
	"connector-hub/internal/common/logging"
	"connector-hub/internal/crypto"
	"connector-hub/internal/events"
	"connector-hub/internal/storage"
)

const (
	// DefaultRetentionBuffer keeps an expired token readable long enough
	// for a refresh to consume its refresh token
	DefaultRetentionBuffer = 5 * time.Minute
	// DefaultExpiryMargin is the window before expiry that triggers a
	// tokenExpiringSoon notification
	DefaultExpiryMargin = 5 * time.Minute
)

// TokenRecord is one provider credential set. A nil ExpiresAt means the token
// never expires for scheduling purposes.
type TokenRecord struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Scope        string     `json:"scope,omitempty"`
	TokenType    string     `json:"tokenType,omitempty"`
	IDToken      string     `json:"idToken,omitempty"`
}

// Expired reports whether the token's expiry has passed. Tokens without an
// expiry never report expired.
func (r *TokenRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Envelope is the persisted unit wrapping a TokenRecord with its identity
// and bookkeeping timestamps
type Envelope struct {
	UserID    string            `json:"userId"`
	Provider  string            `json:"provider"`
	TokenSet  TokenRecord       `json:"tokenSet"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Config tunes retention and notification behavior
type Config struct {
	// RetentionBuffer extends the backend TTL past the token expiry
	RetentionBuffer time.Duration
	// ExpiryMargin is the remaining-lifetime threshold for expiring-soon events
	ExpiryMargin time.Duration
}

// DefaultConfig returns the standard store configuration
func DefaultConfig() Config {
	return Config{
		RetentionBuffer: DefaultRetentionBuffer,
		ExpiryMargin:    DefaultExpiryMargin,
	}
}

// Store reads and writes token envelopes. cipher may be nil, in which case
// envelopes are persisted as plaintext JSON.
type Store struct {
	backend    storage.Backend
	cipher     *crypto.TokenCipher
	dispatcher *events.Dispatcher
	config     Config
	logger     logging.Logger
	now        func() time.Time
}

// NewStore creates a token store. cipher and dispatcher may be nil.
func NewStore(backend storage.Backend, cipher *crypto.TokenCipher, dispatcher *events.Dispatcher, config Config, logger logging.Logger) *Store {
	if config.RetentionBuffer <= 0 {
		config.RetentionBuffer = DefaultRetentionBuffer
	}
	if config.ExpiryMargin <= 0 {
		config.ExpiryMargin = DefaultExpiryMargin
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Store{
		backend:    backend,
		cipher:     cipher,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger,
		now:        time.Now,
	}
}

// Key returns the backend key for one (user, provider) credential
func Key(userID, provider string) string {
	return "token:" + userID + ":" + provider
}

// Save persists a new envelope for the record and emits tokenSaved
func (s *Store) Save(ctx context.Context, userID, provider string, record TokenRecord, metadata map[string]string) error {
	now := s.now()
	envelope := Envelope{
		UserID:    userID,
		Provider:  provider,
		TokenSet:  record,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
	}
	if err := s.write(ctx, envelope); err != nil {
		return err
	}
	s.emit(events.TokenSaved, userID, provider)
	return nil
}

// Update re-saves the record, preserving the original creation time when an
// envelope already exists, and emits tokenRefreshed
func (s *Store) Update(ctx context.Context, userID, provider string, record TokenRecord, metadata map[string]string) error {
	now := s.now()
	envelope := Envelope{
		UserID:    userID,
		Provider:  provider,
		TokenSet:  record,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
	}

	if existing, err := s.read(ctx, userID, provider); err == nil && existing != nil {
		envelope.CreatedAt = existing.CreatedAt
		if metadata == nil {
			envelope.Metadata = existing.Metadata
		}
	}

	if err := s.write(ctx, envelope); err != nil {
		return err
	}
	s.emit(events.TokenRefreshed, userID, provider)
	return nil
}

// Get returns the stored record, or nil when absent. An expired record is
// treated as absent unless includeExpired is set; returning nil due to expiry
// emits tokenExpired, and returning a record inside the expiry margin emits
// tokenExpiringSoon.
func (s *Store) Get(ctx context.Context, userID, provider string, includeExpired bool) (*TokenRecord, error) {
	envelope, err := s.read(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	if envelope == nil {
		return nil, nil
	}

	record := envelope.TokenSet
	now := s.now()

	if record.Expired(now) {
		if !includeExpired {
			s.emit(events.TokenExpired, userID, provider)
			return nil, nil
		}
		return &record, nil
	}

	if record.ExpiresAt != nil {
		remaining := record.ExpiresAt.Sub(now)
		if remaining > 0 && remaining <= s.config.ExpiryMargin {
			if s.dispatcher != nil {
				s.dispatcher.EmitExpiringSoon(userID, provider, int(remaining.Minutes()))
			}
		}
	}

	return &record, nil
}

// GetEnvelope returns the full stored envelope, or nil when absent. Expiry
// filtering is the caller's concern here.
func (s *Store) GetEnvelope(ctx context.Context, userID, provider string) (*Envelope, error) {
	return s.read(ctx, userID, provider)
}

// Delete removes the stored token and emits tokenDeleted
func (s *Store) Delete(ctx context.Context, userID, provider string) error {
	if err := s.backend.Delete(ctx, Key(userID, provider)); err != nil {
		return errors.InternalError("failed to delete token", err).
			WithCredential(userID, provider)
	}
	s.emit(events.TokenDeleted, userID, provider)
	return nil
}

// RetentionTTL computes how long an envelope stays in the backend. Tokens
// with an expiry are kept at least RetentionBuffer past it; tokens without
// an expiry are kept forever.
func (s *Store) RetentionTTL(record TokenRecord) time.Duration {
	if record.ExpiresAt == nil {
		return 0
	}
	ttl := record.ExpiresAt.Sub(s.now()) + s.config.RetentionBuffer
	if ttl < s.config.RetentionBuffer {
		ttl = s.config.RetentionBuffer
	}
	return ttl
}

func (s *Store) write(ctx context.Context, envelope Envelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return errors.InternalError("failed to serialize token envelope", err).
			WithCredential(envelope.UserID, envelope.Provider)
	}

	value := string(payload)
	if s.cipher != nil {
		value, err = s.cipher.Encrypt(value)
		if err != nil {
			return err
		}
	}

	ttl := s.RetentionTTL(envelope.TokenSet)
	if err := s.backend.Set(ctx, Key(envelope.UserID, envelope.Provider), value, ttl); err != nil {
		return errors.InternalError("failed to persist token", err).
			WithCredential(envelope.UserID, envelope.Provider)
	}
	return nil
}

func (s *Store) read(ctx context.Context, userID, provider string) (*Envelope, error) {
	value, found, err := s.backend.Get(ctx, Key(userID, provider))
	if err != nil {
		return nil, errors.InternalError("failed to read token", err).
			WithCredential(userID, provider)
	}
	if !found {
		return nil, nil
	}

	// Plaintext envelopes written before encryption was enabled stay readable
	if s.cipher != nil && !strings.HasPrefix(value, "{") {
		value, err = s.cipher.Decrypt(value)
		if err != nil {
			return nil, err
		}
	}

	var envelope Envelope
	if err := json.Unmarshal([]byte(value), &envelope); err != nil {
		return nil, errors.InternalError("failed to parse token envelope", err).
			WithCredential(userID, provider)
	}
	return &envelope, nil
}

func (s *Store) emit(eventType events.Type, userID, provider string) {
	if s.dispatcher != nil {
		s.dispatcher.Emit(eventType, userID, provider)
	}
}
