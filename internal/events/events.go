// Package events carries token lifecycle notifications from the core to host
// observers. The source system used an ad-hoc event emitter; here the contract
// is an explicit Observer interface fanned out by a Dispatcher.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"connector-hub/internal/common/logging"
)

// Type identifies a token lifecycle event
type Type string

const (
	// TokenSaved fires after a token is first persisted
	TokenSaved Type = "tokenSaved"
	// TokenRefreshed fires after a refresh result is persisted
	TokenRefreshed Type = "tokenRefreshed"
	// TokenDeleted fires after a token is removed
	TokenDeleted Type = "tokenDeleted"
	// TokenExpired fires when a read finds only an expired token
	TokenExpired Type = "tokenExpired"
	// TokenExpiringSoon fires when a read finds a token inside the pre-refresh margin
	TokenExpiringSoon Type = "tokenExpiringSoon"
)

// Event is the payload delivered to observers
type Event struct {
	ID       string    `json:"id"`
	Type     Type      `json:"type"`
	UserID   string    `json:"userId"`
	Provider string    `json:"provider"`
	// MinutesUntilExpiry is set only for TokenExpiringSoon
	MinutesUntilExpiry int       `json:"minutesUntilExpiry,omitempty"`
	OccurredAt         time.Time `json:"occurredAt"`
}

// Observer receives lifecycle events. Implementations must not block;
// slow consumers should buffer internally.
type Observer interface {
	OnTokenEvent(event Event)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(event Event)

// OnTokenEvent calls the wrapped function
func (f ObserverFunc) OnTokenEvent(event Event) {
	f(event)
}

// Dispatcher fans events out to registered observers. Safe for concurrent use.
type Dispatcher struct {
	observers []Observer
	logger    logging.Logger
	mu        sync.RWMutex
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Dispatcher{logger: logger}
}

// Subscribe registers an observer for all future events
func (d *Dispatcher) Subscribe(observer Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, observer)
}

// Emit builds and delivers an event to every observer.
// Delivery is synchronous and in subscription order.
func (d *Dispatcher) Emit(eventType Type, userID, provider string) {
	d.deliver(Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		UserID:     userID,
		Provider:   provider,
		OccurredAt: time.Now(),
	})
}

// EmitExpiringSoon delivers a TokenExpiringSoon event carrying the remaining lifetime
func (d *Dispatcher) EmitExpiringSoon(userID, provider string, minutesUntilExpiry int) {
	d.deliver(Event{
		ID:                 uuid.NewString(),
		Type:               TokenExpiringSoon,
		UserID:             userID,
		Provider:           provider,
		MinutesUntilExpiry: minutesUntilExpiry,
		OccurredAt:         time.Now(),
	})
}

func (d *Dispatcher) deliver(event Event) {
	d.mu.RLock()
	observers := make([]Observer, len(d.observers))
	copy(observers, d.observers)
	d.mu.RUnlock()

	d.logger.Debug("Token lifecycle event",
		logging.String("event", string(event.Type)),
		logging.String("user_id", event.UserID),
		logging.String("provider", event.Provider),
	)

	for _, observer := range observers {
		observer.OnTokenEvent(event)
	}
}
