package circuitbreaker

import (
	"sync"

	"connector-hub/internal/common/logging"
)

// Manager holds one breaker per provider
type Manager struct {
	breakers map[string]*Breaker
	config   Config
	logger   logging.Logger
	mu       sync.RWMutex
}

// NewManager creates a manager whose breakers share the given configuration
func NewManager(config Config, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Manager{
		breakers: make(map[string]*Breaker),
		config:   config,
		logger:   logger,
	}
}

// GetOrCreate returns the breaker for a provider, creating it on first use
func (m *Manager) GetOrCreate(provider string) *Breaker {
	m.mu.RLock()
	breaker, exists := m.breakers[provider]
	m.mu.RUnlock()
	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, exists := m.breakers[provider]; exists {
		return breaker
	}

	breaker = New(provider, m.config)
	breaker.OnTrip(func(name string) {
		m.logger.Warn("Circuit breaker opened",
			logging.String("provider", name),
			logging.Int("threshold", m.config.Threshold),
		)
	})

	m.breakers[provider] = breaker
	return breaker
}

// CanExecute reports whether a call to the provider may proceed
func (m *Manager) CanExecute(provider string) bool {
	return m.GetOrCreate(provider).CanExecute()
}

// RecordSuccess zeroes the provider's failure counter
func (m *Manager) RecordSuccess(provider string) {
	m.GetOrCreate(provider).RecordSuccess()
}

// RecordFailure counts a failure against the provider
func (m *Manager) RecordFailure(provider string) {
	m.GetOrCreate(provider).RecordFailure()
}

// AllStats returns statistics for every known breaker
func (m *Manager) AllStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]Stats, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		stats = append(stats, breaker.Stats())
	}
	return stats
}
