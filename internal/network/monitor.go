// Package network tracks backend reachability and announces transitions on
// the event bus.
package network

import (
	"sync"
	"time"

	"eventnet/internal/events"
	"eventnet/internal/logging"
	"eventnet/internal/metrics"

	"github.com/rs/zerolog"
)

// Monitor holds the current online flag. Only transitions are published.
type Monitor struct {
	mu     sync.RWMutex
	online bool
	since  time.Time

	bus    *events.Bus
	logger *zerolog.Logger
}

func NewMonitor(initial bool, bus *events.Bus, logger *zerolog.Logger) *Monitor {
	metrics.SetOnline(initial)
	return &Monitor{
		online: initial,
		since:  time.Now(),
		bus:    bus,
		logger: logging.Component(logger, "network"),
	}
}

func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Since returns when the current status was entered.
func (m *Monitor) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// SetOnline records the status and reports whether it changed. A change
// publishes network.online or network.offline after the lock is released.
func (m *Monitor) SetOnline(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	m.since = time.Now()
	at := m.since
	m.mu.Unlock()

	metrics.SetOnline(online)
	topic := events.TopicNetworkOffline
	if online {
		topic = events.TopicNetworkOnline
	}
	m.logger.Info().Bool("online", online).Msg("network status changed")

	if err := m.bus.PublishJSON(topic, events.NetworkPayload{Online: online, At: at}); err != nil {
		m.logger.Error().Err(err).Msg("failed to publish network status")
	}
	return true
}
