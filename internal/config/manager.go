package config

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// ChangeSubject is the NATS subject carrying live configuration changes
const ChangeSubject = "config.changed"

// Snapshot holds the settings that can change while the service runs
type Snapshot struct {
	IncludeAliasDataset bool      `json:"include_malpedia_dataset"`
	CacheSize           int       `json:"cache_size"`
	LastUpdated         time.Time `json:"last_updated"`
}

// ChangeMessage represents a configuration change from NATS
type ChangeMessage struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Scope     string          `json:"scope"`
	UpdatedBy string          `json:"updated_by"`
	Timestamp int64           `json:"timestamp"`
}

// Manager applies live configuration updates and notifies subscribers
type Manager struct {
	nats        *nats.Conn
	logger      *slog.Logger
	mu          sync.RWMutex
	current     *Snapshot
	subscribers []func(*Snapshot)
	sub         *nats.Subscription
}

// NewManager creates a manager seeded from the static configuration.
// nc may be nil, in which case no live updates are received.
func NewManager(cfg *Config, nc *nats.Conn, logger *slog.Logger) *Manager {
	return &Manager{
		nats:   nc,
		logger: logger,
		current: &Snapshot{
			IncludeAliasDataset: cfg.IncludeAliasDataset,
			CacheSize:           cfg.CacheSize,
			LastUpdated:         time.Now(),
		},
	}
}

// Start subscribes to configuration changes until ctx is cancelled
func (m *Manager) Start(ctx context.Context) error {
	if m.nats == nil {
		m.logger.Info("Live configuration updates disabled")
		return nil
	}

	sub, err := m.nats.Subscribe(ChangeSubject, func(msg *nats.Msg) {
		m.handleChange(msg.Data)
	})
	if err != nil {
		return err
	}
	m.sub = sub
	m.logger.Info("Subscribed to configuration changes", "subject", ChangeSubject)

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			m.logger.Debug("Failed to unsubscribe from configuration changes", "error", err)
		}
	}()

	return nil
}

// Current returns a copy of the current snapshot
func (m *Manager) Current() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.current
}

// Subscribe registers a callback for configuration changes
func (m *Manager) Subscribe(callback func(*Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, callback)
}

// handleChange processes a raw config.changed message
func (m *Manager) handleChange(data []byte) {
	var change ChangeMessage
	if err := json.Unmarshal(data, &change); err != nil {
		m.logger.Error("Failed to unmarshal config change message", "error", err)
		return
	}

	m.logger.Info("Received configuration change",
		"key", change.Key,
		"updated_by", change.UpdatedBy,
		"timestamp", change.Timestamp)

	m.mu.Lock()
	updated := *m.current
	if !m.apply(&updated, &change) {
		m.mu.Unlock()
		return
	}
	if change.Timestamp > 0 {
		updated.LastUpdated = time.Unix(change.Timestamp, 0)
	} else {
		updated.LastUpdated = time.Now()
	}
	m.current = &updated
	subscribers := append([]func(*Snapshot){}, m.subscribers...)
	m.mu.Unlock()

	m.logger.Info("Configuration updated live",
		"key", change.Key,
		"include_malpedia_dataset", updated.IncludeAliasDataset,
		"cache_size", updated.CacheSize)

	for _, callback := range subscribers {
		snapshot := updated
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("Panic in config subscriber callback", "panic", r)
				}
			}()
			callback(&snapshot)
		}()
	}
}

// apply sets the field named by the change key, reporting whether anything changed
func (m *Manager) apply(snapshot *Snapshot, change *ChangeMessage) bool {
	switch change.Key {
	case "avclass.include_malpedia_dataset":
		var include bool
		if err := json.Unmarshal(change.Value, &include); err == nil {
			snapshot.IncludeAliasDataset = include
			return true
		}
		if parsed, err := strconv.ParseBool(string(change.Value)); err == nil {
			snapshot.IncludeAliasDataset = parsed
			return true
		}
	case "avclass.cache_size":
		var size int
		if err := json.Unmarshal(change.Value, &size); err == nil && size >= 0 {
			snapshot.CacheSize = size
			return true
		}
	default:
		m.logger.Debug("Ignoring unknown configuration key", "key", change.Key)
		return false
	}

	m.logger.Warn("Ignoring invalid configuration value", "key", change.Key, "value", string(change.Value))
	return false
}
