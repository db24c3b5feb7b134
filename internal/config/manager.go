package config

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Manager owns the live configuration. Current() hands out an
// immutable snapshot; a reload swaps the snapshot pointer so requests
// already holding the old one finish under the policy they started
// with.
type Manager struct {
	mu       sync.RWMutex
	path     string
	current  *Config
	watcher  *Watcher
	onReload []func(*Config)
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, current: cfg}, nil
}

// Current returns the active snapshot. Callers must not mutate it.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnReload registers a callback that receives each freshly loaded
// snapshot. Register before Watch starts; callbacks run on the reload
// goroutine.
func (m *Manager) OnReload(fn func(*Config)) {
	m.onReload = append(m.onReload, fn)
}

// Reload re-reads the document and swaps it in. A document that fails
// to load or validate leaves the running config untouched.
func (m *Manager) Reload() error {
	cfg, err := Load(m.path)
	if err != nil {
		log.Error().Err(err).Str("path", m.path).Msg("config reload failed, keeping previous")
		return err
	}

	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()

	for _, fn := range m.onReload {
		fn(cfg)
	}

	log.Info().Str("path", m.path).Str("mode", cfg.Mode).Msg("config reloaded")
	return nil
}

// Watch starts reloading on file changes until Close.
func (m *Manager) Watch() error {
	if m.path == "" {
		return nil
	}
	w, err := NewWatcher(m.path, func() {
		if err := m.Reload(); err != nil {
			log.Warn().Err(err).Msg("hot reload skipped")
		}
	})
	if err != nil {
		return err
	}
	m.watcher = w
	return nil
}

func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
