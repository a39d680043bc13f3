package config

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

type Manager struct {
	path   string
	logger zerolog.Logger

	mu        sync.RWMutex
	config    *Config
	listeners []func(*Config)

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

func NewManager(path string, logger zerolog.Logger) (*Manager, error) {
	logger = logger.With().Str("component", "config").Logger()

	config, err := Load(path)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load initial configuration")
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger.Info().Str("path", path).Msg("configuration loaded")
	return &Manager{path: path, config: config, logger: logger}, nil
}

func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to prevent external modification
	configCopy := *m.config
	return &configCopy
}

// OnChange registers fn to run with every successfully reloaded config.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *Manager) StartWatching(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	m.watcher = watcher

	// watch the directory so editors that replace the file are seen
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return err
	}

	m.wg.Add(1)
	go m.watchLoop(ctx)

	m.logger.Debug().Str("path", m.path).Msg("watching for changes")
	return nil
}

func (m *Manager) Stop() {
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.wg.Wait()
}

func (m *Manager) watchLoop(ctx context.Context) {
	defer m.wg.Done()
	configFileName := filepath.Base(m.path)

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != configFileName {
				continue
			}

			// Only react to Write and Create events (ignore Chmod, Remove, etc.)
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				m.logger.Info().Str("file", event.Name).Msg("change detected, reloading")
				m.reloadConfig()
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn().Err(err).Msg("watcher error")

		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) reloadConfig() {
	newConfig, err := Load(m.path)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to reload config")
		return
	}
	if err := newConfig.Validate(); err != nil {
		m.logger.Error().Err(err).Msg("invalid config after reload, keeping previous")
		return
	}

	m.mu.Lock()
	m.config = newConfig
	listeners := make([]func(*Config), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		configCopy := *newConfig
		fn(&configCopy)
	}
	m.logger.Info().Msg("configuration reloaded")
}
