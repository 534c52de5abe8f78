// Package config loads the daemon configuration from YAML with environment
// variable substitution, so credentials stay out of the file itself.
package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ChangeEvent signals a configuration file change to a watcher.
type ChangeEvent struct {
	Type  string
	Path  string
	Error string
}

// Manager handles configuration loading, validation and reload watching.
type Manager struct {
	current  *Config
	mutex    sync.RWMutex
	watchers map[string]chan ChangeEvent
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		watchers: make(map[string]chan ChangeEvent),
	}
}

// LoadFromFile loads configuration from a YAML file. ${VAR} references are
// substituted from the environment before parsing; defaults are applied
// before validation.
func (m *Manager) LoadFromFile(ctx context.Context, filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	content := m.substituteEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	m.mutex.Lock()
	m.current = &config
	m.mutex.Unlock()

	return &config, nil
}

// Current returns the currently loaded configuration.
func (m *Manager) Current() *Config {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current
}

// WatchForChanges starts watching the configuration file and delivers reload
// events on changeChan.
func (m *Manager) WatchForChanges(ctx context.Context, filePath string, changeChan chan ChangeEvent) error {
	m.mutex.Lock()
	m.watchers[filePath] = changeChan
	m.mutex.Unlock()

	go m.watchFile(ctx, filePath)
	return nil
}

// watchFile polls the file's mtime. Polling keeps the watcher working on
// filesystems where inotify misses editor rename-and-replace writes.
func (m *Manager) watchFile(ctx context.Context, filePath string) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var lastModTime time.Time
	if stat, err := os.Stat(filePath); err == nil {
		lastModTime = stat.ModTime()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat, err := os.Stat(filePath)
			if err != nil {
				continue
			}
			if stat.ModTime().After(lastModTime) {
				lastModTime = stat.ModTime()
				m.handleChange(ctx, filePath)
			}
		}
	}
}

func (m *Manager) handleChange(ctx context.Context, filePath string) {
	m.mutex.RLock()
	changeChan, exists := m.watchers[filePath]
	m.mutex.RUnlock()
	if !exists {
		return
	}

	if _, err := m.LoadFromFile(ctx, filePath); err != nil {
		select {
		case changeChan <- ChangeEvent{Type: "config_error", Path: filePath, Error: err.Error()}:
		default:
		}
		return
	}

	select {
	case changeChan <- ChangeEvent{Type: "config_updated", Path: filePath}:
	default:
	}
}

// substituteEnvVars replaces ${VAR} patterns with environment variables.
func (m *Manager) substituteEnvVars(content string) string {
	envVarPattern := regexp.MustCompile(`\$\{([^}]+)\}`)

	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := match[2 : len(match)-1]
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return match
	})
}
