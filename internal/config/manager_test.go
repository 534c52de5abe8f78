package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_LoadFromYAML(t *testing.T) {
	ctx := context.Background()

	t.Run("Load valid configuration", func(t *testing.T) {
		configContent := `
remote:
  bot_token: "123456:test-token"
  chat_id: -1001234567890

media:
  dir: "/data/photos"

index:
  database_path: "./cloudgallery.db"

server:
  listen_addr: ":9090"

sync:
  compression_threshold_mib: 50
  scan_page_size: 50
  backup_interval_hours: 12
  include_metadata_caption: true
`
		configFile := createTempConfigFile(t, configContent)

		manager := NewManager()
		config, err := manager.LoadFromFile(ctx, configFile)

		require.NoError(t, err, "LoadFromFile should not return error for valid config")
		require.NotNil(t, config, "Config should not be nil")

		assert.Equal(t, "123456:test-token", config.Remote.BotToken)
		assert.Equal(t, int64(-1001234567890), config.Remote.ChatID)
		assert.Equal(t, "/data/photos", config.Media.Dir)
		assert.Equal(t, "./cloudgallery.db", config.Index.DatabasePath)
		assert.Equal(t, ":9090", config.Server.ListenAddr)
		assert.Equal(t, int64(50), config.Sync.CompressionThresholdMiB)
		assert.Equal(t, 50, config.Sync.ScanPageSize)
		assert.Equal(t, 12, config.Sync.BackupIntervalHours)
		assert.True(t, config.Sync.IncludeMetadataCaption)
	})

	t.Run("Defaults fill omitted tunables", func(t *testing.T) {
		configContent := `
remote:
  bot_token: "123456:test-token"
  chat_id: 42
media:
  dir: "/data/photos"
index:
  database_path: "./cloudgallery.db"
`
		configFile := createTempConfigFile(t, configContent)

		manager := NewManager()
		config, err := manager.LoadFromFile(ctx, configFile)

		require.NoError(t, err)
		assert.Equal(t, ":8080", config.Server.ListenAddr)
		assert.Equal(t, int64(50), config.Sync.CompressionThresholdMiB)
		assert.Equal(t, 100, config.Sync.ScanPageSize)
		assert.Equal(t, 10, config.Sync.ScanPageBudget)
		assert.Equal(t, 24, config.Sync.BackupIntervalHours)
		assert.Equal(t, 6, config.Sync.PeriodicIntervalHours)
	})

	t.Run("Load configuration with environment variables", func(t *testing.T) {
		t.Setenv("CLOUDGALLERY_BOT_TOKEN", "env-token")

		configContent := `
remote:
  bot_token: "${CLOUDGALLERY_BOT_TOKEN}"
  chat_id: 42
media:
  dir: "/data/photos"
index:
  database_path: "./cloudgallery.db"
`
		configFile := createTempConfigFile(t, configContent)

		manager := NewManager()
		config, err := manager.LoadFromFile(ctx, configFile)

		require.NoError(t, err)
		assert.Equal(t, "env-token", config.Remote.BotToken)
	})

	t.Run("Fail on invalid YAML", func(t *testing.T) {
		configContent := `
invalid: yaml: content
  - missing: quotes
    broken: [
`
		configFile := createTempConfigFile(t, configContent)

		manager := NewManager()
		_, err := manager.LoadFromFile(ctx, configFile)

		assert.Error(t, err, "Should return error for invalid YAML")
		assert.Contains(t, err.Error(), "failed to parse")
	})

	t.Run("Fail on missing file", func(t *testing.T) {
		manager := NewManager()
		_, err := manager.LoadFromFile(ctx, "/nonexistent/config.yaml")

		assert.Error(t, err, "Should return error for missing file")
	})
}

func TestManager_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty bot token",
			mutate:  func(c *Config) { c.Remote.BotToken = "" },
			wantErr: "bot_token cannot be empty",
		},
		{
			name:    "zero chat id",
			mutate:  func(c *Config) { c.Remote.ChatID = 0 },
			wantErr: "chat_id cannot be zero",
		},
		{
			name:    "empty media dir",
			mutate:  func(c *Config) { c.Media.Dir = "" },
			wantErr: "media dir cannot be empty",
		},
		{
			name:    "empty database path",
			mutate:  func(c *Config) { c.Index.DatabasePath = "" },
			wantErr: "database_path cannot be empty",
		},
		{
			name:    "negative compression threshold",
			mutate:  func(c *Config) { c.Sync.CompressionThresholdMiB = -1 },
			wantErr: "cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{
				Remote: RemoteConfig{BotToken: "123456:test-token", ChatID: 42},
				Media:  MediaConfig{Dir: "/data/photos"},
				Index:  IndexConfig{DatabasePath: "./test.db"},
			}
			tt.mutate(config)

			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestManager_HotReload(t *testing.T) {
	ctx := context.Background()

	validContent := `
remote:
  bot_token: "123456:test-token"
  chat_id: 42
media:
  dir: "/data/photos"
index:
  database_path: "./test.db"
`

	t.Run("Watch for configuration changes", func(t *testing.T) {
		configFile := createTempConfigFile(t, validContent)

		manager := NewManager()
		_, err := manager.LoadFromFile(ctx, configFile)
		require.NoError(t, err)

		changeChan := make(chan ChangeEvent, 1)
		err = manager.WatchForChanges(ctx, configFile, changeChan)
		require.NoError(t, err)

		updatedContent := `
remote:
  bot_token: "123456:rotated-token"
  chat_id: 42
media:
  dir: "/data/photos"
index:
  database_path: "./test.db"
`
		// mtime resolution on some filesystems is one second
		time.Sleep(1100 * time.Millisecond)
		require.NoError(t, os.WriteFile(configFile, []byte(updatedContent), 0o644))

		select {
		case event := <-changeChan:
			assert.Equal(t, "config_updated", event.Type)
			assert.Equal(t, configFile, event.Path)
		case <-time.After(5 * time.Second):
			t.Error("Should receive config change notification")
		}

		newConfig := manager.Current()
		require.NotNil(t, newConfig)
		assert.Equal(t, "123456:rotated-token", newConfig.Remote.BotToken)
	})

	t.Run("Rollback on invalid configuration", func(t *testing.T) {
		configFile := createTempConfigFile(t, validContent)

		manager := NewManager()
		originalConfig, err := manager.LoadFromFile(ctx, configFile)
		require.NoError(t, err)

		changeChan := make(chan ChangeEvent, 1)
		err = manager.WatchForChanges(ctx, configFile, changeChan)
		require.NoError(t, err)

		invalidContent := `
remote:
  bot_token: ""
  chat_id: 42
media:
  dir: "/data/photos"
index:
  database_path: "./test.db"
`
		time.Sleep(1100 * time.Millisecond)
		require.NoError(t, os.WriteFile(configFile, []byte(invalidContent), 0o644))

		select {
		case event := <-changeChan:
			assert.Equal(t, "config_error", event.Type)
			assert.Contains(t, event.Error, "validation failed")
		case <-time.After(5 * time.Second):
			t.Error("Should receive config error notification")
		}

		currentConfig := manager.Current()
		assert.Equal(t, originalConfig.Remote.BotToken, currentConfig.Remote.BotToken)
	})
}

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0o644))
	return configFile
}
