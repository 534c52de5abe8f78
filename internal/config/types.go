package config

import "fmt"

// Config is the complete daemon configuration.
type Config struct {
	Remote RemoteConfig `yaml:"remote"`
	Media  MediaConfig  `yaml:"media"`
	Index  IndexConfig  `yaml:"index"`
	Server ServerConfig `yaml:"server"`
	Sync   SyncConfig   `yaml:"sync"`
}

// RemoteConfig identifies the blob channel and its credential.
type RemoteConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// MediaConfig locates the device media collection.
type MediaConfig struct {
	Dir string `yaml:"dir"`
}

// IndexConfig locates the local index database.
type IndexConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ServerConfig configures the HTTP trigger surface.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// SyncConfig tunes the background pipelines.
type SyncConfig struct {
	CompressionThresholdMiB int64 `yaml:"compression_threshold_mib"`
	ScanPageSize            int   `yaml:"scan_page_size"`
	ScanPageBudget          int   `yaml:"scan_page_budget"`
	BackupIntervalHours     int   `yaml:"backup_interval_hours"`
	PeriodicIntervalHours   int   `yaml:"periodic_interval_hours"`
	IncludeMetadataCaption  bool  `yaml:"include_metadata_caption"`
}

// Validate checks the remote section.
func (r *RemoteConfig) Validate() error {
	if r.BotToken == "" {
		return fmt.Errorf("remote bot_token cannot be empty")
	}
	if r.ChatID == 0 {
		return fmt.Errorf("remote chat_id cannot be zero")
	}
	return nil
}

// Validate checks the paths the daemon cannot run without.
func (c *Config) Validate() error {
	if err := c.Remote.Validate(); err != nil {
		return err
	}
	if c.Media.Dir == "" {
		return fmt.Errorf("media dir cannot be empty")
	}
	if c.Index.DatabasePath == "" {
		return fmt.Errorf("index database_path cannot be empty")
	}
	if c.Sync.CompressionThresholdMiB < 0 {
		return fmt.Errorf("compression_threshold_mib cannot be negative, got: %d", c.Sync.CompressionThresholdMiB)
	}
	return nil
}

// applyDefaults fills the tunables the file may omit.
func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Sync.CompressionThresholdMiB == 0 {
		c.Sync.CompressionThresholdMiB = 50
	}
	if c.Sync.ScanPageSize == 0 {
		c.Sync.ScanPageSize = 100
	}
	if c.Sync.ScanPageBudget == 0 {
		c.Sync.ScanPageBudget = 10
	}
	if c.Sync.BackupIntervalHours == 0 {
		c.Sync.BackupIntervalHours = 24
	}
	if c.Sync.PeriodicIntervalHours == 0 {
		c.Sync.PeriodicIntervalHours = 6
	}
}
