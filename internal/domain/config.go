// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"time"
)

// Reconciliation strategies. Exactly one is active per deployment.
const (
	// ReconcileStrategyScan walks the torrents directory and matches lost
	// rows against recomputed file hashes. Tolerates operator file moves.
	ReconcileStrategyScan = "scan"
	// ReconcileStrategyHashed expects files keyed by content hash
	// ({hash_v2}.torrent) and skips the directory scan entirely.
	ReconcileStrategyHashed = "hashed"
)

// Config represents the application configuration
type Config struct {
	Version string

	Host string `toml:"host" mapstructure:"host"`
	Port int    `toml:"port" mapstructure:"port"`

	// ExternalURL is the public base URL embedded in grab links handed to
	// Torznab clients. No trailing slash.
	ExternalURL string `toml:"externalUrl" mapstructure:"externalUrl"`
	SiteName    string `toml:"siteName" mapstructure:"siteName"`

	// SessionSecret signs the scoped access tokens embedded in feed links.
	SessionSecret string `toml:"sessionSecret" mapstructure:"sessionSecret"`

	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`

	DataDir string `toml:"dataDir" mapstructure:"dataDir"`
	// TorrentsDir holds the uploaded .torrent files. Defaults to
	// <dataDir>/torrents when empty.
	TorrentsDir string `toml:"torrentsDir" mapstructure:"torrentsDir"`

	PprofEnabled          bool   `toml:"pprofEnabled" mapstructure:"pprofEnabled"`
	MetricsEnabled        bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost           string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort           int    `toml:"metricsPort" mapstructure:"metricsPort"`
	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers"`

	RedisAddr     string `toml:"redisAddr" mapstructure:"redisAddr"`
	RedisPassword string `toml:"redisPassword" mapstructure:"redisPassword"`
	RedisDB       int    `toml:"redisDb" mapstructure:"redisDb"`

	// MinClientVersion is the lowest client version accepted at check-in.
	// Empty disables the gate.
	MinClientVersion string `toml:"minClientVersion" mapstructure:"minClientVersion"`

	ReconcileStrategy string        `toml:"reconcileStrategy" mapstructure:"reconcileStrategy"`
	ReconcileInterval time.Duration `toml:"reconcileInterval" mapstructure:"reconcileInterval"`
	// HashWorkers bounds the CPU pool used for hash recomputation.
	// Zero means one worker per CPU.
	HashWorkers int `toml:"hashWorkers" mapstructure:"hashWorkers"`

	PeerTimeout       time.Duration `toml:"peerTimeout" mapstructure:"peerTimeout"`
	PeerSweepInterval time.Duration `toml:"peerSweepInterval" mapstructure:"peerSweepInterval"`
	PeerSweepBatch    int           `toml:"peerSweepBatch" mapstructure:"peerSweepBatch"`

	StatsRefreshInterval time.Duration `toml:"statsRefreshInterval" mapstructure:"statsRefreshInterval"`

	StaleThreshold     time.Duration `toml:"staleThreshold" mapstructure:"staleThreshold"`
	StaleSweepInterval time.Duration `toml:"staleSweepInterval" mapstructure:"staleSweepInterval"`

	ClientCheckInterval time.Duration `toml:"clientCheckInterval" mapstructure:"clientCheckInterval"`
	ClientDialTimeout   time.Duration `toml:"clientDialTimeout" mapstructure:"clientDialTimeout"`

	SyncBatchSize int `toml:"syncBatchSize" mapstructure:"syncBatchSize"`

	// TokenTTL bounds the lifetime of grab tokens minted into feed links.
	TokenTTL time.Duration `toml:"tokenTtl" mapstructure:"tokenTtl"`

	// HighLatencyThreshold marks requests slower than this for warn-level logging.
	HighLatencyThreshold time.Duration `toml:"highLatencyThreshold" mapstructure:"highLatencyThreshold"`
}

// Validate checks invariants that cannot be expressed as simple defaults.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	switch c.ReconcileStrategy {
	case ReconcileStrategyScan, ReconcileStrategyHashed:
	default:
		return fmt.Errorf("invalid reconcileStrategy %q: must be %q or %q",
			c.ReconcileStrategy, ReconcileStrategyScan, ReconcileStrategyHashed)
	}

	if c.PeerTimeout <= 0 {
		return errors.New("peerTimeout must be positive")
	}
	if c.PeerSweepInterval <= 0 {
		return errors.New("peerSweepInterval must be positive")
	}
	if c.PeerSweepBatch <= 0 {
		return errors.New("peerSweepBatch must be positive")
	}
	if c.StaleThreshold <= 0 {
		return errors.New("staleThreshold must be positive")
	}
	if c.SyncBatchSize <= 0 {
		return errors.New("syncBatchSize must be positive")
	}
	if c.SessionSecret == "" {
		return errors.New("sessionSecret must not be empty")
	}

	return nil
}
