// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/brrdex/internal/domain"
)

var envPrefix = "BRRDEX__"

const sessionSecretSize = 32

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	version string

	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config.Version = c.version

	c.resolveDataDir()

	if err := c.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	host := "localhost"
	if detectContainer() {
		host = "0.0.0.0"
	}

	// Generate a secure session secret if none is configured
	sessionSecret, err := generateSecureToken(sessionSecretSize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate secure session secret, using fallback")
		sessionSecret = "change-me-" + fmt.Sprintf("%d", os.Getpid())
	}

	c.viper.SetDefault("host", host)
	c.viper.SetDefault("port", 7430)
	c.viper.SetDefault("externalUrl", "http://localhost:7430")
	c.viper.SetDefault("siteName", "brrdex")
	c.viper.SetDefault("sessionSecret", sessionSecret)
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("torrentsDir", "")
	c.viper.SetDefault("pprofEnabled", false)
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9730)
	c.viper.SetDefault("metricsBasicAuthUsers", "")

	c.viper.SetDefault("redisAddr", "localhost:6379")
	c.viper.SetDefault("redisPassword", "")
	c.viper.SetDefault("redisDb", 0)

	c.viper.SetDefault("minClientVersion", "")

	c.viper.SetDefault("reconcileStrategy", domain.ReconcileStrategyScan)
	c.viper.SetDefault("reconcileInterval", "12h")
	c.viper.SetDefault("hashWorkers", 0)

	c.viper.SetDefault("peerTimeout", "30m")
	c.viper.SetDefault("peerSweepInterval", "1m")
	c.viper.SetDefault("peerSweepBatch", 1000)

	c.viper.SetDefault("statsRefreshInterval", "30s")

	c.viper.SetDefault("staleThreshold", "720h")
	c.viper.SetDefault("staleSweepInterval", "6h")

	c.viper.SetDefault("clientCheckInterval", "15m")
	c.viper.SetDefault("clientDialTimeout", "5s")

	c.viper.SetDefault("syncBatchSize", 5000)

	c.viper.SetDefault("tokenTtl", "10m")

	c.viper.SetDefault("highLatencyThreshold", "250ms")
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			// With an explicit config file viper reports a missing file as a
			// plain path error rather than ConfigFileNotFoundError.
			_, notFound := err.(viper.ConfigFileNotFoundError)
			if notFound || os.IsNotExist(err) {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		c.viper.SetConfigName("config")
		c.viper.AddConfigPath(".")
		c.viper.AddConfigPath(GetDefaultConfigDir())

		if err := c.viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
				if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
					return err
				}
				c.viper.SetConfigFile(defaultConfigPath)
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				c.dataDir = filepath.Dir(defaultConfigPath)
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	return nil
}

func (c *AppConfig) loadFromEnv() {
	// No AutomaticEnv(): it reads every env var and collides with
	// orchestrator-injected vars. Bind only what we recognize.
	c.viper.BindEnv("host", envPrefix+"HOST")
	c.viper.BindEnv("port", envPrefix+"PORT")
	c.viper.BindEnv("externalUrl", envPrefix+"EXTERNAL_URL")
	c.viper.BindEnv("siteName", envPrefix+"SITE_NAME")
	c.bindOrReadFromFile("sessionSecret", envPrefix+"SESSION_SECRET")
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
	c.viper.BindEnv("dataDir", envPrefix+"DATA_DIR")
	c.viper.BindEnv("torrentsDir", envPrefix+"TORRENTS_DIR")
	c.viper.BindEnv("pprofEnabled", envPrefix+"PPROF_ENABLED")
	c.viper.BindEnv("metricsEnabled", envPrefix+"METRICS_ENABLED")
	c.viper.BindEnv("metricsHost", envPrefix+"METRICS_HOST")
	c.viper.BindEnv("metricsPort", envPrefix+"METRICS_PORT")
	c.viper.BindEnv("metricsBasicAuthUsers", envPrefix+"METRICS_BASIC_AUTH_USERS")
	c.viper.BindEnv("redisAddr", envPrefix+"REDIS_ADDR")
	c.bindOrReadFromFile("redisPassword", envPrefix+"REDIS_PASSWORD")
	c.viper.BindEnv("redisDb", envPrefix+"REDIS_DB")
	c.viper.BindEnv("minClientVersion", envPrefix+"MIN_CLIENT_VERSION")
	c.viper.BindEnv("reconcileStrategy", envPrefix+"RECONCILE_STRATEGY")
	c.viper.BindEnv("reconcileInterval", envPrefix+"RECONCILE_INTERVAL")
	c.viper.BindEnv("hashWorkers", envPrefix+"HASH_WORKERS")
	c.viper.BindEnv("peerTimeout", envPrefix+"PEER_TIMEOUT")
	c.viper.BindEnv("peerSweepInterval", envPrefix+"PEER_SWEEP_INTERVAL")
	c.viper.BindEnv("peerSweepBatch", envPrefix+"PEER_SWEEP_BATCH")
	c.viper.BindEnv("statsRefreshInterval", envPrefix+"STATS_REFRESH_INTERVAL")
	c.viper.BindEnv("staleThreshold", envPrefix+"STALE_THRESHOLD")
	c.viper.BindEnv("staleSweepInterval", envPrefix+"STALE_SWEEP_INTERVAL")
	c.viper.BindEnv("clientCheckInterval", envPrefix+"CLIENT_CHECK_INTERVAL")
	c.viper.BindEnv("clientDialTimeout", envPrefix+"CLIENT_DIAL_TIMEOUT")
	c.viper.BindEnv("syncBatchSize", envPrefix+"SYNC_BATCH_SIZE")
	c.viper.BindEnv("tokenTtl", envPrefix+"TOKEN_TTL")
	c.viper.BindEnv("highLatencyThreshold", envPrefix+"HIGH_LATENCY_THRESHOLD")
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		if err := c.viper.Unmarshal(c.Config); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}

		c.applyDynamicChanges()
	})
}

func (c *AppConfig) applyDynamicChanges() {
	c.Config.Version = c.version
	c.ApplyLogConfig()

	c.notifyListeners()
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	copied := *c.Config
	for _, listener := range listeners {
		listener(&copied)
	}
}

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	configTemplate := `# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "localhost" (or "0.0.0.0" in containers)
host = "{{ .host }}"

# Port
# Default: 7430
port = {{ .port }}

# Public base URL embedded in grab links handed to Torznab clients.
# No trailing slash.
externalUrl = "{{ .externalUrl }}"

# Indexer title shown in capabilities and feed responses
siteName = "{{ .siteName }}"

# Session secret
# Signs the expiring grab tokens embedded in feed links.
# Auto-generated if not provided.
# WARNING: Changing this value invalidates links in feeds already fetched by clients.
sessionSecret = "{{ .sessionSecret }}"

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/brrdex.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: {{ .logMaxSize }}
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
# Default: {{ .logMaxBackups }}
#logMaxBackups = {{ .logMaxBackups }}

# Data directory (default: next to config file)
# Database file (brrdex.db) will be created inside this directory
#dataDir = "/var/db/brrdex"

# Torrent file storage (default: <dataDir>/torrents)
#torrentsDir = "/var/db/brrdex/torrents"

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Redis swarm store
# Peer liveness records and request telemetry live here.
redisAddr = "{{ .redisAddr }}"
#redisPassword = ""
#redisDb = 0

# Minimum accepted client version at check-in (semver). Empty disables the gate.
#minClientVersion = "1.9.0"

# Catalog reconciliation
# Strategy: "scan" rehashes candidate files to recover moved torrents,
# "hashed" expects files stored as {hash}.torrent and skips the scan.
# A deployment runs exactly one strategy.
reconcileStrategy = "{{ .reconcileStrategy }}"
#reconcileInterval = "12h"
# CPU workers for hash recomputation (0 = one per CPU)
#hashWorkers = 0

# Swarm peer expiry
# Peers unseen for peerTimeout are purged by the expiry sweep.
#peerTimeout = "30m"
#peerSweepInterval = "1m"
#peerSweepBatch = 1000

# Cached per-user stat refresh
#statsRefreshInterval = "30s"

# Stale torrent purge
# Rows unseen for staleThreshold are deleted along with their files.
#staleThreshold = "720h"
#staleSweepInterval = "6h"

# Client reachability probing
#clientCheckInterval = "15m"
#clientDialTimeout = "5s"

# Library sync batching
#syncBatchSize = 5000

# Grab token lifetime
#tokenTtl = "10m"

# Requests slower than this are logged at warn level
#highLatencyThreshold = "250ms"

# Prometheus Metrics
# Enable Prometheus metrics on separate port
# Default: false
#metricsEnabled = false

# Metrics server host (bind address for metrics endpoint)
# Default: "127.0.0.1"
#metricsHost = "127.0.0.1"

# Metrics server port (separate from the API listener)
# Default: 9730
#metricsPort = 9730

# Basic authentication for metrics endpoint (optional)
# Format: "username:password" or "user1:pass1,user2:pass2" for multiple users
# Leave empty to disable authentication (default)
#metricsBasicAuthUsers = ""
`

	data := map[string]any{
		"host":              c.viper.GetString("host"),
		"port":              c.viper.GetInt("port"),
		"externalUrl":       c.viper.GetString("externalUrl"),
		"siteName":          c.viper.GetString("siteName"),
		"sessionSecret":     c.viper.GetString("sessionSecret"),
		"logLevel":          c.viper.GetString("logLevel"),
		"logMaxSize":        c.viper.GetInt("logMaxSize"),
		"logMaxBackups":     c.viper.GetInt("logMaxBackups"),
		"redisAddr":         c.viper.GetString("redisAddr"),
		"reconcileStrategy": c.viper.GetString("reconcileStrategy"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	// XDG_CONFIG_HOME is set to /config in the container images
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, "brrdex")
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "brrdex")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "brrdex")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "brrdex")
	}
}

func detectContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/dev/.lxc-boot-id"); err == nil {
		return true
	}
	if os.Getpid() == 1 {
		return true
	}
	return false
}

func generateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	setLogLevel(c.Config.LogLevel)

	writer := c.baseLogWriter()

	if c.Config.LogPath != "" {
		multiWriter, err := setupLogFile(c.Config.LogPath, writer, c.Config.LogMaxSize, c.Config.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}

	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		return writer
	}
	return os.Stderr
}

func (c *AppConfig) baseLogWriter() io.Writer {
	return baseLogWriter(c.version)
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// Used by CLI entry points before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(baseLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath determines the actual config file path from the provided directory or file path
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

// resolveDataDir sets the data directory based on configuration
func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	default:
		c.dataDir = "."
	}

	if c.Config.TorrentsDir == "" {
		c.Config.TorrentsDir = filepath.Join(c.dataDir, "torrents")
	}
}

// GetDatabasePath returns the path to the database file
func (c *AppConfig) GetDatabasePath() string {
	return filepath.Join(c.dataDir, "brrdex.db")
}

// GetDataDir returns the resolved data directory path.
func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// TokenSecret returns the key used to sign scoped grab tokens.
func (c *AppConfig) TokenSecret() []byte {
	secret := c.Config.SessionSecret
	if len(secret) >= sessionSecretSize {
		return []byte(secret[:sessionSecretSize])
	}

	padded := make([]byte, sessionSecretSize)
	copy(padded, secret)
	return padded
}

// Sets viper variable if environment variable with _FILE suffix is present
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVar string) {
	envVarFile := envVar + "_FILE"
	if filePath := os.Getenv(envVarFile); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", filePath).Msg("Could not read " + envVarFile)
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
	} else {
		c.viper.BindEnv(viperVar, envVar)
	}
}
