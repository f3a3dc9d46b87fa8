package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Bridge     BridgeConfig     `toml:"bridge"`
	Session    SessionConfig    `toml:"session"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Supervisor SupervisorConfig `toml:"supervisor"`
	Storage    StorageConfig    `toml:"storage"`
	Plugins    PluginsConfig    `toml:"plugins"`
	Logging    LogConfig        `toml:"logging"`
	RateLimit  RateLimitConfig  `toml:"rate_limit"`
	Debug      bool             `toml:"debug" envconfig:"DEBUG" default:"false"`
}

// ServerConfig holds the diagnostics HTTP server configuration.
type ServerConfig struct {
	Port string `toml:"port" envconfig:"PORT" default:"8000"`
	Host string `toml:"host" envconfig:"HOST" default:"127.0.0.1"`
}

// BridgeConfig holds the privileged bridge configuration.
type BridgeConfig struct {
	SocketPath  string        `toml:"socket_path" envconfig:"BRIDGE_SOCKET" default:"/data/local/tmp/smartspacer-bridge.sock"`
	RunTimeout  time.Duration `toml:"run_timeout" envconfig:"BRIDGE_RUN_TIMEOUT" default:"60s"`
	CallTimeout time.Duration `toml:"call_timeout" envconfig:"BRIDGE_CALL_TIMEOUT" default:"5s"`
	UserID      int           `toml:"user_id" envconfig:"BRIDGE_USER_ID" default:"0"`
	Enabled     bool          `toml:"enabled" envconfig:"BRIDGE_ENABLED" default:"true"`
}

// SessionConfig holds session multiplexer configuration.
type SessionConfig struct {
	PackageName     string        `toml:"package_name" envconfig:"PACKAGE_NAME" default:"com.kieronquinn.app.smartspacer"`
	UpdateInterval  time.Duration `toml:"update_interval" envconfig:"SESSION_UPDATE_INTERVAL" default:"60s"`
	TargetDebounce  time.Duration `toml:"target_debounce" envconfig:"SESSION_TARGET_DEBOUNCE" default:"50ms"`
	TargetCount     int           `toml:"target_count" envconfig:"SESSION_TARGET_COUNT" default:"10"`
	HideSensitive   string        `toml:"hide_sensitive" envconfig:"SESSION_HIDE_SENSITIVE" default:"disabled"`
	SplitLockscreen bool          `toml:"split_lockscreen" envconfig:"SESSION_SPLIT_LOCKSCREEN" default:"false"`
	SystemComponent string        `toml:"system_component" envconfig:"SESSION_SYSTEM_COMPONENT" default:""`
}

// PipelineConfig holds target aggregation configuration.
type PipelineConfig struct {
	ProviderTimeout   time.Duration `toml:"provider_timeout" envconfig:"PROVIDER_TIMEOUT" default:"2s"`
	MaxPrimaryTargets int           `toml:"max_primary_targets" envconfig:"MAX_PRIMARY_TARGETS" default:"0"`
	RefreshBuffer     time.Duration `toml:"refresh_buffer" envconfig:"REFRESH_BUFFER" default:"5s"`
}

// SupervisorConfig holds crash supervision configuration.
type SupervisorConfig struct {
	CrashThreshold   int           `toml:"crash_threshold" envconfig:"CRASH_THRESHOLD" default:"5"`
	CrashWindow      time.Duration `toml:"crash_window" envconfig:"CRASH_WINDOW" default:"10s"`
	SafeModeSecret   string        `toml:"safe_mode_secret" envconfig:"SAFE_MODE_SECRET" default:""`
	ReceiverURL      string        `toml:"receiver_url" envconfig:"SAFE_MODE_RECEIVER_URL" default:""`
	WatchPackages    []string      `toml:"watch_packages" envconfig:"SAFE_MODE_WATCH_PACKAGES" default:"com.android.systemui,com.google.android.apps.nexuslauncher"`
	ReconnectBackoff time.Duration `toml:"reconnect_backoff" envconfig:"ASI_RECONNECT_BACKOFF" default:"1m"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	DatabasePath string `toml:"database_path" envconfig:"DATABASE_PATH" default:"smartspacer.db"`
	BackupDir    string `toml:"backup_dir" envconfig:"BACKUP_DIR" default:"backups"`
}

// PluginsConfig holds plugin discovery configuration.
type PluginsConfig struct {
	ManifestDir   string `toml:"manifest_dir" envconfig:"PLUGIN_DIR" default:"plugins"`
	RepositoryURL string `toml:"repository_url" envconfig:"PLUGIN_REPOSITORY_URL" default:""`
	Watch         bool   `toml:"watch" envconfig:"PLUGIN_WATCH" default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `toml:"level" envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `toml:"development" envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration for the diagnostics API.
type RateLimitConfig struct {
	RequestsPerSecond int  `toml:"rps" envconfig:"RATE_LIMIT_RPS" default:"20"`
	Burst             int  `toml:"burst" envconfig:"RATE_LIMIT_BURST" default:"40"`
	Enabled           bool `toml:"enabled" envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadFile loads the environment and then applies a TOML file on top of it.
// Keys present in the file win; absent keys keep their environment or default value.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "127.0.0.1",
		},
		Bridge: BridgeConfig{
			SocketPath:  "/data/local/tmp/smartspacer-bridge.sock",
			RunTimeout:  60 * time.Second,
			CallTimeout: 5 * time.Second,
			UserID:      0,
			Enabled:     true,
		},
		Session: SessionConfig{
			PackageName:    "com.kieronquinn.app.smartspacer",
			UpdateInterval: 60 * time.Second,
			TargetDebounce: 50 * time.Millisecond,
			TargetCount:    10,
			HideSensitive:  "disabled",
		},
		Pipeline: PipelineConfig{
			ProviderTimeout: 2 * time.Second,
			RefreshBuffer:   5 * time.Second,
		},
		Supervisor: SupervisorConfig{
			CrashThreshold:   5,
			CrashWindow:      10 * time.Second,
			WatchPackages:    []string{"com.android.systemui", "com.google.android.apps.nexuslauncher"},
			ReconnectBackoff: time.Minute,
		},
		Storage: StorageConfig{
			DatabasePath: "smartspacer.db",
			BackupDir:    "backups",
		},
		Plugins: PluginsConfig{
			ManifestDir: "plugins",
			Watch:       true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			Enabled:           true,
		},
	}
}
