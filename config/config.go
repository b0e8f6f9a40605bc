package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Client     ClientConfig     `yaml:"client"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Connection ConnectionConfig `yaml:"connection"`
	Poller     PollerConfig     `yaml:"poller"`
	Pruner     PrunerConfig     `yaml:"pruner"`
	Account    AccountConfig    `yaml:"account"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Log        LogConfig        `yaml:"log"`
}

// ClientConfig holds the default server and the topics and credentials seeded at start.
type ClientConfig struct {
	DefaultBaseURL string               `yaml:"default_base_url"`
	Subscriptions  []SubscriptionConfig `yaml:"subscriptions"`
	Users          []UserConfig         `yaml:"users"`
}

// SubscriptionConfig is a topic subscribed when the daemon starts.
type SubscriptionConfig struct {
	BaseURL          string `yaml:"base_url"`
	Topic            string `yaml:"topic"`
	DisplayName      string `yaml:"display_name"`
	NotificationType string `yaml:"notification_type"`
}

// UserConfig is a credential for one server.
type UserConfig struct {
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`
}

// ServerConfig holds the local HTTP API configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateBurst       int     `yaml:"rate_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the local store connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnectionConfig controls the per-topic streams.
type ConnectionConfig struct {
	BackoffSeconds          []int           `yaml:"backoff_seconds"`
	Backoff                 []time.Duration `yaml:"-"`
	KeepaliveTimeoutSeconds int             `yaml:"keepalive_timeout_seconds"`
	KeepaliveTimeout        time.Duration   `yaml:"-"`
	RefreshIntervalSeconds  int             `yaml:"refresh_interval_seconds"`
	RefreshInterval         time.Duration   `yaml:"-"`
}

// PollerConfig controls the catch-up poller.
type PollerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"`
	RatePerSec      float64       `yaml:"rate_per_sec"`
	Burst           int           `yaml:"burst"`
}

// PrunerConfig controls the notification pruner.
type PrunerConfig struct {
	IntervalSeconds     int           `yaml:"interval_seconds"`
	Interval            time.Duration `yaml:"-"`
	InitialDelaySeconds int           `yaml:"initial_delay_seconds"`
	InitialDelay        time.Duration `yaml:"-"`
}

// AccountConfig controls remote account sync.
type AccountConfig struct {
	Enabled             bool          `yaml:"enabled"`
	SyncIntervalSeconds int           `yaml:"sync_interval_seconds"`
	SyncInterval        time.Duration `yaml:"-"`
	CacheTTLSeconds     int           `yaml:"cache_ttl_seconds"`
}

// PushConfig holds the VAPID keys used to forward notifications to push
// targets and this device's push subscription used for background topics.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
	Endpoint   string `yaml:"endpoint"`
	P256DH     string `yaml:"p256dh"`
	Auth       string `yaml:"auth"`
}

// WorkerPoolConfig holds the configuration for the delivery worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// LogConfig holds the logger configuration.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultBackoffSeconds is the reconnect schedule used when none is configured.
var DefaultBackoffSeconds = []int{5, 10, 15, 20, 30, 45, 60, 120}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset values and derives the durations.
func (cfg *Config) ApplyDefaults() {
	if cfg.Client.DefaultBaseURL == "" {
		cfg.Client.DefaultBaseURL = "https://ntfy.sh"
	}

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8089
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateBurst <= 0 {
		cfg.Server.RateBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 5
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "notify-sync.db"
	}

	if len(cfg.Connection.BackoffSeconds) == 0 {
		cfg.Connection.BackoffSeconds = DefaultBackoffSeconds
	}
	cfg.Connection.Backoff = make([]time.Duration, 0, len(cfg.Connection.BackoffSeconds))
	for _, s := range cfg.Connection.BackoffSeconds {
		cfg.Connection.Backoff = append(cfg.Connection.Backoff, time.Duration(s)*time.Second)
	}
	if cfg.Connection.KeepaliveTimeoutSeconds <= 0 {
		cfg.Connection.KeepaliveTimeoutSeconds = 120
	}
	cfg.Connection.KeepaliveTimeout = time.Duration(cfg.Connection.KeepaliveTimeoutSeconds) * time.Second
	if cfg.Connection.RefreshIntervalSeconds <= 0 {
		cfg.Connection.RefreshIntervalSeconds = 60
	}
	cfg.Connection.RefreshInterval = time.Duration(cfg.Connection.RefreshIntervalSeconds) * time.Second

	if cfg.Poller.IntervalSeconds <= 0 {
		cfg.Poller.IntervalSeconds = 300
	}
	cfg.Poller.Interval = time.Duration(cfg.Poller.IntervalSeconds) * time.Second
	if cfg.Poller.RatePerSec <= 0 {
		cfg.Poller.RatePerSec = 2
	}
	if cfg.Poller.Burst <= 0 {
		cfg.Poller.Burst = 2
	}

	if cfg.Pruner.IntervalSeconds <= 0 {
		cfg.Pruner.IntervalSeconds = 3600
	}
	cfg.Pruner.Interval = time.Duration(cfg.Pruner.IntervalSeconds) * time.Second
	if cfg.Pruner.InitialDelaySeconds <= 0 {
		cfg.Pruner.InitialDelaySeconds = 15
	}
	cfg.Pruner.InitialDelay = time.Duration(cfg.Pruner.InitialDelaySeconds) * time.Second

	if cfg.Account.SyncIntervalSeconds <= 0 {
		cfg.Account.SyncIntervalSeconds = 900
	}
	cfg.Account.SyncInterval = time.Duration(cfg.Account.SyncIntervalSeconds) * time.Second
	if cfg.Account.CacheTTLSeconds <= 0 {
		cfg.Account.CacheTTLSeconds = 30
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
