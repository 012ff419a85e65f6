package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"eventnet/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig          `yaml:"app"`
	Logging       LoggingConfig      `yaml:"logging"`
	Backend       BackendConfig      `yaml:"backend"`
	Storage       StorageConfig      `yaml:"storage"`
	Redis         RedisConfig        `yaml:"redis"`
	Queue         QueueConfig        `yaml:"queue"`
	Sync          SyncConfig         `yaml:"sync"`
	Poller        PollerConfig       `yaml:"poller"`
	Notifications NotificationConfig `yaml:"notifications"`
	Telegram      TelegramConfig     `yaml:"telegram"`
	API           APIConfig          `yaml:"api"`
	Monitoring    MonitoringConfig   `yaml:"monitoring"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type BackendConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Token     string        `yaml:"token"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit RateLimit     `yaml:"rate_limit"`
	// CacheTTL включает кэширование ответов /updates в Redis.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type StorageConfig struct {
	// Driver is one of sqlite, postgres, redis, memory.
	Driver   string         `yaml:"driver"`
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`
	Failover bool           `yaml:"failover"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Table    string `yaml:"table"`
}

// DSN renders a lib/pq connection string.
func (p PostgresConfig) DSN() string {
	parts := []string{
		fmt.Sprintf("host=%s", p.Host),
		fmt.Sprintf("port=%d", p.Port),
		fmt.Sprintf("dbname=%s", p.DBName),
		fmt.Sprintf("sslmode=%s", p.SSLMode),
	}
	if p.User != "" {
		parts = append(parts, fmt.Sprintf("user=%s", p.User))
	}
	if p.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", p.Password))
	}
	return strings.Join(parts, " ")
}

type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

type QueueConfig struct {
	// MaxAttempts moves an action to the dead-letter list after that many
	// failed deliveries. Zero keeps actions forever.
	MaxAttempts int `yaml:"max_attempts"`
}

type SyncConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	OnFocus  bool          `yaml:"on_focus"`
	OnOnline bool          `yaml:"on_online"`
}

type PollerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	ActiveInterval   time.Duration `yaml:"active_interval"`
	InactiveInterval time.Duration `yaml:"inactive_interval"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	MaxRetries       int           `yaml:"max_retries"`
}

type NotificationConfig struct {
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	MaxItems        int           `yaml:"max_items"`
	Present         bool          `yaml:"present"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
	Debug    bool   `yaml:"debug"`
}

type APIConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Port      int           `yaml:"port"`
	Auth      APIAuthConfig `yaml:"auth"`
	RateLimit RateLimit     `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool          `yaml:"prometheus_enabled"`
	PrometheusPort    int           `yaml:"prometheus_port"`
	ProbeInterval     time.Duration `yaml:"probe_interval"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; variables from it feed ${VAR} expansion below.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return errors.New("backend base_url is required")
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			return errors.New("storage path is required for sqlite")
		}
	case "postgres":
		if c.Storage.Postgres.Host == "" || c.Storage.Postgres.DBName == "" {
			return errors.New("storage postgres host and dbname are required")
		}
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("redis address is required for redis storage")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Poller.InactiveInterval < c.Poller.ActiveInterval {
		return errors.New("poller inactive_interval must not be shorter than active_interval")
	}
	if c.Poller.MaxDelay < c.Poller.BaseDelay {
		return errors.New("poller max_delay must not be shorter than base_delay")
	}
	if c.Queue.MaxAttempts < 0 {
		return errors.New("queue max_attempts must be >= 0")
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client %s", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "eventnet-syncagent"
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 10 * time.Second
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = "data/syncagent.db"
	}
	if c.Storage.Postgres.Port == 0 {
		c.Storage.Postgres.Port = 5432
	}
	if c.Storage.Postgres.SSLMode == "" {
		c.Storage.Postgres.SSLMode = "disable"
	}
	if c.Storage.Postgres.Table == "" {
		c.Storage.Postgres.Table = "kv_store"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "eventnet:"
	}

	if c.Sync.Interval == 0 {
		c.Sync.Interval = models.DefaultSyncInterval
	}

	if c.Poller.ActiveInterval == 0 {
		c.Poller.ActiveInterval = models.DefaultActiveInterval
	}
	if c.Poller.InactiveInterval == 0 {
		c.Poller.InactiveInterval = models.DefaultInactiveInterval
	}
	if c.Poller.BaseDelay == 0 {
		c.Poller.BaseDelay = models.DefaultBackoffBase
	}
	if c.Poller.MaxDelay == 0 {
		c.Poller.MaxDelay = models.DefaultBackoffMax
	}
	if c.Poller.MaxRetries == 0 {
		c.Poller.MaxRetries = models.DefaultPollMaxRetries
	}

	if c.Notifications.CleanupInterval == 0 {
		c.Notifications.CleanupInterval = models.DefaultCleanupInterval
	}
	if c.Notifications.MaxItems == 0 {
		c.Notifications.MaxItems = models.DefaultMaxNotifications
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Monitoring.ProbeInterval == 0 {
		c.Monitoring.ProbeInterval = models.DefaultProbeInterval
	}
}
