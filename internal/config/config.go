package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MinTokenLength is the shortest bot token accepted.
const MinTokenLength = 45

// AppConfig holds all configuration loaded from env or YAML.
type AppConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	HTTP     HTTPConfig     `yaml:"http"`
	Storage  StorageConfig  `yaml:"storage"`
	Throttle ThrottleConfig `yaml:"throttle"`
	Logging  LoggingConfig  `yaml:"logging"`
	Audit    AuditConfig    `yaml:"audit"`
}

// TelegramConfig describes Telegram bot settings.
type TelegramConfig struct {
	Token           string `yaml:"token"`
	PollTimeout     int    `yaml:"poll_timeout"`
	SendRatePerSec  int    `yaml:"send_rate_per_sec"`
	SilentByDefault bool   `yaml:"silent_by_default"`
	// AllowedChatIDs limits registration; empty admits everyone.
	AllowedChatIDs []int64 `yaml:"allowed_chat_ids"`
}

// HTTPConfig configures the relay endpoint.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// RateLimitPerMin caps /out requests per client IP; 0 disables.
	RateLimitPerMin int `yaml:"rate_limit_per_min"`
}

// StorageConfig selects where registered users are kept.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// ThrottleConfig tunes duplicate suppression.
type ThrottleConfig struct {
	RetentionSeconds int `yaml:"retention_seconds"`
	SweepMinutes     int `yaml:"sweep_minutes"`
}

// LoggingConfig controls log level/output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuditConfig points at the delivery audit log. Empty disables it.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// Load reads YAML config (if present) and overrides with env vars.
func Load(path string) (*AppConfig, error) {
	cfg := defaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			b, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse yaml: %w", err)
			}
		}
	}

	overrideFromEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Telegram: TelegramConfig{
			PollTimeout:     30,
			SendRatePerSec:  25,
			SilentByDefault: true,
		},
		HTTP: HTTPConfig{Port: 4321, RateLimitPerMin: 120},
		Storage: StorageConfig{
			Driver: "file",
			Path:   "data/users.json",
		},
		Throttle: ThrottleConfig{
			RetentionSeconds: 3600,
			SweepMinutes:     10,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

func overrideFromEnv(cfg *AppConfig) {
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("ALLOWED_CHAT_IDS"); v != "" {
		ids := strings.Split(v, ",")
		cfg.Telegram.AllowedChatIDs = make([]int64, 0, len(ids))
		for _, id := range ids {
			if trimmed := strings.TrimSpace(id); trimmed != "" {
				if parsed, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
					cfg.Telegram.AllowedChatIDs = append(cfg.Telegram.AllowedChatIDs, parsed)
				}
			}
		}
	}
	if v := os.Getenv("RATE_LIMIT_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimitPerMin = n
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = n
		}
	}
	if v := os.Getenv("HTTP_HOST"); v != "" {
		cfg.HTTP.Host = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("SILENT_BY_DEFAULT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Telegram.SilentByDefault = b
		}
	}
	if v := os.Getenv("THROTTLE_RETENTION_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Throttle.RetentionSeconds = n
		}
	}
	if v := os.Getenv("AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
}

func (c *AppConfig) validate() error {
	if c.Telegram.Token == "" {
		return errors.New("telegram token required")
	}
	if len(c.Telegram.Token) < MinTokenLength {
		return errors.New("telegram token looks invalid")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}
	if c.HTTP.RateLimitPerMin < 0 {
		return errors.New("rate limit must be >=0")
	}
	if c.Throttle.RetentionSeconds <= 0 {
		return errors.New("throttle retention must be >0")
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case "", "none", "memory":
	case "file", "json", "sqlite", "sqlite3":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path required for driver %s", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("invalid storage driver: %s", c.Storage.Driver)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	return nil
}

// Addr returns the listen address.
func (c *AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// Retention returns the throttle retention as duration.
func (c *AppConfig) Retention() time.Duration {
	return time.Duration(c.Throttle.RetentionSeconds) * time.Second
}

// SweepInterval returns how often expired throttle state is dropped.
func (c *AppConfig) SweepInterval() time.Duration {
	if c.Throttle.SweepMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Throttle.SweepMinutes) * time.Minute
}
