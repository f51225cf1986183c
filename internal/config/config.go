package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/3xpluto/batch-recorder/internal/netx"
)

const DefaultAddr = "127.0.0.1:8765"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Admin     AdminConfig     `yaml:"admin"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Addr                     string   `yaml:"addr"`
	MaxBodyBytes             int64    `yaml:"max_body_bytes"`
	MaxInFlight              int      `yaml:"max_in_flight"`
	TrustedProxies           []string `yaml:"trusted_proxies"`
	ReadHeaderTimeoutSeconds int      `yaml:"read_header_timeout_seconds"`
	ReadTimeoutSeconds       int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds      int      `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds       int      `yaml:"idle_timeout_seconds"`
	ShutdownTimeoutSeconds   int      `yaml:"shutdown_timeout_seconds"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type AdminConfig struct {
	Key string `yaml:"key"` // empty hides the /-/ routes
}

type AuthConfig struct {
	HMACSecret string `yaml:"hmac_secret"` // empty disables bearer auth
}

type RateLimitConfig struct {
	Enabled bool           `yaml:"enabled"`
	RPS     float64        `yaml:"rps"`
	Burst   float64        `yaml:"burst"`
	Backend string         `yaml:"backend"` // memory | redis
	Redis   RedisConfig    `yaml:"redis"`
	Memory  MemoryRLConfig `yaml:"memory"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MemoryRLConfig struct {
	TTLSeconds     int `yaml:"ttl_seconds"`
	CleanupSeconds int `yaml:"cleanup_seconds"`
}

// Load reads path (may be empty), folds in .env and RECORDER_* variables,
// then applies defaults and validates.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// a missing .env is normal
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(&cfg, os.Getenv)

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("RECORDER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := getenv("RECORDER_ADMIN_KEY"); v != "" {
		cfg.Admin.Key = v
	}
	if v := getenv("RECORDER_HMAC_SECRET"); v != "" {
		cfg.Auth.HMACSecret = v
	}
	if v := getenv("RECORDER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("RECORDER_REDIS_ADDR"); v != "" {
		cfg.RateLimit.Redis.Addr = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 10 << 20 // 10 MiB
	}
	if cfg.Server.ReadHeaderTimeoutSeconds == 0 {
		cfg.Server.ReadHeaderTimeoutSeconds = 5
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 30
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 30
	}
	if cfg.Server.IdleTimeoutSeconds == 0 {
		cfg.Server.IdleTimeoutSeconds = 60
	}
	if cfg.Server.ShutdownTimeoutSeconds == 0 {
		cfg.Server.ShutdownTimeoutSeconds = 5
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "memory"
	}
	if cfg.RateLimit.Memory.TTLSeconds == 0 {
		cfg.RateLimit.Memory.TTLSeconds = 300
	}
	if cfg.RateLimit.Memory.CleanupSeconds == 0 {
		cfg.RateLimit.Memory.CleanupSeconds = 60
	}
}

func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return errors.New("server.addr is required")
	}
	if cfg.Server.MaxBodyBytes < 0 {
		return errors.New("server.max_body_bytes cannot be negative")
	}
	if cfg.Server.MaxInFlight < 0 {
		return errors.New("server.max_in_flight cannot be negative")
	}
	if cfg.Server.ShutdownTimeoutSeconds < 0 {
		return errors.New("server.shutdown_timeout_seconds cannot be negative")
	}
	if _, err := netx.ParsePrefixSet(cfg.Server.TrustedProxies); err != nil {
		return fmt.Errorf("server.trusted_proxies: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Log.Format)) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be 'json' or 'text'")
	}

	if cfg.Metrics.Enabled {
		p := cfg.Metrics.Path
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("metrics.path must start with '/'")
		}
		if p == HealthPath || p == BatchPath || strings.HasPrefix(p, AdminPrefix) {
			return fmt.Errorf("metrics.path %q collides with a built-in route", p)
		}
	}

	rl := cfg.RateLimit
	if rl.Enabled {
		if rl.RPS <= 0 {
			return fmt.Errorf("rate_limit.rps must be > 0 when enabled")
		}
		if rl.Burst <= 0 {
			return fmt.Errorf("rate_limit.burst must be > 0 when enabled")
		}
		backend := strings.ToLower(strings.TrimSpace(rl.Backend))
		if backend != "redis" && backend != "memory" {
			return fmt.Errorf("rate_limit.backend must be 'redis' or 'memory'")
		}
		if backend == "redis" && strings.TrimSpace(rl.Redis.Addr) == "" {
			return fmt.Errorf("rate_limit.redis.addr is required when backend is redis")
		}
	}
	return nil
}

// Paths owned by the recorder.
const (
	HealthPath  = "/healthz"
	BatchPath   = "/api/batch"
	AdminPrefix = "/-/"
)

func (s ServerConfig) ReadHeaderTimeout() time.Duration {
	return time.Duration(s.ReadHeaderTimeoutSeconds) * time.Second
}

func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

func (s ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSeconds) * time.Second
}

func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}
