// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the support desk service.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/supportdesk/internal/transcript"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// Config holds the server configuration settings including security controls
// and the transcript backend.
type Config struct {
	Port           string             `yaml:"port"`
	Env            string             `yaml:"env"`
	LogLevel       string             `yaml:"log_level"`
	AllowedOrigins []string           `yaml:"allowed_origins"`
	MaxMessageSize int64              `yaml:"max_message_size"`
	SendBufferSize int                `yaml:"send_buffer_size"`
	RateLimit      RateLimitConfig    `yaml:"rate_limit"`
	Store          transcript.Options `yaml:"store"`
}

const (
	defaultPort           = ":8080"
	defaultMaxMessageSize = 4096
	defaultSendBufferSize = 256
	defaultBurst          = 5
	defaultRefillInterval = time.Second
)

func defaultConfig() Config {
	return Config{
		Port:     defaultPort,
		Env:      "development",
		LogLevel: "info",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		SendBufferSize: defaultSendBufferSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		Store: transcript.Options{
			Driver: transcript.DriverJSON,
		},
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// Sanitize replaces invalid values with defaults and normalizes the port.
func (c *Config) Sanitize() {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}

	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}

	if c.SendBufferSize <= 0 {
		c.SendBufferSize = defaultSendBufferSize
	}

	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = defaultBurst
	}

	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = defaultRefillInterval
	}

	if c.Store.Driver == "" {
		c.Store.Driver = transcript.DriverJSON
	}
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// LoadConfig layers defaults, an optional YAML file, a .env file and the
// process environment, in that order, and sanitizes the result.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := applyConfigFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	applyEnv(&cfg)
	cfg.Sanitize()
	return &cfg, nil
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	applyEnv(&cfg)
	cfg.Sanitize()
	return &cfg
}

func applyConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config file %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "parse config file %s", path)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if size := os.Getenv("SEND_BUFFER_SIZE"); size != "" {
		cfg.SendBufferSize = parseIntValue(size, cfg.SendBufferSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}

	if driver := os.Getenv("STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}

	if path := os.Getenv("STORE_PATH"); path != "" {
		cfg.Store.Path = path
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Store.RedisURL = redisURL
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseRefillInterval accepts whole seconds ("2") or a Go duration ("500ms").
func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
