package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"bookcatalog/internal/breaker"
)

// ConfigPath is the default config location, overridable with CATALOG_CONFIG.
var ConfigPath = envOr("CATALOG_CONFIG", "config.yaml")

// BreakerConfig tunes the circuit around book-info calls.
type BreakerConfig struct {
	MinRequests      uint32  `yaml:"minRequests"`
	FailureRatio     float64 `yaml:"failureRatio"`
	Interval         string  `yaml:"interval"`
	OpenTimeout      string  `yaml:"openTimeout"`
	HalfOpenRequests uint32  `yaml:"halfOpenRequests"`
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                      string        `yaml:"port"`
	LogLevel                  string        `yaml:"logLevel"`
	BookInfoURL               string        `yaml:"bookInfoURL"`
	BookInfoTimeout           string        `yaml:"bookInfoTimeout"`
	DatabaseURL               string        `yaml:"databaseURL"`
	RedisAddr                 string        `yaml:"redisAddr"`
	RedisPassword             string        `yaml:"redisPassword"`
	CatalogRateLimitPerMinute int           `yaml:"catalogRateLimitPerMinute"`
	LookupConcurrency         int           `yaml:"lookupConcurrency"`
	TrustedProxyCIDRs         []string      `yaml:"trustedProxyCidrs"`
	InternalJWTKeyID          string        `yaml:"internalJwtKeyId"`
	InternalJWTPrivateKeyPath string        `yaml:"internalJwtPrivateKeyPath"`
	Breaker                   BreakerConfig `yaml:"breaker"`
}

// Load reads config from path (defaults to ConfigPath), then applies env overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("CATALOG_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("BOOK_INFO_URL"); v != "" {
		cfg.BookInfoURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("BOOK_INFO_TIMEOUT"); v != "" {
		cfg.BookInfoTimeout = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("CATALOG_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.CatalogRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("CATALOG_LOOKUP_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.LookupConcurrency = n
		}
	}
	if v := os.Getenv("CATALOG_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("CATALOG_INTERNAL_JWT_PRIVATE_KEY_PATH"); v != "" {
		cfg.InternalJWTPrivateKeyPath = strings.TrimSpace(v)
	}
	if v := os.Getenv("CATALOG_BREAKER_OPEN_TIMEOUT"); v != "" {
		cfg.Breaker.OpenTimeout = strings.TrimSpace(v)
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.BookInfoURL == "" {
		return errors.New("config: bookInfoURL is required (set in config.yaml or BOOK_INFO_URL)")
	}
	u, err := url.Parse(cfg.BookInfoURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: bookInfoURL %q must be an absolute URL", cfg.BookInfoURL)
	}
	if cfg.CatalogRateLimitPerMinute < 0 {
		return errors.New("config: catalogRateLimitPerMinute must be >= 0")
	}
	if cfg.CatalogRateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when catalogRateLimitPerMinute > 0")
	}
	if cfg.LookupConcurrency < 0 {
		return errors.New("config: lookupConcurrency must be >= 0")
	}
	if cfg.Breaker.FailureRatio < 0 || cfg.Breaker.FailureRatio > 1 {
		return errors.New("config: breaker.failureRatio must be within 0..1")
	}
	if _, err := ParseDuration("bookInfoTimeout", cfg.BookInfoTimeout); err != nil {
		return err
	}
	if _, err := cfg.BreakerPolicy(); err != nil {
		return err
	}
	return nil
}

// BreakerPolicy converts the breaker section into a policy.
// Unset values keep the breaker defaults.
func (c FileConfig) BreakerPolicy() (breaker.Policy, error) {
	interval, err := ParseDuration("breaker.interval", c.Breaker.Interval)
	if err != nil {
		return breaker.Policy{}, err
	}
	openTimeout, err := ParseDuration("breaker.openTimeout", c.Breaker.OpenTimeout)
	if err != nil {
		return breaker.Policy{}, err
	}
	return breaker.Policy{
		Name:             "book-info",
		MinRequests:      c.Breaker.MinRequests,
		FailureRatio:     c.Breaker.FailureRatio,
		Interval:         interval,
		OpenTimeout:      openTimeout,
		HalfOpenRequests: c.Breaker.HalfOpenRequests,
	}, nil
}

// ParseDuration parses an optional duration field. Empty means zero.
func ParseDuration(field, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s duration: %w", field, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("config: %s must not be negative", field)
	}
	return dur, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
