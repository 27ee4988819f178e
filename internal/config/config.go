// Package config provides configuration loading, validation, and defaults for
// testimonials-cache.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for testimonials-cache.
type Config struct {
	Log      LogConfig      `yaml:"log"      json:"log"`
	Server   ServerConfig   `yaml:"server"   json:"server"`
	Refresh  RefreshConfig  `yaml:"refresh"  json:"refresh"`
	Store    StoreConfig    `yaml:"store"    json:"store"`
	Feed     FeedConfig     `yaml:"feed"     json:"feed"`
	Registry RegistryConfig `yaml:"registry" json:"registry"`
	Page     PageConfig     `yaml:"page"     json:"page"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"  json:"level"  env:"TSC_LOG_LEVEL"  validate:"omitempty,oneof=trace debug info warn error fatal panic"`
	Format string `yaml:"format" json:"format" env:"TSC_LOG_FORMAT" validate:"omitempty,oneof=text json"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	ListenAddress       string `yaml:"listen_address"        json:"listen_address"        env:"TSC_LISTEN_ADDRESS"       validate:"required"`
	EnablePprof         bool   `yaml:"enable_pprof"          json:"enable_pprof"          env:"TSC_ENABLE_PPROF"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"  json:"read_timeout_seconds"  env:"TSC_READ_TIMEOUT_SECONDS"  validate:"omitempty,min=1"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds" json:"write_timeout_seconds" env:"TSC_WRITE_TIMEOUT_SECONDS" validate:"omitempty,min=1"`
}

// ReadTimeout returns the read timeout as a time.Duration.
func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the write timeout as a time.Duration.
func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// RefreshConfig holds the refresh endpoint and scheduler settings.
type RefreshConfig struct {
	Key               string `yaml:"key"                 json:"key"                 env:"TSC_REFRESH_KEY"`
	Header            string `yaml:"header"              json:"header"              env:"TSC_REFRESH_HEADER"              validate:"required"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"     json:"timeout_seconds"     env:"TSC_REFRESH_TIMEOUT_SECONDS"     validate:"min=1"`
	IntervalSeconds   int    `yaml:"interval_seconds"    json:"interval_seconds"    env:"TSC_REFRESH_INTERVAL_SECONDS"    validate:"min=0"`
	StaleAfterMinutes int    `yaml:"stale_after_minutes" json:"stale_after_minutes" env:"TSC_REFRESH_STALE_AFTER_MINUTES" validate:"min=1"`
}

// Timeout bounds a single refresh cycle.
func (c RefreshConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Interval returns the built-in scheduler interval. Zero disables it.
func (c RefreshConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// StaleAfter returns the freshness threshold.
func (c RefreshConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// StoreConfig selects and configures the key-value backend.
type StoreConfig struct {
	Backend string       `yaml:"backend" json:"backend" env:"TSC_STORE_BACKEND" validate:"required,oneof=memory redis sqlite"`
	Redis   RedisConfig  `yaml:"redis"   json:"redis"`
	SQLite  SQLiteConfig `yaml:"sqlite"  json:"sqlite"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL          string `yaml:"url"            json:"url"            env:"TSC_REDIS_URL"`
	PoolSize     int    `yaml:"pool_size"      json:"pool_size"      env:"TSC_REDIS_POOL_SIZE"      validate:"omitempty,min=1"`
	MinIdleConns int    `yaml:"min_idle_conns" json:"min_idle_conns" env:"TSC_REDIS_MIN_IDLE_CONNS" validate:"omitempty,min=0"`
}

// SQLiteConfig holds the SQLite database location.
type SQLiteConfig struct {
	Path string `yaml:"path" json:"path" env:"TSC_SQLITE_PATH"`
}

// FeedConfig holds outbound feed client settings.
type FeedConfig struct {
	TimeoutSeconds         int    `yaml:"timeout_seconds"           json:"timeout_seconds"           env:"TSC_FEED_TIMEOUT_SECONDS" validate:"min=1"`
	MaxRequestsPerSecond   int    `yaml:"max_requests_per_second"   json:"max_requests_per_second"   env:"TSC_FEED_MAX_RPS"         validate:"omitempty,min=0"`
	BurstRequestsPerSecond int    `yaml:"burst_requests_per_second" json:"burst_requests_per_second" env:"TSC_FEED_BURST_RPS"       validate:"omitempty,min=0"`
	UserAgent              string `yaml:"user_agent"                json:"user_agent"                env:"TSC_FEED_USER_AGENT"`
	MaxBodyBytes           int64  `yaml:"max_body_bytes"            json:"max_body_bytes"            env:"TSC_FEED_MAX_BODY_BYTES"  validate:"min=1"`
}

// Timeout returns the per-request feed timeout.
func (c FeedConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RegistryConfig locates the tenant registry file.
type RegistryConfig struct {
	Path  string `yaml:"path"  json:"path"  env:"TSC_REGISTRY_PATH"  validate:"required"`
	Watch bool   `yaml:"watch" json:"watch" env:"TSC_REGISTRY_WATCH"`
}

// PageConfig holds the brand chrome shared by all tenant pages.
type PageConfig struct {
	BrandName     string `yaml:"brand_name"     json:"brand_name"     env:"TSC_PAGE_BRAND_NAME"`
	BrandURL      string `yaml:"brand_url"      json:"brand_url"      env:"TSC_PAGE_BRAND_URL"      validate:"omitempty,url"`
	LogoURL       string `yaml:"logo_url"       json:"logo_url"       env:"TSC_PAGE_LOGO_URL"       validate:"omitempty,url"`
	StylesheetURL string `yaml:"stylesheet_url" json:"stylesheet_url" env:"TSC_PAGE_STYLESHEET_URL"`
}

// Load reads a YAML configuration file, applies defaults, applies environment
// variable overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromEnv builds a configuration from defaults and environment variables
// only, for running without a config file.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides walks the config struct and overwrites fields that have
// an "env" tag if the corresponding environment variable is set.
func applyEnvOverrides(cfg *Config) {
	applyEnvOverridesOnValue(reflect.ValueOf(cfg))
}

func applyEnvOverridesOnValue(v reflect.Value) {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return
	}

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if fieldVal.Kind() == reflect.Struct {
			applyEnvOverridesOnValue(fieldVal.Addr())
			continue
		}

		envKey := field.Tag.Get("env")
		if envKey == "" {
			continue
		}

		envVal, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}

		setFieldFromString(fieldVal, envVal)
	}
}

// setFieldFromString sets a reflect.Value from a string, supporting
// string, bool, int, int64 and []string field types. Unparseable values
// leave the field unchanged.
func setFieldFromString(field reflect.Value, raw string) {
	if !field.CanSet() {
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)

	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err == nil {
			field.SetBool(b)
		}

	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err == nil {
			field.SetInt(n)
		}

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return
		}
		parts := strings.Split(raw, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				result = append(result, s)
			}
		}
		field.Set(reflect.ValueOf(result))
	}
}

// redactString replaces a secret string with "****" if non-empty.
func redactString(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// Redacted returns a copy of the Config with sensitive fields masked.
func (c *Config) Redacted() Config {
	cp := *c
	cp.Refresh.Key = redactString(cp.Refresh.Key)
	cp.Store.Redis.URL = redactString(cp.Store.Redis.URL)
	return cp
}

// RedactedJSON returns the config as indented JSON with secrets masked.
func (c *Config) RedactedJSON() ([]byte, error) {
	redacted := c.Redacted()
	data, err := json.MarshalIndent(redacted, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling redacted config: %w", err)
	}
	return data, nil
}
