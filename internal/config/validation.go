package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate validates the configuration using struct tags registered with
// the go-playground/validator library, then checks the cross-field rules
// the tags cannot express.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	switch cfg.Store.Backend {
	case BackendRedis:
		if cfg.Store.Redis.URL == "" {
			return errors.New("config validation failed: store.redis.url is required for the redis backend")
		}
	case BackendSQLite:
		if cfg.Store.SQLite.Path == "" {
			return errors.New("config validation failed: store.sqlite.path is required for the sqlite backend")
		}
	}
	return nil
}
