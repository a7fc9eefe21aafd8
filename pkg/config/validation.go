package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags (`validate:"..."`) plus lock-table-specific
// invariants that a tag can't express, such as ShardCount being a power of
// two within the fold-XOR's 8-bit range.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if cfg.Proxy.ShardCount < 0 || cfg.Proxy.ShardCount > 256 {
		return fmt.Errorf("proxy.shard_count must be between 1 and 256, got %d", cfg.Proxy.ShardCount)
	}
	if cfg.Proxy.ShardCount&(cfg.Proxy.ShardCount-1) != 0 {
		return fmt.Errorf("proxy.shard_count must be a power of two, got %d", cfg.Proxy.ShardCount)
	}
	return nil
}
