package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for invalid values.
//
// Struct-tag validation (via go-playground/validator) covers ranges and
// enumerations; cross-field checks that tags cannot express follow after.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if cfg.Media.MaxWidth%2 != 0 || cfg.Media.MaxHeight%2 != 0 {
		return fmt.Errorf("media max dimensions must be even (codec requirement), got %dx%d",
			cfg.Media.MaxWidth, cfg.Media.MaxHeight)
	}

	return nil
}
