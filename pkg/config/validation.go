package config

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// Validate checks a loaded configuration for structural and cross-field
// problems. It is called by Load after defaults are applied, so zero
// values only appear where the operator explicitly set them.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	return validateCrossField(cfg)
}

// validateCrossField checks constraints that span multiple fields.
func validateCrossField(cfg *Config) error {
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry is enabled but no endpoint is configured")
	}
	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.Endpoint == "" {
		return fmt.Errorf("profiling is enabled but no endpoint is configured")
	}

	if cfg.SFTPAuthMode == "kerberos" {
		if !cfg.Kerberos.Enabled {
			return fmt.Errorf("sftp_auth_mode is kerberos but the kerberos section is disabled")
		}
		if cfg.Kerberos.Realm == "" {
			return fmt.Errorf("kerberos is enabled but no realm is configured")
		}
	}

	for _, entry := range cfg.ErrorCodePatterns {
		for _, pattern := range entry.Patterns {
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("error_code_patterns class %q: invalid pattern %q: %w",
					entry.Class, pattern, err)
			}
		}
	}

	return nil
}
