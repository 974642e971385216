package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Struct tags cover field-level constraints; validateCustomRules covers
// rules that span sections. Validation accepts both uppercase and
// lowercase log levels; normalization happens in ApplyDefaults.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if !cfg.Adapters.TCP.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	if cfg.Metrics.Enabled && cfg.Adapters.TCP.Port > 0 && cfg.Metrics.Port == cfg.Adapters.TCP.Port {
		return fmt.Errorf("metrics.port: %d is already used by adapters.tcp.port", cfg.Metrics.Port)
	}

	if rl := cfg.Server.RateLimit; rl.Burst > 0 && rl.RequestsPerSecond == 0 {
		return fmt.Errorf("server.rate_limit: burst requires requests_per_second")
	}

	// Built-in routes must not collide.
	routes := make(map[string]string)
	addRoute := func(name, path string) error {
		if path == "" {
			return nil
		}
		if other, dup := routes[path]; dup {
			return fmt.Errorf("%s: path %q is already used by %s", name, path, other)
		}
		routes[path] = name
		return nil
	}
	if err := addRoute("server.health_path", cfg.Server.HealthPath); err != nil {
		return err
	}
	if err := addRoute("server.connections_path", cfg.Server.ConnectionsPath); err != nil {
		return err
	}
	if cfg.Journal.Enabled {
		if err := addRoute("journal.path", cfg.Journal.Path); err != nil {
			return err
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
