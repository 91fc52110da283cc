package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults, not here.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.RateLimit.Enabled && cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst == 0 {
		return fmt.Errorf("rate_limit: burst must be > 0 when requests_per_second is set")
	}

	switch cfg.Store.Type {
	case "badger":
		if isBlank(cfg.Store.Badger["db_path"]) && cfg.Store.Badger["in_memory"] != true {
			return fmt.Errorf("store.badger: db_path is required unless in_memory is set")
		}
	case "bolt":
		if isBlank(cfg.Store.Bolt["path"]) {
			return fmt.Errorf("store.bolt: path is required")
		}
	}

	seen := make(map[string]bool)
	for i, p := range cfg.Auth.PublicPaths {
		if seen[p] {
			return fmt.Errorf("auth.public_paths[%d]: duplicate prefix %q", i, p)
		}
		seen[p] = true
	}

	return nil
}

func isBlank(v any) bool {
	s, ok := v.(string)
	return !ok || strings.TrimSpace(s) == ""
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		value := e.Value()
		if strings.HasSuffix(strings.ToLower(e.Field()), "secret") {
			value = "<redacted>"
		}
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), value)
	}
	return err
}
