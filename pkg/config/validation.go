package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults; validation accepts
// both cases. Backend sections are decoded and validated by the factories,
// since only the selected one matters.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs validation that cannot be expressed in tags.
func validateCustomRules(cfg *Config) error {
	svc := cfg.Services

	if !svc.Files.Enabled && !svc.Notifier.Enabled && !svc.Authority.Enabled {
		return fmt.Errorf("services: at least one service must be enabled")
	}

	if svc.Authority.Enabled && svc.Authority.Secret == "" {
		return fmt.Errorf("services.authority.secret is required when the authority is enabled (run 'dittoshare init' to generate one)")
	}

	if svc.Files.Enabled && cfg.Notify.Type == "local" && !svc.Notifier.Enabled {
		return fmt.Errorf("notify.type local requires services.notifier to be enabled in the same process")
	}

	// Port 0 asks the kernel for a free port and never collides.
	ports := make(map[int]string)
	claim := func(name string, enabled bool, port int) error {
		if !enabled || port == 0 {
			return nil
		}
		if other, taken := ports[port]; taken {
			return fmt.Errorf("%s: port %d already used by %s", name, port, other)
		}
		ports[port] = name
		return nil
	}

	return errors.Join(
		claim("services.files", svc.Files.Enabled, svc.Files.Port),
		claim("services.notifier", svc.Notifier.Enabled, svc.Notifier.Port),
		claim("services.authority", svc.Authority.Enabled, svc.Authority.Port),
		claim("server.metrics", cfg.Server.Metrics.Enabled, cfg.Server.Metrics.Port),
	)
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
