package serialbridge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateConfig validates serial port configuration parameters
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("serial config has not been set/injected")
	}

	if err := validate.Struct(cfg); err != nil {
		return validationError(err)
	}

	for _, name := range cfg.CandidatePorts {
		if err := validateCandidate(name); err != nil {
			return err
		}
	}

	// Durations are checked by hand; the validator tags compare raw nanoseconds.
	if cfg.OpenTimeout <= 0 {
		return fmt.Errorf("open timeout must be positive, got: %v", cfg.OpenTimeout)
	}
	if cfg.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive, got: %v", cfg.ReadTimeout)
	}
	if cfg.ReadErrorBackoff < 0 {
		return fmt.Errorf("read error backoff cannot be negative: %v", cfg.ReadErrorBackoff)
	}

	return nil
}

// validationError flattens validator output into one readable error.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// validateLine checks the parts of cfg a single session depends on. Open takes
// an already-found identity, so candidate names are not required here.
func validateLine(cfg *Config) error {
	if err := validate.Struct(&cfg.Line); err != nil {
		return validationError(err)
	}
	if cfg.OpenTimeout <= 0 {
		return fmt.Errorf("open timeout must be positive, got: %v", cfg.OpenTimeout)
	}
	if cfg.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive, got: %v", cfg.ReadTimeout)
	}
	if cfg.ReadBufferSize <= 0 || cfg.ReadBufferSize > MaxReadBufferSize {
		return fmt.Errorf("read buffer size must be between 1 and %d, got: %d", MaxReadBufferSize, cfg.ReadBufferSize)
	}
	return nil
}
