package flagdock

import (
	"errors"
	"fmt"
)

// Error types that may be returned by FlagDock operations.

// ConfigError indicates invalid client configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error [%s]: %s", e.Field, e.Message)
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var configErr *ConfigError
	return errors.As(err, &configErr)
}

// NotFoundError indicates a flag key was not found in the config.
type NotFoundError struct {
	FlagKey       string
	AvailableKeys []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("flag not found: %s (available keys: %v)", e.FlagKey, e.AvailableKeys)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}

// EvaluationError represents an error during flag evaluation. The flag's
// default value is served whenever one is returned.
type EvaluationError struct {
	FlagKey string
	Reason  string
	Err     error
}

func (e *EvaluationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evaluation error for flag %s: %s: %v", e.FlagKey, e.Reason, e.Err)
	}
	return fmt.Sprintf("evaluation error for flag %s: %s", e.FlagKey, e.Reason)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// IsEvaluationError reports whether err is an EvaluationError.
func IsEvaluationError(err error) bool {
	var evalErr *EvaluationError
	return errors.As(err, &evalErr)
}
