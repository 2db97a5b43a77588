package scheduler

import (
	"errors"
	"fmt"
)

// ErrShutdown is returned by operations invoked after Shutdown.
var ErrShutdown = errors.New("scheduler has been shut down")

// ConfigError reports an invalid scheduler configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid scheduler configuration: %s: %s", e.Field, e.Reason)
}

func newConfigError(field, reason string) *ConfigError {
	return &ConfigError{Field: field, Reason: reason}
}
