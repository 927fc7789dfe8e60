package nn

import (
	"errors"
	"fmt"
)

// ErrConfiguration is returned (wrapped in a *ConfigError) when a layer
// cannot be built from the requested parameters.
var ErrConfiguration = errors.New("invalid layer configuration")

// ConfigError describes a rejected layer construction.
type ConfigError struct {
	Layer   string // Layer type (e.g. "output", "convolutional")
	Details string // What is wrong with the configuration
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Layer, ErrConfiguration, e.Details)
}

// Unwrap makes errors.Is(err, ErrConfiguration) work.
func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

func configError(layer, format string, args ...any) error {
	return &ConfigError{Layer: layer, Details: fmt.Sprintf(format, args...)}
}
