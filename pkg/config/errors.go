package config

import (
	"errors"
	"fmt"
)

// ErrInvalid matches every *ConfigurationError via errors.Is.
var ErrInvalid = errors.New("invalid configuration")

// ConfigurationError describes a setting that prevents the run from starting.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Is reports ErrInvalid as a match.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalid
}
