package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups for unknown toggle keys.
// Evaluation never surfaces it; unknown keys evaluate to disabled.
var ErrNotFound = errors.New("toggle not found")

// ConfigurationError describes a malformed record. Loaders skip the record and continue.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("invalid toggle %q: %s", e.Key, e.Reason)
	}
	return "invalid toggle: " + e.Reason
}

// NetworkError is a transient transport failure or non-2xx response.
type NetworkError struct {
	Op         string
	StatusCode int // 0 when the request never got a response
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SerializationError is a malformed remote payload. Nothing from it is merged.
type SerializationError struct {
	Op  string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("%s: malformed payload: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// IsNetworkError reports whether err is or wraps a *NetworkError
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsSerializationError reports whether err is or wraps a *SerializationError
func IsSerializationError(err error) bool {
	var se *SerializationError
	return errors.As(err, &se)
}

// IsConfigurationError reports whether err is or wraps a *ConfigurationError
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
