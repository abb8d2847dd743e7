package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration  = errors.New("configuration error")
	ErrAuthentication = errors.New("authentication failure")
	ErrSourceFetch    = errors.New("source fetch failure")
	ErrWriteBatch     = errors.New("write batch failure")
)

// ConfigurationError lists every missing or invalid configuration key found
// during validation. It matches ErrConfiguration.
type ConfigurationError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing required configuration: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, fmt.Sprintf("invalid configuration: %s", strings.Join(e.Invalid, "; ")))
	}
	if len(parts) == 0 {
		return ErrConfiguration.Error()
	}
	return strings.Join(parts, "; ")
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Empty reports whether no problem was recorded.
func (e *ConfigurationError) Empty() bool {
	return len(e.Missing) == 0 && len(e.Invalid) == 0
}
