package config

import "fmt"

type ConfigErrorCode string

const (
	ConfigMissing    ConfigErrorCode = "missing"
	ConfigInvalid    ConfigErrorCode = "invalid"
	ConfigUnreadable ConfigErrorCode = "unreadable"
)

// ConfigError is fatal at startup; nothing is contacted before it is resolved.
type ConfigError struct {
	Code   ConfigErrorCode
	Key    string
	Value  string
	Reason string
	Cause  error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid configuration"
	}
	switch e.Code {
	case ConfigMissing:
		return fmt.Sprintf("config: %s is required", e.Key)
	case ConfigUnreadable:
		return fmt.Sprintf("config: cannot read %s=%q: %v", e.Key, e.Value, e.Cause)
	default:
		if e.Reason != "" {
			return fmt.Sprintf("config: invalid %s=%q (%s)", e.Key, e.Value, e.Reason)
		}
		return fmt.Sprintf("config: invalid %s=%q", e.Key, e.Value)
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func missing(key string) error {
	return &ConfigError{Code: ConfigMissing, Key: key}
}

func invalid(key, value, reason string) error {
	return &ConfigError{Code: ConfigInvalid, Key: key, Value: value, Reason: reason}
}
