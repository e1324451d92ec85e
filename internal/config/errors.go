package config

import "fmt"

// ConfigurationError reports an invalid or missing setting. It is fatal at
// startup and maps to exit code 2.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}
