package es

import "fmt"

// ErrConfiguration matches any *ConfigurationError.
// Use errors.Is(err, ErrConfiguration) to check for it.
var ErrConfiguration = &ConfigurationError{}

// ConfigurationError reports an invalid strategy setup: bad population size,
// elite ratio out of range, unknown hyperparameter name, or a population /
// fitness shape that does not match the strategy.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error"
	}
	return "configuration error: " + e.Field + " " + e.Reason
}

func (e *ConfigurationError) Is(target error) bool {
	_, ok := target.(*ConfigurationError)
	return ok
}

func configErrorf(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
