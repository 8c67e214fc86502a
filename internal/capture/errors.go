package capture

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks failures that must abort the run before any
// dispatch happens (unreadable fingerprint store, invalid settings).
// Every other failure is isolated to its target.
var ErrConfiguration = errors.New("configuration error")

// ConfigError wraps err so that IsConfiguration recognizes it.
func ConfigError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfiguration, err)
}

// IsConfiguration reports whether err should abort the run.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
