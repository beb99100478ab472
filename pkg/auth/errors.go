package auth

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable marks a provider that cannot be used in this build or environment. It is
// never fatal: the factory substitutes the mock provider.
var ErrUnavailable = errors.New("auth provider unavailable")

// ConfigError reports required provider parameters that are missing. It indicates a
// deployment mistake and is fatal at construction.
type ConfigError struct {
	Provider ProviderType
	Missing  []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s authentication requires %s", e.Provider, strings.Join(e.Missing, ", "))
}

// Param is a named provider parameter checked by Require.
type Param struct {
	Name  string
	Value string
}

// Require returns a *ConfigError naming every empty parameter, in the order given, or nil.
func Require(provider ProviderType, params ...Param) error {
	var missing []string
	for _, p := range params {
		if strings.TrimSpace(p.Value) == "" {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &ConfigError{Provider: provider, Missing: missing}
}

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
