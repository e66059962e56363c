package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrNotSet is returned when the requested environment variable does not exist.
var ErrNotSet = errors.New("environment variable not set")

// EnvSource provides read-only access to secrets stored in environment variables.
type EnvSource struct {
	lookupEnv func(string) (string, bool)
}

// NewEnvSource creates an EnvSource backed by the process environment.
func NewEnvSource() *EnvSource {
	return &EnvSource{lookupEnv: os.LookupEnv}
}

// NewEnvSourceFunc creates an EnvSource that resolves variables with lookup.
func NewEnvSourceFunc(lookup func(string) (string, bool)) *EnvSource {
	return &EnvSource{lookupEnv: lookup}
}

// Read returns the value of the environment variable verbatim.
// A variable that is set to the empty string is a valid value.
func (e *EnvSource) Read(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" {
		return "", fmt.Errorf("environment key cannot be empty")
	}

	value, exists := e.lookupEnv(name)
	if !exists {
		return "", fmt.Errorf("%s: %w", name, ErrNotSet)
	}
	return value, nil
}
