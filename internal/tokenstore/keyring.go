package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/zalando/go-keyring"
)

// KeyringBackend stores the token document as a single secret in the OS-native
// credential storage.
type KeyringBackend struct {
	service string
	user    string
}

// Compile-time check to ensure KeyringBackend implements Backend
var _ Backend = (*KeyringBackend)(nil)

// NewKeyringBackend creates a KeyringBackend for the given service and user identifiers.
func NewKeyringBackend(service, user string) (*KeyringBackend, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	return &KeyringBackend{
		service: service,
		user:    user,
	}, nil
}

// Read returns the document from the system keyring.
func (k *KeyringBackend) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	secret, err := keyring.Get(k.service, k.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("keyring service %s, user %s: %w", k.service, k.user, fs.ErrNotExist)
	}
	if err != nil {
		return nil, err
	}

	return []byte(secret), nil
}

// Write persists the document to the system keyring, overwriting any existing value.
func (k *KeyringBackend) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return keyring.Set(k.service, k.user, string(data))
}
