// Package secrets resolves named secrets from environment variables.
package secrets

import (
	"context"
	"errors"
	"strings"

	"github.com/florianilch/home-secrets/internal/apperror"
)

// DefaultPrefix is prepended to every requested key.
const DefaultPrefix = "HS_"

// Secret is a resolved secret value.
type Secret struct {
	Key   string `json:"key"`
	Env   string `json:"env"`
	Value string `json:"value"`
}

// Source reads raw values by name.
type Source interface {
	Read(ctx context.Context, name string) (string, error)
}

// Observer is notified of every lookup outcome.
type Observer interface {
	ObserveSecretLookup(result string)
}

// Lookup maps secret keys onto environment variable names.
type Lookup struct {
	prefix   string
	source   Source
	observer Observer
}

// NewLookup creates a Lookup. An empty prefix falls back to DefaultPrefix.
// observer may be nil.
func NewLookup(prefix string, source Source, observer Observer) *Lookup {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Lookup{prefix: prefix, source: source, observer: observer}
}

// EnvName returns the environment variable consulted for key.
func (l *Lookup) EnvName(key string) string {
	return strings.ToUpper(l.prefix + key)
}

// Get resolves key. The value is returned exactly as stored.
func (l *Lookup) Get(ctx context.Context, key string) (*Secret, error) {
	if key == "" {
		l.observe("bad_request")
		return nil, apperror.New(apperror.KindBadRequest, "secret key is required")
	}

	name := l.EnvName(key)
	value, err := l.source.Read(ctx, name)
	if errors.Is(err, ErrNotSet) {
		l.observe("not_found")
		return nil, apperror.Newf(apperror.KindNotFound, "%s not set", name)
	}
	if err != nil {
		l.observe("error")
		return nil, apperror.Wrap(apperror.KindInternal, "reading secret", err)
	}

	l.observe("found")
	return &Secret{Key: key, Env: name, Value: value}, nil
}

func (l *Lookup) observe(result string) {
	if l.observer != nil {
		l.observer.ObserveSecretLookup(result)
	}
}
