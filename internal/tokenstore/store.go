package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"slices"
)

// document is the persisted form: key -> arbitrary JSON value.
type document map[string]json.RawMessage

// Store is a key -> JSON value map persisted through a Backend.
type Store struct {
	backend Backend
}

// New creates a Store over the given backend.
// No I/O is performed until the first operation.
func New(backend Backend) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("missing token store backend")
	}
	return &Store{backend: backend}, nil
}

// read reads the whole document. A missing or malformed document is empty,
// any other read failure is returned.
func (s *Store) read(ctx context.Context) (document, error) {
	data, err := s.backend.Read(ctx)
	if errors.Is(err, fs.ErrNotExist) {
		return document{}, nil
	}
	if err != nil {
		return nil, err
	}

	doc := document{}
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.WarnContext(ctx, "token store malformed, treating as empty", "error", err)
		return document{}, nil
	}
	if doc == nil {
		// the file contained JSON null
		doc = document{}
	}
	return doc, nil
}

// load is the lenient variant of read used by lookups: unreadable documents
// degrade to an empty map.
func (s *Store) load(ctx context.Context) document {
	doc, err := s.read(ctx)
	if err != nil {
		slog.WarnContext(ctx, "token store unreadable, treating as empty", "error", err)
		return document{}
	}
	return doc
}

// Load decodes the value stored under key into v.
// Reports false when the key is absent.
func (s *Store) Load(ctx context.Context, key string, v any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	raw, ok := s.load(ctx)[key]
	if !ok || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decoding %q: %w", key, err)
	}
	return true, nil
}

// Save stores v under key, rewriting the whole document. It fails without
// writing when the current document cannot be read.
func (s *Store) Save(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}

	// Writing over an unreadable document would drop every other key.
	doc, err := s.read(ctx)
	if err != nil {
		return fmt.Errorf("reading token document: %w", err)
	}
	doc[key] = raw

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token document: %w", err)
	}
	if err := s.backend.Write(ctx, data); err != nil {
		return fmt.Errorf("writing token document: %w", err)
	}
	return nil
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(s.load(ctx))), nil
}
