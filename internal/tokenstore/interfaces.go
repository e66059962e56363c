package tokenstore

import "context"

// Backend reads and writes the raw token document.
//
// Read returns an error wrapping fs.ErrNotExist when nothing has been stored yet.
type Backend interface {
	// Read returns the stored document.
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the stored document.
	Write(ctx context.Context, data []byte) error
}
