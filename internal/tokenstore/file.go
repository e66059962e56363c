package tokenstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FileBackend stores the token document in a local file with secure permissions.
// Writes use temp file + rename for crash safety.
type FileBackend struct {
	filePath string
}

// Compile-time check to ensure FileBackend implements Backend
var _ Backend = (*FileBackend)(nil)

// NewFileBackend creates a FileBackend for the given path, creating parent directories
// with 0700 permissions if they don't exist.
func NewFileBackend(filePath string) (*FileBackend, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	return &FileBackend{
		filePath: filePath,
	}, nil
}

// Path returns the location of the token document.
func (f *FileBackend) Path() string {
	return f.filePath
}

// Read returns the file contents. A missing file yields an error wrapping fs.ErrNotExist.
func (f *FileBackend) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(f.filePath)
	if err != nil {
		return nil, err
	}
	// The next write restores 0600
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		slog.WarnContext(ctx, "token file has insecure permissions",
			"path", f.filePath, "mode", fmt.Sprintf("%04o", perm))
	}

	return os.ReadFile(f.filePath)
}

// Write atomically replaces the file using temp file + rename.
// Sets file permissions to 0600 (owner read/write only).
func (f *FileBackend) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(f.filePath)
	tempFile, err := os.CreateTemp(dir, filepath.Base(f.filePath)+".*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths; removing a renamed file is a no-op
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(data); err != nil {
		return err
	}
	if err := tempFile.Sync(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tempName, f.filePath); err != nil {
		return err
	}

	return os.Chmod(f.filePath, 0600)
}
