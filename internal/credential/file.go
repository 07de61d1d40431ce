// Package credential persists the session token on the local device.
package credential

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecgard/loopkit/internal/crypto"
)

const sealLabel = "loopkit-session-token"

// FileStore keeps the token in a single file, sealed when a key is set.
type FileStore struct {
	path   string
	sealer *crypto.Sealer
}

// NewFileStore returns a store backed by path. A nil sealer writes the token
// in the clear; the file is always created with mode 0600.
func NewFileStore(path string, sealer *crypto.Sealer) *FileStore {
	return &FileStore{path: path, sealer: sealer}
}

// Load returns the stored token, or "" when no file exists.
func (s *FileStore) Load(ctx context.Context) (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading credentials: %w", err)
	}

	token, err := s.sealer.Open(strings.TrimSpace(string(data)), sealLabel)
	if err != nil {
		return "", fmt.Errorf("opening credentials: %w", err)
	}
	return token, nil
}

// Save replaces the stored token. The file is written to a temporary name and
// renamed so a crash never leaves a truncated token behind.
func (s *FileStore) Save(ctx context.Context, token string) error {
	sealed, err := s.sealer.Seal(token, sealLabel)
	if err != nil {
		return fmt.Errorf("sealing credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating credentials dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("creating credentials file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting credentials mode: %w", err)
	}
	if _, err := tmp.WriteString(sealed + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("writing credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing credentials: %w", err)
	}
	return nil
}

// Clear removes the stored token. A missing file is not an error.
func (s *FileStore) Clear(ctx context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing credentials: %w", err)
	}
	return nil
}
