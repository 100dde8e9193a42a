// Package file provides a filesystem blob store: one file per key under a
// base directory. Writes go to a temporary file that is renamed into place,
// so a reader never observes a half-written snapshot.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/prn-tf/userdir/internal/store"
)

const (
	fileExt  = ".blob"
	dirPerm  = 0o755
	filePerm = 0o600
)

// Store implements store.Store on the local filesystem.
type Store struct {
	baseDir string
	logger  zerolog.Logger
}

// New creates a filesystem store rooted at baseDir, creating the directory if needed.
func New(baseDir string, logger zerolog.Logger) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("file store: base directory is required")
	}
	if err := os.MkdirAll(baseDir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	logger.Info().Str("base_dir", baseDir).Msg("opened file store")

	return &Store{
		baseDir: baseDir,
		logger:  logger.With().Str("store", store.BackendFile).Logger(),
	}, nil
}

// Path returns the file path that holds key.
// Keys are path-escaped so they cannot leave the base directory.
func (s *Store) Path(key string) string {
	return filepath.Join(s.baseDir, url.PathEscape(key)+fileExt)
}

// Get reads the file for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := store.ValidateKey(key); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return data, nil
}

// Put atomically replaces the file for key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateKey(key); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.baseDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			s.logger.Warn().Err(rmErr).Str("path", tmpName).Msg("failed to remove temp file")
		}
	}

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		cleanup()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.Path(key)); err != nil {
		cleanup()
		return fmt.Errorf("failed to move %q into place: %w", key, err)
	}

	s.logger.Debug().Str("key", key).Int("bytes", len(value)).Msg("blob written")
	return nil
}

// Delete removes the file for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateKey(key); err != nil {
		return err
	}

	if err := os.Remove(s.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// Ping checks that the base directory is still accessible.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(s.baseDir)
	if err != nil {
		return fmt.Errorf("store directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store path %s is not a directory", s.baseDir)
	}
	return nil
}

// Close is a no-op; the filesystem holds no connections.
func (s *Store) Close() error {
	return nil
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
