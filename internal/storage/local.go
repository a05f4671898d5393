package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// LocalBackend implements the Backend interface on a local directory.
// It stands in for the bucket in dry runs and tests.
type LocalBackend struct {
	basePath string
	logger   zerolog.Logger
}

// NewLocalBackend creates a new local filesystem storage backend
func NewLocalBackend(basePath string, logger zerolog.Logger) (*LocalBackend, error) {
	// Absolute path keeps filepath.Rel stable during List
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	return &LocalBackend{
		basePath: absPath,
		logger:   logger.With().Str("component", "local-storage").Logger(),
	}, nil
}

// WriteReader writes data from a reader to the specified path via temp file + rename
func (b *LocalBackend) WriteReader(ctx context.Context, path string, reader io.Reader, size int64) error {
	fullPath, err := b.validatePath(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".lakebench-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	written, err := io.Copy(tmpFile, reader)
	closeErr := tmpFile.Close()

	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	b.logger.Debug().
		Str("path", path).
		Int64("size", written).
		Msg("Wrote file from reader")

	return nil
}

// List lists all objects with the given prefix
func (b *LocalBackend) List(ctx context.Context, prefix string) ([]string, error) {
	searchPath, err := b.validatePath(prefix)
	if err != nil {
		return nil, fmt.Errorf("invalid prefix: %w", err)
	}
	var results []string

	err = filepath.Walk(searchPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			return nil
		}

		relPath, err := filepath.Rel(b.basePath, path)
		if err != nil {
			return err
		}
		results = append(results, filepath.ToSlash(relPath))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return results, nil
}

// ListDirectories lists immediate subdirectories at a prefix
func (b *LocalBackend) ListDirectories(ctx context.Context, prefix string) ([]string, error) {
	dirPath, err := b.validatePath(prefix)
	if err != nil {
		return nil, fmt.Errorf("invalid prefix: %w", err)
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// Delete deletes the object at the specified path
func (b *LocalBackend) Delete(ctx context.Context, path string) error {
	fullPath, err := b.validatePath(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	b.logger.Debug().Str("path", path).Msg("Deleted file")
	return nil
}

// DeleteBatch deletes each path in turn
func (b *LocalBackend) DeleteBatch(ctx context.Context, paths []string) error {
	for _, p := range paths {
		if err := b.Delete(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Exists checks if an object exists at the specified path
func (b *LocalBackend) Exists(ctx context.Context, path string) (bool, error) {
	fullPath, err := b.validatePath(path)
	if err != nil {
		return false, fmt.Errorf("invalid path: %w", err)
	}

	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return true, nil
}

// Close is a no-op for local storage
func (b *LocalBackend) Close() error {
	return nil
}

// GetBasePath returns the base path for the local storage
func (b *LocalBackend) GetBasePath() string {
	return b.basePath
}

// URI returns a file:// URI for a path
func (b *LocalBackend) URI(path string) string {
	return "file://" + filepath.ToSlash(filepath.Join(b.basePath, sanitizePath(path)))
}

// Type returns the storage type identifier
func (b *LocalBackend) Type() string {
	return "local"
}

// sanitizePath removes any potentially dangerous path components
func sanitizePath(path string) string {
	path = strings.TrimPrefix(path, "/")
	path = strings.ReplaceAll(path, "..", "_")
	path = strings.ReplaceAll(path, "\x00", "")
	return path
}

// validatePath ensures the resolved path stays within the base path
func (b *LocalBackend) validatePath(path string) (string, error) {
	fullPath := filepath.Join(b.basePath, sanitizePath(path))
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	relPath, err := filepath.Rel(b.basePath, absPath)
	if err != nil {
		return "", fmt.Errorf("path traversal detected")
	}
	if strings.HasPrefix(relPath, "..") {
		return "", fmt.Errorf("path traversal detected: path escapes base directory")
	}

	return absPath, nil
}
