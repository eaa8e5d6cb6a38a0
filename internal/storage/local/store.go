// Package local implements a filesystem-backed resource store.
package local

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/JakeFAU/poolhttpd/internal/storage"
)

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the root directory resources are resolved against.
	BaseDir string
}

// Store reads resources from a directory.
type Store struct {
	fs      afero.Fs
	baseDir string
}

// New creates a store over the OS filesystem.
func New(cfg Config) (*Store, error) {
	return NewWithFs(afero.NewOsFs(), cfg)
}

// NewWithFs creates a store over an arbitrary afero filesystem.
func NewWithFs(fs afero.Fs, cfg Config) (*Store, error) {
	if fs == nil {
		return nil, fmt.Errorf("filesystem is required")
	}
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := fs.Stat(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	return &Store{
		fs:      fs,
		baseDir: filepath.Clean(cfg.BaseDir),
	}, nil
}

// Read returns the contents of name relative to the base directory.
func (s *Store) Read(_ context.Context, name string) ([]byte, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", storage.ErrUnavailable)
	}

	fullPath := filepath.Clean(filepath.Join(s.baseDir, name))
	// Verify the path stays within baseDir to prevent traversal.
	if fullPath != s.baseDir && !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: path traversal detected", storage.ErrUnavailable)
	}

	info, err := s.fs.Stat(fullPath)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", storage.ErrUnavailable, name, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", storage.ErrUnavailable, name)
	}
	data, err := afero.ReadFile(s.fs, fullPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", storage.ErrUnavailable, name, err)
	}
	return data, nil
}
