// Package storage provides core.Storage implementations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
)

// Local stores files on the local filesystem.  Writes go to a temporary file
// in the destination directory and are renamed into place, so readers never
// observe a partial output.
type Local struct {
	rootDir     string
	permissions os.FileMode
}

// NewLocal creates a Local storage adapter.  Relative paths are resolved
// against rootDir; an empty rootDir uses paths as given.
func NewLocal(rootDir string, perm os.FileMode) (*Local, error) {
	if perm == 0 {
		perm = 0o644
	}
	if rootDir != "" {
		if err := os.MkdirAll(rootDir, 0o755); err != nil {
			return nil, fmt.Errorf("local storage: mkdir %s: %w", rootDir, err)
		}
	}
	return &Local{rootDir: rootDir, permissions: perm}, nil
}

func (l *Local) absPath(path string) string {
	path = filepath.Clean(path)
	if l.rootDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(l.rootDir, path)
}

func (l *Local) Put(ctx context.Context, path string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return apperrors.FromContext("local.put", err)
	}

	dst := l.absPath(path)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.KindIO, "local.put.mkdir", err)
	}

	tmp, err := os.CreateTemp(dir, ".imgconv-*.tmp")
	if err != nil {
		return apperrors.Wrap(apperrors.KindIO, "local.put.create", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return apperrors.Wrap(apperrors.KindIO, "local.put.copy", err)
	}
	if err := tmp.Sync(); err != nil {
		return apperrors.Wrap(apperrors.KindIO, "local.put.sync", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrap(apperrors.KindIO, "local.put.close", err)
	}
	if err := os.Chmod(tmp.Name(), l.permissions); err != nil {
		return apperrors.Wrap(apperrors.KindIO, "local.put.chmod", err)
	}
	if err := ctx.Err(); err != nil {
		return apperrors.FromContext("local.put", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return apperrors.Wrap(apperrors.KindIO, "local.put.rename", err)
	}
	committed = true
	return nil
}

func (l *Local) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext("local.get", err)
	}
	f, err := os.Open(l.absPath(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.New(apperrors.KindIO, "local.get", fmt.Errorf("file not found: %s", path))
		}
		return nil, apperrors.Wrap(apperrors.KindIO, "local.get.open", err)
	}
	return f, nil
}

func (l *Local) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.FromContext("local.delete", err)
	}
	if err := os.Remove(l.absPath(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.Wrap(apperrors.KindIO, "local.delete", err)
	}
	return nil
}

func (l *Local) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.FromContext("local.exists", err)
	}
	_, err := os.Stat(l.absPath(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, apperrors.Wrap(apperrors.KindIO, "local.exists.stat", err)
}

var _ core.Storage = (*Local)(nil)
