package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	apperrors "go-photo-cropper/internal/errors"
)

// maxNameCollisions caps the _N suffixes tried for one name
const maxNameCollisions = 100

// LocalSink writes files into a single directory
type LocalSink struct {
	dir string
}

// NewLocalSink creates a sink rooted at dir. The directory is created on first write.
func NewLocalSink(dir string) *LocalSink {
	return &LocalSink{dir: dir}
}

// Write stores data under name, appending _1, _2, ... when the name is taken.
// The returned reference is a file:// URI.
func (s *LocalSink) Write(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" || name != filepath.Base(name) {
		return "", apperrors.NewValidationError(fmt.Sprintf("invalid file name %q", name), nil)
	}

	dir, err := filepath.Abs(s.dir)
	if err != nil {
		return "", apperrors.NewSaveError("failed to resolve output directory", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", writeError(dir, err)
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < maxNameCollisions; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", writeError(path, err)
		}

		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return "", writeError(path, err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", writeError(path, err)
		}
		return RefFromPath(path), nil
	}

	return "", apperrors.NewSaveError(fmt.Sprintf("no free file name for %s", name), nil)
}

// Remove deletes a file this sink wrote. A missing file is not an error;
// references outside the sink directory are refused.
func (s *LocalSink) Remove(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := PathFromRef(ref)
	if err != nil {
		return err
	}

	dir, err := filepath.Abs(s.dir)
	if err != nil {
		return apperrors.NewInternalError("failed to resolve sink directory", err)
	}
	path, err = filepath.Abs(path)
	if err != nil {
		return apperrors.NewValidationError("invalid file reference", err)
	}
	if filepath.Dir(path) != dir {
		return apperrors.NewPermissionError(fmt.Sprintf("%s was not written by this sink", path), nil)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return writeError(path, err)
	}
	return nil
}

func writeError(path string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return apperrors.NewPermissionError(fmt.Sprintf("write access to %s denied", path), err)
	}
	return apperrors.NewSaveError(fmt.Sprintf("failed to write %s", path), err)
}

var (
	_ ImageSink = (*LocalSink)(nil)
	_ Remover   = (*LocalSink)(nil)
)
