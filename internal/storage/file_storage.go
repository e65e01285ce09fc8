package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	apperrors "go-photo-cropper/internal/errors"
)

// FileSource reads images from the local file system. Only files under one
// of its roots can be read; symlinks are resolved before the check.
type FileSource struct {
	maxBytes int64
	roots    []string
}

// NewFileSource creates a file source reading at most maxBytes per image from
// inside roots. Without roots every reference is refused.
func NewFileSource(maxBytes int64, roots ...string) ImageSource {
	clean := make([]string, 0, len(roots))
	for _, r := range roots {
		if strings.TrimSpace(r) != "" {
			clean = append(clean, r)
		}
	}
	return &FileSource{maxBytes: maxBytes, roots: clean}
}

// PathFromRef resolves a file:// URI or bare path to a local path
func PathFromRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(strings.ToLower(ref), "file://") {
		return filepath.Clean(ref), nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", apperrors.NewValidationError("invalid file reference", err)
	}
	if u.Path == "" {
		return "", apperrors.NewValidationError("file reference must have a path", nil)
	}
	return filepath.FromSlash(u.Path), nil
}

// RefFromPath turns an absolute local path into a file:// URI
func RefFromPath(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

func (s *FileSource) Open(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := PathFromRef(ref)
	if err != nil {
		return nil, err
	}
	if path, err = s.resolve(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fileError(path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fileError(path, err)
	}
	if info.IsDir() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("%s is a directory", path), nil)
	}

	return readLimited(f, s.maxBytes)
}

// resolve returns the real path behind path if it lies under a root
func (s *FileSource) resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", apperrors.NewValidationError("invalid file reference", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if !s.contains(abs) {
			return "", outsideRoots(abs)
		}
		return "", fileError(abs, err)
	}
	if !s.contains(resolved) {
		return "", outsideRoots(abs)
	}
	return resolved, nil
}

func (s *FileSource) contains(path string) bool {
	for _, root := range s.roots {
		dir, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if within(dir, path) {
			return true
		}
		if resolved, err := filepath.EvalSymlinks(dir); err == nil && within(resolved, path) {
			return true
		}
	}
	return false
}

// within reports whether path is dir or lies below it
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func outsideRoots(path string) error {
	return apperrors.NewPermissionError(fmt.Sprintf("access to %s denied: outside the allowed directories", path), nil)
}

func fileError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return apperrors.NewNotFoundError(fmt.Sprintf("image %s not found", path), err)
	case errors.Is(err, fs.ErrPermission):
		return apperrors.NewPermissionError(fmt.Sprintf("access to %s denied", path), err)
	default:
		return apperrors.NewInternalError(fmt.Sprintf("failed to read %s", path), err)
	}
}
