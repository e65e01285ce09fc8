package repository

import "errors"

var (
	// ErrUnsupportedFormat indicates the bytes are not in a registered image format
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrEmptyImage indicates a reference resolved to zero bytes
	ErrEmptyImage = errors.New("empty image resource")

	// ErrRepositoryUnavailable indicates a storage backend is not configured
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)
