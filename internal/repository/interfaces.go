package repository

import (
	"context"
)

// ImageRepository defines the interface for image data access operations
type ImageRepository interface {
	// FetchImage retrieves the raw bytes behind an image reference
	FetchImage(ctx context.Context, ref string) ([]byte, error)

	// ValidateImageRef validates if the provided reference is acceptable
	ValidateImageRef(ref string) error

	// GetImageMetadata reads format and dimensions without a full decode
	GetImageMetadata(ctx context.Context, ref string) (*ImageMetadata, error)

	// StoreWork writes an intermediate file (captures, committed crops) to the work location
	StoreWork(ctx context.Context, name string, data []byte) (string, error)

	// RemoveWork deletes an intermediate file. Missing files are not an error.
	RemoveWork(ctx context.Context, ref string) error

	// StoreOutput persists a final image to the output location
	StoreOutput(ctx context.Context, name string, data []byte) (string, error)
}

// ImageMetadata contains metadata about an image
type ImageMetadata struct {
	Ref           string `json:"ref"`
	ContentType   string `json:"content_type"`
	ContentLength int64  `json:"content_length"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Format        string `json:"format"`
}
