package repository

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	apperrors "go-photo-cropper/internal/errors"
	"go-photo-cropper/internal/factory"
	"go-photo-cropper/internal/storage"
	"go-photo-cropper/pkg/validation"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// StorageImageRepository implements ImageRepository on top of the storage factory
type StorageImageRepository struct {
	factory   factory.StorageFactory
	validator *validation.RefValidator
	work      storage.ImageSink
	output    storage.ImageSink
}

// NewImageRepository creates a repository that routes references by scheme.
// work and output may be nil, in which case the matching Store call fails.
func NewImageRepository(f factory.StorageFactory, v *validation.RefValidator, work, output storage.ImageSink) ImageRepository {
	if v == nil {
		v = validation.NewRefValidator()
	}
	return &StorageImageRepository{
		factory:   f,
		validator: v,
		work:      work,
		output:    output,
	}
}

// FetchImage retrieves an image from any supported reference
func (r *StorageImageRepository) FetchImage(ctx context.Context, ref string) ([]byte, error) {
	if err := r.ValidateImageRef(ref); err != nil {
		return nil, err
	}

	src, err := r.factory.CreateSource(validation.Scheme(ref))
	if err != nil {
		return nil, err
	}

	data, err := src.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, apperrors.NewDecodeError("image resource is empty", ErrEmptyImage)
	}
	return data, nil
}

// ValidateImageRef validates if the provided reference is acceptable
func (r *StorageImageRepository) ValidateImageRef(ref string) error {
	return r.validator.ValidateImageRef(ref)
}

// GetImageMetadata retrieves format and dimensions of an image
func (r *StorageImageRepository) GetImageMetadata(ctx context.Context, ref string) (*ImageMetadata, error) {
	data, err := r.FetchImage(ctx, ref)
	if err != nil {
		return nil, err
	}

	meta, err := Inspect(data)
	if err != nil {
		return nil, err
	}
	meta.Ref = ref
	return meta, nil
}

// StoreWork writes an intermediate file
func (r *StorageImageRepository) StoreWork(ctx context.Context, name string, data []byte) (string, error) {
	return store(ctx, r.work, "work", name, data)
}

// RemoveWork deletes an intermediate file written by StoreWork
func (r *StorageImageRepository) RemoveWork(ctx context.Context, ref string) error {
	remover, ok := r.work.(storage.Remover)
	if !ok {
		return apperrors.NewInternalError("work storage cannot remove files", ErrRepositoryUnavailable)
	}
	return remover.Remove(ctx, ref)
}

// StoreOutput persists a final image
func (r *StorageImageRepository) StoreOutput(ctx context.Context, name string, data []byte) (string, error) {
	return store(ctx, r.output, "output", name, data)
}

// Inspect reads the image header in data
func Inspect(data []byte) (*ImageMetadata, error) {
	if len(data) == 0 {
		return nil, apperrors.NewDecodeError("image resource is empty", ErrEmptyImage)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if errors.Is(err, image.ErrFormat) {
		return nil, apperrors.NewDecodeError("unrecognized image format", ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, apperrors.NewDecodeError("failed to read image header", err)
	}

	return &ImageMetadata{
		ContentType:   "image/" + format,
		ContentLength: int64(len(data)),
		Width:         cfg.Width,
		Height:        cfg.Height,
		Format:        format,
	}, nil
}

func store(ctx context.Context, sink storage.ImageSink, kind, name string, data []byte) (string, error) {
	if sink == nil {
		return "", apperrors.NewInternalError(kind+" storage is not configured", ErrRepositoryUnavailable)
	}
	if len(data) == 0 {
		return "", apperrors.NewSaveError("nothing to write", ErrEmptyImage)
	}
	return sink.Write(ctx, name, data)
}
