package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	apperrors "go-photo-cropper/internal/errors"
)

// DefaultMaxSourceBytes bounds how much a source reads for one image
const DefaultMaxSourceBytes int64 = 50 * 1024 * 1024

// ImageSource loads the raw bytes behind an image reference
type ImageSource interface {
	Open(ctx context.Context, ref string) ([]byte, error)
}

// ImageSink persists encoded image bytes and returns a reference to them
type ImageSink interface {
	Write(ctx context.Context, name string, data []byte) (string, error)
}

// Remover deletes files a sink wrote earlier
type Remover interface {
	Remove(ctx context.Context, ref string) error
}

// TimestampName builds <prefix>_yyyyMMdd_HHmmss.<ext>
func TimestampName(prefix, ext string, now time.Time) string {
	return fmt.Sprintf("%s_%s.%s", prefix, now.Format("20060102_150405"), ext)
}

// readLimited reads r fully, failing if it holds more than limit bytes
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxSourceBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, apperrors.NewValidationError(fmt.Sprintf("image exceeds %d bytes", limit), nil)
	}
	return data, nil
}
