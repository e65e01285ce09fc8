package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"sync"
	"time"

	apperrors "go-photo-cropper/internal/errors"
	"go-photo-cropper/internal/logger"
	"go-photo-cropper/internal/orientation"
	"go-photo-cropper/internal/repository"
	"go-photo-cropper/internal/storage"
	"go-photo-cropper/internal/strategy"
	"go-photo-cropper/internal/worker"
	"go-photo-cropper/pkg/models"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// File name prefixes for intermediate files in the work location
const (
	CapturePrefix = "CAPTURE"
	CropPrefix    = "CROP"
)

// CropService defines the image operations behind the crop flow
type CropService interface {
	// Acquire loads and normalizes the image behind ref
	Acquire(ctx context.Context, source models.Source, ref string) (*models.ImageHandle, error)

	// AcquireCapture stores captured camera bytes and acquires them
	AcquireCapture(ctx context.Context, data []byte) (*models.ImageHandle, error)

	// Preview renders the handle with its pending rotation as PNG
	Preview(ctx context.Context, handle *models.ImageHandle) ([]byte, error)

	// Commit applies the rotation once, crops and writes the result to the work location
	Commit(ctx context.Context, handle *models.ImageHandle, req models.CropRequest) (*models.ImageHandle, error)

	// Save persists a committed crop to the output location
	Save(ctx context.Context, handle *models.ImageHandle) (string, error)

	// Metadata reads the stored format and dimensions behind a handle
	Metadata(ctx context.Context, handle *models.ImageHandle) (*repository.ImageMetadata, error)

	// Discard releases a handle that left its flow, deleting the work file it owns
	Discard(ctx context.Context, handle *models.ImageHandle)

	// AspectRatio returns the ratio crops are constrained to
	AspectRatio() models.AspectRatio
}

// Options configure a CropService
type Options struct {
	AspectRatio       models.AspectRatio
	OutputPrefix      string
	AllowedSources    []models.Source
	ProcessingTimeout time.Duration
}

// cropService implements CropService
type cropService struct {
	imageRepo  repository.ImageRepository
	normalizer orientation.Normalizer
	pool       *worker.Pool
	opts       Options
	now        func() time.Time
}

// NewCropService creates a new crop service. The pool must be started.
func NewCropService(
	imageRepository repository.ImageRepository,
	normalizer orientation.Normalizer,
	pool *worker.Pool,
	opts Options,
) CropService {
	if opts.OutputPrefix == "" {
		opts.OutputPrefix = "IMG"
	}
	return &cropService{
		imageRepo:  imageRepository,
		normalizer: normalizer,
		pool:       pool,
		opts:       opts,
		now:        time.Now,
	}
}

func (s *cropService) AspectRatio() models.AspectRatio {
	return s.opts.AspectRatio
}

func (s *cropService) Acquire(ctx context.Context, source models.Source, ref string) (*models.ImageHandle, error) {
	if err := s.checkSource(source); err != nil {
		return nil, err
	}
	if err := s.imageRepo.ValidateImageRef(ref); err != nil {
		return nil, err
	}
	return s.acquire(ctx, source, ref)
}

func (s *cropService) AcquireCapture(ctx context.Context, data []byte) (*models.ImageHandle, error) {
	if err := s.checkSource(models.SourceCamera); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, apperrors.NewValidationError("captured image is empty", nil)
	}
	if _, err := repository.Inspect(data); err != nil {
		return nil, err
	}

	var capture workFile
	err := s.run(ctx, func(ctx context.Context) error {
		ref, err := s.imageRepo.StoreWork(ctx, storage.TimestampName(CapturePrefix, "jpg", s.now()), data)
		if err != nil {
			return err
		}
		if !capture.keep(ref) {
			s.removeWork(ref)
		}
		return nil
	})
	ref := capture.ref
	if err != nil {
		if orphan := capture.abandon(); orphan != "" {
			s.removeWork(orphan)
		}
		return nil, err
	}

	handle, err := s.acquire(ctx, models.SourceCamera, ref)
	if err != nil {
		s.removeWork(ref)
		return nil, err
	}
	handle.Temporary = true
	return handle, nil
}

func (s *cropService) acquire(ctx context.Context, source models.Source, ref string) (*models.ImageHandle, error) {
	var handle *models.ImageHandle
	err := s.run(ctx, func(ctx context.Context) error {
		data, err := s.imageRepo.FetchImage(ctx, ref)
		if err != nil {
			return err
		}

		res, err := s.normalizer.Normalize(ctx, data)
		if err != nil {
			return err
		}

		b := res.Image.Bounds()
		handle = &models.ImageHandle{
			ID:          uuid.NewString(),
			Ref:         ref,
			Source:      source,
			Orientation: res.Orientation,
			Width:       b.Dx(),
			Height:      b.Dy(),
			CreatedAt:   s.now(),
			Image:       res.Image,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"ref":         ref,
		"source":      source,
		"orientation": handle.Orientation.String(),
		"width":       handle.Width,
		"height":      handle.Height,
	}).Info("Image acquired")

	return handle, nil
}

func (s *cropService) Preview(ctx context.Context, handle *models.ImageHandle) ([]byte, error) {
	if err := checkHandle(handle); err != nil {
		return nil, err
	}

	var out []byte
	err := s.run(ctx, func(ctx context.Context) error {
		var err error
		out, err = encodePNG(orientation.RotateHandle(handle))
		return err
	})
	return out, err
}

func (s *cropService) Commit(ctx context.Context, handle *models.ImageHandle, req models.CropRequest) (*models.ImageHandle, error) {
	if err := checkHandle(handle); err != nil {
		return nil, err
	}

	cropStrategy, err := strategy.StrategyFor(req)
	if err != nil {
		return nil, err
	}
	cropCtx := strategy.NewCropContext(cropStrategy)
	var requested *image.Rectangle
	if req.Rect != nil {
		r := req.Rect.Rectangle()
		requested = &r
	}

	var (
		committed *models.ImageHandle
		crop      workFile
	)
	err = s.run(ctx, func(ctx context.Context) error {
		rotated := orientation.RotateHandle(handle)

		cropped, rect, err := cropCtx.ExecuteCrop(ctx, rotated, s.opts.AspectRatio, requested)
		if err != nil {
			return err
		}

		data, err := encodePNG(cropped)
		if err != nil {
			return err
		}

		ref, err := s.imageRepo.StoreWork(ctx, storage.TimestampName(CropPrefix, "png", s.now()), data)
		if err != nil {
			return err
		}
		if !crop.keep(ref) {
			s.removeWork(ref)
			return ctx.Err()
		}

		committed = &models.ImageHandle{
			ID:          uuid.NewString(),
			Ref:         ref,
			Source:      models.SourceFile,
			Orientation: models.OrientationNormal,
			Width:       rect.Dx(),
			Height:      rect.Dy(),
			CreatedAt:   s.now(),
			Temporary:   true,
			Image:       cropped,
		}
		return nil
	})
	if err != nil {
		if orphan := crop.abandon(); orphan != "" {
			s.removeWork(orphan)
		}
		return nil, asProcessing(err)
	}

	logger.WithFields(logrus.Fields{
		"ref":      committed.Ref,
		"strategy": cropCtx.GetCurrentStrategy(),
		"rotation": handle.Rotation.Degrees(),
		"width":    committed.Width,
		"height":   committed.Height,
	}).Info("Image cropped")

	return committed, nil
}

func (s *cropService) Save(ctx context.Context, handle *models.ImageHandle) (string, error) {
	if handle == nil || handle.Ref == "" {
		return "", apperrors.NewValidationError("no committed image to save", nil)
	}

	var ref string
	err := s.run(ctx, func(ctx context.Context) error {
		data, err := s.imageRepo.FetchImage(ctx, handle.Ref)
		if err != nil && handle.Image != nil {
			logger.WithError(err).WithField("ref", handle.Ref).Warn("Committed file unreadable, re-encoding from memory")
			data, err = encodePNG(handle.Image)
		}
		if err != nil {
			return err
		}

		ref, err = s.imageRepo.StoreOutput(ctx, storage.TimestampName(s.opts.OutputPrefix, "png", s.now()), data)
		return err
	})
	if err != nil {
		if _, ok := apperrors.As(err); ok || isContextErr(err) {
			return "", err
		}
		return "", apperrors.NewSaveError("failed to save image", err)
	}

	logger.WithFields(logrus.Fields{
		"ref":    ref,
		"source": handle.Ref,
	}).Info("Image saved")

	return ref, nil
}

func (s *cropService) Metadata(ctx context.Context, handle *models.ImageHandle) (*repository.ImageMetadata, error) {
	if handle == nil || handle.Ref == "" {
		return nil, apperrors.NewProcessingError("no image loaded", nil)
	}

	var meta *repository.ImageMetadata
	err := s.run(ctx, func(ctx context.Context) error {
		var err error
		meta, err = s.imageRepo.GetImageMetadata(ctx, handle.Ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// Discard deletes the work file of a temporary handle in the background.
// Gallery and file handles reference user files and are left alone.
func (s *cropService) Discard(ctx context.Context, handle *models.ImageHandle) {
	if handle == nil || !handle.Temporary || handle.Ref == "" {
		return
	}
	ref := handle.Ref
	if !s.pool.Submit(func() { s.removeWork(ref) }) {
		s.removeWork(ref)
	}
}

func (s *cropService) removeWork(ref string) {
	entry := logger.WithField("ref", ref)
	if err := s.imageRepo.RemoveWork(context.Background(), ref); err != nil {
		entry.WithError(err).Warn("Failed to remove work file")
		return
	}
	entry.Debug("Work file removed")
}

func (s *cropService) checkSource(source models.Source) error {
	if len(s.opts.AllowedSources) == 0 {
		return nil
	}
	for _, allowed := range s.opts.AllowedSources {
		if allowed == source {
			return nil
		}
	}
	return apperrors.NewPermissionError("access to "+string(source)+" images denied", nil)
}

// run executes fn on the worker pool under the processing timeout
func (s *cropService) run(ctx context.Context, fn func(ctx context.Context) error) error {
	runCtx := ctx
	if s.opts.ProcessingTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.opts.ProcessingTimeout)
		defer cancel()
	}

	err := s.pool.Run(runCtx, fn)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return apperrors.NewTimeoutError("image processing timed out", err)
	}
	return err
}

// workFile hands a work file written inside a pool job back to its caller.
// Whichever side learns second that the caller gave up removes the file.
type workFile struct {
	mu        sync.Mutex
	ref       string
	abandoned bool
}

// keep records ref and reports false when the caller has already gone
func (w *workFile) keep(ref string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.abandoned {
		return false
	}
	w.ref = ref
	return true
}

// abandon marks the caller gone and returns any file already recorded
func (w *workFile) abandon() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.abandoned = true
	ref := w.ref
	w.ref = ""
	return ref
}

func checkHandle(handle *models.ImageHandle) error {
	if handle == nil || handle.Image == nil {
		return apperrors.NewProcessingError("no image loaded", nil)
	}
	return nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, apperrors.NewProcessingError("failed to encode PNG", err)
	}
	return buf.Bytes(), nil
}

// asProcessing keeps typed and context errors and wraps the rest
func asProcessing(err error) error {
	if _, ok := apperrors.As(err); ok || isContextErr(err) {
		return err
	}
	return apperrors.NewProcessingError("image processing failed", err)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
