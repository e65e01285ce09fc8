package strategy

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"

	apperrors "go-photo-cropper/internal/errors"
	"go-photo-cropper/pkg/models"

	"github.com/disintegration/imaging"
	"github.com/muesli/smartcrop"
)

// Strategy names accepted by NewStrategy
const (
	Manual = "manual"
	Center = "center"
	Smart  = "smart"
)

// CropStrategy chooses the crop rectangle for an image
type CropStrategy interface {
	// SelectRect returns a rectangle inside img.Bounds() honoring aspect.
	// requested is only used by strategies that take caller input.
	SelectRect(ctx context.Context, img image.Image, aspect models.AspectRatio, requested *image.Rectangle) (image.Rectangle, error)
	GetStrategyName() string
}

// NewStrategy selects a strategy by name
func NewStrategy(name string) (CropStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Manual:
		return NewManualStrategy(), nil
	case Center:
		return NewCenterStrategy(), nil
	case Smart:
		return NewSmartStrategy(imaging.Lanczos), nil
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown crop strategy %q", name), nil)
	}
}

// StrategyFor resolves a crop request: an explicit name wins, otherwise a
// rectangle means manual and no rectangle means center.
func StrategyFor(req models.CropRequest) (CropStrategy, error) {
	if req.Strategy != "" {
		return NewStrategy(req.Strategy)
	}
	if req.Rect != nil {
		return NewManualStrategy(), nil
	}
	return NewCenterStrategy(), nil
}

// ManualStrategy uses the caller's rectangle
type ManualStrategy struct{}

// NewManualStrategy creates a new manual strategy
func NewManualStrategy() CropStrategy {
	return &ManualStrategy{}
}

// SelectRect clips the requested rectangle to the image and shrinks it around
// its centre to the aspect ratio
func (s *ManualStrategy) SelectRect(ctx context.Context, img image.Image, aspect models.AspectRatio, requested *image.Rectangle) (image.Rectangle, error) {
	if requested == nil {
		return image.Rectangle{}, apperrors.NewValidationError("manual crop needs a rectangle", nil)
	}

	clipped := requested.Canon().Intersect(img.Bounds())
	if clipped.Empty() {
		return image.Rectangle{}, apperrors.NewValidationError(
			fmt.Sprintf("crop rectangle %v lies outside the image %v", *requested, img.Bounds()), nil)
	}

	rect := FitAspect(clipped, aspect)
	if rect.Empty() {
		return image.Rectangle{}, apperrors.NewValidationError(
			fmt.Sprintf("crop rectangle %v is too small for aspect ratio %s", clipped, aspect), nil)
	}
	return rect, nil
}

// GetStrategyName returns the strategy name
func (s *ManualStrategy) GetStrategyName() string {
	return Manual
}

// CenterStrategy takes the largest centred rectangle
type CenterStrategy struct{}

// NewCenterStrategy creates a new center strategy
func NewCenterStrategy() CropStrategy {
	return &CenterStrategy{}
}

func (s *CenterStrategy) SelectRect(ctx context.Context, img image.Image, aspect models.AspectRatio, _ *image.Rectangle) (image.Rectangle, error) {
	rect := FitAspect(img.Bounds(), aspect)
	if rect.Empty() {
		return image.Rectangle{}, apperrors.NewProcessingError("image too small to crop", nil)
	}
	return rect, nil
}

// GetStrategyName returns the strategy name
func (s *CenterStrategy) GetStrategyName() string {
	return Center
}

// SmartStrategy picks the most interesting region using content analysis
type SmartStrategy struct {
	resampler imaging.ResampleFilter
}

// NewSmartStrategy creates a content-aware strategy that downsizes with resampler
func NewSmartStrategy(resampler imaging.ResampleFilter) CropStrategy {
	return &SmartStrategy{resampler: resampler}
}

func (s *SmartStrategy) SelectRect(ctx context.Context, img image.Image, aspect models.AspectRatio, _ *image.Rectangle) (image.Rectangle, error) {
	b := img.Bounds()
	if aspect.IsFree() {
		return b, nil
	}

	// Largest rectangle of the ratio that fits; smartcrop only needs its proportions
	target := FitAspect(image.Rect(0, 0, b.Dx(), b.Dy()), aspect)
	if target.Empty() {
		return image.Rectangle{}, apperrors.NewProcessingError("image too small to crop", nil)
	}

	analyzer := smartcrop.NewAnalyzer(&resizer{resampler: s.resampler})

	type cropResult struct {
		crop image.Rectangle
		err  error
	}
	resultChan := make(chan cropResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- cropResult{err: fmt.Errorf("smart crop panicked: %v", r)}
			}
		}()
		crop, err := analyzer.FindBestCrop(img, target.Dx(), target.Dy())
		resultChan <- cropResult{crop: crop, err: err}
	}()

	select {
	case <-ctx.Done():
		return image.Rectangle{}, ctx.Err()
	case result := <-resultChan:
		if result.err != nil {
			return image.Rectangle{}, apperrors.NewProcessingError("finding best crop", result.err)
		}
		rect := FitAspect(result.crop.Intersect(b), aspect)
		if rect.Empty() {
			return image.Rectangle{}, apperrors.NewProcessingError("smart crop found no region", nil)
		}
		return rect, nil
	}
}

// GetStrategyName returns the strategy name
func (s *SmartStrategy) GetStrategyName() string {
	return Smart
}

// resizer implements the smartcrop.Resizer interface
type resizer struct {
	resampler imaging.ResampleFilter
}

func (r *resizer) Resize(img image.Image, width, height uint) image.Image {
	return imaging.Resize(img, int(width), int(height), r.resampler)
}

// FitAspect returns the largest rectangle of the given ratio centred in r.
// A free ratio returns r unchanged.
func FitAspect(r image.Rectangle, aspect models.AspectRatio) image.Rectangle {
	r = r.Canon()
	if aspect.IsFree() || r.Empty() {
		return r
	}

	w, h := r.Dx(), r.Dy()
	ratio := aspect.Float()

	newW, newH := w, h
	if float64(w)/float64(h) > ratio {
		newW = int(math.Round(float64(h) * ratio))
	} else {
		newH = int(math.Round(float64(w) / ratio))
	}
	newW = min(newW, w)
	newH = min(newH, h)
	if newW <= 0 || newH <= 0 {
		return image.Rectangle{}
	}

	x := r.Min.X + (w-newW)/2
	y := r.Min.Y + (h-newH)/2
	return image.Rect(x, y, x+newW, y+newH)
}

// Crop returns a copy of the region rect of img
func Crop(img image.Image, rect image.Rectangle) image.Image {
	return imaging.Crop(img, rect)
}

// CropContext manages the crop strategy
type CropContext struct {
	strategy CropStrategy
}

// NewCropContext creates a new crop context
func NewCropContext(strategy CropStrategy) *CropContext {
	return &CropContext{
		strategy: strategy,
	}
}

// ExecuteCrop selects a rectangle with the current strategy and crops img to it
func (c *CropContext) ExecuteCrop(ctx context.Context, img image.Image, aspect models.AspectRatio, requested *image.Rectangle) (image.Image, image.Rectangle, error) {
	if img == nil {
		return nil, image.Rectangle{}, apperrors.NewProcessingError("no image to crop", nil)
	}

	rect, err := c.strategy.SelectRect(ctx, img, aspect, requested)
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, image.Rectangle{}, err
	}
	return Crop(img, rect), rect, nil
}

// GetCurrentStrategy returns the current strategy name
func (c *CropContext) GetCurrentStrategy() string {
	return c.strategy.GetStrategyName()
}
