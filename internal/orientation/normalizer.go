package orientation

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	apperrors "go-photo-cropper/internal/errors"
	"go-photo-cropper/internal/logger"
	"go-photo-cropper/pkg/models"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Defaults applied when Options leaves a field zero
const (
	DefaultMaxDimension    = 1024
	DefaultMaxSourcePixels = 100_000_000
)

// Normalizer decodes image resources and corrects their orientation
type Normalizer interface {
	// Decode reads bounds first, then decodes at full resolution and fits the
	// result to the dimension cap
	Decode(ctx context.Context, data []byte) (image.Image, DecodeInfo, error)

	// ReadOrientation parses the EXIF orientation tag
	ReadOrientation(data []byte) (models.Orientation, error)

	// Normalize decodes data and applies the orientation transform
	Normalize(ctx context.Context, data []byte) (*Result, error)

	// Rotate rotates img clockwise by degrees
	Rotate(img image.Image, degrees float64) image.Image
}

// Options bounds the memory a single decode may use
type Options struct {
	MaxDimension    int
	MaxSourcePixels int64
}

// DecodeInfo describes a decoded resource
type DecodeInfo struct {
	Format       string `json:"format"`
	SourceWidth  int    `json:"source_width"`
	SourceHeight int    `json:"source_height"`

	// SampleSize is the integer factor a subsampling decoder would use for
	// this source. It is reported only: the stdlib decoders have no scaled
	// mode, so Decode reads every pixel and Width and Height come from the fit.
	SampleSize int `json:"sample_size"`

	Width        int    `json:"width"`
	Height       int    `json:"height"`
}

// Result is an orientation-corrected bitmap
type Result struct {
	Image       image.Image
	Orientation models.Orientation
	// Applied is false when the orientation needed no transform or is one
	// of the transposes, which are left as decoded
	Applied bool
	Info    DecodeInfo
}

type normalizer struct {
	opts Options
}

// NewNormalizer creates a normalizer with the given limits
func NewNormalizer(opts Options) Normalizer {
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = DefaultMaxDimension
	}
	if opts.MaxSourcePixels <= 0 {
		opts.MaxSourcePixels = DefaultMaxSourcePixels
	}
	return &normalizer{opts: opts}
}

// SampleSize returns the integer downsampling factor for a width x height
// source against a dimension cap. It is never below 1.
func SampleSize(width, height, maxDimension int) int {
	if maxDimension <= 0 {
		return 1
	}
	s := width / maxDimension
	if hs := height / maxDimension; hs < s {
		s = hs
	}
	if s < 1 {
		return 1
	}
	return s
}

func (n *normalizer) Decode(ctx context.Context, data []byte) (image.Image, DecodeInfo, error) {
	var info DecodeInfo

	if err := ctx.Err(); err != nil {
		return nil, info, err
	}
	if len(data) == 0 {
		return nil, info, apperrors.NewDecodeError("empty image resource", nil)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, info, apperrors.NewDecodeError("failed to read image bounds", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, info, apperrors.NewDecodeError(fmt.Sprintf("invalid image bounds %dx%d", cfg.Width, cfg.Height), nil)
	}
	if int64(cfg.Width)*int64(cfg.Height) > n.opts.MaxSourcePixels {
		return nil, info, apperrors.NewValidationError(
			fmt.Sprintf("image %dx%d exceeds the %d pixel limit", cfg.Width, cfg.Height, n.opts.MaxSourcePixels), nil)
	}

	info = DecodeInfo{
		Format:       format,
		SourceWidth:  cfg.Width,
		SourceHeight: cfg.Height,
		SampleSize:   SampleSize(cfg.Width, cfg.Height, n.opts.MaxDimension),
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, DecodeInfo{}, apperrors.NewDecodeError("failed to decode image", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, DecodeInfo{}, err
	}

	b := img.Bounds()
	if b.Dx() > n.opts.MaxDimension || b.Dy() > n.opts.MaxDimension {
		img = imaging.Fit(img, n.opts.MaxDimension, n.opts.MaxDimension, imaging.Box)
		b = img.Bounds()
	}
	info.Width, info.Height = b.Dx(), b.Dy()

	return img, info, nil
}

func (n *normalizer) ReadOrientation(data []byte) (o models.Orientation, err error) {
	// goexif can panic on truncated IFDs
	defer func() {
		if r := recover(); r != nil {
			o, err = models.OrientationUndefined, fmt.Errorf("exif: %v", r)
		}
	}()

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return models.OrientationUndefined, err
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return models.OrientationUndefined, err
	}
	v, err := tag.Int(0)
	if err != nil {
		return models.OrientationUndefined, err
	}

	o = models.Orientation(v)
	if !o.Valid() {
		return models.OrientationUndefined, fmt.Errorf("exif: orientation value %d out of range", v)
	}
	return o, nil
}

func (n *normalizer) Normalize(ctx context.Context, data []byte) (res *Result, err error) {
	img, info, err := n.Decode(ctx, data)
	if err != nil {
		return nil, err
	}

	o, oerr := n.ReadOrientation(data)
	if oerr != nil {
		logger.WithError(oerr).WithField("format", info.Format).Debug("No usable orientation metadata, leaving image as decoded")
	}
	applied := Recognized(o)
	if !applied && o != models.OrientationNormal && o != models.OrientationUndefined {
		logger.WithField("orientation", o.String()).Debug("Orientation not supported, leaving image as decoded")
	}

	defer func() {
		if r := recover(); r != nil {
			res, err = nil, apperrors.NewProcessingError("orientation transform failed", fmt.Errorf("%v", r))
		}
	}()

	out := Apply(img, o)
	b := out.Bounds()
	info.Width, info.Height = b.Dx(), b.Dy()

	logger.WithFields(logrus.Fields{
		"format":        info.Format,
		"source_width":  info.SourceWidth,
		"source_height": info.SourceHeight,
		"width":         info.Width,
		"height":        info.Height,
		"sample_size":   info.SampleSize,
		"orientation":   o.String(),
		"applied":       applied,
	}).Debug("Image normalized")

	return &Result{Image: out, Orientation: o, Applied: applied, Info: info}, nil
}

func (n *normalizer) Rotate(img image.Image, degrees float64) image.Image {
	return Rotate(img, degrees)
}
