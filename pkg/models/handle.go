package models

import (
	"fmt"
	"image"
	"strings"
	"time"
)

// Source identifies where an image handle came from
type Source string

const (
	SourceCamera  Source = "camera"
	SourceGallery Source = "gallery"
	SourceFile    Source = "file"
)

// ParseSource parses a source name
func ParseSource(s string) (Source, error) {
	switch src := Source(strings.ToLower(strings.TrimSpace(s))); src {
	case SourceCamera, SourceGallery, SourceFile:
		return src, nil
	default:
		return "", fmt.Errorf("unknown image source %q", s)
	}
}

// Rotation is the accumulated interactive rotation of a handle.
// It is composed as plain degrees and only applied to pixels at commit time.
type Rotation struct {
	degrees int
}

// NewRotation returns a rotation of the given degrees, normalized to [0, 360)
func NewRotation(degrees int) Rotation {
	return Rotation{}.Add(degrees)
}

// Add composes another rotation step onto r
func (r Rotation) Add(degrees int) Rotation {
	d := (r.degrees + degrees) % 360
	if d < 0 {
		d += 360
	}
	return Rotation{degrees: d}
}

// RotateLeft composes a 90 degree counter-clockwise step
func (r Rotation) RotateLeft() Rotation { return r.Add(-90) }

// RotateRight composes a 90 degree clockwise step
func (r Rotation) RotateRight() Rotation { return r.Add(90) }

// Degrees returns the net clockwise rotation in [0, 360)
func (r Rotation) Degrees() int { return r.degrees }

func (r Rotation) IsZero() bool { return r.degrees == 0 }

// SwapsAxes reports whether applying r exchanges width and height
func (r Rotation) SwapsAxes() bool {
	return r.degrees == 90 || r.degrees == 270
}

// ImageHandle references image bytes together with their orientation and rotation state.
// Exactly one handle is live per flow.
type ImageHandle struct {
	ID          string      `json:"id"`
	Ref         string      `json:"ref"`
	Source      Source      `json:"source"`
	Orientation Orientation `json:"orientation"`
	Rotation    Rotation    `json:"-"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	CreatedAt   time.Time   `json:"created_at"`

	// Temporary marks a file in the work location owned by this handle
	Temporary bool `json:"-"`

	// Image is the decoded, orientation-corrected bitmap
	Image image.Image `json:"-"`
}

// Bounds returns the dimensions of the handle once its pending rotation is applied.
// Only right-angle rotations are tracked exactly.
func (h *ImageHandle) Bounds() (width, height int) {
	if h.Rotation.SwapsAxes() {
		return h.Height, h.Width
	}
	return h.Width, h.Height
}

// WithRotation returns a copy of the handle carrying rotation r
func (h *ImageHandle) WithRotation(r Rotation) *ImageHandle {
	cp := *h
	cp.Rotation = r
	return &cp
}
