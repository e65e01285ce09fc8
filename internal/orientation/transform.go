package orientation

import (
	"image"
	"image/color"
	"math"

	"go-photo-cropper/pkg/models"

	"github.com/disintegration/imaging"
)

// Apply corrects img for the given EXIF orientation.
// Only the five rotate/flip values are acted on; the transposes, Normal and
// Undefined leave the image untouched.
func Apply(img image.Image, o models.Orientation) image.Image {
	switch o {
	case models.OrientationRotate90:
		return Rotate(img, 90)
	case models.OrientationRotate180:
		return Rotate(img, 180)
	case models.OrientationRotate270:
		return Rotate(img, 270)
	case models.OrientationFlipHorizontal:
		return imaging.FlipH(img)
	case models.OrientationFlipVertical:
		return imaging.FlipV(img)
	default:
		return img
	}
}

// Recognized reports whether Apply transforms images tagged with o
func Recognized(o models.Orientation) bool {
	switch o {
	case models.OrientationRotate90, models.OrientationRotate180, models.OrientationRotate270,
		models.OrientationFlipHorizontal, models.OrientationFlipVertical:
		return true
	}
	return false
}

// Rotate rotates img clockwise by degrees. Right angles are exact pixel
// permutations; other angles expand the bounds and fill with transparency.
func Rotate(img image.Image, degrees float64) image.Image {
	d := math.Mod(degrees, 360)
	if d < 0 {
		d += 360
	}

	// imaging rotates counter-clockwise
	switch d {
	case 0:
		return imaging.Clone(img)
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return imaging.Rotate(img, 360-d, color.Transparent)
	}
}

// RotateHandle renders the pending rotation of h onto its image
func RotateHandle(h *models.ImageHandle) image.Image {
	return Rotate(h.Image, float64(h.Rotation.Degrees()))
}
