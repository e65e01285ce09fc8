// Package testutil builds in-memory image fixtures for tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

// Quadrant colours of QuadImage
var (
	Red   = color.NRGBA{255, 0, 0, 255}
	Green = color.NRGBA{0, 255, 0, 255}
	Blue  = color.NRGBA{0, 0, 255, 255}
	White = color.NRGBA{255, 255, 255, 255}
)

// QuadImage fills the four quadrants red (top-left), green (top-right),
// blue (bottom-left) and white (bottom-right)
func QuadImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var c color.NRGBA
			switch {
			case x < width/2 && y < height/2:
				c = Red
			case y < height/2:
				c = Green
			case x < width/2:
				c = Blue
			default:
				c = White
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// IndexedImage gives every pixel a distinct colour so permutations are observable
func IndexedImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 40), uint8(y * 40), uint8(x + y*width), 255})
		}
	}
	return img
}

func EncodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func EncodeJPEG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

// WithExifOrientation splices an APP1 segment carrying a single orientation
// tag directly after the JPEG SOI marker
func WithExifOrientation(t testing.TB, jpegData []byte, orientation uint16) []byte {
	t.Helper()
	require.True(t, len(jpegData) > 2 && jpegData[0] == 0xFF && jpegData[1] == 0xD8, "not a JPEG")

	var tiff bytes.Buffer
	tiff.Write([]byte{'M', 'M', 0x00, 0x2A})
	binary.Write(&tiff, binary.BigEndian, uint32(8)) // first IFD offset
	binary.Write(&tiff, binary.BigEndian, uint16(1)) // entry count
	binary.Write(&tiff, binary.BigEndian, uint16(0x0112))
	binary.Write(&tiff, binary.BigEndian, uint16(3)) // SHORT
	binary.Write(&tiff, binary.BigEndian, uint32(1))
	binary.Write(&tiff, binary.BigEndian, orientation)
	binary.Write(&tiff, binary.BigEndian, uint16(0)) // padding
	binary.Write(&tiff, binary.BigEndian, uint32(0)) // no next IFD

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)

	var out bytes.Buffer
	out.Write(jpegData[:2])
	out.Write([]byte{0xFF, 0xE1})
	binary.Write(&out, binary.BigEndian, uint16(len(payload)+2))
	out.Write(payload)
	out.Write(jpegData[2:])
	return out.Bytes()
}

// NRGBAAt reads the pixel at (x, y) relative to the image origin
func NRGBAAt(img image.Image, x, y int) color.NRGBA {
	b := img.Bounds()
	return color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
}

// Near compares colours with a tolerance for lossy encodings
func Near(a, b color.NRGBA, tolerance int) bool {
	d := func(x, y uint8) int {
		if x > y {
			return int(x - y)
		}
		return int(y - x)
	}
	return d(a.R, b.R) <= tolerance && d(a.G, b.G) <= tolerance && d(a.B, b.B) <= tolerance
}

// SamePixels fails t unless want and got have identical size and pixels
func SamePixels(t testing.TB, want, got image.Image) {
	t.Helper()
	require.Equal(t, want.Bounds().Dx(), got.Bounds().Dx(), "width")
	require.Equal(t, want.Bounds().Dy(), got.Bounds().Dy(), "height")
	for y := 0; y < want.Bounds().Dy(); y++ {
		for x := 0; x < want.Bounds().Dx(); x++ {
			require.Equal(t, NRGBAAt(want, x, y), NRGBAAt(got, x, y), "pixel (%d,%d)", x, y)
		}
	}
}
