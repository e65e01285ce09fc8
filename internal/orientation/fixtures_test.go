package orientation

import (
	"go-photo-cropper/internal/testutil"
)

var (
	red   = testutil.Red
	green = testutil.Green
	blue  = testutil.Blue
	white = testutil.White
)

var (
	quadImage           = testutil.QuadImage
	indexedImage        = testutil.IndexedImage
	encodePNG           = testutil.EncodePNG
	encodeJPEG          = testutil.EncodeJPEG
	withExifOrientation = testutil.WithExifOrientation
	nrgbaAt             = testutil.NRGBAAt
	near                = testutil.Near
	samePixels          = testutil.SamePixels
)
