package models

import "fmt"

// Orientation is the EXIF orientation tag value of an image
type Orientation int

const (
	OrientationUndefined      Orientation = 0
	OrientationNormal         Orientation = 1
	OrientationFlipHorizontal Orientation = 2
	OrientationRotate180      Orientation = 3
	OrientationFlipVertical   Orientation = 4
	OrientationTranspose      Orientation = 5
	OrientationRotate90       Orientation = 6
	OrientationTransverse     Orientation = 7
	OrientationRotate270      Orientation = 8
)

var orientationNames = map[Orientation]string{
	OrientationUndefined:      "undefined",
	OrientationNormal:         "normal",
	OrientationFlipHorizontal: "flip_horizontal",
	OrientationRotate180:      "rotate_180",
	OrientationFlipVertical:   "flip_vertical",
	OrientationTranspose:      "transpose",
	OrientationRotate90:       "rotate_90",
	OrientationTransverse:     "transverse",
	OrientationRotate270:      "rotate_270",
}

// String returns the snake_case name of the orientation
func (o Orientation) String() string {
	if name, ok := orientationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("orientation(%d)", int(o))
}

// Valid reports whether o is one of the eight EXIF orientation values
func (o Orientation) Valid() bool {
	return o >= OrientationNormal && o <= OrientationRotate270
}

// MarshalText encodes the orientation by name
func (o Orientation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText accepts an orientation name or its EXIF tag value
func (o *Orientation) UnmarshalText(text []byte) error {
	s := string(text)
	for v, name := range orientationNames {
		if name == s {
			*o = v
			return nil
		}
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n < 0 || n > int(OrientationRotate270) {
		return fmt.Errorf("unknown orientation %q", s)
	}
	*o = Orientation(n)
	return nil
}
