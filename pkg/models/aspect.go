package models

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultAspectRatio is the fixed crop ratio used when nothing else is configured
var DefaultAspectRatio = AspectRatio{Width: 16, Height: 9}

// AspectRatio constrains a crop rectangle. The zero value means unconstrained.
type AspectRatio struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ParseAspectRatio parses "W:H". "free" and "original" yield the zero ratio.
func ParseAspectRatio(s string) (AspectRatio, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "", "free", "original":
		return AspectRatio{}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return AspectRatio{}, fmt.Errorf("invalid aspect ratio %q: expected W:H", s)
	}
	w, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return AspectRatio{}, fmt.Errorf("invalid aspect ratio %q: both sides must be positive integers", s)
	}
	return AspectRatio{Width: w, Height: h}, nil
}

// IsFree reports whether the ratio leaves the crop unconstrained
func (a AspectRatio) IsFree() bool {
	return a.Width <= 0 || a.Height <= 0
}

// Float returns width/height, or 0 for a free ratio
func (a AspectRatio) Float() float64 {
	if a.IsFree() {
		return 0
	}
	return float64(a.Width) / float64(a.Height)
}

func (a AspectRatio) String() string {
	if a.IsFree() {
		return "free"
	}
	return fmt.Sprintf("%d:%d", a.Width, a.Height)
}
