package models

import (
	"image"
	"time"
)

// AcquireRequest selects the image a flow starts editing.
// Camera captures are sent as multipart uploads instead.
type AcquireRequest struct {
	Source string `json:"source" binding:"required"`
	Ref    string `json:"ref" binding:"required"`
}

// RotateRequest rotates the image being cropped by a quarter turn
type RotateRequest struct {
	Direction string `json:"direction" binding:"required,oneof=left right"`
}

// Rect is a crop rectangle in pixel coordinates of the rotated image
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rectangle converts r to an image.Rectangle
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// CropRequest commits the crop. An empty strategy picks "manual" when a rect is
// given and "center" otherwise.
type CropRequest struct {
	Strategy string `json:"strategy,omitempty"`
	Rect     *Rect  `json:"rect,omitempty"`
}

// HandleResponse is the serialized view of an image handle
type HandleResponse struct {
	ID          string      `json:"id"`
	Ref         string      `json:"ref"`
	Source      Source      `json:"source"`
	Orientation Orientation `json:"orientation"`
	Rotation    int         `json:"rotation"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
}

// NewHandleResponse converts a handle for transport; nil stays nil
func NewHandleResponse(h *ImageHandle) *HandleResponse {
	if h == nil {
		return nil
	}
	w, ht := h.Bounds()
	return &HandleResponse{
		ID:          h.ID,
		Ref:         h.Ref,
		Source:      h.Source,
		Orientation: h.Orientation,
		Rotation:    h.Rotation.Degrees(),
		Width:       w,
		Height:      ht,
	}
}

// FlowResponse reports the state of a flow after an action
type FlowResponse struct {
	ID          string          `json:"id"`
	State       string          `json:"state"`
	AspectRatio string          `json:"aspect_ratio"`
	Handle      *HandleResponse `json:"handle,omitempty"`
	SavedRef    string          `json:"saved_ref,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SaveResponse reports where the output was persisted
type SaveResponse struct {
	FlowID  string `json:"flow_id"`
	Ref     string `json:"ref"`
	Message string `json:"message"`
}

// ErrorResponse represents an error notice
type ErrorResponse struct {
	Error   string `json:"error"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}
