package model

import "image"

// ImageDescriptor describes one side (source or result) of a transformation.
type ImageDescriptor struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Data     []byte `json:"-"`

	// Preview is a display-safe PNG copy, set when Data itself is not
	// natively renderable (HEIC source) or for the rotated first frame of
	// an animation.
	Preview []byte `json:"-"`
}

// Release drops the byte buffers held by the descriptor.
func (d *ImageDescriptor) Release() {
	if d == nil {
		return
	}
	d.Data = nil
	d.Preview = nil
}

// RawFile is a file handed to the engine by the caller.
type RawFile struct {
	Name     string
	MimeType string // declared type, may be wrong or empty
	Data     []byte
}

// RgbaFrame is one fully composited animation frame.
type RgbaFrame struct {
	Image   *image.NRGBA
	DelayMs int
}

// RgbaAnimation is a decoded animation normalized to full-canvas frames.
type RgbaAnimation struct {
	Width  int
	Height int
	Frames []RgbaFrame
}

// SniffResult is the authoritative container type detected from bytes.
type SniffResult struct {
	MimeType   string
	IsAnimated bool
}
