// Package offload moves pipeline calls onto a background worker goroutine
// and falls back to running them on the caller's goroutine when the worker
// is unavailable or cannot handle the input.
package offload

import (
	"image"
	"slices"

	"github.com/aliskhannn/imgshift/internal/apperr"
	"github.com/aliskhannn/imgshift/internal/model"
)

// Request is a message to the worker: RawRequest or BitmapRequest.
type Request interface {
	requestID() uint64
	isRequest()
}

// RawRequest asks the worker to run the full pipeline on encoded bytes.
// Data is owned by the worker once sent.
type RawRequest struct {
	ID       uint64
	Data     []byte
	MimeType string
	Options  model.ProcessingOptions
}

// BitmapRequest carries an image the caller already decoded.
type BitmapRequest struct {
	ID      uint64
	Bitmap  image.Image
	Source  model.ImageDescriptor
	Options model.ProcessingOptions
}

func (r RawRequest) requestID() uint64    { return r.ID }
func (r BitmapRequest) requestID() uint64 { return r.ID }
func (RawRequest) isRequest()             {}
func (BitmapRequest) isRequest()          {}

// Response is a message from the worker: SuccessResponse or
// FailureResponse.
type Response interface {
	responseID() uint64
	isResponse()
}

// SuccessResponse carries both descriptors of a finished run.
type SuccessResponse struct {
	ID     uint64
	Source model.ImageDescriptor
	Result model.ImageDescriptor
}

// FailureResponse reports a coded failure. Input hands the request buffer
// back to the caller so the recovery path can reuse it.
type FailureResponse struct {
	ID      uint64
	Code    apperr.Code
	Message string
	Input   []byte
}

func (r SuccessResponse) responseID() uint64 { return r.ID }
func (r FailureResponse) responseID() uint64 { return r.ID }
func (SuccessResponse) isResponse()          {}
func (FailureResponse) isResponse()          {}

// Err converts the failure back into a coded error.
func (r FailureResponse) Err() error {
	return apperr.New(r.Code, "%s", r.Message)
}

// Capabilities is what a worker reports when it starts.
type Capabilities struct {
	Decode []string
	Encode []string
	HEIC   bool
}

// CanDecode reports whether mime is in the decode list.
func (c Capabilities) CanDecode(mime string) bool { return slices.Contains(c.Decode, mime) }

// CanEncode reports whether mime is in the encode list.
func (c Capabilities) CanEncode(mime string) bool { return slices.Contains(c.Encode, mime) }
