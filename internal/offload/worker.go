package offload

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/imgshift/internal/apperr"
	"github.com/aliskhannn/imgshift/internal/model"
	"github.com/aliskhannn/imgshift/internal/processor"
)

// Pipeline is the processing entry point shared by the worker and the
// synchronous path.
type Pipeline interface {
	ProcessBuffer(ctx context.Context, data []byte, mime string, opts model.ProcessingOptions) (processor.Output, error)
	ProcessBitmap(ctx context.Context, bitmap image.Image, source model.ImageDescriptor, opts model.ProcessingOptions) (processor.Output, error)
}

// DefaultCapabilities lists what the built-in pipeline handles.
func DefaultCapabilities(heic bool) Capabilities {
	return Capabilities{
		Decode: []string{model.MimeJPEG, model.MimePNG, model.MimeAPNG, model.MimeWebP, model.MimeGIF, model.MimeHEIC, model.MimeHEIF},
		Encode: []string{model.MimeJPEG, model.MimePNG, model.MimeAPNG, model.MimeWebP, model.MimeGIF},
		HEIC:   heic,
	}
}

// Worker runs requests one at a time on its own goroutine.
type Worker struct {
	in   chan Request
	out  chan Response
	quit chan struct{}

	caps     Capabilities
	pipeline Pipeline

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// StartWorker launches the worker goroutine.
func StartWorker(p Pipeline, caps Capabilities) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		in:       make(chan Request),
		out:      make(chan Response),
		quit:     make(chan struct{}),
		caps:     caps,
		pipeline: p,
		ctx:      ctx,
		cancel:   cancel,
	}
	go w.run()
	return w
}

// Capabilities reports what the worker announced at start.
func (w *Worker) Capabilities() Capabilities { return w.caps }

// Stop terminates the worker. A request that is already running cannot be
// interrupted; its response is discarded.
func (w *Worker) Stop() {
	w.once.Do(func() {
		w.cancel()
		close(w.quit)
	})
}

func (w *Worker) run() {
	for {
		select {
		case <-w.quit:
			return
		case req := <-w.in:
			resp := w.handle(req)
			if resp == nil {
				continue
			}
			select {
			case w.out <- resp:
			case <-w.quit:
				return
			}
		}
	}
}

func (w *Worker) handle(req Request) Response {
	switch r := req.(type) {
	case RawRequest:
		out, err := w.pipeline.ProcessBuffer(w.ctx, r.Data, r.MimeType, r.Options)
		if err != nil {
			return failure(r.ID, err, r.Data)
		}
		return SuccessResponse{ID: r.ID, Source: out.Source, Result: out.Result}

	case BitmapRequest:
		out, err := w.pipeline.ProcessBitmap(w.ctx, r.Bitmap, r.Source, r.Options)
		if err != nil {
			return failure(r.ID, err, r.Source.Data)
		}
		return SuccessResponse{ID: r.ID, Source: out.Source, Result: out.Result}

	default:
		zlog.Logger.Warn().Msgf("offload worker: dropping unknown request %T", req)
		return nil
	}
}

func failure(id uint64, err error, input []byte) FailureResponse {
	msg := err.Error()
	var coded *apperr.Error
	if errors.As(err, &coded) && coded.Err != nil {
		msg = coded.Err.Error()
	}
	return FailureResponse{ID: id, Code: apperr.CodeOf(err), Message: msg, Input: input}
}
