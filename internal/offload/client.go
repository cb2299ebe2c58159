package offload

import (
	"context"
	"errors"
	"image"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/imgshift/internal/apperr"
	"github.com/aliskhannn/imgshift/internal/model"
	"github.com/aliskhannn/imgshift/internal/processor"
	"github.com/aliskhannn/imgshift/internal/sniff"
)

var (
	// ErrWorkerReset rejects requests that were pending when the worker
	// was reset.
	ErrWorkerReset = errors.New("offload: worker reset")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("offload: client closed")
)

// Decoder decodes encoded bytes into a bitmap on the caller's side.
type Decoder func(data []byte, mime string) (image.Image, error)

// StartFunc creates a worker. Returning an error disables the worker and
// leaves only the synchronous path.
type StartFunc func() (*Worker, error)

type result struct {
	resp Response
	err  error
}

// Client submits work to a lazily created worker and applies the recovery
// ladder: worker raw request, then a caller-decoded bitmap request, then
// the synchronous pipeline.
type Client struct {
	pipeline Pipeline
	decode   Decoder
	start    StartFunc
	enabled  bool

	nextID atomic.Uint64
	resets atomic.Int64

	mu       sync.Mutex
	worker   *Worker
	disabled bool
	closed   bool
	pending  map[uint64]chan result
}

// Option configures a Client.
type Option func(*Client)

// WithWorker turns the background worker on or off.
func WithWorker(enabled bool) Option {
	return func(c *Client) { c.enabled = enabled }
}

// WithStart overrides how workers are created.
func WithStart(start StartFunc) Option {
	return func(c *Client) { c.start = start }
}

// WithDecoder overrides the caller-side decoder used by the bitmap path.
func WithDecoder(d Decoder) Option {
	return func(c *Client) { c.decode = d }
}

// NewClient creates a Client around p. By default a worker running the
// same pipeline is started on first use.
func NewClient(p Pipeline, opts ...Option) *Client {
	c := &Client{
		pipeline: p,
		decode:   processor.DecodeFallback,
		enabled:  true,
		pending:  make(map[uint64]chan result),
	}
	c.start = func() (*Worker, error) {
		return StartWorker(p, DefaultCapabilities(false)), nil
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit processes an encoded buffer. The buffer is owned by the client
// after the call. Callers cannot tell which path produced the output.
func (c *Client) Submit(ctx context.Context, data []byte, mime string, opts model.ProcessingOptions) (processor.Output, error) {
	w, err := c.acquire()
	if err != nil {
		return processor.Output{}, err
	}
	if w == nil || !c.handles(w, data, mime, opts) {
		return c.pipeline.ProcessBuffer(ctx, data, mime, opts)
	}

	resp, err := c.roundTrip(ctx, w, RawRequest{ID: c.nextID.Inc(), Data: data, MimeType: mime, Options: opts})
	if err != nil {
		return processor.Output{}, err
	}

	switch r := resp.(type) {
	case SuccessResponse:
		return processor.Output{Source: r.Source, Result: r.Result}, nil
	case FailureResponse:
		if r.Code != apperr.CodeDecode {
			return processor.Output{}, r.Err()
		}
		return c.recover(ctx, r, mime, opts)
	default:
		return processor.Output{}, apperr.New(apperr.CodeUnknown, "unexpected response %T", resp)
	}
}

// SubmitBitmap processes an image that is already decoded.
func (c *Client) SubmitBitmap(ctx context.Context, bitmap image.Image, source model.ImageDescriptor, opts model.ProcessingOptions) (processor.Output, error) {
	w, err := c.acquire()
	if err != nil {
		return processor.Output{}, err
	}
	if w == nil {
		return c.pipeline.ProcessBitmap(ctx, bitmap, source, opts)
	}

	resp, err := c.roundTrip(ctx, w, BitmapRequest{ID: c.nextID.Inc(), Bitmap: bitmap, Source: source, Options: opts})
	if err != nil {
		return processor.Output{}, err
	}

	switch r := resp.(type) {
	case SuccessResponse:
		return processor.Output{Source: r.Source, Result: r.Result}, nil
	case FailureResponse:
		return c.pipeline.ProcessBitmap(ctx, bitmap, source, opts)
	default:
		return processor.Output{}, apperr.New(apperr.CodeUnknown, "unexpected response %T", resp)
	}
}

// recover runs the two remaining ladder steps after a worker-side decode
// failure.
func (c *Client) recover(ctx context.Context, failed FailureResponse, mime string, opts model.ProcessingOptions) (processor.Output, error) {
	data := failed.Input
	source := model.ImageDescriptor{MimeType: sniff.Sniff(data, mime).MimeType, Size: int64(len(data)), Data: data}

	if bitmap, err := c.decode(data, source.MimeType); err == nil {
		if w, _ := c.acquire(); w != nil {
			resp, err := c.roundTrip(ctx, w, BitmapRequest{ID: c.nextID.Inc(), Bitmap: bitmap, Source: source, Options: opts})
			switch {
			case ctx.Err() != nil:
				return processor.Output{}, ctx.Err()
			case err != nil:
				zlog.Logger.Debug().Err(err).Msg("offload: bitmap request failed")
			default:
				if r, ok := resp.(SuccessResponse); ok {
					return processor.Output{Source: r.Source, Result: r.Result}, nil
				}
			}
		}
	} else {
		zlog.Logger.Debug().Err(err).Msg("offload: caller-side decode failed")
	}

	zlog.Logger.Debug().Str("mime", mime).Msg("offload: falling back to synchronous pipeline")
	return c.pipeline.ProcessBuffer(ctx, data, mime, opts)
}

// handles applies the worker's announced capabilities.
func (c *Client) handles(w *Worker, data []byte, mime string, opts model.ProcessingOptions) bool {
	caps := w.Capabilities()
	sn := sniff.Sniff(data, mime)
	if sniff.IsHEIC(sn.MimeType) && !caps.HEIC {
		return false
	}
	if !sniff.IsHEIC(sn.MimeType) && sn.MimeType != model.MimeUnknown && !caps.CanDecode(sn.MimeType) {
		return false
	}
	if out := processor.OutputMime(opts.Format, sn.MimeType); !caps.CanEncode(out) {
		return false
	}
	return true
}

// acquire returns the live worker, creating it if needed. A nil worker
// with a nil error means "run synchronously".
func (c *Client) acquire() (*Worker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if !c.enabled || c.disabled {
		return nil, nil
	}
	if c.worker != nil {
		return c.worker, nil
	}

	w, err := c.start()
	if err != nil || w == nil {
		zlog.Logger.Warn().Err(err).Msg("offload: worker unavailable, running synchronously")
		c.disabled = true
		return nil, nil
	}
	c.worker = w
	go c.dispatch(w)

	return w, nil
}

// dispatch routes worker responses to their pending callers. Responses
// with unknown ids are dropped.
func (c *Client) dispatch(w *Worker) {
	for {
		select {
		case <-w.quit:
			return
		case resp := <-w.out:
			if resp == nil {
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[resp.responseID()]
			if ok {
				delete(c.pending, resp.responseID())
			}
			c.mu.Unlock()

			if !ok {
				zlog.Logger.Debug().Uint64("id", resp.responseID()).Msg("offload: dropping unmatched response")
				continue
			}
			ch <- result{resp: resp}
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, w *Worker, req Request) (Response, error) {
	id := req.requestID()
	ch := make(chan result, 1)

	c.mu.Lock()
	if c.worker != w {
		c.mu.Unlock()
		return nil, ErrWorkerReset
	}
	c.pending[id] = ch
	c.mu.Unlock()

	select {
	case w.in <- req:
	case res := <-ch:
		return res.resp, res.err
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}

	select {
	case res := <-ch:
		return res.resp, res.err
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Reset terminates the worker, rejects every pending request with
// ErrWorkerReset and lets the next submission start a fresh worker.
func (c *Client) Reset() {
	c.mu.Lock()
	w := c.worker
	c.worker = nil
	pending := c.pending
	c.pending = make(map[uint64]chan result)
	c.mu.Unlock()

	if w != nil {
		w.Stop()
	}
	for _, ch := range pending {
		ch <- result{err: ErrWorkerReset}
	}

	n := c.resets.Inc()
	zlog.Logger.Warn().Int64("resets", n).Int("flushed", len(pending)).Msg("offload: worker reset")
}

// Resets reports how many times Reset ran.
func (c *Client) Resets() int64 { return c.resets.Load() }

// Close stops the worker and rejects pending requests with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	w := c.worker
	c.worker = nil
	pending := c.pending
	c.pending = make(map[uint64]chan result)
	c.mu.Unlock()

	if w != nil {
		w.Stop()
	}

	var err error
	for id, ch := range pending {
		ch <- result{err: ErrClosed}
		err = multierr.Append(err, apperr.New(apperr.CodeUnknown, "request %d abandoned", id))
	}
	return err
}
