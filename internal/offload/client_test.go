package offload

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/aliskhannn/imgshift/internal/apperr"
	"github.com/aliskhannn/imgshift/internal/model"
	"github.com/aliskhannn/imgshift/internal/processor"
)

type fakePipeline struct {
	buffer func(ctx context.Context, call int32, data []byte) (processor.Output, error)
	bitmap func(ctx context.Context, call int32) (processor.Output, error)

	bufferCalls atomic.Int32
	bitmapCalls atomic.Int32
}

func (f *fakePipeline) ProcessBuffer(ctx context.Context, data []byte, _ string, _ model.ProcessingOptions) (processor.Output, error) {
	n := f.bufferCalls.Inc()
	if f.buffer == nil {
		return okOutput(model.MimePNG), nil
	}
	return f.buffer(ctx, n, data)
}

func (f *fakePipeline) ProcessBitmap(ctx context.Context, _ image.Image, _ model.ImageDescriptor, _ model.ProcessingOptions) (processor.Output, error) {
	n := f.bitmapCalls.Inc()
	if f.bitmap == nil {
		return okOutput(model.MimePNG), nil
	}
	return f.bitmap(ctx, n)
}

func okOutput(mime string) processor.Output {
	return processor.Output{
		Source: model.ImageDescriptor{Width: 4, Height: 4, MimeType: mime},
		Result: model.ImageDescriptor{Width: 2, Height: 2, MimeType: mime},
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.SetNRGBA(1, 1, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func stubDecoder(calls *atomic.Int32) Decoder {
	return func([]byte, string) (image.Image, error) {
		calls.Inc()
		return image.NewNRGBA(image.Rect(0, 0, 4, 4)), nil
	}
}

func TestSubmitThroughWorker(t *testing.T) {
	p := &fakePipeline{}
	var starts atomic.Int32
	c := NewClient(p, WithStart(func() (*Worker, error) {
		starts.Inc()
		return StartWorker(p, DefaultCapabilities(false)), nil
	}))
	defer c.Close()

	for i := 0; i < 3; i++ {
		out, err := c.Submit(context.Background(), pngBytes(t), model.MimePNG, model.DefaultOptions())
		require.NoError(t, err)
		assert.Equal(t, 2, out.Result.Width)
	}

	assert.Equal(t, int32(1), starts.Load(), "worker is created once and reused")
	assert.Equal(t, int32(3), p.bufferCalls.Load())
}

func TestSubmitPropagatesNonDecodeFailure(t *testing.T) {
	p := &fakePipeline{
		buffer: func(context.Context, int32, []byte) (processor.Output, error) {
			return processor.Output{}, apperr.New(apperr.CodeOutputTooLarge, "too big")
		},
	}
	var decodes atomic.Int32
	c := NewClient(p, WithDecoder(stubDecoder(&decodes)))
	defer c.Close()

	_, err := c.Submit(context.Background(), pngBytes(t), model.MimePNG, model.DefaultOptions())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeOutputTooLarge))
	assert.Contains(t, err.Error(), "too big")
	assert.Zero(t, decodes.Load())
	assert.Zero(t, p.bitmapCalls.Load())
}

func TestDecodeFailureFallsBackToBitmap(t *testing.T) {
	input := pngBytes(t)
	var seen []byte
	p := &fakePipeline{
		buffer: func(_ context.Context, _ int32, data []byte) (processor.Output, error) {
			seen = data
			return processor.Output{}, apperr.New(apperr.CodeDecode, "bad stream")
		},
	}
	var decodes atomic.Int32
	c := NewClient(p, WithDecoder(stubDecoder(&decodes)))
	defer c.Close()

	out, err := c.Submit(context.Background(), input, model.MimePNG, model.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, out.Result.Width)
	assert.Equal(t, input, seen)
	assert.Equal(t, int32(1), decodes.Load())
	assert.Equal(t, int32(1), p.bitmapCalls.Load())
	assert.Equal(t, int32(1), p.bufferCalls.Load())
}

func TestBitmapFailureFallsBackToSynchronous(t *testing.T) {
	p := &fakePipeline{
		buffer: func(_ context.Context, call int32, _ []byte) (processor.Output, error) {
			if call == 1 {
				return processor.Output{}, apperr.New(apperr.CodeDecode, "bad stream")
			}
			return okOutput(model.MimePNG), nil
		},
		bitmap: func(context.Context, int32) (processor.Output, error) {
			return processor.Output{}, apperr.New(apperr.CodeCanvasUnavailable, "no canvas")
		},
	}
	var decodes atomic.Int32
	c := NewClient(p, WithDecoder(stubDecoder(&decodes)))
	defer c.Close()

	out, err := c.Submit(context.Background(), pngBytes(t), model.MimePNG, model.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, model.MimePNG, out.Result.MimeType)
	assert.Equal(t, int32(1), p.bitmapCalls.Load())
	assert.Equal(t, int32(2), p.bufferCalls.Load())
}

func TestBitmapTransportErrorFallsBackToSynchronous(t *testing.T) {
	hang := make(chan struct{})
	defer close(hang)

	p := &fakePipeline{
		buffer: func(_ context.Context, call int32, _ []byte) (processor.Output, error) {
			if call == 1 {
				return processor.Output{}, apperr.New(apperr.CodeDecode, "bad stream")
			}
			return okOutput(model.MimePNG), nil
		},
		bitmap: func(ctx context.Context, _ int32) (processor.Output, error) {
			select {
			case <-hang:
			case <-ctx.Done():
			}
			return processor.Output{}, apperr.New(apperr.CodeUnknown, "interrupted")
		},
	}
	var decodes atomic.Int32
	c := NewClient(p, WithDecoder(stubDecoder(&decodes)))
	defer c.Close()

	data := pngBytes(t)
	type result struct {
		out processor.Output
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := c.Submit(context.Background(), data, model.MimePNG, model.DefaultOptions())
		done <- result{out, err}
	}()

	require.Eventually(t, func() bool { return p.bitmapCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	c.Reset()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, 2, res.out.Result.Width)
	case <-time.After(time.Second):
		t.Fatal("submit did not fall back after the worker reset")
	}
	assert.Equal(t, int32(2), p.bufferCalls.Load())
	assert.Equal(t, int32(1), decodes.Load())
}

func TestCallerDecodeFailureSkipsBitmap(t *testing.T) {
	p := &fakePipeline{
		buffer: func(_ context.Context, call int32, _ []byte) (processor.Output, error) {
			if call == 1 {
				return processor.Output{}, apperr.New(apperr.CodeDecode, "bad stream")
			}
			return processor.Output{}, apperr.New(apperr.CodeDecode, "still bad")
		},
	}
	c := NewClient(p, WithDecoder(func([]byte, string) (image.Image, error) {
		return nil, errors.New("nope")
	}))
	defer c.Close()

	_, err := c.Submit(context.Background(), pngBytes(t), model.MimePNG, model.DefaultOptions())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeDecode))
	assert.Zero(t, p.bitmapCalls.Load())
	assert.Equal(t, int32(2), p.bufferCalls.Load())
}

func TestWorkerDisabledRunsSynchronously(t *testing.T) {
	p := &fakePipeline{}
	var starts atomic.Int32
	c := NewClient(p, WithWorker(false), WithStart(func() (*Worker, error) {
		starts.Inc()
		return nil, nil
	}))
	defer c.Close()

	_, err := c.Submit(context.Background(), pngBytes(t), model.MimePNG, model.DefaultOptions())
	require.NoError(t, err)
	assert.Zero(t, starts.Load())
	assert.Equal(t, int32(1), p.bufferCalls.Load())
}

func TestWorkerStartFailureRunsSynchronously(t *testing.T) {
	p := &fakePipeline{}
	var starts atomic.Int32
	c := NewClient(p, WithStart(func() (*Worker, error) {
		starts.Inc()
		return nil, errors.New("spawn failed")
	}))
	defer c.Close()

	for i := 0; i < 2; i++ {
		_, err := c.Submit(context.Background(), pngBytes(t), model.MimePNG, model.DefaultOptions())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), starts.Load(), "a failed start is not retried")
	assert.Equal(t, int32(2), p.bufferCalls.Load())
}

func TestMissingEncodeCapabilityRunsSynchronously(t *testing.T) {
	p := &fakePipeline{}
	c := NewClient(p, WithStart(func() (*Worker, error) {
		caps := DefaultCapabilities(false)
		caps.Encode = []string{model.MimeJPEG}
		return StartWorker(p, caps), nil
	}))
	defer c.Close()

	opts := model.DefaultOptions()
	opts.Format = model.FormatPNG
	_, err := c.Submit(context.Background(), pngBytes(t), model.MimePNG, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.bufferCalls.Load())
}

func TestResetRejectsPendingAndRecreatesWorker(t *testing.T) {
	hang := make(chan struct{})
	defer close(hang)

	p := &fakePipeline{
		buffer: func(ctx context.Context, call int32, _ []byte) (processor.Output, error) {
			if call == 1 {
				select {
				case <-hang:
				case <-ctx.Done():
				}
				return processor.Output{}, apperr.New(apperr.CodeUnknown, "interrupted")
			}
			return okOutput(model.MimePNG), nil
		},
	}
	var starts atomic.Int32
	c := NewClient(p, WithStart(func() (*Worker, error) {
		starts.Inc()
		return StartWorker(p, DefaultCapabilities(false)), nil
	}))
	defer c.Close()

	data := pngBytes(t)
	errc := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), data, model.MimePNG, model.DefaultOptions())
		errc <- err
	}()

	require.Eventually(t, func() bool { return p.bufferCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	c.Reset()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrWorkerReset)
	case <-time.After(time.Second):
		t.Fatal("pending request was not rejected by reset")
	}
	assert.Equal(t, int64(1), c.Resets())

	out, err := c.Submit(context.Background(), pngBytes(t), model.MimePNG, model.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, out.Result.Width)
	assert.Equal(t, int32(2), starts.Load())
}

func TestSubmitHonorsContext(t *testing.T) {
	hang := make(chan struct{})
	defer close(hang)

	p := &fakePipeline{
		buffer: func(context.Context, int32, []byte) (processor.Output, error) {
			<-hang
			return okOutput(model.MimePNG), nil
		},
	}
	c := NewClient(p)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Submit(ctx, pngBytes(t), model.MimePNG, model.DefaultOptions())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmitBitmap(t *testing.T) {
	p := &fakePipeline{}
	c := NewClient(p)
	defer c.Close()

	src := model.ImageDescriptor{Width: 4, Height: 4, MimeType: model.MimePNG}
	out, err := c.SubmitBitmap(context.Background(), image.NewNRGBA(image.Rect(0, 0, 4, 4)), src, model.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, out.Result.Height)
	assert.Equal(t, int32(1), p.bitmapCalls.Load())
}

func TestClosedClientRejects(t *testing.T) {
	c := NewClient(&fakePipeline{})
	require.NoError(t, c.Close())

	_, err := c.Submit(context.Background(), pngBytes(t), model.MimePNG, model.DefaultOptions())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWorkerDropsUnknownRequest(t *testing.T) {
	type bogus struct{ RawRequest }
	p := &fakePipeline{}
	w := StartWorker(p, DefaultCapabilities(false))
	defer w.Stop()

	assert.Nil(t, w.handle(bogus{RawRequest{ID: 9}}))
	assert.Zero(t, p.bufferCalls.Load())
}

func TestFailureResponseKeepsCode(t *testing.T) {
	resp := failure(3, apperr.New(apperr.CodeExport, "encoder broke"), []byte{1})
	assert.Equal(t, apperr.CodeExport, resp.Code)
	assert.Equal(t, "encoder broke", resp.Message)
	assert.True(t, apperr.Is(resp.Err(), apperr.CodeExport))
}
