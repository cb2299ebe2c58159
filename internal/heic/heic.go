// Package heic converts HEIC/HEIF sources into a format the rest of the
// pipeline can decode.
package heic

import (
	"context"
	"sync"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/imgshift/internal/apperr"
	"github.com/aliskhannn/imgshift/internal/model"
)

// Converter turns HEIC bytes into JPEG or PNG bytes and reports the MIME
// type of the result.
type Converter interface {
	Convert(ctx context.Context, data []byte) ([]byte, string, error)
}

// Unavailable is used when no HEIC decoder is compiled in.
type Unavailable struct{}

// Convert always fails with heic_unavailable.
func (Unavailable) Convert(context.Context, []byte) ([]byte, string, error) {
	return nil, "", apperr.New(apperr.CodeHEICUnavailable, "no heic decoder in this build")
}

// Factory creates the converter on first use.
type Factory func() (Converter, error)

// Loader owns one lazily created converter. Concurrent callers share a
// single in-flight preload; a failed preload is forgotten so the next call
// tries again.
type Loader struct {
	factory Factory

	mu      sync.Mutex
	conv    Converter
	loading chan struct{}
	err     error
}

// NewLoader returns a Loader using factory, or the build's default
// converter when factory is nil.
func NewLoader(factory Factory) *Loader {
	if factory == nil {
		factory = newDefault
	}
	return &Loader{factory: factory}
}

// Preload creates the converter if needed. It is safe to call from many
// goroutines; only one runs the factory.
func (l *Loader) Preload(ctx context.Context) (Converter, error) {
	l.mu.Lock()
	if l.conv != nil {
		conv := l.conv
		l.mu.Unlock()
		return conv, nil
	}

	wait := l.loading
	if wait == nil {
		wait = make(chan struct{})
		l.loading = wait
		l.mu.Unlock()
		go l.load(wait)
	} else {
		l.mu.Unlock()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wait:
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conv != nil {
		return l.conv, nil
	}
	return nil, l.err
}

func (l *Loader) load(done chan struct{}) {
	conv, err := l.factory()
	if err == nil && conv == nil {
		err = apperr.New(apperr.CodeHEICLibraryFailed, "converter factory returned nil")
	}

	l.mu.Lock()
	if err != nil {
		l.err = apperr.Wrap(apperr.CodeHEICLibraryFailed, err)
		zlog.Logger.Warn().Err(err).Msg("heic converter failed to load")
	} else {
		l.conv = conv
		l.err = nil
	}
	l.loading = nil
	l.mu.Unlock()

	close(done)
}

// Convert runs the loaded converter and normalizes its failures into the
// four HEIC error codes.
func (l *Loader) Convert(ctx context.Context, data []byte) ([]byte, string, error) {
	conv, err := l.Preload(ctx)
	if err != nil {
		return nil, "", err
	}

	out, mime, err := conv.Convert(ctx, data)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.CodeHEICConvertFailed, err)
	}
	if len(out) == 0 || (mime != model.MimeJPEG && mime != model.MimePNG) {
		return nil, "", apperr.New(apperr.CodeHEICUnexpectedResult, "converter returned %d bytes of %q", len(out), mime)
	}

	return out, mime, nil
}
