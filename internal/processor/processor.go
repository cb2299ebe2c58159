// Package processor runs the transformation pipeline for one image:
// sniff, optional HEIC conversion, decode, rotate, resize, encode and
// optional EXIF embedding.
package processor

import (
	"context"
	"image"

	"github.com/dustin/go-humanize"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/imgshift/internal/animation"
	"github.com/aliskhannn/imgshift/internal/apperr"
	"github.com/aliskhannn/imgshift/internal/container"
	"github.com/aliskhannn/imgshift/internal/geometry"
	"github.com/aliskhannn/imgshift/internal/metadata"
	"github.com/aliskhannn/imgshift/internal/model"
	"github.com/aliskhannn/imgshift/internal/sniff"
	"github.com/aliskhannn/imgshift/internal/transform"
)

// presets resolves a preset id to its max long side.
type presets interface {
	MaxLongSide(id string) int
}

// heicConverter turns HEIC bytes into a decodable format.
type heicConverter interface {
	Convert(ctx context.Context, data []byte) ([]byte, string, error)
}

// Output holds the descriptors produced by one pipeline run.
type Output struct {
	Source model.ImageDescriptor
	Result model.ImageDescriptor
}

// Processor executes the pipeline. It holds no per-image state and is safe
// for concurrent use.
type Processor struct {
	presets presets
	heic    heicConverter
}

// New creates a Processor. A nil heic converter makes HEIC input fail with
// heic_unavailable.
func New(p presets, heic heicConverter) *Processor {
	return &Processor{presets: p, heic: heic}
}

// ProcessBuffer runs the full pipeline on encoded bytes. declared is the
// caller's MIME type, used only when sniffing cannot tell.
func (p *Processor) ProcessBuffer(ctx context.Context, data []byte, declared string, opts model.ProcessingOptions) (Output, error) {
	if len(data) == 0 {
		return Output{}, apperr.New(apperr.CodeInvalidInput, "empty buffer")
	}
	opts, err := opts.Validate()
	if err != nil {
		return Output{}, apperr.Wrap(apperr.CodeInvalidInput, err)
	}

	sn := sniff.Sniff(data, declared)
	source := model.ImageDescriptor{MimeType: sn.MimeType, Size: int64(len(data)), Data: data}
	outMime := OutputMime(opts.Format, sn.MimeType)

	work, workMime := data, sn.MimeType
	if sniff.IsHEIC(sn.MimeType) {
		work, workMime, err = p.convertHEIC(ctx, data)
		if err != nil {
			return Output{}, err
		}
		source.Preview = work
	}

	var exif []byte
	if !opts.Strip {
		exif = metadata.Extract(workMime, work)
	}

	zlog.Logger.Debug().
		Str("mime", sn.MimeType).
		Bool("animated", sn.IsAnimated).
		Str("output", outMime).
		Str("size", humanize.IBytes(uint64(len(data)))).
		Msg("processing buffer")

	var result model.ImageDescriptor
	if sn.IsAnimated {
		result, err = p.processAnimation(ctx, &source, work, workMime, outMime, opts)
	} else {
		result, err = p.processStill(ctx, &source, work, workMime, outMime, opts)
	}
	if err != nil {
		return Output{}, err
	}

	result.Data = embedExif(outMime, result.Data, exif)
	result.Size = int64(len(result.Data))

	return Output{Source: source, Result: result}, nil
}

// ProcessBitmap runs the pipeline from an already decoded still image.
// source describes the encoded original the bitmap came from.
func (p *Processor) ProcessBitmap(ctx context.Context, bitmap image.Image, source model.ImageDescriptor, opts model.ProcessingOptions) (Output, error) {
	if bitmap == nil || bitmap.Bounds().Empty() {
		return Output{}, apperr.New(apperr.CodeCanvasUnavailable, "empty bitmap")
	}
	opts, err := opts.Validate()
	if err != nil {
		return Output{}, apperr.Wrap(apperr.CodeInvalidInput, err)
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	b := bitmap.Bounds()
	source.Width, source.Height = b.Dx(), b.Dy()
	source.Size = int64(len(source.Data))
	outMime := OutputMime(opts.Format, source.MimeType)

	img, err := transform.Apply(bitmap, opts, p.presets)
	if err != nil {
		return Output{}, err
	}

	data, err := encodeStill(img, outMime, opts.QualityFor(outMime))
	if err != nil {
		return Output{}, err
	}

	if !opts.Strip && len(source.Data) > 0 {
		data = embedExif(outMime, data, metadata.Extract(source.MimeType, source.Data))
	}

	result := model.ImageDescriptor{
		Width:    img.Bounds().Dx(),
		Height:   img.Bounds().Dy(),
		MimeType: outMime,
		Size:     int64(len(data)),
		Data:     data,
	}
	return Output{Source: source, Result: result}, nil
}

func (p *Processor) convertHEIC(ctx context.Context, data []byte) ([]byte, string, error) {
	if p.heic == nil {
		return nil, "", apperr.New(apperr.CodeHEICUnavailable, "no heic converter configured")
	}
	out, mime, err := p.heic.Convert(ctx, data)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.CodeHEICConvertFailed, err)
	}
	return out, mime, nil
}

func (p *Processor) processStill(ctx context.Context, source *model.ImageDescriptor, data []byte, mime, outMime string, opts model.ProcessingOptions) (model.ImageDescriptor, error) {
	// Reject oversized targets from the header before touching pixels.
	if w, h, ok := headerSize(data, mime); ok {
		source.Width, source.Height = w, h
		rw, rh := geometry.RotatedSize(w, h, opts.Rotation)
		if _, _, err := geometry.ComputeTargetSize(rw, rh, opts, p.presets); err != nil {
			return model.ImageDescriptor{}, err
		}
	}

	img, err := decodeStill(data, mime)
	if err != nil {
		return model.ImageDescriptor{}, err
	}
	b := img.Bounds()
	source.Width, source.Height = b.Dx(), b.Dy()

	if err := ctx.Err(); err != nil {
		return model.ImageDescriptor{}, err
	}

	out, err := transform.Apply(img, opts, p.presets)
	if err != nil {
		return model.ImageDescriptor{}, err
	}

	encoded, err := encodeStill(out, outMime, opts.QualityFor(outMime))
	if err != nil {
		return model.ImageDescriptor{}, err
	}

	return model.ImageDescriptor{
		Width:    out.Bounds().Dx(),
		Height:   out.Bounds().Dy(),
		MimeType: outMime,
		Data:     encoded,
	}, nil
}

func (p *Processor) processAnimation(ctx context.Context, source *model.ImageDescriptor, data []byte, mime, outMime string, opts model.ProcessingOptions) (model.ImageDescriptor, error) {
	// Check frame caps and the target size on headers before decoding.
	info, err := animation.Probe(mime, data)
	if err != nil {
		return model.ImageDescriptor{}, err
	}
	if err := animation.CheckLimits(info.Width, info.Height, info.Frames); err != nil {
		return model.ImageDescriptor{}, err
	}
	rw, rh := geometry.RotatedSize(info.Width, info.Height, opts.Rotation)
	if _, _, err := geometry.ComputeTargetSize(rw, rh, opts, p.presets); err != nil {
		return model.ImageDescriptor{}, err
	}

	anim, err := animation.Decode(mime, data)
	if err != nil {
		return model.ImageDescriptor{}, err
	}
	source.Width, source.Height = anim.Width, anim.Height

	frames, preview, err := transform.Frames(ctx, anim, opts, p.presets)
	if err != nil {
		return model.ImageDescriptor{}, err
	}
	if source.Preview == nil {
		source.Preview = preview
	}

	quality := opts.QualityFor(outMime)
	var encoded []byte
	switch outMime {
	case model.MimeGIF, model.MimeAPNG, model.MimeWebP:
		encoded, err = animation.Encode(frames, outMime, quality)
	default:
		encoded, err = encodeStill(frames.Frames[0].Image, outMime, quality)
	}
	if err != nil {
		return model.ImageDescriptor{}, err
	}

	zlog.Logger.Debug().
		Int("frames", len(frames.Frames)).
		Str("output", outMime).
		Str("size", humanize.IBytes(uint64(len(encoded)))).
		Msg("animation encoded")

	return model.ImageDescriptor{
		Width:    frames.Width,
		Height:   frames.Height,
		MimeType: outMime,
		Data:     encoded,
	}, nil
}

// embedExif is best-effort: on any layout mismatch the output is returned
// without metadata.
func embedExif(mime string, data, exif []byte) []byte {
	if len(exif) == 0 || !container.Supports(mime) {
		return data
	}
	if out := container.Embed(mime, data, exif); out != nil {
		return out
	}
	zlog.Logger.Debug().Str("mime", mime).Msg("exif not embedded, container layout mismatch")
	return data
}

// OutputMime resolves the output type. auto keeps the source format where
// it can be written and falls back to JPEG for HEIC and PNG otherwise.
func OutputMime(format model.OutputFormat, sourceMime string) string {
	if mime := model.MimeForFormat(format); mime != "" {
		return mime
	}
	switch sourceMime {
	case model.MimeJPEG, model.MimePNG, model.MimeWebP, model.MimeGIF, model.MimeAPNG:
		return sourceMime
	case model.MimeHEIC, model.MimeHEIF:
		return model.MimeJPEG
	default:
		return model.MimePNG
	}
}

func headerSize(data []byte, mime string) (int, int, bool) {
	cfg, err := decodeConfig(data, mime)
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, false
	}
	w, h := cfg.Width, cfg.Height
	// Orientations 5-8 swap the axes once auto-rotation is applied.
	if mime == model.MimeJPEG && metadata.Orientation(metadata.Raw(mime, data)) >= 5 {
		w, h = h, w
	}
	return w, h, true
}
