package processor

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/imgshift/internal/animation"
	"github.com/aliskhannn/imgshift/internal/apperr"
	"github.com/aliskhannn/imgshift/internal/container"
	"github.com/aliskhannn/imgshift/internal/metadata"
	"github.com/aliskhannn/imgshift/internal/model"
	"github.com/aliskhannn/imgshift/internal/preset"
)

type fakeHEIC struct {
	out  []byte
	mime string
	err  error
}

func (f fakeHEIC) Convert(context.Context, []byte) ([]byte, string, error) {
	return f.out, f.mime, f.err
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func tiffBlock() []byte {
	b := []byte("II\x2a\x00")
	b = binary.LittleEndian.AppendUint32(b, 8)
	b = binary.LittleEndian.AppendUint16(b, 1)
	b = binary.LittleEndian.AppendUint16(b, 0x0112)
	b = binary.LittleEndian.AppendUint16(b, 3)
	b = binary.LittleEndian.AppendUint32(b, 1)
	b = binary.LittleEndian.AppendUint16(b, 1)
	b = binary.LittleEndian.AppendUint16(b, 0)
	return binary.LittleEndian.AppendUint32(b, 0)
}

func newProcessor() *Processor {
	return New(preset.Default(), nil)
}

func TestProcessBufferPNGIsDeterministic(t *testing.T) {
	src := encodePNG(t, gradient(40, 20))
	opts := model.DefaultOptions()
	opts.TargetWidth = model.Int(10)
	opts.Format = model.FormatPNG

	p := newProcessor()
	first, err := p.ProcessBuffer(context.Background(), src, model.MimePNG, opts)
	require.NoError(t, err)
	second, err := p.ProcessBuffer(context.Background(), src, model.MimePNG, opts)
	require.NoError(t, err)

	assert.Equal(t, 10, first.Result.Width)
	assert.Equal(t, 5, first.Result.Height)
	assert.Equal(t, model.MimePNG, first.Result.MimeType)
	assert.Equal(t, int64(len(first.Result.Data)), first.Result.Size)
	assert.True(t, bytes.Equal(first.Result.Data, second.Result.Data))

	assert.Equal(t, 40, first.Source.Width)
	assert.Equal(t, 20, first.Source.Height)
	assert.Equal(t, int64(len(src)), first.Source.Size)
}

func TestProcessBufferTooLarge(t *testing.T) {
	src := encodePNG(t, gradient(100, 50))

	tests := []struct {
		name string
		w, h *int
	}{
		{"per side", model.Int(9000), nil},
		{"area", model.Int(8000), model.Int(5001)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := model.DefaultOptions()
			opts.TargetWidth, opts.TargetHeight = tt.w, tt.h

			out, err := newProcessor().ProcessBuffer(context.Background(), src, model.MimePNG, opts)
			assert.True(t, apperr.Is(err, apperr.CodeOutputTooLarge))
			assert.Nil(t, out.Result.Data)
		})
	}
}

func TestProcessBufferExif(t *testing.T) {
	src := container.EmbedJPEG(encodeJPEG(t, gradient(16, 16)), tiffBlock())
	require.NotNil(t, src)

	tests := []struct {
		name   string
		strip  bool
		format model.OutputFormat
		want   bool
	}{
		{"kept jpeg", false, model.FormatJPEG, true},
		{"kept png", false, model.FormatPNG, true},
		{"stripped", true, model.FormatJPEG, false},
		{"gif has no exif", false, model.FormatGIF, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := model.DefaultOptions()
			opts.Strip = tt.strip
			opts.Format = tt.format

			out, err := newProcessor().ProcessBuffer(context.Background(), src, "", opts)
			require.NoError(t, err)

			raw := metadata.Raw(out.Result.MimeType, out.Result.Data)
			if tt.want {
				assert.NotEmpty(t, raw)
				assert.Equal(t, 1, metadata.Orientation(raw))
			} else {
				assert.Empty(t, raw)
			}
		})
	}
}

func TestProcessBufferJPEGFlattensOntoWhite(t *testing.T) {
	src := encodePNG(t, image.NewNRGBA(image.Rect(0, 0, 8, 8)))
	opts := model.DefaultOptions()
	opts.Format = model.FormatJPEG

	out, err := newProcessor().ProcessBuffer(context.Background(), src, model.MimePNG, opts)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out.Result.Data))
	require.NoError(t, err)
	r, g, b, _ := img.At(4, 4).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func animatedGIF(t *testing.T) []byte {
	t.Helper()
	pal := color.Palette{color.NRGBA{}, color.NRGBA{R: 255, A: 255}, color.NRGBA{B: 255, A: 255}}
	frame := func(idx uint8) *image.Paletted {
		img := image.NewPaletted(image.Rect(0, 0, 8, 4), pal)
		for i := range img.Pix {
			img.Pix[i] = idx
		}
		return img
	}
	g := &gif.GIF{
		Image:  []*image.Paletted{frame(1), frame(2), frame(0)},
		Delay:  []int{10, 20, 30},
		Config: image.Config{ColorModel: pal, Width: 8, Height: 4},
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, g))
	return buf.Bytes()
}

func TestProcessBufferAnimatedGIF(t *testing.T) {
	opts := model.DefaultOptions()
	opts.Rotation = 90

	out, err := newProcessor().ProcessBuffer(context.Background(), animatedGIF(t), "", opts)
	require.NoError(t, err)

	assert.Equal(t, model.MimeGIF, out.Result.MimeType)
	assert.Equal(t, 4, out.Result.Width)
	assert.Equal(t, 8, out.Result.Height)
	assert.NotEmpty(t, out.Source.Preview)

	g, err := gif.DecodeAll(bytes.NewReader(out.Result.Data))
	require.NoError(t, err)
	assert.Len(t, g.Image, 3)
	assert.Equal(t, []int{10, 20, 30}, g.Delay)
}

func TestProcessBufferAnimatedToStill(t *testing.T) {
	opts := model.DefaultOptions()
	opts.Format = model.FormatPNG

	out, err := newProcessor().ProcessBuffer(context.Background(), animatedGIF(t), "", opts)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out.Result.Data))
	require.NoError(t, err)
	r, _, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xFFFF), r)
	assert.Zero(t, b)
}

func TestProcessBufferAnimationCaps(t *testing.T) {
	pal := color.Palette{color.Black, color.White}
	g := &gif.GIF{Config: image.Config{ColorModel: pal, Width: 1, Height: 1}}
	for i := 0; i <= animation.MaxFrames; i++ {
		g.Image = append(g.Image, image.NewPaletted(image.Rect(0, 0, 1, 1), pal))
		g.Delay = append(g.Delay, 1)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, g))

	_, err := newProcessor().ProcessBuffer(context.Background(), buf.Bytes(), "", model.DefaultOptions())
	assert.True(t, apperr.Is(err, apperr.CodeTooManyFrames))
}

func TestProcessBufferHEIC(t *testing.T) {
	heic := []byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00mif1heic")
	converted := encodePNG(t, gradient(6, 4))

	_, err := newProcessor().ProcessBuffer(context.Background(), heic, model.MimeHEIC, model.DefaultOptions())
	assert.True(t, apperr.Is(err, apperr.CodeHEICUnavailable))

	p := New(preset.Default(), fakeHEIC{err: errors.New("bad box")})
	_, err = p.ProcessBuffer(context.Background(), heic, model.MimeHEIC, model.DefaultOptions())
	assert.True(t, apperr.Is(err, apperr.CodeHEICConvertFailed))

	p = New(preset.Default(), fakeHEIC{out: converted, mime: model.MimePNG})
	out, err := p.ProcessBuffer(context.Background(), heic, model.MimeHEIC, model.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, model.MimeJPEG, out.Result.MimeType)
	assert.Equal(t, converted, out.Source.Preview)
	assert.Equal(t, 6, out.Source.Width)
}

func TestProcessBufferInvalid(t *testing.T) {
	p := newProcessor()

	_, err := p.ProcessBuffer(context.Background(), nil, model.MimePNG, model.DefaultOptions())
	assert.True(t, apperr.Is(err, apperr.CodeInvalidInput))

	_, err = p.ProcessBuffer(context.Background(), []byte("definitely not an image"), model.MimePNG, model.DefaultOptions())
	assert.True(t, apperr.Is(err, apperr.CodeDecode))

	opts := model.DefaultOptions()
	opts.Rotation = 45
	_, err = p.ProcessBuffer(context.Background(), encodePNG(t, gradient(2, 2)), model.MimePNG, opts)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidInput))
}

func TestProcessBitmap(t *testing.T) {
	p := newProcessor()

	_, err := p.ProcessBitmap(context.Background(), nil, model.ImageDescriptor{}, model.DefaultOptions())
	assert.True(t, apperr.Is(err, apperr.CodeCanvasUnavailable))

	src := encodePNG(t, gradient(12, 6))
	bitmap, err := DecodeFallback(src, model.MimePNG)
	require.NoError(t, err)

	opts := model.DefaultOptions()
	opts.TargetHeight = model.Int(3)
	out, err := p.ProcessBitmap(context.Background(), bitmap, model.ImageDescriptor{MimeType: model.MimePNG, Data: src}, opts)
	require.NoError(t, err)
	assert.Equal(t, 6, out.Result.Width)
	assert.Equal(t, 3, out.Result.Height)
	assert.Equal(t, 12, out.Source.Width)
	assert.Equal(t, model.MimePNG, out.Result.MimeType)
}

func TestDecodeFallbackWebP(t *testing.T) {
	data, err := animation.EncodeStaticWebP(gradient(8, 8), 0.9)
	require.NoError(t, err)

	img, err := DecodeFallback(data, model.MimeWebP)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 8), img.Bounds())

	_, err = DecodeFallback([]byte("nope"), model.MimeJPEG)
	assert.True(t, apperr.Is(err, apperr.CodeDecode))
}

func TestOutputMime(t *testing.T) {
	tests := []struct {
		format model.OutputFormat
		source string
		want   string
	}{
		{model.FormatAuto, model.MimeJPEG, model.MimeJPEG},
		{model.FormatAuto, model.MimePNG, model.MimePNG},
		{model.FormatAuto, model.MimeWebP, model.MimeWebP},
		{model.FormatAuto, model.MimeGIF, model.MimeGIF},
		{model.FormatAuto, model.MimeAPNG, model.MimeAPNG},
		{model.FormatAuto, model.MimeHEIC, model.MimeJPEG},
		{model.FormatAuto, model.MimeUnknown, model.MimePNG},
		{model.FormatWebP, model.MimeJPEG, model.MimeWebP},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OutputMime(tt.format, tt.source), "%s from %s", tt.format, tt.source)
	}
}
