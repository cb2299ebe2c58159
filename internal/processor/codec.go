package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/png"

	"github.com/deepteams/webp"
	"github.com/disintegration/imaging"
	"github.com/gen2brain/jpegn"
	xwebp "golang.org/x/image/webp"

	"github.com/aliskhannn/imgshift/internal/animation"
	"github.com/aliskhannn/imgshift/internal/apperr"
	"github.com/aliskhannn/imgshift/internal/model"
)

// decodeStill decodes the first image of data with the primary decoder for
// its type. JPEG orientation is applied to the pixels.
func decodeStill(data []byte, mime string) (image.Image, error) {
	r := bytes.NewReader(data)

	var (
		img image.Image
		err error
	)
	switch mime {
	case model.MimeJPEG:
		img, err = jpegn.Decode(r, &jpegn.Options{ToRGBA: true, AutoRotate: true})
	case model.MimePNG, model.MimeAPNG:
		img, err = png.Decode(r)
	case model.MimeWebP:
		img, err = webp.Decode(r)
	case model.MimeGIF:
		img, err = gif.Decode(r)
	default:
		img, _, err = image.Decode(r)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDecode, fmt.Errorf("decode %s: %w", mime, err))
	}
	return img, nil
}

func decodeConfig(data []byte, mime string) (image.Config, error) {
	r := bytes.NewReader(data)
	switch mime {
	case model.MimeJPEG:
		return jpegn.DecodeConfig(r)
	case model.MimePNG, model.MimeAPNG:
		return png.DecodeConfig(r)
	case model.MimeWebP:
		return webp.DecodeConfig(r)
	case model.MimeGIF:
		return gif.DecodeConfig(r)
	default:
		cfg, _, err := image.DecodeConfig(r)
		return cfg, err
	}
}

// DecodeFallback is an independent decoder for the bitmap recovery path.
// It shares no code with the primary decoders so a bug in one does not
// take down the other.
func DecodeFallback(data []byte, mime string) (image.Image, error) {
	if len(data) == 0 {
		return nil, apperr.New(apperr.CodeInvalidInput, "empty buffer")
	}

	var (
		img image.Image
		err error
	)
	if mime == model.MimeWebP {
		img, err = xwebp.Decode(bytes.NewReader(data))
	} else {
		img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDecode, fmt.Errorf("fallback decode %s: %w", mime, err))
	}
	return img, nil
}

// encodeStill writes a single image as mime.
func encodeStill(img image.Image, mime string, quality float64) ([]byte, error) {
	var (
		buf bytes.Buffer
		out []byte
		err error
	)

	switch mime {
	case model.MimeJPEG:
		err = imaging.Encode(&buf, flatten(img), imaging.JPEG, imaging.JPEGQuality(percent(quality)))
		out = buf.Bytes()
	case model.MimePNG:
		err = imaging.Encode(&buf, img, imaging.PNG)
		out = buf.Bytes()
	case model.MimeWebP:
		out, err = animation.EncodeStaticWebP(img, quality)
	case model.MimeGIF:
		out, err = animation.EncodeGIF(single(img))
	case model.MimeAPNG:
		out, err = animation.EncodeAPNG(single(img))
	default:
		err = fmt.Errorf("unsupported output type %s", mime)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeExport, err)
	}
	return out, nil
}

// flatten composes img onto white since JPEG has no alpha channel.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

func single(img image.Image) *model.RgbaAnimation {
	nrgba, ok := img.(*image.NRGBA)
	if !ok || nrgba.Bounds().Min != (image.Point{}) {
		nrgba = imaging.Clone(img)
	}
	b := nrgba.Bounds()
	return &model.RgbaAnimation{
		Width:  b.Dx(),
		Height: b.Dy(),
		Frames: []model.RgbaFrame{{Image: nrgba, DelayMs: animation.DefaultDelayMs}},
	}
}

func percent(q float64) int {
	v := int(q*100 + 0.5)
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}
