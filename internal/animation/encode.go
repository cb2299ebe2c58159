package animation

import (
	"bytes"
	"image"
	"time"

	"github.com/deepteams/webp"
	webpanim "github.com/deepteams/webp/animation"
	"github.com/setanarut/apng"

	"github.com/aliskhannn/imgshift/internal/apperr"
	"github.com/aliskhannn/imgshift/internal/model"
)

// Encode writes anim as mime (GIF, APNG or WebP). Quality in [0.1, 1] only
// affects WebP.
func Encode(anim *model.RgbaAnimation, mime string, quality float64) ([]byte, error) {
	if anim == nil || len(anim.Frames) == 0 {
		return nil, apperr.New(apperr.CodeExport, "no frames to encode")
	}
	if err := CheckLimits(anim.Width, anim.Height, len(anim.Frames)); err != nil {
		return nil, err
	}

	var (
		out []byte
		err error
	)
	switch mime {
	case model.MimeGIF:
		out, err = EncodeGIF(anim)
	case model.MimeAPNG:
		out, err = EncodeAPNG(anim)
	case model.MimeWebP:
		out, err = EncodeWebP(anim, quality)
	default:
		return nil, apperr.New(apperr.CodeExport, "cannot encode animation as %s", mime)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeExport, err)
	}
	return out, nil
}

// EncodeAPNG passes frames and delays straight to the APNG writer.
func EncodeAPNG(anim *model.RgbaAnimation) ([]byte, error) {
	a := &apng.APNG{
		Images: make([]image.Image, len(anim.Frames)),
		Delays: make([]uint16, len(anim.Frames)),
	}
	for i, f := range anim.Frames {
		a.Images[i] = f.Image
		a.Delays[i] = centiseconds(f.DelayMs)
	}

	var buf bytes.Buffer
	if err := apng.EncodeAll(&buf, a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeWebP writes an animated WebP. Frames are diffed into sub-frames by
// the encoder.
func EncodeWebP(anim *model.RgbaAnimation, quality float64) ([]byte, error) {
	var buf bytes.Buffer
	enc := webpanim.NewEncoder(&buf, anim.Width, anim.Height, &webpanim.EncodeOptions{
		Quality: webpQuality(quality),
	})
	for _, f := range anim.Frames {
		if err := enc.AddFrame(f.Image, time.Duration(f.DelayMs)*time.Millisecond); err != nil {
			return nil, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeStaticWebP encodes a single image as a simple WebP file.
func EncodeStaticWebP(img image.Image, quality float64) ([]byte, error) {
	opts := webp.DefaultOptions()
	opts.Quality = float32(webpQuality(quality))

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func webpQuality(q float64) int {
	v := int(q*100 + 0.5)
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}

// centiseconds converts a delay for GIF and APNG, never returning 0 since
// viewers treat a zero delay as "as fast as possible".
func centiseconds(ms int) uint16 {
	cs := (ms + 5) / 10
	if cs < 1 {
		return 1
	}
	if cs > 0xFFFF {
		return 0xFFFF
	}
	return uint16(cs)
}
