package animation

import (
	"image"
	"image/draw"

	"github.com/aliskhannn/imgshift/internal/apperr"
	"github.com/aliskhannn/imgshift/internal/model"
)

// Decode normalizes an animated GIF, APNG or WebP into full-canvas RGBA
// frames. Frame and memory caps are checked on the probed header first.
func Decode(mime string, data []byte) (*model.RgbaAnimation, error) {
	info, err := Probe(mime, data)
	if err != nil {
		return nil, err
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, apperr.New(apperr.CodeDecode, "invalid canvas %dx%d", info.Width, info.Height)
	}
	if err := CheckLimits(info.Width, info.Height, info.Frames); err != nil {
		return nil, err
	}

	var anim *model.RgbaAnimation
	switch mime {
	case model.MimeGIF:
		anim, err = decodeGIF(data)
	case model.MimeAPNG, model.MimePNG:
		anim, err = decodeAPNG(data, info.Frames)
	case model.MimeWebP:
		anim, err = decodeWebP(data)
	default:
		return nil, apperr.New(apperr.CodeDecode, "unsupported animation type %s", mime)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDecode, err)
	}
	if len(anim.Frames) == 0 {
		return nil, apperr.New(apperr.CodeDecode, "animation has no frames")
	}

	// The headers may have lied about the frame count.
	if err := CheckLimits(anim.Width, anim.Height, len(anim.Frames)); err != nil {
		return nil, err
	}

	return anim, nil
}

// snapshot copies the canvas into a new frame image.
func snapshot(canvas *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(canvas.Bounds())
	copy(out.Pix, canvas.Pix)
	return out
}

// clearRect makes r fully transparent on the canvas.
func clearRect(canvas *image.NRGBA, r image.Rectangle) {
	draw.Draw(canvas, r.Intersect(canvas.Bounds()), image.Transparent, image.Point{}, draw.Src)
}
