package animation

import (
	"bytes"
	"image"
	"image/draw"

	apngdec "github.com/kettek/apng"

	"github.com/aliskhannn/imgshift/internal/model"
)

// fcTL dispose_op and blend_op values.
const (
	apngDisposeNone       = 0
	apngDisposeBackground = 1
	apngDisposePrevious   = 2

	apngBlendSource = 0
)

func decodeAPNG(data []byte, declared int) (*model.RgbaAnimation, error) {
	a, err := apngdec.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	src := a.Frames
	// A default image that is not part of the animation comes first and is
	// not counted by acTL.
	if len(src) > declared && len(src) > 1 && src[0].IsDefault {
		src = src[1:]
	}
	if len(src) == 0 {
		return &model.RgbaAnimation{}, nil
	}

	var w, h int
	if len(a.Frames) > 0 && a.Frames[0].Image != nil {
		b := a.Frames[0].Image.Bounds()
		w, h = b.Dx(), b.Dy()
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, w, h))
	prev := image.NewNRGBA(canvas.Bounds())

	frames := make([]model.RgbaFrame, 0, len(src))
	for i := range src {
		f := src[i]
		if f.Image == nil {
			continue
		}

		dispose := f.DisposeOp
		// The first frame cannot restore a previous canvas.
		if i == 0 && dispose == apngDisposePrevious {
			dispose = apngDisposeBackground
		}
		if dispose == apngDisposePrevious {
			copy(prev.Pix, canvas.Pix)
		}

		fb := f.Image.Bounds()
		region := image.Rect(f.XOffset, f.YOffset, f.XOffset+fb.Dx(), f.YOffset+fb.Dy())
		op := draw.Over
		if f.BlendOp == apngBlendSource {
			op = draw.Src
		}
		draw.Draw(canvas, region, f.Image, fb.Min, op)

		frames = append(frames, model.RgbaFrame{
			Image:   snapshot(canvas),
			DelayMs: ClampDelay(apngDelayMs(f.DelayNumerator, f.DelayDenominator)),
		})

		switch dispose {
		case apngDisposeBackground:
			clearRect(canvas, region)
		case apngDisposePrevious:
			copy(canvas.Pix, prev.Pix)
		case apngDisposeNone:
		}
	}

	return &model.RgbaAnimation{Width: w, Height: h, Frames: frames}, nil
}

// apngDelayMs converts a delay fraction of seconds to milliseconds. A zero
// denominator means 1/100 s.
func apngDelayMs(num, den uint16) int {
	if den == 0 {
		den = 100
	}
	return int((uint32(num)*1000 + uint32(den)/2) / uint32(den))
}
