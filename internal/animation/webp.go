package animation

import (
	"time"

	webpanim "github.com/deepteams/webp/animation"

	"github.com/aliskhannn/imgshift/internal/model"
)

func decodeWebP(data []byte) (*model.RgbaAnimation, error) {
	anim, err := webpanim.DecodeBytes(data)
	if err != nil {
		return nil, err
	}
	if err := anim.DecodeFrames(); err != nil {
		return nil, err
	}

	dec := webpanim.NewAnimDecoder(anim)
	frames := make([]model.RgbaFrame, 0, len(anim.Frames))
	for dec.HasNext() {
		img, d, err := dec.NextFrame()
		if err != nil {
			return nil, err
		}
		frames = append(frames, model.RgbaFrame{Image: img, DelayMs: ClampDelay(int(d / time.Millisecond))})
	}

	return &model.RgbaAnimation{Width: anim.CanvasWidth, Height: anim.CanvasHeight, Frames: frames}, nil
}
