package animation

import (
	"bytes"

	"github.com/deepteams/webp"

	"github.com/aliskhannn/imgshift/internal/apperr"
	"github.com/aliskhannn/imgshift/internal/model"
	"github.com/aliskhannn/imgshift/internal/sniff"
)

// Info is what Probe learns from container headers alone.
type Info struct {
	Width  int
	Height int
	Frames int
}

// Probe reads canvas size and frame count without decoding pixels.
func Probe(mime string, data []byte) (Info, error) {
	switch mime {
	case model.MimeGIF:
		w, h, ok := sniff.GIFSize(data)
		if !ok {
			return Info{}, apperr.New(apperr.CodeDecode, "gif header truncated")
		}
		n, err := sniff.CountGIFFrames(data)
		if err != nil {
			return Info{}, apperr.Wrap(apperr.CodeDecode, err)
		}
		return Info{Width: w, Height: h, Frames: n}, nil

	case model.MimeAPNG, model.MimePNG:
		w, h, ok := sniff.PNGSize(data)
		if !ok {
			return Info{}, apperr.New(apperr.CodeDecode, "png header truncated")
		}
		n, ok := sniff.APNGFrames(data)
		if !ok {
			n = 1
		}
		return Info{Width: w, Height: h, Frames: n}, nil

	case model.MimeWebP:
		f, err := webp.GetFeatures(bytes.NewReader(data))
		if err != nil {
			return Info{}, apperr.Wrap(apperr.CodeDecode, err)
		}
		n := f.FrameCount
		if n < 1 {
			n = 1
		}
		return Info{Width: f.Width, Height: f.Height, Frames: n}, nil
	}

	return Info{}, apperr.New(apperr.CodeDecode, "%s is not an animation container", mime)
}
