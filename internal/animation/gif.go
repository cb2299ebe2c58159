package animation

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/gif"

	"github.com/ericpauley/go-quantize/quantize"

	"github.com/aliskhannn/imgshift/internal/model"
)

// Alpha thresholds for GIF transparency. A pixel below the threshold maps to
// the transparent palette entry.
const (
	BinaryAlphaThreshold          = 1
	SemiTransparentAlphaThreshold = 128
)

const (
	paletteSampleFrames = 8
	paletteSamplePixels = 1 << 16
)

func decodeGIF(data []byte) (*model.RgbaAnimation, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	w, h := g.Config.Width, g.Config.Height
	if (w <= 0 || h <= 0) && len(g.Image) > 0 {
		b := g.Image[0].Bounds()
		w, h = b.Max.X, b.Max.Y
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, w, h))
	prev := image.NewNRGBA(canvas.Bounds())

	frames := make([]model.RgbaFrame, 0, len(g.Image))
	for i, frame := range g.Image {
		disposal := byte(gif.DisposalNone)
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		if disposal == gif.DisposalPrevious {
			copy(prev.Pix, canvas.Pix)
		}

		b := frame.Bounds()
		draw.Draw(canvas, b, frame, b.Min, draw.Over)

		delay := 0
		if i < len(g.Delay) {
			delay = g.Delay[i] * 10
		}
		frames = append(frames, model.RgbaFrame{Image: snapshot(canvas), DelayMs: ClampDelay(delay)})

		switch disposal {
		case gif.DisposalBackground:
			// Browsers clear to transparent rather than the logical
			// background color.
			clearRect(canvas, b)
		case gif.DisposalPrevious:
			copy(canvas.Pix, prev.Pix)
		}
	}

	return &model.RgbaAnimation{Width: w, Height: h, Frames: frames}, nil
}

// EncodeGIF quantizes all frames against one shared palette built from a
// bounded sample of frames. Index 0 is reserved for transparency when any
// pixel falls below the alpha threshold.
func EncodeGIF(anim *model.RgbaAnimation) ([]byte, error) {
	threshold, transparent := alphaProfile(anim)

	pal := make(color.Palette, 0, 256)
	if transparent {
		pal = append(pal, color.NRGBA{})
	}
	q := quantize.MedianCutQuantizer{}
	pal = q.Quantize(pal, paletteSample(anim, threshold))

	first := 0
	if transparent {
		first = 1
	}
	if len(pal) == first {
		pal = append(pal, color.NRGBA{A: 255})
	}
	m := &paletteMapper{pal: pal, first: first, cache: make(map[uint32]uint8)}

	g := &gif.GIF{
		Image:    make([]*image.Paletted, len(anim.Frames)),
		Delay:    make([]int, len(anim.Frames)),
		Disposal: make([]byte, len(anim.Frames)),
		Config:   image.Config{ColorModel: pal, Width: anim.Width, Height: anim.Height},
	}
	for i, f := range anim.Frames {
		g.Image[i] = m.paletted(f.Image, threshold, transparent)
		g.Delay[i] = int(centiseconds(f.DelayMs))
		g.Disposal[i] = gif.DisposalNone
		if transparent {
			// Transparent pixels must not reveal the previous frame.
			g.Disposal[i] = gif.DisposalBackground
		}
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// alphaProfile picks the alpha threshold and reports whether a transparent
// palette entry is needed.
func alphaProfile(anim *model.RgbaAnimation) (int, bool) {
	semi := false
	for _, f := range anim.Frames {
		for i := 3; i < len(f.Image.Pix); i += 4 {
			if a := f.Image.Pix[i]; a > 0 && a < 255 {
				semi = true
				break
			}
		}
		if semi {
			break
		}
	}

	threshold := BinaryAlphaThreshold
	if semi {
		threshold = SemiTransparentAlphaThreshold
	}

	for _, f := range anim.Frames {
		for i := 3; i < len(f.Image.Pix); i += 4 {
			if int(f.Image.Pix[i]) < threshold {
				return threshold, true
			}
		}
	}
	return threshold, false
}

// paletteSample gathers visible pixels from up to paletteSampleFrames
// evenly spaced frames into a single-row image.
func paletteSample(anim *model.RgbaAnimation, threshold int) *image.NRGBA {
	n := len(anim.Frames)
	step := 1
	if n > paletteSampleFrames {
		step = (n + paletteSampleFrames - 1) / paletteSampleFrames
	}

	var pix []byte
	for fi := 0; fi < n; fi += step {
		src := anim.Frames[fi].Image.Pix
		total := len(src) / 4
		stride := 1
		if total > paletteSamplePixels {
			stride = total / paletteSamplePixels
		}
		for p := 0; p < total; p += stride {
			o := p * 4
			if int(src[o+3]) < threshold {
				continue
			}
			pix = append(pix, src[o], src[o+1], src[o+2], 255)
		}
	}
	if len(pix) == 0 {
		pix = []byte{0, 0, 0, 255}
	}

	return &image.NRGBA{Pix: pix, Stride: len(pix), Rect: image.Rect(0, 0, len(pix)/4, 1)}
}

type paletteMapper struct {
	pal   color.Palette
	first int
	cache map[uint32]uint8
}

func (m *paletteMapper) paletted(src *image.NRGBA, threshold int, transparent bool) *image.Paletted {
	dst := image.NewPaletted(src.Bounds(), m.pal)
	for i, j := 0, 0; i < len(src.Pix); i, j = i+4, j+1 {
		if transparent && int(src.Pix[i+3]) < threshold {
			dst.Pix[j] = 0
			continue
		}
		dst.Pix[j] = m.index(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
	}
	return dst
}

func (m *paletteMapper) index(r, g, b uint8) uint8 {
	key := uint32(r)<<16 | uint32(g)<<8 | uint32(b)
	if idx, ok := m.cache[key]; ok {
		return idx
	}

	best, bestDist := m.first, -1
	for i := m.first; i < len(m.pal); i++ {
		pr, pg, pb, _ := m.pal[i].RGBA()
		dr := int(r) - int(pr>>8)
		dg := int(g) - int(pg>>8)
		db := int(b) - int(pb>>8)
		d := dr*dr + dg*dg + db*db
		if bestDist < 0 || d < bestDist {
			best, bestDist = i, d
			if d == 0 {
				break
			}
		}
	}

	m.cache[key] = uint8(best)
	return uint8(best)
}
