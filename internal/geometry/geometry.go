// Package geometry computes output dimensions and sampling rectangles.
// Everything here is pure; no pixels are touched.
package geometry

import (
	"image"
	"math"

	"github.com/aliskhannn/imgshift/internal/apperr"
	"github.com/aliskhannn/imgshift/internal/model"
)

const (
	MaxSide = 8000       // hard per-side cap in pixels
	MaxArea = 40_000_000 // hard width*height cap
)

// presets resolves a preset id to its long-side limit (0 = none).
type presets interface {
	MaxLongSide(id string) int
}

// ComputeTargetSize derives the output size from the source size and the
// options. Explicit dimensions are used verbatim; aspect locking is the
// caller's job.
func ComputeTargetSize(srcW, srcH int, opts model.ProcessingOptions, p presets) (int, int, error) {
	if srcW <= 0 || srcH <= 0 {
		return 0, 0, apperr.New(apperr.CodeDecode, "invalid source size %dx%d", srcW, srcH)
	}

	w, h := srcW, srcH
	switch {
	case opts.TargetWidth != nil && opts.TargetHeight != nil:
		w, h = *opts.TargetWidth, *opts.TargetHeight
	case opts.TargetWidth != nil:
		w = *opts.TargetWidth
		h = round(float64(w) * float64(srcH) / float64(srcW))
	case opts.TargetHeight != nil:
		h = *opts.TargetHeight
		w = round(float64(h) * float64(srcW) / float64(srcH))
	default:
		if p != nil {
			if limit := p.MaxLongSide(opts.Preset); limit > 0 {
				long := max(srcW, srcH)
				if long > limit {
					scale := float64(limit) / float64(long)
					w = round(float64(srcW) * scale)
					h = round(float64(srcH) * scale)
				}
			}
		}
	}

	if err := CheckSize(w, h); err != nil {
		return 0, 0, err
	}

	return w, h, nil
}

// CheckSize enforces the per-side and area caps.
func CheckSize(w, h int) error {
	if w <= 0 || h <= 0 || w > MaxSide || h > MaxSide {
		return apperr.New(apperr.CodeOutputTooLarge, "output size %dx%d outside 1..%d", w, h, MaxSide)
	}
	if int64(w)*int64(h) > MaxArea {
		return apperr.New(apperr.CodeOutputTooLarge, "output area %d exceeds %d", int64(w)*int64(h), MaxArea)
	}
	return nil
}

// RotatedSize returns the source size after a right-angle rotation.
func RotatedSize(w, h, rotation int) (int, int) {
	if rotation == 90 || rotation == 270 {
		return h, w
	}
	return w, h
}

// Plan describes how a source is sampled into a Width x Height canvas:
// Src is the region read from the source, Dst where it lands on the canvas.
type Plan struct {
	Width  int
	Height int
	Src    image.Rectangle
	Dst    image.Rectangle
}

// PlanSampling computes the sampling plan for a resize mode.
func PlanSampling(srcW, srcH, dstW, dstH int, mode model.ResizeMode) Plan {
	plan := Plan{
		Width:  dstW,
		Height: dstH,
		Src:    image.Rect(0, 0, srcW, srcH),
		Dst:    image.Rect(0, 0, dstW, dstH),
	}

	switch mode {
	case model.ResizeFit:
		scale := math.Min(float64(dstW)/float64(srcW), float64(dstH)/float64(srcH))
		dw := clamp(round(float64(srcW)*scale), 1, dstW)
		dh := clamp(round(float64(srcH)*scale), 1, dstH)
		dx := (dstW - dw) / 2
		dy := (dstH - dh) / 2
		plan.Dst = image.Rect(dx, dy, dx+dw, dy+dh)

	case model.ResizeFill:
		srcAspect := float64(srcW) / float64(srcH)
		dstAspect := float64(dstW) / float64(dstH)
		if srcAspect > dstAspect {
			cw := clamp(round(float64(srcH)*dstAspect), 1, srcW)
			cx := (srcW - cw) / 2
			plan.Src = image.Rect(cx, 0, cx+cw, srcH)
		} else {
			ch := clamp(round(float64(srcW)/dstAspect), 1, srcH)
			cy := (srcH - ch) / 2
			plan.Src = image.Rect(0, cy, srcW, cy+ch)
		}
	}

	return plan
}

func round(v float64) int {
	return int(math.Round(v))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
