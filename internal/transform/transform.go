// Package transform applies rotation and the resize geometry to still
// images and to every frame of an animation.
package transform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"runtime"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/sourcegraph/conc/pool"

	"github.com/aliskhannn/imgshift/internal/apperr"
	"github.com/aliskhannn/imgshift/internal/geometry"
	"github.com/aliskhannn/imgshift/internal/model"
)

// presets resolves a preset id to its max long side.
type presets interface {
	MaxLongSide(id string) int
}

// Rotate turns img clockwise by a right angle. Any other value leaves the
// pixels unrotated.
func Rotate(img image.Image, rotation int) *image.NRGBA {
	switch rotation {
	case 90:
		// imaging rotates counter-clockwise.
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return imaging.Clone(img)
	}
}

// Draw samples src into a plan.Width x plan.Height canvas. The source
// rectangle is cropped, scaled with Lanczos and placed at plan.Dst; the
// rest of the canvas stays transparent.
func Draw(src image.Image, plan geometry.Plan) *image.NRGBA {
	b := src.Bounds()
	crop := plan.Src.Add(b.Min)

	var sampled image.Image = src
	if crop != b {
		sampled = imaging.Crop(src, crop)
	}
	if plan.Dst.Dx() != crop.Dx() || plan.Dst.Dy() != crop.Dy() {
		sampled = imaging.Resize(sampled, plan.Dst.Dx(), plan.Dst.Dy(), imaging.Lanczos)
	}

	if plan.Dst == image.Rect(0, 0, plan.Width, plan.Height) {
		return imaging.Clone(sampled)
	}

	dc := gg.NewContext(plan.Width, plan.Height)
	dc.DrawImage(sampled, plan.Dst.Min.X, plan.Dst.Min.Y)
	return imaging.Clone(dc.Image())
}

// Apply rotates img, computes the target size from the rotated dimensions
// and draws the result.
func Apply(img image.Image, opts model.ProcessingOptions, p presets) (*image.NRGBA, error) {
	rotated := Rotate(img, opts.Rotation)
	b := rotated.Bounds()

	w, h, err := geometry.ComputeTargetSize(b.Dx(), b.Dy(), opts, p)
	if err != nil {
		return nil, err
	}

	return Draw(rotated, geometry.PlanSampling(b.Dx(), b.Dy(), w, h, opts.Mode)), nil
}

// Frames applies the same rotation and sampling to every frame, bounded to
// GOMAXPROCS goroutines. It also returns a PNG of the rotated first frame
// for display.
func Frames(ctx context.Context, anim *model.RgbaAnimation, opts model.ProcessingOptions, p presets) (*model.RgbaAnimation, []byte, error) {
	if anim == nil || len(anim.Frames) == 0 {
		return nil, nil, apperr.New(apperr.CodeDecode, "animation has no frames")
	}

	rw, rh := geometry.RotatedSize(anim.Width, anim.Height, opts.Rotation)
	w, h, err := geometry.ComputeTargetSize(rw, rh, opts, p)
	if err != nil {
		return nil, nil, err
	}
	plan := geometry.PlanSampling(rw, rh, w, h, opts.Mode)

	out := &model.RgbaAnimation{Width: w, Height: h, Frames: make([]model.RgbaFrame, len(anim.Frames))}
	var preview []byte

	wp := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(runtime.GOMAXPROCS(0))
	for i, f := range anim.Frames {
		wp.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rotated := Rotate(f.Image, opts.Rotation)
			if i == 0 {
				var buf bytes.Buffer
				if err := imaging.Encode(&buf, rotated, imaging.PNG); err != nil {
					return fmt.Errorf("encode preview: %w", err)
				}
				preview = buf.Bytes()
			}
			out.Frames[i] = model.RgbaFrame{Image: Draw(rotated, plan), DelayMs: f.DelayMs}
			return nil
		})
	}
	if err := wp.Wait(); err != nil {
		return nil, nil, err
	}

	return out, preview, nil
}
