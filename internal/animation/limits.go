// Package animation decodes GIF, APNG and animated WebP into fully
// composited RGBA frames and encodes such frames back into those formats.
package animation

import (
	"github.com/dustin/go-humanize"

	"github.com/aliskhannn/imgshift/internal/apperr"
)

const (
	// MaxFrames is the hard cap on frames per animation.
	MaxFrames = 300
	// MaxBytes caps the estimated RGBA footprint of all frames.
	MaxBytes = 256 << 20

	// DefaultDelayMs replaces absent or invalid frame delays.
	DefaultDelayMs = 100
	// MaxDelayMs is the upper clamp for a single frame delay.
	MaxDelayMs = 60000
)

// CheckLimits fails fast when an animation of n frames on a w x h canvas
// would exceed the frame or memory caps.
func CheckLimits(w, h, n int) error {
	if n > MaxFrames {
		return apperr.New(apperr.CodeTooManyFrames, "%d frames, limit %d", n, MaxFrames)
	}
	total := int64(w) * int64(h) * 4 * int64(n)
	if total > MaxBytes {
		return apperr.New(apperr.CodeAnimationTooLarge, "%s of frames, limit %s",
			humanize.IBytes(uint64(total)), humanize.IBytes(MaxBytes))
	}
	return nil
}

// ClampDelay maps a delay to (0, MaxDelayMs], using DefaultDelayMs for
// non-positive input.
func ClampDelay(ms int) int {
	if ms <= 0 {
		return DefaultDelayMs
	}
	if ms > MaxDelayMs {
		return MaxDelayMs
	}
	return ms
}
