package model

import (
	"fmt"
	"strings"
)

// ResizeMode defines how the source is sampled into the target box.
type ResizeMode string

const (
	ResizeFit     ResizeMode = "fit"     // scale inside the box, keep aspect, letterbox
	ResizeFill    ResizeMode = "fill"    // centered crop to the box aspect, no gaps
	ResizeStretch ResizeMode = "stretch" // ignore aspect
)

// OutputFormat is the requested export format.
type OutputFormat string

const (
	FormatAuto OutputFormat = "auto"
	FormatJPEG OutputFormat = "jpeg"
	FormatPNG  OutputFormat = "png"
	FormatWebP OutputFormat = "webp"
	FormatGIF  OutputFormat = "gif"
	FormatAPNG OutputFormat = "apng"
)

// MIME types the engine recognizes.
const (
	MimeJPEG    = "image/jpeg"
	MimePNG     = "image/png"
	MimeAPNG    = "image/apng"
	MimeWebP    = "image/webp"
	MimeGIF     = "image/gif"
	MimeHEIC    = "image/heic"
	MimeHEIF    = "image/heif"
	MimeUnknown = "unknown"
)

// Per-format quality defaults used when ProcessingOptions.Quality is nil.
const (
	DefaultJPEGQuality = 0.92
	DefaultWebPQuality = 0.80
)

// ProcessingOptions is the immutable per-call configuration of the engine.
// Nil target dimensions mean "derive from the source".
type ProcessingOptions struct {
	TargetWidth  *int         `json:"target_width,omitempty" yaml:"target_width"`
	TargetHeight *int         `json:"target_height,omitempty" yaml:"target_height"`
	LockAspect   bool         `json:"lock_aspect" yaml:"lock_aspect"` // UI only, ignored by the engine
	Mode         ResizeMode   `json:"mode" yaml:"mode"`
	Format       OutputFormat `json:"format" yaml:"format"`
	Quality      *float64     `json:"quality,omitempty" yaml:"quality"`
	Strip        bool         `json:"strip_metadata" yaml:"strip_metadata"`
	Rotation     int          `json:"rotation" yaml:"rotation"`
	Preset       string       `json:"preset,omitempty" yaml:"preset"`
}

// DefaultOptions returns options that keep the source untouched except for
// the re-encode.
func DefaultOptions() ProcessingOptions {
	return ProcessingOptions{
		Mode:   ResizeFit,
		Format: FormatAuto,
		Strip:  true,
	}
}

// Validate normalizes the options and reports the first invalid field.
func (o ProcessingOptions) Validate() (ProcessingOptions, error) {
	if o.Mode == "" {
		o.Mode = ResizeFit
	}
	if o.Format == "" {
		o.Format = FormatAuto
	}
	o.Mode = ResizeMode(strings.ToLower(string(o.Mode)))
	o.Format = OutputFormat(strings.ToLower(string(o.Format)))

	switch o.Mode {
	case ResizeFit, ResizeFill, ResizeStretch:
	default:
		return o, fmt.Errorf("invalid resize mode %q", o.Mode)
	}

	switch o.Format {
	case FormatAuto, FormatJPEG, FormatPNG, FormatWebP, FormatGIF, FormatAPNG:
	default:
		return o, fmt.Errorf("invalid output format %q", o.Format)
	}

	switch o.Rotation {
	case 0, 90, 180, 270:
	default:
		return o, fmt.Errorf("invalid rotation %d", o.Rotation)
	}

	if o.TargetWidth != nil && *o.TargetWidth <= 0 {
		return o, fmt.Errorf("invalid target width %d", *o.TargetWidth)
	}
	if o.TargetHeight != nil && *o.TargetHeight <= 0 {
		return o, fmt.Errorf("invalid target height %d", *o.TargetHeight)
	}

	if o.Quality != nil {
		q := *o.Quality
		if q < 0.1 {
			q = 0.1
		}
		if q > 1 {
			q = 1
		}
		o.Quality = &q
	}

	return o, nil
}

// QualityFor returns the effective quality in [0.1, 1.0] for the given
// output MIME type.
func (o ProcessingOptions) QualityFor(mime string) float64 {
	if o.Quality != nil {
		return *o.Quality
	}
	if mime == MimeWebP {
		return DefaultWebPQuality
	}
	return DefaultJPEGQuality
}

// Int is a helper for optional dimensions.
func Int(v int) *int { return &v }

// Float is a helper for optional quality.
func Float(v float64) *float64 { return &v }

// MimeForFormat maps an explicit output format to its MIME type.
// FormatAuto yields an empty string.
func MimeForFormat(f OutputFormat) string {
	switch f {
	case FormatJPEG:
		return MimeJPEG
	case FormatPNG:
		return MimePNG
	case FormatWebP:
		return MimeWebP
	case FormatGIF:
		return MimeGIF
	case FormatAPNG:
		return MimeAPNG
	default:
		return ""
	}
}

// ExtensionFor returns the file extension (with dot) for an output MIME type.
func ExtensionFor(mime string) string {
	switch mime {
	case MimeJPEG:
		return ".jpg"
	case MimePNG, MimeAPNG:
		return ".png"
	case MimeWebP:
		return ".webp"
	case MimeGIF:
		return ".gif"
	case MimeHEIC, MimeHEIF:
		return ".heic"
	default:
		return ".bin"
	}
}
