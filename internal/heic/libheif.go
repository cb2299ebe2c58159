//go:build libheif

package heic

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	_ "github.com/strukturag/libheif/go/heif"

	"github.com/aliskhannn/imgshift/internal/model"
)

// libheifConverter decodes through the image.Decode registration of the
// libheif bindings and re-encodes as JPEG.
type libheifConverter struct{}

func newDefault() (Converter, error) {
	return libheifConverter{}, nil
}

func (libheifConverter) Convert(ctx context.Context, data []byte) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode heif: %w", err)
	}
	if format != "heif" && format != "avif" {
		return nil, "", fmt.Errorf("unexpected decoder %q", format)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(92)); err != nil {
		return nil, "", fmt.Errorf("encode jpeg: %w", err)
	}

	return buf.Bytes(), model.MimeJPEG, nil
}
