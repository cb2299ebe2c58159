// Package container embeds EXIF payloads into already encoded JPEG, PNG
// and WebP byte streams by splicing segments and chunks directly. Nothing
// is decoded or re-encoded. Every function returns nil when the input does
// not have the expected layout; callers treat that as "metadata stripped".
package container

import (
	"bytes"

	"github.com/aliskhannn/imgshift/internal/model"
)

// ExifHeader is the JPEG APP1 identifier that precedes the TIFF structure.
var ExifHeader = []byte("Exif\x00\x00")

// Embed dispatches on the output MIME type.
func Embed(mime string, data, payload []byte) []byte {
	switch mime {
	case model.MimeJPEG:
		return EmbedJPEG(data, payload)
	case model.MimePNG:
		return EmbedPNG(data, payload)
	case model.MimeWebP:
		return EmbedWebP(data, payload)
	default:
		return nil
	}
}

// Supports reports whether EXIF can be embedded into mime.
func Supports(mime string) bool {
	return mime == model.MimeJPEG || mime == model.MimePNG || mime == model.MimeWebP
}

// rawTIFF strips the JPEG-style "Exif\0\0" wrapper if present.
func rawTIFF(payload []byte) []byte {
	return bytes.TrimPrefix(payload, ExifHeader)
}

// wrapped ensures the JPEG-style wrapper is present.
func wrapped(payload []byte) []byte {
	if bytes.HasPrefix(payload, ExifHeader) {
		return payload
	}
	out := make([]byte, 0, len(ExifHeader)+len(payload))
	out = append(out, ExifHeader...)
	return append(out, payload...)
}

func splice(data []byte, at int, insert []byte) []byte {
	out := make([]byte, 0, len(data)+len(insert))
	out = append(out, data[:at]...)
	out = append(out, insert...)
	return append(out, data[at:]...)
}
