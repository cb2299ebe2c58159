// Package sniff determines the true container type of an image from its
// bytes, independent of any declared MIME type.
package sniff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/aliskhannn/imgshift/internal/model"
)

var (
	pngSignature = []byte("\x89PNG\r\n\x1a\n")
	gif87        = []byte("GIF87a")
	gif89        = []byte("GIF89a")
)

// ErrTruncated is returned by the block walkers when data ends early.
var ErrTruncated = errors.New("sniff: truncated container")

// Sniff classifies data. Animated containers are recognized by structure,
// static ones by magic bytes; the declared type is only trusted when the
// bytes say nothing and it names a recognized static type.
func Sniff(data []byte, declared string) model.SniffResult {
	switch {
	case IsGIF(data):
		n, _ := CountGIFFrames(data)
		return model.SniffResult{MimeType: model.MimeGIF, IsAnimated: n > 1}
	case IsPNG(data):
		if _, ok := APNGFrames(data); ok {
			return model.SniffResult{MimeType: model.MimeAPNG, IsAnimated: true}
		}
		return model.SniffResult{MimeType: model.MimePNG}
	case IsWebP(data):
		return model.SniffResult{MimeType: model.MimeWebP, IsAnimated: IsAnimatedWebP(data)}
	}

	if mime := detectStatic(data); mime != "" {
		return model.SniffResult{MimeType: mime}
	}

	if mime := normalizeDeclared(declared); mime != "" {
		return model.SniffResult{MimeType: mime}
	}

	return model.SniffResult{MimeType: model.MimeUnknown}
}

// detectStatic uses mimetype's magic tables for the static formats.
func detectStatic(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	m := mimetype.Detect(data)
	for ; m != nil; m = m.Parent() {
		switch m.String() {
		case "image/jpeg":
			return model.MimeJPEG
		case "image/png", "image/vnd.mozilla.apng":
			return model.MimePNG
		case "image/webp":
			return model.MimeWebP
		case "image/gif":
			return model.MimeGIF
		case "image/heic", "image/heic-sequence":
			return model.MimeHEIC
		case "image/heif", "image/heif-sequence":
			return model.MimeHEIF
		}
	}
	return ""
}

func normalizeDeclared(declared string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	switch declared {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return model.MimeJPEG
	case "image/png":
		return model.MimePNG
	case "image/webp":
		return model.MimeWebP
	case "image/gif":
		return model.MimeGIF
	case "image/heic":
		return model.MimeHEIC
	case "image/heif":
		return model.MimeHEIF
	default:
		return ""
	}
}

// IsGIF reports whether data starts with a GIF signature.
func IsGIF(data []byte) bool {
	return bytes.HasPrefix(data, gif87) || bytes.HasPrefix(data, gif89)
}

// IsPNG reports whether data starts with the PNG signature.
func IsPNG(data []byte) bool {
	return bytes.HasPrefix(data, pngSignature)
}

// IsWebP reports whether data is a RIFF/WEBP container.
func IsWebP(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

// IsHEIC reports whether mime names a HEIC/HEIF container.
func IsHEIC(mime string) bool {
	return mime == model.MimeHEIC || mime == model.MimeHEIF
}

// IsAnimatedWebP reports whether a WebP container carries animation.
func IsAnimatedWebP(data []byte) bool {
	if !IsWebP(data) {
		return false
	}
	off := 12
	for off+8 <= len(data) {
		fourcc := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		switch fourcc {
		case "VP8X":
			if off+8 < len(data) && data[off+8]&0x02 != 0 {
				return true
			}
		case "ANIM", "ANMF":
			return true
		}
		next := off + 8 + size + size&1
		if next <= off || size < 0 {
			return false
		}
		off = next
	}
	return false
}

// APNGFrames returns the acTL frame count when data is an animated PNG.
// Only chunks before the first IDAT are considered, as the format requires.
func APNGFrames(data []byte) (int, bool) {
	if !IsPNG(data) {
		return 0, false
	}
	off := len(pngSignature)
	for off+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[off : off+4]))
		typ := string(data[off+4 : off+8])
		if length < 0 || off+12+length > len(data) {
			return 0, false
		}
		switch typ {
		case "acTL":
			if length < 8 {
				return 0, false
			}
			return int(binary.BigEndian.Uint32(data[off+8 : off+12])), true
		case "IDAT", "IEND":
			return 0, false
		}
		off += 12 + length
	}
	return 0, false
}

// PNGSize reads the IHDR dimensions.
func PNGSize(data []byte) (int, int, bool) {
	if !IsPNG(data) || len(data) < 24 || string(data[12:16]) != "IHDR" {
		return 0, 0, false
	}
	return int(binary.BigEndian.Uint32(data[16:20])), int(binary.BigEndian.Uint32(data[20:24])), true
}

// GIFSize reads the logical screen dimensions.
func GIFSize(data []byte) (int, int, bool) {
	if !IsGIF(data) || len(data) < 10 {
		return 0, 0, false
	}
	return int(binary.LittleEndian.Uint16(data[6:8])), int(binary.LittleEndian.Uint16(data[8:10])), true
}

// CountGIFFrames walks the GIF block structure and counts image
// descriptors without decoding any pixels.
func CountGIFFrames(data []byte) (int, error) {
	if !IsGIF(data) || len(data) < 13 {
		return 0, ErrTruncated
	}
	off := 13
	if flags := data[10]; flags&0x80 != 0 {
		off += 3 * (1 << ((flags & 0x07) + 1))
	}

	frames := 0
	for off < len(data) {
		switch data[off] {
		case 0x2C: // image descriptor
			if off+10 > len(data) {
				return frames, ErrTruncated
			}
			flags := data[off+9]
			off += 10
			if flags&0x80 != 0 {
				off += 3 * (1 << ((flags & 0x07) + 1))
			}
			off++ // LZW minimum code size
			next, err := skipSubBlocks(data, off)
			if err != nil {
				return frames, err
			}
			off = next
			frames++
		case 0x21: // extension
			next, err := skipSubBlocks(data, off+2)
			if err != nil {
				return frames, err
			}
			off = next
		case 0x3B: // trailer
			return frames, nil
		default:
			return frames, ErrTruncated
		}
	}
	return frames, ErrTruncated
}

func skipSubBlocks(data []byte, off int) (int, error) {
	for {
		if off >= len(data) {
			return off, ErrTruncated
		}
		size := int(data[off])
		off++
		if size == 0 {
			return off, nil
		}
		off += size
	}
}
