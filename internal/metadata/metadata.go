// Package metadata pulls the EXIF payload out of a source image so it can
// be carried over to the encoded output.
package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/aliskhannn/imgshift/internal/container"
	"github.com/aliskhannn/imgshift/internal/model"
	"github.com/aliskhannn/imgshift/internal/sniff"
)

const tagOrientation = 0x0112

var errNoIFD = errors.New("metadata: tiff header has no ifd0")

// Extract returns the EXIF payload of data in JPEG wrapper form
// ("Exif\0\0" + TIFF), or nil when the source carries none or it cannot be
// parsed. The orientation tag of the copy is reset to 1 because decoding
// already applies it to the pixels.
func Extract(mime string, data []byte) []byte {
	raw := bytes.TrimPrefix(Raw(mime, data), container.ExifHeader)
	if len(raw) < 8 {
		return nil
	}
	if _, err := exif.Decode(bytes.NewReader(raw)); err != nil {
		return nil
	}

	out := make([]byte, 0, len(container.ExifHeader)+len(raw))
	out = append(out, container.ExifHeader...)
	out = append(out, raw...)
	if err := ResetOrientation(out[len(container.ExifHeader):]); err != nil {
		return nil
	}

	return out
}

// Raw returns the EXIF chunk or segment body exactly as stored in data,
// without validation.
func Raw(mime string, data []byte) []byte {
	switch {
	case mime == model.MimeJPEG || (len(data) > 2 && data[0] == 0xFF && data[1] == 0xD8):
		return fromJPEG(data)
	case sniff.IsPNG(data):
		return fromPNG(data)
	case sniff.IsWebP(data):
		return fromWebP(data)
	}
	return nil
}

// Orientation reports the orientation tag stored in payload, 1 when absent.
func Orientation(payload []byte) int {
	x, err := exif.Decode(bytes.NewReader(bytes.TrimPrefix(payload, container.ExifHeader)))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// ResetOrientation rewrites the IFD0 orientation entry of a raw TIFF block
// to 1 in place. A block without the tag is left untouched.
func ResetOrientation(tiff []byte) error {
	if len(tiff) < 8 {
		return errNoIFD
	}

	var order binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return errNoIFD
	}

	ifd := int(order.Uint32(tiff[4:8]))
	if ifd < 8 || ifd+2 > len(tiff) {
		return errNoIFD
	}

	count := int(order.Uint16(tiff[ifd : ifd+2]))
	for i := 0; i < count; i++ {
		entry := ifd + 2 + i*12
		if entry+12 > len(tiff) {
			return errNoIFD
		}
		if order.Uint16(tiff[entry:entry+2]) != tagOrientation {
			continue
		}
		// SHORT, count 1: value is stored inline in the first two bytes.
		if order.Uint16(tiff[entry+2:entry+4]) == 3 && order.Uint32(tiff[entry+4:entry+8]) == 1 {
			order.PutUint16(tiff[entry+8:entry+10], 1)
		}
		return nil
	}

	return nil
}

func fromJPEG(data []byte) []byte {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil
	}

	off := 2
	for off+4 <= len(data) {
		if data[off] != 0xFF {
			return nil
		}
		marker := data[off+1]
		if marker == 0xDA || marker == 0xD9 {
			return nil
		}
		segLen := int(binary.BigEndian.Uint16(data[off+2 : off+4]))
		end := off + 2 + segLen
		if segLen < 2 || end > len(data) {
			return nil
		}
		body := data[off+4 : end]
		if marker == 0xE1 && bytes.HasPrefix(body, container.ExifHeader) {
			return body
		}
		off = end
	}

	return nil
}

func fromPNG(data []byte) []byte {
	off := 8
	for off+12 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[off : off+4]))
		typ := string(data[off+4 : off+8])
		end := off + 12 + length
		if end > len(data) {
			return nil
		}
		switch typ {
		case "eXIf":
			return data[off+8 : off+8+length]
		case "IEND":
			return nil
		}
		off = end
	}
	return nil
}

func fromWebP(data []byte) []byte {
	off := 12
	for off+8 <= len(data) {
		typ := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if off+size > len(data) {
			return nil
		}
		if typ == "EXIF" {
			return data[off : off+size]
		}
		off += size + size%2
	}
	return nil
}
