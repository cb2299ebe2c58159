package container

import "encoding/binary"

const (
	markerSOI  = 0xD8
	markerAPP0 = 0xE0
	markerAPP1 = 0xE1
)

// EmbedJPEG inserts an APP1 segment after the leading APP0 (JFIF) segment,
// or right after SOI when there is none.
func EmbedJPEG(data, payload []byte) []byte {
	if len(payload) == 0 || len(data) < 4 || data[0] != 0xFF || data[1] != markerSOI {
		return nil
	}

	body := wrapped(payload)
	if len(body)+2 > 0xFFFF {
		return nil
	}

	at := 2
	if data[2] == 0xFF && data[3] == markerAPP0 {
		if len(data) < 6 {
			return nil
		}
		segLen := int(binary.BigEndian.Uint16(data[4:6]))
		if segLen < 2 || 4+segLen > len(data) {
			return nil
		}
		at = 4 + segLen
	}

	seg := make([]byte, 4, 4+len(body))
	seg[0] = 0xFF
	seg[1] = markerAPP1
	binary.BigEndian.PutUint16(seg[2:4], uint16(len(body)+2))
	seg = append(seg, body...)

	return splice(data, at, seg)
}
