package container

import "encoding/binary"

const vp8xExifFlag = 0x08

// EmbedWebP appends an EXIF chunk to the RIFF payload and rewrites the RIFF
// size. When the file has a VP8X header its EXIF flag is set as well.
func EmbedWebP(data, payload []byte) []byte {
	body := rawTIFF(payload)
	if len(body) == 0 || len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WEBP" {
		return nil
	}

	end := 8 + int(binary.LittleEndian.Uint32(data[4:8]))
	if end > len(data) || end < 12 {
		return nil
	}

	chunk := make([]byte, 8, 8+len(body)+1)
	copy(chunk[0:4], "EXIF")
	binary.LittleEndian.PutUint32(chunk[4:8], uint32(len(body)))
	chunk = append(chunk, body...)
	if len(body)%2 == 1 {
		chunk = append(chunk, 0)
	}

	out := make([]byte, 0, end+len(chunk))
	out = append(out, data[:end]...)
	out = append(out, chunk...)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))

	if len(out) >= 21 && string(out[12:16]) == "VP8X" {
		out[20] |= vp8xExifFlag
	}

	return out
}
