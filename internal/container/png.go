package container

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// EmbedPNG inserts an eXIf chunk after IHDR, or before IEND when IHDR is
// missing. The chunk carries raw TIFF data, so the JPEG wrapper is removed.
func EmbedPNG(data, payload []byte) []byte {
	body := rawTIFF(payload)
	if len(body) == 0 || !bytes.HasPrefix(data, pngSignature) {
		return nil
	}

	at, iend := -1, -1
	off := len(pngSignature)
	for off+12 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[off : off+4]))
		typ := string(data[off+4 : off+8])
		end := off + 12 + length
		if end > len(data) {
			return nil
		}
		if typ == "IHDR" {
			at = end
			break
		}
		if typ == "IEND" {
			iend = off
			break
		}
		off = end
	}
	if at < 0 {
		at = iend
	}
	if at < 0 {
		return nil
	}

	return splice(data, at, PNGChunk("eXIf", body))
}

// PNGChunk builds a length-prefixed chunk with its CRC32 over type+data.
func PNGChunk(typ string, payload []byte) []byte {
	out := make([]byte, 8, 12+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(payload)))
	copy(out[4:8], typ)
	out = append(out, payload...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out[4:]))
}
