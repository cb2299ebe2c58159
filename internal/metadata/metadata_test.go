package metadata

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/imgshift/internal/container"
	"github.com/aliskhannn/imgshift/internal/model"
)

// tiffWithOrientation builds a big-endian TIFF block whose IFD0 holds a
// single orientation entry.
func tiffWithOrientation(v uint16) []byte {
	b := []byte("MM\x00\x2a")
	b = binary.BigEndian.AppendUint32(b, 8)
	b = binary.BigEndian.AppendUint16(b, 1)
	b = binary.BigEndian.AppendUint16(b, tagOrientation)
	b = binary.BigEndian.AppendUint16(b, 3)
	b = binary.BigEndian.AppendUint32(b, 1)
	b = binary.BigEndian.AppendUint16(b, v)
	b = binary.BigEndian.AppendUint16(b, 0)
	return binary.BigEndian.AppendUint32(b, 0)
}

func encodedJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2)), nil))
	return buf.Bytes()
}

func encodedPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func TestExtractJPEGResetsOrientation(t *testing.T) {
	src := container.EmbedJPEG(encodedJPEG(t), tiffWithOrientation(6))
	require.NotNil(t, src)
	assert.Equal(t, 6, Orientation(fromJPEG(src)))

	out := Extract(model.MimeJPEG, src)
	require.NotNil(t, out)
	assert.True(t, bytes.HasPrefix(out, container.ExifHeader))
	assert.Equal(t, 1, Orientation(out))

	// the source buffer is not modified
	assert.Equal(t, 6, Orientation(fromJPEG(src)))
}

func TestExtractPNG(t *testing.T) {
	src := container.EmbedPNG(encodedPNG(t), tiffWithOrientation(3))
	require.NotNil(t, src)

	out := Extract(model.MimePNG, src)
	require.NotNil(t, out)
	assert.Equal(t, 1, Orientation(out))
}

func TestExtractWebP(t *testing.T) {
	body := []byte("WEBP")
	body = append(body, "VP8L"...)
	body = binary.LittleEndian.AppendUint32(body, 2)
	body = append(body, 0, 0)
	data := binary.LittleEndian.AppendUint32([]byte("RIFF"), uint32(len(body)))
	data = append(data, body...)

	src := container.EmbedWebP(data, tiffWithOrientation(8))
	require.NotNil(t, src)

	out := Extract(model.MimeWebP, src)
	require.NotNil(t, out)
	assert.Equal(t, 1, Orientation(out))
}

func TestExtractMissingOrInvalid(t *testing.T) {
	assert.Nil(t, Extract(model.MimeJPEG, encodedJPEG(t)))
	assert.Nil(t, Extract(model.MimePNG, encodedPNG(t)))
	assert.Nil(t, Extract(model.MimeGIF, []byte("GIF89a")))

	garbage := container.EmbedPNG(encodedPNG(t), []byte("not a tiff block"))
	require.NotNil(t, garbage)
	assert.Nil(t, Extract(model.MimePNG, garbage))
}

func TestResetOrientationRejectsBadHeader(t *testing.T) {
	assert.Error(t, ResetOrientation([]byte("XX\x00\x2a\x00\x00\x00\x08")))
	assert.Error(t, ResetOrientation([]byte("MM")))
	assert.NoError(t, ResetOrientation(tiffWithOrientation(1)))
}
