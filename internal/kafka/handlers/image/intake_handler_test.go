package image

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/imgshift/internal/model"
	"github.com/aliskhannn/imgshift/internal/storage/file"
)

type fakeQueue struct {
	files []model.RawFile
}

func (q *fakeQueue) Enqueue(files []model.RawFile) ([]uuid.UUID, error) {
	q.files = append(q.files, files...)
	ids := make([]uuid.UUID, len(files))
	for i := range ids {
		ids[i] = uuid.New()
	}
	return ids, nil
}

func setup(t *testing.T, content string) (*file.Local, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	s := file.NewLocalFs(fs, "/inbox")
	_, err := s.Save(context.Background(), "incoming", "cat.gif", strings.NewReader(content))
	require.NoError(t, err)
	return s, fs
}

func TestIntakeEnqueuesFile(t *testing.T) {
	s, fs := setup(t, "GIF89a...")
	q := &fakeQueue{}
	h := NewIntakeHandler(s, q, 0)

	msg := kafka.Message{Value: []byte(`{"path":"incoming/cat.gif","mime_type":"image/gif","delete":true}`)}
	require.NoError(t, h.Handle(context.Background(), msg))

	require.Len(t, q.files, 1)
	assert.Equal(t, "cat.gif", q.files[0].Name)
	assert.Equal(t, model.MimeGIF, q.files[0].MimeType)
	assert.Equal(t, "GIF89a...", string(q.files[0].Data))

	ok, err := afero.Exists(fs, "/inbox/incoming/cat.gif")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIntakeRejects(t *testing.T) {
	s, _ := setup(t, strings.Repeat("x", 64))
	q := &fakeQueue{}
	h := NewIntakeHandler(s, q, 16)

	tests := []struct {
		name  string
		value string
	}{
		{"bad json", `{"path":`},
		{"no path", `{}`},
		{"missing file", `{"path":"incoming/dog.png"}`},
		{"too large", `{"path":"incoming/cat.gif"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, h.Handle(context.Background(), kafka.Message{Value: []byte(tt.value)}))
		})
	}
	assert.Empty(t, q.files)
}
