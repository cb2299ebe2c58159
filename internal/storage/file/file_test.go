package file

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"
	"go.uber.org/atomic"

	"github.com/aliskhannn/imgshift/internal/model"
)

var testStrategy = retry.Strategy{Attempts: 3, Delay: time.Millisecond, Backoff: 1}

func TestLocalRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewLocalFs(fs, "/exports")
	ctx := context.Background()

	p, err := s.Save(ctx, "processed", "a.png", strings.NewReader("pixels"))
	require.NoError(t, err)
	assert.Equal(t, "processed/a.png", p)

	ok, err := afero.Exists(fs, "/exports/processed/a.png")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Load(ctx, p)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "pixels", string(data))

	require.NoError(t, s.Delete(ctx, p))
	_, err = s.Load(ctx, p)
	assert.Error(t, err)
}

func TestExportName(t *testing.T) {
	tests := []struct {
		name, mime, want string
	}{
		{"photo.HEIC", model.MimeJPEG, "photo.jpg"},
		{"anim.gif", model.MimeWebP, "anim.webp"},
		{"dir/pic.jpeg", model.MimePNG, "pic.png"},
		{"noext", model.MimeGIF, "noext.gif"},
		{"", model.MimeAPNG, "image.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExportName(tt.name, tt.mime))
		})
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, model.MimeJPEG, ContentType("x.JPG"))
	assert.Equal(t, model.MimeWebP, ContentType("x.webp"))
	assert.Equal(t, "application/octet-stream", ContentType("x.txt"))
}

func task(name string, status model.TaskStatus, resultGen, desiredGen uint64, data string) model.ImageTask {
	t := model.ImageTask{FileName: name, Status: status, DesiredGen: desiredGen, ResultGen: resultGen}
	if data != "" {
		t.Result = &model.ImageDescriptor{MimeType: model.MimePNG, Data: []byte(data)}
	}
	return t
}

func TestExporterSkipsStaleAndFailed(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := NewExporter(NewLocalFs(fs, "/out"), "processed", testStrategy)

	paths, err := e.Export(context.Background(), []model.ImageTask{
		task("a.jpg", model.StatusDone, 2, 2, "A"),
		task("b.jpg", model.StatusDone, 1, 2, "B"),
		task("c.jpg", model.StatusError, 0, 2, ""),
		task("d.jpg", model.StatusProcessing, 1, 2, "D"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"processed/a.png"}, paths)

	data, err := afero.ReadFile(fs, "/out/processed/a.png")
	require.NoError(t, err)
	assert.Equal(t, "A", string(data))

	ok, err := afero.Exists(fs, "/out/processed/b.png")
	require.NoError(t, err)
	assert.False(t, ok)
}

type flakyStorage struct {
	Storage
	failures int32
	calls    atomic.Int32
	saved    bytes.Buffer
}

func (f *flakyStorage) Save(_ context.Context, subdir, filename string, src io.Reader) (string, error) {
	if f.calls.Inc() <= f.failures {
		return "", errors.New("bucket unavailable")
	}
	_, err := io.Copy(&f.saved, src)
	return subdir + "/" + filename, err
}

func TestExporterRetries(t *testing.T) {
	s := &flakyStorage{failures: 1}
	e := NewExporter(s, "out", testStrategy)

	paths, err := e.Export(context.Background(), []model.ImageTask{task("a.png", model.StatusDone, 1, 1, "A")})
	require.NoError(t, err)
	assert.Equal(t, []string{"out/a.png"}, paths)
	assert.Equal(t, int32(2), s.calls.Load())
	assert.Equal(t, "A", s.saved.String())
}

func TestExporterCombinesErrors(t *testing.T) {
	s := &flakyStorage{failures: 100}
	e := NewExporter(s, "out", testStrategy)

	_, err := e.Export(context.Background(), []model.ImageTask{
		task("a.png", model.StatusDone, 1, 1, "A"),
		task("b.png", model.StatusDone, 1, 1, "B"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export a.png")
	assert.Contains(t, err.Error(), "export b.png")
}

func TestExporterObserveExportsOncePerGeneration(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := NewExporter(NewLocalFs(fs, "/out"), "processed", testStrategy)
	observe := e.Observe(context.Background())

	a := task("a.jpg", model.StatusProcessing, 0, 1, "")
	a.ID = uuid.New()
	observe([]model.ImageTask{a})
	ok, err := afero.Exists(fs, "/out/processed/a.png")
	require.NoError(t, err)
	assert.False(t, ok)

	a = task("a.jpg", model.StatusDone, 1, 1, "v1")
	a.ID = uuid.New()
	observe([]model.ImageTask{a})
	data, err := afero.ReadFile(fs, "/out/processed/a.png")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	require.NoError(t, fs.Remove("/out/processed/a.png"))
	observe([]model.ImageTask{a})
	ok, err = afero.Exists(fs, "/out/processed/a.png")
	require.NoError(t, err)
	assert.False(t, ok, "same generation is not exported twice")

	a.ResultGen, a.DesiredGen = 2, 2
	a.Result = &model.ImageDescriptor{MimeType: model.MimePNG, Data: []byte("v2")}
	observe([]model.ImageTask{a})
	data, err = afero.ReadFile(fs, "/out/processed/a.png")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestExporterKeepsCollidingNamesApart(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := NewExporter(NewLocalFs(fs, "/out"), "processed", testStrategy)

	a := task("a.png", model.StatusDone, 1, 1, "from png")
	a.ID = uuid.New()
	b := task("a.jpg", model.StatusDone, 1, 1, "from jpg")
	b.ID = uuid.New()

	paths, err := e.Export(context.Background(), []model.ImageTask{a, b})
	require.NoError(t, err)
	want := []string{"processed/a.png", "processed/a-" + b.ID.String()[:8] + ".png"}
	assert.Equal(t, want, paths)

	for i, content := range []string{"from png", "from jpg"} {
		data, err := afero.ReadFile(fs, "/out/"+want[i])
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	}

	a.ResultGen, a.DesiredGen = 2, 2
	paths, err = e.Export(context.Background(), []model.ImageTask{a})
	require.NoError(t, err)
	assert.Equal(t, []string{"processed/a.png"}, paths, "a task keeps its own name across generations")
}
