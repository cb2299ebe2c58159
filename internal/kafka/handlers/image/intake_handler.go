package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/imgshift/internal/model"
)

// ErrTooLarge is returned for inbound files above the size limit.
var ErrTooLarge = errors.New("inbound file too large")

// storage loads inbound files.
type storage interface {
	Load(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

// enqueuer accepts new files into the task queue.
type enqueuer interface {
	Enqueue(files []model.RawFile) ([]uuid.UUID, error)
}

// Intake is the message announcing a file that is ready in storage.
type Intake struct {
	Path     string `json:"path"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Delete   bool   `json:"delete,omitempty"`
}

// IntakeHandler loads announced files and enqueues them.
type IntakeHandler struct {
	storage  storage
	queue    enqueuer
	maxBytes int64
}

// NewIntakeHandler creates a new handler. maxBytes <= 0 disables the size
// limit.
func NewIntakeHandler(s storage, q enqueuer, maxBytes int64) *IntakeHandler {
	return &IntakeHandler{storage: s, queue: q, maxBytes: maxBytes}
}

// Handle decodes an Intake message, reads the file and enqueues it.
func (h *IntakeHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var in Intake
	if err := json.Unmarshal(msg.Value, &in); err != nil {
		return fmt.Errorf("unmarshal intake: %w", err)
	}
	if in.Path == "" {
		return errors.New("intake without path")
	}

	data, err := h.read(ctx, in.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", in.Path, err)
	}

	name := in.FileName
	if name == "" {
		name = path.Base(in.Path)
	}

	ids, err := h.queue.Enqueue([]model.RawFile{{Name: name, MimeType: in.MimeType, Data: data}})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", name, err)
	}

	if in.Delete {
		if err := h.storage.Delete(ctx, in.Path); err != nil {
			zlog.Logger.Warn().Err(err).Str("path", in.Path).Msg("failed to delete taken file")
		}
	}

	zlog.Logger.Info().
		Str("file", name).
		Str("task", ids[0].String()).
		Str("size", humanize.IBytes(uint64(len(data)))).
		Msg("file taken in")

	return nil
}

func (h *IntakeHandler) read(ctx context.Context, p string) ([]byte, error) {
	rc, err := h.storage.Load(ctx, p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := io.Reader(rc)
	if h.maxBytes > 0 {
		r = io.LimitReader(rc, h.maxBytes+1)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if h.maxBytes > 0 && int64(len(data)) > h.maxBytes {
		return nil, fmt.Errorf("%w: limit %s", ErrTooLarge, humanize.IBytes(uint64(h.maxBytes)))
	}

	return data, nil
}
