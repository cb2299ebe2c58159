package file

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
	"go.uber.org/multierr"

	"github.com/aliskhannn/imgshift/internal/model"
)

// Exporter writes finished results to a Storage.
type Exporter struct {
	storage  Storage
	subdir   string
	strategy retry.Strategy

	mu       sync.Mutex
	exported map[uuid.UUID]uint64
	owners   map[string]uuid.UUID
}

// NewExporter creates an Exporter writing into subdir.
func NewExporter(s Storage, subdir string, strategy retry.Strategy) *Exporter {
	return &Exporter{
		storage:  s,
		subdir:   subdir,
		strategy: strategy,
		exported: make(map[uuid.UUID]uint64),
		owners:   make(map[string]uuid.UUID),
	}
}

// Observe exports each task once per result generation, as soon as its
// result becomes current. It fits queue.Observer.
func (e *Exporter) Observe(ctx context.Context) func(tasks []model.ImageTask) {
	return func(tasks []model.ImageTask) {
		var fresh []model.ImageTask

		e.mu.Lock()
		for _, t := range tasks {
			if !t.IsCurrent() {
				continue
			}
			if gen, ok := e.exported[t.ID]; ok && gen == t.ResultGen {
				continue
			}
			e.exported[t.ID] = t.ResultGen
			fresh = append(fresh, t)
		}
		e.mu.Unlock()

		if len(fresh) == 0 {
			return
		}
		if _, err := e.Export(ctx, fresh); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to export results")
		}
	}
}

// Export saves the result of every task whose result matches its desired
// generation. Stale, failed and unfinished tasks are skipped. It returns
// the written paths and every save error combined.
func (e *Exporter) Export(ctx context.Context, tasks []model.ImageTask) ([]string, error) {
	var (
		paths []string
		errs  error
	)

	for _, t := range tasks {
		if !t.IsCurrent() {
			continue
		}

		name := e.claim(t.ID, ExportName(t.FileName, t.Result.MimeType))
		data := t.Result.Data

		var saved string
		err := retry.Do(func() error {
			var saveErr error
			saved, saveErr = e.storage.Save(ctx, e.subdir, name, bytes.NewReader(data))
			return saveErr
		}, e.strategy)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("export %s: %w", t.FileName, err))
			continue
		}

		zlog.Logger.Info().
			Str("file", t.FileName).
			Str("path", saved).
			Str("size", humanize.IBytes(uint64(len(data)))).
			Msg("result exported")

		paths = append(paths, saved)
	}

	return paths, errs
}

// claim reserves name for the task. A name already held by another task
// gets a short task id suffix so neither result overwrites the other.
func (e *Exporter) claim(id uuid.UUID, name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if owner, ok := e.owners[name]; ok && owner != id {
		ext := filepath.Ext(name)
		name = strings.TrimSuffix(name, ext) + "-" + id.String()[:8] + ext
	}
	e.owners[name] = id
	return name
}

// ExportName replaces the extension of name with the one of mime.
func ExportName(name, mime string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." {
		base = "image"
	}
	return base + model.ExtensionFor(mime)
}
