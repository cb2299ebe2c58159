// Package watcher enqueues image files dropped into an inbox directory.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/imgshift/internal/model"
	"github.com/aliskhannn/imgshift/internal/storage/file"
)

// DefaultDebounce is how long a file must stay quiet before it is read.
const DefaultDebounce = 500 * time.Millisecond

type enqueuer interface {
	Enqueue(files []model.RawFile) ([]uuid.UUID, error)
}

// Watcher monitors an inbox folder for new images.
type Watcher struct {
	dir      string
	fs       afero.Fs
	queue    enqueuer
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

// New creates a watcher for dir. It does not start watching.
func New(dir string, q enqueuer, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		dir:      dir,
		fs:       afero.NewOsFs(),
		queue:    q,
		debounce: debounce,
		watcher:  fsWatcher,
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Run watches the inbox until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch folder %s: %w", w.dir, err)
	}
	zlog.Logger.Info().Str("dir", w.dir).Msg("watching inbox")

	defer w.stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !wanted(event.Name) {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			zlog.Logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

// wanted skips hidden files and anything without an image extension.
func wanted(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.HasPrefix(file.ContentType(base), "image/")
}

func (w *Watcher) schedule(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[name]; ok {
		if t.Stop() {
			w.wg.Done()
		}
	}

	w.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()

		w.mu.Lock()
		if w.timers[name] == timer {
			delete(w.timers, name)
		}
		w.mu.Unlock()

		w.take(name)
	})
	w.timers[name] = timer
}

func (w *Watcher) take(name string) {
	data, err := afero.ReadFile(w.fs, name)
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("file", name).Msg("failed to read inbox file")
		return
	}
	if len(data) == 0 {
		return
	}

	base := filepath.Base(name)
	if _, err := w.queue.Enqueue([]model.RawFile{{Name: base, MimeType: file.ContentType(base), Data: data}}); err != nil {
		zlog.Logger.Error().Err(err).Str("file", name).Msg("failed to enqueue inbox file")
		return
	}

	zlog.Logger.Info().Str("file", base).Msg("inbox file enqueued")
}

func (w *Watcher) stop() {
	w.mu.Lock()
	for name, t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, name)
	}
	w.mu.Unlock()

	w.wg.Wait()

	if err := w.watcher.Close(); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to close watcher")
	}
}
