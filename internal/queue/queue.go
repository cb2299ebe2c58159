// Package queue sequences image tasks through the processing engine one at
// a time and discards results that belong to an outdated generation.
package queue

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/imgshift/internal/apperr"
	"github.com/aliskhannn/imgshift/internal/model"
	"github.com/aliskhannn/imgshift/internal/processor"
)

// DefaultTimeout bounds a single task's processing time.
const DefaultTimeout = 2 * time.Minute

var (
	// ErrNotFound is returned for unknown task ids.
	ErrNotFound = errors.New("queue: task not found")
	// ErrNotRetryable is returned by Retry for tasks not in error state.
	ErrNotRetryable = errors.New("queue: only failed tasks can be retried")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("queue: orchestrator closed")
)

// Submitter runs one encoded buffer through the engine.
type Submitter interface {
	Submit(ctx context.Context, data []byte, mime string, opts model.ProcessingOptions) (processor.Output, error)
}

// Resetter hard-resets the execution context behind a Submitter.
type Resetter interface {
	Reset()
}

// Releaser drops the buffers held by a descriptor.
type Releaser func(d *model.ImageDescriptor)

// Observer receives a task snapshot after every state change.
type Observer func(tasks []model.ImageTask)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithReleaser overrides the default descriptor release.
func WithReleaser(r Releaser) Option {
	return func(o *Orchestrator) { o.release = r }
}

// WithResetter sets what is reset after a task times out.
func WithResetter(r Resetter) Option {
	return func(o *Orchestrator) { o.resetter = r }
}

// WithObserver registers an observer.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, fn) }
}

// WithOptions sets the initial processing options.
func WithOptions(opts model.ProcessingOptions) Option {
	return func(o *Orchestrator) { o.opts = opts }
}

type outcome struct {
	out processor.Output
	err error
}

// Orchestrator owns the task list and the generation fence. Only its
// methods mutate task state.
type Orchestrator struct {
	submitter Submitter
	resetter  Resetter
	release   Releaser
	timeout   time.Duration
	observers []Observer

	gen atomic.Uint64
	seq atomic.Uint64

	mu     sync.Mutex
	tasks  []*model.ImageTask
	// active is the task whose attempt is in flight. Only finish and
	// expire clear it.
	active uuid.UUID
	opts   model.ProcessingOptions
	idle   chan struct{}
	closed bool

	quit chan struct{}
	wg   sync.WaitGroup

	notifyMu  sync.Mutex
	snapshots [][]model.ImageTask
	notify    chan struct{}
}

// New creates an Orchestrator that processes tasks through s.
func New(s Submitter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		submitter: s,
		release:   func(d *model.ImageDescriptor) { d.Release() },
		timeout:   DefaultTimeout,
		opts:      model.DefaultOptions(),
		idle:      make(chan struct{}),
		quit:      make(chan struct{}),
		notify:    make(chan struct{}, 1),
	}
	close(o.idle)
	o.gen.Store(1)

	for _, opt := range opts {
		opt(o)
	}

	o.wg.Add(1)
	go o.deliver()

	return o
}

// Generation returns the live generation fence.
func (o *Orchestrator) Generation() uint64 { return o.gen.Load() }

// Enqueue adds one queued task per file. The batch goes ahead of existing
// tasks with its own order kept.
func (o *Orchestrator) Enqueue(files []model.RawFile) ([]uuid.UUID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, ErrClosed
	}

	now := time.Now()
	gen := o.gen.Load()
	batch := make([]*model.ImageTask, 0, len(files))
	ids := make([]uuid.UUID, 0, len(files))

	for _, f := range files {
		t := &model.ImageTask{
			ID:         uuid.New(),
			FileName:   f.Name,
			Status:     model.StatusQueued,
			DesiredGen: gen,
			Source: model.ImageDescriptor{
				MimeType: f.MimeType,
				Size:     int64(len(f.Data)),
				Data:     f.Data,
			},
			CreatedAt: now,
			UpdatedAt: now,
			Seq:       o.seq.Inc(),
		}
		batch = append(batch, t)
		ids = append(ids, t.ID)
	}
	o.tasks = append(batch, o.tasks...)

	zlog.Logger.Info().Int("files", len(files)).Uint64("generation", gen).Msg("files enqueued")

	o.changed()
	o.pump()

	return ids, nil
}

// ClearAll drops every task and bumps the generation so that any result
// still in flight is discarded on arrival. The next task starts only after
// that attempt settles.
func (o *Orchestrator) ClearAll() {
	o.mu.Lock()
	defer o.mu.Unlock()

	gen := o.gen.Inc()
	for _, t := range o.tasks {
		o.releaseTask(t)
	}
	o.tasks = nil

	zlog.Logger.Info().Uint64("generation", gen).Msg("queue cleared")

	o.changed()
	o.pump()
}

// Remove drops a single task and releases its buffers. Removing the running
// task does not free the processing slot until its attempt settles.
func (o *Orchestrator) Remove(id uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	i := o.index(id)
	if i < 0 {
		return ErrNotFound
	}
	o.releaseTask(o.tasks[i])
	o.tasks = slices.Delete(o.tasks, i, i+1)

	o.changed()
	o.pump()

	return nil
}

// Retry re-queues a failed task under the current generation.
func (o *Orchestrator) Retry(id uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	i := o.index(id)
	if i < 0 {
		return ErrNotFound
	}
	t := o.tasks[i]
	if t.Status != model.StatusError {
		return ErrNotRetryable
	}

	t.Status = model.StatusQueued
	t.AttemptGen = 0
	t.ErrorCode = ""
	t.ErrorMessage = ""
	t.UpdatedAt = time.Now()

	o.changed()
	o.pump()

	return nil
}

// SetOptions replaces the processing options. Every task is marked as
// wanting the new generation; finished tasks keep their status and their
// now stale result until reprocessing replaces it.
func (o *Orchestrator) SetOptions(opts model.ProcessingOptions) error {
	opts, err := opts.Validate()
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidInput, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.opts = opts
	gen := o.gen.Inc()
	for _, t := range o.tasks {
		t.DesiredGen = gen
	}

	zlog.Logger.Info().Uint64("generation", gen).Int("tasks", len(o.tasks)).Msg("options changed")

	o.changed()
	o.pump()

	return nil
}

// Options returns the options new attempts run with.
func (o *Orchestrator) Options() model.ProcessingOptions {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opts
}

// Tasks returns a copy of the task list in display order.
func (o *Orchestrator) Tasks() []model.ImageTask {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot()
}

// Wait blocks until no task is processing and none needs work.
func (o *Orchestrator) Wait(ctx context.Context) error {
	for {
		o.mu.Lock()
		idle, closed := o.idle, o.closed
		o.mu.Unlock()

		if closed {
			return ErrClosed
		}

		select {
		case <-idle:
			o.mu.Lock()
			done := o.active == uuid.Nil && o.next() == nil
			o.mu.Unlock()
			if done {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops scheduling, waits for the running attempt to settle and
// flushes pending observer notifications.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	close(o.quit)
	o.mu.Unlock()

	o.wg.Wait()
	return nil
}

// pump starts the oldest task that needs work if nothing is active.
// Callers hold o.mu.
func (o *Orchestrator) pump() {
	if o.closed || o.active != uuid.Nil {
		return
	}

	t := o.next()
	if t == nil {
		o.markIdle()
		return
	}

	gen := o.gen.Load()
	t.Status = model.StatusProcessing
	t.AttemptGen = gen
	t.ErrorCode = ""
	t.ErrorMessage = ""
	t.UpdatedAt = time.Now()
	o.active = t.ID

	select {
	case <-o.idle:
		o.idle = make(chan struct{})
	default:
	}

	zlog.Logger.Debug().
		Str("task", t.ID.String()).
		Str("file", t.FileName).
		Uint64("generation", gen).
		Msg("task started")

	o.changed()

	o.wg.Add(1)
	go o.run(t.ID, gen, bytes.Clone(t.Source.Data), t.Source.MimeType, o.opts)
}

// next returns the oldest task behind its desired generation. Callers hold
// o.mu.
func (o *Orchestrator) next() *model.ImageTask {
	var oldest *model.ImageTask
	for _, t := range o.tasks {
		if !t.NeedsWork() {
			continue
		}
		if oldest == nil || t.Seq < oldest.Seq {
			oldest = t
		}
	}
	return oldest
}

func (o *Orchestrator) markIdle() {
	select {
	case <-o.idle:
	default:
		close(o.idle)
	}
}

func (o *Orchestrator) run(id uuid.UUID, gen uint64, data []byte, mime string, opts model.ProcessingOptions) {
	defer o.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		out, err := o.submitter.Submit(ctx, data, mime, opts)
		done <- outcome{out: out, err: err}
	}()

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		o.finish(id, gen, res)

	case <-timer.C:
		cancel()
		o.expire(id, gen)
		go o.drain(done)

	case <-o.quit:
		cancel()
		go o.drain(done)
	}
}

// drain releases the buffers of an attempt nobody waits for anymore.
func (o *Orchestrator) drain(done <-chan outcome) {
	res := <-done
	o.releaseOutput(res.out)
}

// finish applies a result if it is still current, otherwise releases it.
func (o *Orchestrator) finish(id uuid.UUID, gen uint64, res outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active == id {
		o.active = uuid.Nil
	}

	i := o.index(id)
	if i < 0 || gen != o.gen.Load() {
		zlog.Logger.Debug().
			Str("task", id.String()).
			Uint64("attempt_generation", gen).
			Uint64("live_generation", o.gen.Load()).
			Msg("discarding stale result")
		o.releaseOutput(res.out)
		if i >= 0 && o.tasks[i].Status == model.StatusProcessing {
			o.tasks[i].Status = model.StatusQueued
			o.changed()
		}
		o.pump()
		return
	}

	t := o.tasks[i]
	t.UpdatedAt = time.Now()

	if res.err != nil {
		t.Status = model.StatusError
		t.ErrorCode = string(apperr.CodeOf(res.err))
		t.ErrorMessage = res.err.Error()
		if t.Result != nil {
			o.release(t.Result)
			t.Result = nil
		}
		o.releaseOutput(res.out)
		zlog.Logger.Warn().Err(res.err).Str("task", id.String()).Str("file", t.FileName).Msg("task failed")
	} else {
		if t.Result != nil {
			o.release(t.Result)
		}
		result := res.out.Result
		t.Result = &result
		t.ResultGen = gen
		t.Status = model.StatusDone

		t.Source.Width = res.out.Source.Width
		t.Source.Height = res.out.Source.Height
		t.Source.MimeType = res.out.Source.MimeType
		t.Source.Preview = res.out.Source.Preview

		zlog.Logger.Info().
			Str("task", id.String()).
			Str("file", t.FileName).
			Int("width", result.Width).
			Int("height", result.Height).
			Msg("task done")
	}

	o.changed()
	o.pump()
}

// expire fails a task whose attempt outlived the timeout and resets the
// execution context so the next task does not queue behind a hung one.
func (o *Orchestrator) expire(id uuid.UUID, gen uint64) {
	o.mu.Lock()

	if o.active == id {
		o.active = uuid.Nil
	}
	if i := o.index(id); i >= 0 && gen == o.gen.Load() {
		t := o.tasks[i]
		t.Status = model.StatusError
		t.ErrorCode = string(apperr.CodeTimeout)
		t.ErrorMessage = apperr.MessageForCode(apperr.CodeTimeout)
		t.UpdatedAt = time.Now()
		o.changed()
	}

	zlog.Logger.Warn().Str("task", id.String()).Dur("timeout", o.timeout).Msg("task timed out, resetting worker")
	o.mu.Unlock()

	if o.resetter != nil {
		o.resetter.Reset()
	}

	o.mu.Lock()
	o.pump()
	o.mu.Unlock()
}

func (o *Orchestrator) index(id uuid.UUID) int {
	return slices.IndexFunc(o.tasks, func(t *model.ImageTask) bool { return t.ID == id })
}

func (o *Orchestrator) releaseTask(t *model.ImageTask) {
	o.release(&t.Source)
	if t.Result != nil {
		o.release(t.Result)
	}
}

func (o *Orchestrator) releaseOutput(out processor.Output) {
	if out.Result.Data != nil || out.Result.Preview != nil {
		o.release(&out.Result)
	}
	if out.Source.Preview != nil {
		o.release(&out.Source)
	}
}

func (o *Orchestrator) snapshot() []model.ImageTask {
	out := make([]model.ImageTask, len(o.tasks))
	for i, t := range o.tasks {
		out[i] = *t
		if t.Result != nil {
			r := *t.Result
			out[i].Result = &r
		}
	}
	return out
}

// changed queues a snapshot for the observers. Callers hold o.mu.
func (o *Orchestrator) changed() {
	if len(o.observers) == 0 {
		return
	}
	snap := o.snapshot()

	o.notifyMu.Lock()
	o.snapshots = append(o.snapshots, snap)
	o.notifyMu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// deliver calls observers in order, off the orchestrator lock.
func (o *Orchestrator) deliver() {
	defer o.wg.Done()

	for {
		select {
		case <-o.notify:
			o.flush()
		case <-o.quit:
			o.flush()
			return
		}
	}
}

func (o *Orchestrator) flush() {
	o.notifyMu.Lock()
	pending := o.snapshots
	o.snapshots = nil
	o.notifyMu.Unlock()

	for _, snap := range pending {
		for _, fn := range o.observers {
			fn(snap)
		}
	}
}
