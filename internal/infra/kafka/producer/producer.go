package producer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/imgshift/internal/apperr"
	"github.com/aliskhannn/imgshift/internal/config"
	"github.com/aliskhannn/imgshift/internal/model"
)

// sender is the part of the Kafka producer client used here.
type sender interface {
	SendWithRetry(ctx context.Context, strategy retry.Strategy, key, value []byte) error
}

// wbfSender adapts the wbf producer to sender.
type wbfSender struct {
	p *wbfkafka.Producer
}

func (w wbfSender) SendWithRetry(ctx context.Context, strategy retry.Strategy, key, value []byte) error {
	return w.p.SendWithRetry(ctx, strategy, key, value)
}

// Event is the state of one task after a change. Image bytes are never
// part of it.
type Event struct {
	TaskID     uuid.UUID        `json:"task_id"`
	FileName   string           `json:"file_name"`
	Status     model.TaskStatus `json:"status"`
	DesiredGen uint64           `json:"desired_gen"`
	AttemptGen uint64           `json:"attempt_gen"`
	ResultGen  uint64           `json:"result_gen"`
	SourceSize int64            `json:"source_size"`
	ResultSize int64            `json:"result_size,omitempty"`
	Width      int              `json:"width,omitempty"`
	Height     int              `json:"height,omitempty"`
	MimeType   string           `json:"mime_type,omitempty"`
	ErrorKey   string           `json:"error_key,omitempty"`
	At         time.Time        `json:"at"`
}

// NewEvent builds the event for t.
func NewEvent(t model.ImageTask) Event {
	e := Event{
		TaskID:     t.ID,
		FileName:   t.FileName,
		Status:     t.Status,
		DesiredGen: t.DesiredGen,
		AttemptGen: t.AttemptGen,
		ResultGen:  t.ResultGen,
		SourceSize: t.Source.Size,
		At:         t.UpdatedAt,
	}
	if t.Result != nil {
		e.ResultSize = t.Result.Size
		e.Width = t.Result.Width
		e.Height = t.Result.Height
		e.MimeType = t.Result.MimeType
	}
	if t.ErrorCode != "" {
		e.ErrorKey = apperr.KeyForCode(apperr.Code(t.ErrorCode))
	}
	return e
}

// Producer publishes task events.
type Producer struct {
	Client   *wbfkafka.Producer
	sender   sender
	strategy retry.Strategy

	mu   sync.Mutex
	seen map[uuid.UUID]fingerprint
}

type fingerprint struct {
	status     model.TaskStatus
	desiredGen uint64
	attemptGen uint64
	resultGen  uint64
}

// New creates a new Producer.
// - cfg: Kafka configuration struct
// - s: retry strategy
func New(cfg *config.Kafka, s retry.Strategy) *Producer {
	client := wbfkafka.NewProducer(cfg.Brokers, cfg.EventsTopic)

	p := newProducer(wbfSender{p: client}, s)
	p.Client = client
	return p
}

func newProducer(s sender, strategy retry.Strategy) *Producer {
	return &Producer{
		sender:   s,
		strategy: strategy,
		seen:     make(map[uuid.UUID]fingerprint),
	}
}

// Produce serializes the event to JSON and sends it to Kafka.
// The task ID is used as the message key so events of a task stay ordered.
func (p *Producer) Produce(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := []byte(e.TaskID.String())

	if err = p.sender.SendWithRetry(ctx, p.strategy, key, data); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}

	return nil
}

// Observe publishes an event for every task whose state differs from the
// previous snapshot. It fits queue.Observer.
func (p *Producer) Observe(ctx context.Context) func(tasks []model.ImageTask) {
	return func(tasks []model.ImageTask) {
		for _, t := range p.changed(tasks) {
			if err := p.Produce(ctx, NewEvent(t)); err != nil {
				zlog.Logger.Error().Err(err).Str("task", t.ID.String()).Msg("failed to publish task event")
			}
		}
	}
}

func (p *Producer) changed(tasks []model.ImageTask) []model.ImageTask {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []model.ImageTask
	live := make(map[uuid.UUID]fingerprint, len(tasks))
	for _, t := range tasks {
		fp := fingerprint{status: t.Status, desiredGen: t.DesiredGen, attemptGen: t.AttemptGen, resultGen: t.ResultGen}
		live[t.ID] = fp
		if prev, ok := p.seen[t.ID]; !ok || prev != fp {
			out = append(out, t)
		}
	}
	p.seen = live

	return out
}
