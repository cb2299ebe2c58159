package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/imgshift/internal/config"
	"github.com/aliskhannn/imgshift/internal/heic"
	"github.com/aliskhannn/imgshift/internal/infra/kafka/consumer"
	"github.com/aliskhannn/imgshift/internal/infra/kafka/producer"
	imagemsg "github.com/aliskhannn/imgshift/internal/kafka/handlers/image"
	"github.com/aliskhannn/imgshift/internal/model"
	"github.com/aliskhannn/imgshift/internal/offload"
	"github.com/aliskhannn/imgshift/internal/preset"
	"github.com/aliskhannn/imgshift/internal/processor"
	"github.com/aliskhannn/imgshift/internal/queue"
	"github.com/aliskhannn/imgshift/internal/storage/file"
	"github.com/aliskhannn/imgshift/internal/watcher"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the config file (default ./config/config.yml)")
	profile := pflag.StringP("profile", "p", "", "processing options profile")
	noWorker := pflag.Bool("no-worker", false, "run every task on the calling goroutine")
	pflag.Parse()

	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad(*configPath)

	opts := model.DefaultOptions()
	if cfg.Presets.ProfilesFile != "" {
		profiles, err := config.LoadProfiles(cfg.Presets.ProfilesFile)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to load option profiles")
		}
		name := cfg.Queue.Profile
		if *profile != "" {
			name = *profile
		}
		if opts, err = profiles.Options(name); err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to select option profile")
		}
	}

	presets, err := preset.LoadFile(cfg.Presets.File)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to load presets")
	}

	// Retry strategy for Kafka, storage and other external calls.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// HEIC support is announced only when a real converter loads.
	converter := heic.NewLoader(nil)
	heicReady := false
	if cfg.Worker.HEIC {
		conv, err := converter.Preload(ctx)
		if err != nil {
			zlog.Logger.Warn().Err(err).Msg("heic converter unavailable")
		}
		_, unavailable := conv.(heic.Unavailable)
		heicReady = err == nil && !unavailable
	}

	pipeline := processor.New(presets, converter)
	client := offload.NewClient(pipeline,
		offload.WithWorker(cfg.Worker.Enabled && !*noWorker),
		offload.WithStart(func() (*offload.Worker, error) {
			return offload.StartWorker(pipeline, offload.DefaultCapabilities(heicReady)), nil
		}),
	)

	storage, err := newStorage(ctx, cfg.Storage)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to storage")
	}
	exporter := file.NewExporter(storage, cfg.Storage.Subdir, strategy)

	files := pflag.Args()
	qopts := []queue.Option{
		queue.WithTimeout(cfg.Queue.Timeout),
		queue.WithResetter(client),
		queue.WithOptions(opts),
	}
	if len(files) == 0 {
		qopts = append(qopts, queue.WithObserver(exporter.Observe(ctx)))
	}

	var p *producer.Producer
	if cfg.Kafka.Enabled {
		p = producer.New(&cfg.Kafka, strategy)
		qopts = append(qopts, queue.WithObserver(p.Observe(ctx)))
	}

	orchestrator := queue.New(client, qopts...)

	if len(files) > 0 {
		err = runOnce(ctx, orchestrator, exporter, files)
	} else {
		runService(ctx, cfg, strategy, orchestrator, storage)
	}

	if cerr := orchestrator.Close(); cerr != nil {
		zlog.Logger.Error().Err(cerr).Msg("failed to close queue")
	}
	if cerr := client.Close(); cerr != nil {
		zlog.Logger.Error().Err(cerr).Msg("failed to close offload client")
	}
	if p != nil {
		if cerr := p.Client.Close(); cerr != nil {
			zlog.Logger.Error().Err(cerr).Msg("failed to close kafka producer client")
		}
	}

	if err != nil {
		zlog.Logger.Error().Err(err).Msg("finished with errors")
		os.Exit(1)
	}
}

func newStorage(ctx context.Context, cfg config.Storage) (file.Storage, error) {
	if cfg.Driver == "minio" {
		return file.NewMinIO(ctx, cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.BucketName, cfg.UseSSL)
	}
	return file.NewLocal(cfg.LocalPath), nil
}

// runOnce processes the files named on the command line and exports the
// results.
func runOnce(ctx context.Context, o *queue.Orchestrator, exporter *file.Exporter, paths []string) error {
	fs := afero.NewOsFs()
	raw := make([]model.RawFile, 0, len(paths))
	for _, path := range paths {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return err
		}
		raw = append(raw, model.RawFile{Name: filepath.Base(path), MimeType: file.ContentType(path), Data: data})
	}

	if _, err := o.Enqueue(raw); err != nil {
		return err
	}
	if err := o.Wait(ctx); err != nil {
		return err
	}

	tasks := o.Tasks()
	var failed int
	for _, t := range tasks {
		if t.Status == model.StatusError {
			failed++
			zlog.Logger.Error().Str("file", t.FileName).Str("code", t.ErrorCode).Msg(t.ErrorMessage)
		}
	}

	if _, err := exporter.Export(ctx, tasks); err != nil {
		return err
	}
	if failed > 0 {
		return errors.New("some files could not be processed")
	}
	return nil
}

// runService takes in files from Kafka and the inbox folder until ctx is
// canceled.
func runService(ctx context.Context, cfg *config.Config, strategy retry.Strategy, o *queue.Orchestrator, storage file.Storage) {
	var wg sync.WaitGroup

	var c *consumer.Consumer
	if cfg.Kafka.Enabled {
		handler := imagemsg.NewIntakeHandler(storage, o, cfg.Kafka.MaxIntakeBytes)
		c = consumer.New(&cfg.Kafka, strategy, handler)

		wg.Add(1)
		go c.Consume(ctx, &wg)
	}

	if cfg.Inbox.Dir != "" {
		w, err := watcher.New(cfg.Inbox.Dir, o, cfg.Inbox.Debounce)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to create inbox watcher")
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				zlog.Logger.Error().Err(err).Msg("inbox watcher stopped")
			}
		}()
	}

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	wg.Wait()

	if c != nil {
		if err := c.Client.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka consumer client")
		}
	}
}
