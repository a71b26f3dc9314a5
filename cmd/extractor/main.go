// Package main wires together the extractor service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/newsloom/extractor/internal/api"
	"github.com/newsloom/extractor/internal/botwall"
	"github.com/newsloom/extractor/internal/cascade"
	"github.com/newsloom/extractor/internal/clock/system"
	"github.com/newsloom/extractor/internal/config"
	"github.com/newsloom/extractor/internal/eventlog"
	eventlogMemory "github.com/newsloom/extractor/internal/eventlog/memory"
	eventlogPostgres "github.com/newsloom/extractor/internal/eventlog/postgres"
	"github.com/newsloom/extractor/internal/extract"
	"github.com/newsloom/extractor/internal/fetch/browser"
	"github.com/newsloom/extractor/internal/fetch/heuristic"
	"github.com/newsloom/extractor/internal/fetch/structured"
	"github.com/newsloom/extractor/internal/hash/sha256"
	"github.com/newsloom/extractor/internal/id/uuid"
	"github.com/newsloom/extractor/internal/logging"
	"github.com/newsloom/extractor/internal/metrics"
	publisherMemory "github.com/newsloom/extractor/internal/publisher/memory"
	publisherPubsub "github.com/newsloom/extractor/internal/publisher/pubsub"
	queueMemory "github.com/newsloom/extractor/internal/queue/memory"
	queuePubsub "github.com/newsloom/extractor/internal/queue/pubsub"
	"github.com/newsloom/extractor/internal/scheduler"
	"github.com/newsloom/extractor/internal/sensitivity"
	storageGCS "github.com/newsloom/extractor/internal/storage/gcs"
	storageMemory "github.com/newsloom/extractor/internal/storage/memory"
	"github.com/newsloom/extractor/internal/telemetry"
	"github.com/newsloom/extractor/internal/telemetry/sinks"
	"github.com/newsloom/extractor/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("extractor exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()
	idGen := uuid.NewUUIDGenerator()
	hasher := sha256.New()

	// Detection event log: Postgres when a database is configured, memory
	// ring otherwise.
	var events eventlog.Log = eventlogMemory.NewLog()
	if cfg.DB.Enabled {
		pgLog, err := eventlogPostgres.NewLog(ctx, eventlogPostgres.Config{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.EventsTable,
			MaxConns: int32(cfg.DB.MaxConns),
		}, idGen)
		if err != nil {
			return fmt.Errorf("init detection event log: %w", err)
		}
		defer pgLog.Close()
		events = pgLog
	}

	store := sensitivity.NewStore(sensitivity.Config{
		Profiles: cfg.Sensitivity.Profiles(),
		Table:    cfg.Sensitivity.PolicyTable(),
		Decay: sensitivity.DecayConfig{
			Enabled:       cfg.Sensitivity.DecayEnabled,
			SuccessStreak: cfg.Sensitivity.DecaySuccessStreak,
			Window:        cfg.Sensitivity.DecayWindow(),
		},
	}, clock, events, logger)

	detector := botwall.New(botwall.Config{
		MinBodyBytes:        cfg.Detector.MinBodyBytes,
		ChallengeSignatures: cfg.Detector.ChallengeSignatures,
		CaptchaSignatures:   cfg.Detector.CaptchaSignatures,
		BlockSignatures:     cfg.Detector.BlockSignatures,
		BlockingStatusCodes: cfg.Detector.BlockingStatusCodes,
		ShortResponseCodes:  cfg.Detector.ShortResponseCodes,
	})

	fetchers, browserFetcher, err := buildFetchers(cfg, logger)
	if err != nil {
		return err
	}
	if browserFetcher != nil {
		defer browserFetcher.Close()
	}

	runner := cascade.New(detector, store, fetchers, cascade.Config{
		SkipThreshold: cfg.Methods.SkipThreshold,
	}, clock, logger)

	hub, err := buildTelemetry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("telemetry hub close failed", zap.Error(err))
		}
	}()

	queue, err := buildQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}

	publisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	blobStore, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	sched := scheduler.New(store, runner, scheduler.NewPacer(store), hub, scheduler.Config{
		BatchSize: cfg.Batch.Size,
		Pause: scheduler.PauseConfig{
			Short:             cfg.Batch.ShortPause(),
			Long:              cfg.Batch.LongPause(),
			JitterFraction:    cfg.Batch.JitterFraction(),
			RotationThreshold: cfg.Batch.RotationThreshold,
		},
	}, clock, logger)

	workerCfg := worker.Config{
		BatchSize:   cfg.Batch.Size,
		Topic:       cfg.Publisher.TopicID,
		BlobPrefix:  cfg.Storage.Prefix,
		ContentType: cfg.Storage.ContentType,
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Batch.Workers; i++ {
		w := worker.New(queue, sched, publisher, blobStore, hasher, workerCfg, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	logger.Info("extractor started",
		zap.Int("workers", cfg.Batch.Workers),
		zap.Int("batch_size", cfg.Batch.Size),
		zap.Int("port", cfg.Server.Port),
	)

	srv := api.NewServer(idGen, logger)
	err = srv.Run(ctx, cfg.Server.Port)

	wg.Wait()
	logger.Info("extractor stopped")
	return err
}

// buildFetchers assembles the cascade's method list in fallback order. The
// browser tier is optional; deployments without Chrome run the two
// lightweight methods only.
func buildFetchers(cfg config.Config, logger *zap.Logger) ([]extract.ArticleFetcher, *browser.Fetcher, error) {
	clientCfg := structured.Config{
		UserAgent: cfg.Methods.UserAgent,
		Timeout:   cfg.Methods.LightTimeout(),
		ProxyURL:  cfg.Methods.ProxyURL,
	}

	structuredFetcher, err := structured.New(clientCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init structured fetcher: %w", err)
	}
	heuristicFetcher, err := heuristic.New(heuristic.Config{
		Client:       clientCfg,
		MinBodyRunes: cfg.Methods.MinBodyRunes,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init heuristic fetcher: %w", err)
	}
	fetchers := []extract.ArticleFetcher{structuredFetcher, heuristicFetcher}

	if !cfg.Methods.BrowserEnabled {
		return fetchers, nil, nil
	}
	browserFetcher, err := browser.New(browser.Config{
		MaxParallel:       cfg.Methods.BrowserMaxParallel,
		UserAgent:         cfg.Methods.UserAgent,
		NavigationTimeout: cfg.Methods.BrowserNavTimeout(),
		MinBodyRunes:      cfg.Methods.MinBodyRunes,
	})
	if err != nil {
		// A broken Chrome install degrades the cascade, it does not stop
		// the service.
		logger.Warn("browser fetcher init failed, running without it", zap.Error(err))
		return fetchers, nil, nil
	}
	return append(fetchers, browserFetcher), browserFetcher, nil
}

func buildTelemetry(ctx context.Context, cfg config.Config, logger *zap.Logger) (*telemetry.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	hubSinks := []telemetry.Sink{
		sinks.NewLogSink(logger),
		promSink,
	}
	if cfg.DB.Enabled {
		pgSink, err := sinks.NewPostgresSink(ctx, sinks.PostgresConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.AttemptsTable,
			MaxConns: int32(cfg.DB.MaxConns),
		})
		if err != nil {
			return nil, fmt.Errorf("init attempt archive sink: %w", err)
		}
		hubSinks = append(hubSinks, pgSink)
	}
	return telemetry.NewHub(telemetry.Config{
		BufferSize:     cfg.Telemetry.BufferSize,
		MaxBatchEvents: cfg.Telemetry.MaxBatchEvents,
		MaxBatchWait:   cfg.Telemetry.MaxBatchWait(),
		BaseContext:    ctx,
		Logger:         logger,
	}, hubSinks...), nil
}

func buildQueue(ctx context.Context, cfg config.Config, logger *zap.Logger) (extract.CandidateQueue, error) {
	switch cfg.Queue.Mode {
	case "pubsub":
		q, err := queuePubsub.NewQueue(ctx, queuePubsub.Config{
			ProjectID:      cfg.Queue.ProjectID,
			SubscriptionID: cfg.Queue.SubscriptionID,
			Buffer:         cfg.Queue.Buffer,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init pubsub queue: %w", err)
		}
		q.Start(ctx)
		return q, nil
	default:
		return queueMemory.NewQueue(cfg.Queue.Buffer), nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (extract.Publisher, error) {
	switch cfg.Publisher.Mode {
	case "pubsub":
		p, err := publisherPubsub.New(ctx, cfg.Publisher.ProjectID, cfg.Publisher.TopicID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		return p, nil
	default:
		logger.Info("using in-memory publisher, extracted articles stay local")
		return publisherMemory.New(), nil
	}
}

func buildBlobStore(ctx context.Context, cfg config.Config) (extract.BlobStore, error) {
	switch cfg.Storage.Mode {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		return storageGCS.New(client, storageGCS.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return storageMemory.NewBlobStore(), nil
	}
}
