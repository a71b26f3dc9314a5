// Package worker implements the extraction execution loop: collect a batch
// of candidates, run it through the scheduler, publish successes, pause.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/newsloom/extractor/internal/extract"
	"github.com/newsloom/extractor/internal/metrics"
	"github.com/newsloom/extractor/internal/scheduler"
)

// Config controls Worker behavior.
type Config struct {
	// BatchSize caps how many candidates one cycle drains from the queue.
	BatchSize int
	// Topic is the downstream destination for extracted articles.
	Topic string
	// BlobPrefix prefixes article archive object paths.
	BlobPrefix string
	// ContentType is the archive object content type.
	ContentType string
}

// Scheduler is the batch engine the worker drives each cycle.
type Scheduler interface {
	RunBatch(ctx context.Context, candidates []extract.Candidate) (extract.BatchResult, []scheduler.Extracted, error)
	Pause(ctx context.Context, result extract.BatchResult) error
}

// Worker consumes candidates and executes the batch pipeline.
type Worker struct {
	queue     extract.CandidateQueue
	scheduler Scheduler
	publisher extract.Publisher
	blobStore extract.BlobStore
	hasher    extract.Hasher
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. The blob store and hasher are optional; without
// them article archiving is skipped.
func New(
	queue extract.CandidateQueue,
	sched Scheduler,
	publisher extract.Publisher,
	blobStore extract.BlobStore,
	hasher extract.Hasher,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Topic == "" {
		cfg.Topic = "extracted-articles"
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "articles"
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		scheduler: sched,
		publisher: publisher,
		blobStore: blobStore,
		hasher:    hasher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, processing batches until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		candidates, err := w.collectBatch(ctx)
		if err != nil {
			return
		}
		w.runOnce(ctx, candidates)
		if ctx.Err() != nil {
			return
		}
	}
}

// collectBatch blocks for the first candidate, then drains without blocking
// up to the batch size. An idle worker sleeps on the queue instead of
// spinning.
func (w *Worker) collectBatch(ctx context.Context) ([]extract.Candidate, error) {
	first, err := w.queue.Dequeue(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("worker stopped: %w", ctx.Err())
		}
		w.logger.Error("queue dequeue failed", zap.Error(err))
		return nil, err
	}
	candidates := []extract.Candidate{first}
	for len(candidates) < w.cfg.BatchSize {
		candidate, ok := w.queue.TryDequeue()
		if !ok {
			break
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

func (w *Worker) runOnce(ctx context.Context, candidates []extract.Candidate) {
	metrics.WorkerStarted()
	defer metrics.WorkerStopped()

	result, extracted, err := w.scheduler.RunBatch(ctx, candidates)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("batch run failed", zap.Error(err))
		return
	}

	for _, item := range extracted {
		w.publishArticle(ctx, item)
		w.archiveArticle(ctx, item)
	}

	w.logger.Info("batch complete",
		zap.Int("processed", result.Processed),
		zap.Int("skipped_domains", result.SkippedDomains),
		zap.Int("errors", result.Errors),
		zap.Int("unique_domains", result.UniqueDomains()),
	)
	// Individual URL failures are routine; a batch where everything failed
	// points at shared state or infrastructure and needs a human.
	if result.Processed > 0 && result.Errors == result.Processed {
		w.logger.Error("entire batch failed",
			zap.Int("processed", result.Processed),
			zap.Int("errors", result.Errors),
		)
	}

	if err := w.scheduler.Pause(ctx, result); err != nil {
		w.logger.Debug("batch pause interrupted", zap.Error(err))
	}
}

// publishArticle hands a success downstream. Failures are logged, never
// fatal; the article was still extracted.
func (w *Worker) publishArticle(ctx context.Context, item scheduler.Extracted) {
	if w.publisher == nil {
		return
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, item.Article)
	if err != nil {
		w.logger.Error("article publish failed",
			zap.String("url", item.Candidate.URL),
			zap.Error(err),
		)
		return
	}
	w.logger.Debug("article published",
		zap.String("url", item.Candidate.URL),
		zap.String("message_id", id),
	)
}

// archiveArticle writes a best-effort JSON snapshot of the article.
func (w *Worker) archiveArticle(ctx context.Context, item scheduler.Extracted) {
	if w.blobStore == nil || w.hasher == nil {
		return
	}
	digest, err := w.hasher.Hash([]byte(item.Candidate.URL))
	if err != nil {
		w.logger.Warn("article archive hash failed", zap.Error(err))
		return
	}
	payload, err := json.Marshal(item.Article)
	if err != nil {
		w.logger.Warn("article archive encode failed", zap.Error(err))
		return
	}
	path := fmt.Sprintf("%s/%s/%s.json", w.cfg.BlobPrefix, item.Candidate.Domain, digest)
	uri, err := w.blobStore.PutObject(ctx, path, w.cfg.ContentType, bytes.NewReader(payload))
	if err != nil {
		w.logger.Warn("article archive failed",
			zap.String("url", item.Candidate.URL),
			zap.Error(err),
		)
		return
	}
	w.logger.Debug("article archived", zap.String("uri", uri))
}
