// Package pubsub implements a candidate queue backed by Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/newsloom/extractor/internal/extract"
)

// Config captures the parameters for the candidate subscription.
type Config struct {
	ProjectID      string
	SubscriptionID string
	// Buffer is the local channel capacity between the receive callback and
	// Dequeue callers.
	Buffer int
}

// Queue receives candidate messages from a Pub/Sub subscription and exposes
// them through the extract.CandidateQueue interface. Messages that fail to
// decode are acked and dropped; redelivering malformed JSON forever helps
// nobody.
type Queue struct {
	client     *pubsub.Client
	sub        *pubsub.Subscription
	candidates chan extract.Candidate
	logger     *zap.Logger

	cancel  context.CancelFunc
	started sync.Once
	done    chan struct{}
	recvErr error
}

// NewQueue creates a Pub/Sub client and wires the subscription.
func NewQueue(ctx context.Context, cfg Config, logger *zap.Logger) (*Queue, error) {
	if cfg.ProjectID == "" || cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("pubsub project id and subscription id are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		client:     client,
		sub:        client.Subscription(cfg.SubscriptionID),
		candidates: make(chan extract.Candidate, cfg.Buffer),
		logger:     logger,
		done:       make(chan struct{}),
	}, nil
}

// Start begins receiving in the background. It is idempotent.
func (q *Queue) Start(ctx context.Context) {
	q.started.Do(func() {
		recvCtx, cancel := context.WithCancel(ctx)
		q.cancel = cancel
		go func() {
			defer close(q.done)
			q.recvErr = q.sub.Receive(recvCtx, q.handle)
		}()
	})
}

func (q *Queue) handle(ctx context.Context, msg *pubsub.Message) {
	var candidate extract.Candidate
	if err := json.Unmarshal(msg.Data, &candidate); err != nil {
		q.logger.Warn("dropping malformed candidate message", zap.Error(err))
		msg.Ack()
		return
	}
	if candidate.URL == "" || candidate.Domain == "" {
		q.logger.Warn("dropping incomplete candidate message",
			zap.String("url", candidate.URL),
			zap.String("domain", candidate.Domain),
		)
		msg.Ack()
		return
	}
	select {
	case q.candidates <- candidate:
		msg.Ack()
	case <-ctx.Done():
		msg.Nack()
	}
}

// Dequeue blocks for the next candidate, respecting ctx.
func (q *Queue) Dequeue(ctx context.Context) (extract.Candidate, error) {
	select {
	case <-ctx.Done():
		return extract.Candidate{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case candidate := <-q.candidates:
		return candidate, nil
	}
}

// TryDequeue returns immediately; ok is false when no candidate is buffered.
func (q *Queue) TryDequeue() (extract.Candidate, bool) {
	select {
	case candidate := <-q.candidates:
		return candidate, true
	default:
		return extract.Candidate{}, false
	}
}

// Close stops receiving and closes the client.
func (q *Queue) Close() error {
	if q.cancel != nil {
		q.cancel()
		<-q.done
	}
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return q.recvErr
}
