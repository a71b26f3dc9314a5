package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/newsloom/extractor/internal/extract"
	"github.com/newsloom/extractor/internal/hash/sha256"
	pubmem "github.com/newsloom/extractor/internal/publisher/memory"
	queuemem "github.com/newsloom/extractor/internal/queue/memory"
	"github.com/newsloom/extractor/internal/scheduler"
	storemem "github.com/newsloom/extractor/internal/storage/memory"
)

type fakeScheduler struct {
	mu      sync.Mutex
	batches [][]extract.Candidate
	pauses  []extract.BatchResult
	result  extract.BatchResult
	runErr  error
}

func (f *fakeScheduler) RunBatch(_ context.Context, candidates []extract.Candidate) (extract.BatchResult, []scheduler.Extracted, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, candidates)
	if f.runErr != nil {
		return extract.BatchResult{}, nil, f.runErr
	}
	var extracted []scheduler.Extracted
	for _, c := range candidates {
		extracted = append(extracted, scheduler.Extracted{
			Candidate: c,
			Article: &extract.Article{
				URL:      c.URL,
				Title:    "Title",
				BodyText: "Body",
				Method:   extract.MethodStructured,
			},
		})
	}
	result := f.result
	if result.DomainsProcessed == nil {
		result = extract.BatchResult{
			Processed:        len(candidates),
			DomainsProcessed: map[string]int{"a.example": len(candidates)},
		}
	}
	return result, extracted, nil
}

func (f *fakeScheduler) Pause(_ context.Context, result extract.BatchResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses = append(f.pauses, result)
	return nil
}

func (f *fakeScheduler) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeScheduler) pauseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pauses)
}

func candidate(url string) extract.Candidate {
	return extract.Candidate{URL: url, Domain: "a.example", SourceID: "s1"}
}

func TestRun_DrainsQueueIntoOneBatch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := queuemem.NewQueue(16)
	for i := 0; i < 5; i++ {
		require.NoError(t, queue.Enqueue(ctx, candidate("https://a.example/"+string(rune('a'+i)))))
	}

	sched := &fakeScheduler{}
	publisher := pubmem.New()
	blobs := storemem.NewBlobStore()
	w := New(queue, sched, publisher, blobs, sha256.New(), Config{BatchSize: 10, Topic: "articles"}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return sched.batchCount() >= 1 && sched.pauseCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	sched.mu.Lock()
	first := sched.batches[0]
	sched.mu.Unlock()
	require.Len(t, first, 5, "first batch should drain all queued candidates")
}

func TestRun_PublishesAndArchivesExtracted(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := queuemem.NewQueue(4)
	require.NoError(t, queue.Enqueue(ctx, candidate("https://a.example/story")))

	sched := &fakeScheduler{}
	publisher := pubmem.New()
	blobs := storemem.NewBlobStore()
	hasher := sha256.New()
	w := New(queue, sched, publisher, blobs, hasher, Config{BatchSize: 4, Topic: "articles", BlobPrefix: "articles"}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(publisher.Records()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	records := publisher.Records()
	require.Equal(t, "articles", records[0].Topic)
	articles := publisher.Articles()
	require.Len(t, articles, 1)
	require.Equal(t, "https://a.example/story", articles[0].URL)

	digest, err := hasher.Hash([]byte("https://a.example/story"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := blobs.Object("articles/a.example/" + digest + ".json")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRun_SchedulerErrorDoesNotStopWorker(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := queuemem.NewQueue(4)
	require.NoError(t, queue.Enqueue(ctx, candidate("https://a.example/one")))
	require.NoError(t, queue.Enqueue(ctx, candidate("https://a.example/two")))

	sched := &fakeScheduler{runErr: errors.New("boom")}
	w := New(queue, sched, pubmem.New(), nil, nil, Config{BatchSize: 1}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return sched.batchCount() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRun_StopsWhenContextCanceledWhileIdle(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	queue := queuemem.NewQueue(1)
	w := New(queue, &fakeScheduler{}, nil, nil, nil, Config{}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on idle cancel")
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	t.Parallel()

	w := New(queuemem.NewQueue(1), &fakeScheduler{}, nil, nil, nil, Config{}, nil)
	require.Equal(t, 20, w.cfg.BatchSize)
	require.Equal(t, "extracted-articles", w.cfg.Topic)
	require.Equal(t, "articles", w.cfg.BlobPrefix)
	require.Equal(t, "application/json", w.cfg.ContentType)
}
