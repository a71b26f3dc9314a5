package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/newsloom/extractor/internal/extract"
)

func sampleEvent() Event {
	return Event{
		URL:              "https://news.example.com/story",
		Domain:           "news.example.com",
		MethodsAttempted: []extract.Method{extract.MethodStructured},
		SuccessfulMethod: extract.MethodStructured,
		HTTPStatus:       200,
		Outcome:          extract.OutcomeExtracted,
		Elapsed:          120 * time.Millisecond,
		TS:               time.Now().UTC(),
	}
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type faultySink struct {
	panics bool
	calls  int
	mu     sync.Mutex
}

func (s *faultySink) Consume(context.Context, []Event) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.panics {
		panic("sink exploded")
	}
	return errors.New("sink write failed")
}

func (s *faultySink) Close(context.Context) error { return nil }

func (s *faultySink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// TestHubBatchBySize verifies the hub flushes once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent())
	hub.Emit(sampleEvent())
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent())
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubFailingSinkDoesNotStopWriter asserts a sink that errors or panics
// on every batch never takes down the background writer; healthy sinks keep
// receiving events.
func TestHubFailingSinkDoesNotStopWriter(t *testing.T) {
	t.Parallel()

	faulty := &faultySink{panics: true}
	healthy := newStubSink()
	hub := NewHub(Config{
		BufferSize:     16,
		MaxBatchEvents: 1,
		MaxBatchWait:   10 * time.Millisecond,
	}, faulty, healthy)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	for i := 0; i < 5; i++ {
		hub.Emit(sampleEvent())
	}
	require.Eventually(t, func() bool {
		return len(healthy.Batches()) >= 5
	}, time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, faulty.Calls(), 5)
}

// TestHubEmitNeverBlocksWhenFull drops events instead of stalling the caller.
func TestHubEmitNeverBlocksWhenFull(t *testing.T) {
	t.Parallel()

	hub := NewHub(Config{
		BufferSize:     1,
		MaxBatchEvents: 1000,
		MaxBatchWait:   time.Minute,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.Emit(sampleEvent())
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked with a full buffer")
	}
	require.NoError(t, hub.Close(context.Background()))
}

// TestHubDiscardsInvalidEvents asserts events failing validation never reach sinks.
func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		MaxBatchEvents: 1,
		MaxBatchWait:   10 * time.Millisecond,
	}, sink)

	hub.Emit(Event{Domain: "missing-url.example.com"})
	hub.Emit(Event{URL: "https://x", Domain: "d", TS: time.Now(), Outcome: "bogus"})

	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

// TestHubCloseDrainsAndClosesSinks flushes buffered events before shutdown.
func TestHubCloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     32,
		MaxBatchEvents: 1000,
		MaxBatchWait:   time.Minute,
	}, sink)

	for i := 0; i < 7; i++ {
		hub.Emit(sampleEvent())
	}
	require.NoError(t, hub.Close(context.Background()))

	total := 0
	for _, batch := range sink.Batches() {
		total += len(batch)
	}
	require.Equal(t, 7, total)
	require.True(t, sink.Closed())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	valid := sampleEvent()
	require.NoError(t, valid.Validate())

	missingURL := valid
	missingURL.URL = ""
	require.Error(t, missingURL.Validate())

	missingDomain := valid
	missingDomain.Domain = ""
	require.Error(t, missingDomain.Validate())

	badOutcome := valid
	badOutcome.Outcome = "partial"
	require.Error(t, badOutcome.Validate())

	negativeElapsed := valid
	negativeElapsed.Elapsed = -time.Second
	require.Error(t, negativeElapsed.Validate())
}

func TestFromAttempt(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	attempt := extract.Attempt{
		URL:          "https://news.example.com/story",
		Domain:       "news.example.com",
		MethodsTried: []extract.Method{extract.MethodStructured, extract.MethodHeuristicDOM},
		FinalMethod:  extract.MethodHeuristicDOM,
		Outcome:      extract.OutcomeExtracted,
		HTTPStatus:   200,
		DetectedKind: "rate_limited",
		ProxyUsed:    true,
		Elapsed:      3 * time.Second,
	}

	evt := FromAttempt(attempt, ts)
	require.NoError(t, evt.Validate())
	require.Equal(t, attempt.URL, evt.URL)
	require.Equal(t, []extract.Method{extract.MethodStructured, extract.MethodHeuristicDOM}, evt.MethodsAttempted)
	require.Equal(t, extract.MethodHeuristicDOM, evt.SuccessfulMethod)
	require.Equal(t, "rate_limited", evt.ProtectionKind)
	require.True(t, evt.ProxyUsed)
	require.Equal(t, ts, evt.TS)
}
