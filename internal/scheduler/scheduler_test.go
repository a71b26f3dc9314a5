package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	logmemory "github.com/newsloom/extractor/internal/eventlog/memory"
	"github.com/newsloom/extractor/internal/extract"
	"github.com/newsloom/extractor/internal/sensitivity"
	"github.com/newsloom/extractor/internal/telemetry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type fakeRunner struct {
	mu       sync.Mutex
	calls    []extract.Candidate
	failFor  map[string]error
	articles map[string]*extract.Article
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		failFor:  make(map[string]error),
		articles: make(map[string]*extract.Article),
	}
}

func (r *fakeRunner) Run(_ context.Context, candidate extract.Candidate) (extract.Attempt, *extract.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, candidate)

	attempt := extract.Attempt{
		URL:          candidate.URL,
		Domain:       candidate.Domain,
		MethodsTried: []extract.Method{extract.MethodStructured},
	}
	if err, ok := r.failFor[candidate.URL]; ok {
		attempt.Outcome = extract.OutcomeFailed
		return attempt, nil, err
	}
	attempt.Outcome = extract.OutcomeExtracted
	attempt.FinalMethod = extract.MethodStructured
	article := r.articles[candidate.URL]
	if article == nil {
		article = &extract.Article{URL: candidate.URL, Title: "t", BodyText: "b"}
	}
	return attempt, article, nil
}

func (r *fakeRunner) CalledDomains() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.Domain)
	}
	return out
}

type captureEmitter struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (e *captureEmitter) Emit(evt telemetry.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *captureEmitter) Events() []telemetry.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]telemetry.Event(nil), e.events...)
}

func newTestScheduler(t *testing.T, runner Runner, cfg Config) (*Scheduler, *sensitivity.Store, *captureEmitter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	store := sensitivity.NewStore(sensitivity.Config{}, clock, logmemory.NewLog(), zap.NewNop())
	emitter := &captureEmitter{}
	s := New(store, runner, nil, emitter, cfg, clock, zap.NewNop())
	return s, store, emitter, clock
}

func urls(domain string, n int) []extract.Candidate {
	out := make([]extract.Candidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, extract.Candidate{
			URL:    fmt.Sprintf("https://%s/story-%d", domain, i),
			Domain: domain,
		})
	}
	return out
}

func TestSelectBatch_RoundRobinInterleave(t *testing.T) {
	t.Parallel()

	candidates := append(urls("a.example", 3), urls("b.example", 2)...)
	candidates = append(candidates, urls("c.example", 1)...)

	batch := SelectBatch(candidates, 6)
	domains := make([]string, 0, len(batch))
	for _, c := range batch {
		domains = append(domains, c.Domain)
	}
	require.Equal(t, []string{"a.example", "b.example", "c.example", "a.example", "b.example", "a.example"}, domains)
}

func TestSelectBatch_PreservesPerDomainOrder(t *testing.T) {
	t.Parallel()

	batch := SelectBatch(append(urls("a.example", 3), urls("b.example", 3)...), 4)
	require.Equal(t, "https://a.example/story-0", batch[0].URL)
	require.Equal(t, "https://b.example/story-0", batch[1].URL)
	require.Equal(t, "https://a.example/story-1", batch[2].URL)
	require.Equal(t, "https://b.example/story-1", batch[3].URL)
}

func TestSelectBatch_SizeLimits(t *testing.T) {
	t.Parallel()

	candidates := urls("a.example", 3)
	require.Len(t, SelectBatch(candidates, 2), 2)
	require.Len(t, SelectBatch(candidates, 10), 3)
	require.Nil(t, SelectBatch(candidates, 0))
	require.Nil(t, SelectBatch(nil, 5))
}

// TestRunBatch_SkipsCooledDownDomains is the three-domain scenario: two
// domains sit in active cooldown, their URLs are skipped without invoking
// the cascade, and the batch earns the short pause.
func TestRunBatch_SkipsCooledDownDomains(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	s, store, emitter, _ := newTestScheduler(t, runner, Config{BatchSize: 10})

	store.RecordDetection(context.Background(), "b.example", sensitivity.EventCaptchaDetected)
	store.RecordDetection(context.Background(), "c.example", sensitivity.EventCaptchaDetected)

	candidates := append(urls("a.example", 4), urls("b.example", 3)...)
	candidates = append(candidates, urls("c.example", 3)...)

	result, extracted, err := s.RunBatch(context.Background(), candidates)
	require.NoError(t, err)
	require.Equal(t, 4, result.Processed)
	require.Equal(t, 2, result.SkippedDomains)
	require.Equal(t, 0, result.Errors)
	require.Len(t, extracted, 4)

	for _, domain := range runner.CalledDomains() {
		require.Equal(t, "a.example", domain, "cooled-down domains must never reach the cascade")
	}

	require.Equal(t, 1, result.UniqueDomains())
	require.False(t, result.IsSingleDomainDataset(), "skips mean other domains exist")
	require.False(t, LongPauseRequired(result, 5))
	require.Equal(t, 4, len(emitter.Events()))
}

func TestRunBatch_CountsErrorsWithoutFailingBatch(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	runner.failFor["https://a.example/story-1"] = &extract.ExtractionError{
		Method: extract.MethodStructured,
		URL:    "https://a.example/story-1",
		Err:    fmt.Errorf("parse exploded"),
	}
	s, _, _, _ := newTestScheduler(t, runner, Config{BatchSize: 10})

	result, extracted, err := s.RunBatch(context.Background(), urls("a.example", 3))
	require.NoError(t, err)
	require.Equal(t, 3, result.Processed)
	require.Equal(t, 1, result.Errors)
	require.Len(t, extracted, 2)
}

func TestRunBatch_NotFoundAndRateLimitedAreNotErrors(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	runner.failFor["https://a.example/story-0"] = &extract.NotFoundError{URL: "https://a.example/story-0", StatusCode: 410}
	runner.failFor["https://a.example/story-1"] = &extract.RateLimitedError{Domain: "a.example", Kind: "captcha"}
	s, _, _, _ := newTestScheduler(t, runner, Config{BatchSize: 10})

	result, extracted, err := s.RunBatch(context.Background(), urls("a.example", 3))
	require.NoError(t, err)
	require.Equal(t, 3, result.Processed)
	require.Equal(t, 0, result.Errors)
	require.Len(t, extracted, 1)
}

func TestRunBatch_TracksSameDomainStreak(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	s, _, _, _ := newTestScheduler(t, runner, Config{BatchSize: 10})

	// Single-domain workload: rotation cannot break the streak.
	result, _, err := s.RunBatch(context.Background(), urls("a.example", 6))
	require.NoError(t, err)
	require.Equal(t, 6, result.SameDomainConsecutive)
	require.True(t, result.IsSingleDomainDataset())

	// Rotated workload keeps the streak at one.
	runner2 := newFakeRunner()
	s2, _, _, _ := newTestScheduler(t, runner2, Config{BatchSize: 10})
	result, _, err = s2.RunBatch(context.Background(), append(urls("a.example", 3), urls("b.example", 3)...))
	require.NoError(t, err)
	require.Equal(t, 1, result.SameDomainConsecutive)
}

func TestRunBatch_CanceledContext(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	s, _, _, _ := newTestScheduler(t, runner, Config{BatchSize: 10})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := s.RunBatch(ctx, urls("a.example", 3))
	require.Error(t, err)
	require.Empty(t, runner.CalledDomains())
}

func TestLongPauseRequired_PauseMatrix(t *testing.T) {
	t.Parallel()

	oneDomain := map[string]int{"a.example": 7}

	// One unique domain with zero skips: the dataset genuinely has one domain.
	require.True(t, LongPauseRequired(extract.BatchResult{
		Processed:        7,
		DomainsProcessed: oneDomain,
	}, 5))

	// One unique domain but seven skipped: the rest are merely cooling down.
	require.False(t, LongPauseRequired(extract.BatchResult{
		Processed:        7,
		SkippedDomains:   7,
		DomainsProcessed: oneDomain,
	}, 5))

	// Multi-domain batch that failed to rotate trips the threshold.
	require.True(t, LongPauseRequired(extract.BatchResult{
		Processed:             10,
		DomainsProcessed:      map[string]int{"a.example": 8, "b.example": 2},
		SameDomainConsecutive: 6,
	}, 5))

	// Healthy rotated batch.
	require.False(t, LongPauseRequired(extract.BatchResult{
		Processed:             10,
		DomainsProcessed:      map[string]int{"a.example": 5, "b.example": 5},
		SameDomainConsecutive: 2,
	}, 5))
}

func TestNextPause_ShortAndJitteredLong(t *testing.T) {
	t.Parallel()

	cfg := PauseConfig{Short: 2 * time.Second, Long: time.Minute, JitterFraction: 0.25, RotationThreshold: 5}
	rng := rand.New(rand.NewSource(1))

	short := NextPause(extract.BatchResult{
		SkippedDomains:   3,
		DomainsProcessed: map[string]int{"a.example": 1},
	}, cfg, rng)
	require.Equal(t, 2*time.Second, short)

	for i := 0; i < 50; i++ {
		long := NextPause(extract.BatchResult{
			DomainsProcessed: map[string]int{"a.example": 1},
		}, cfg, rng)
		require.GreaterOrEqual(t, long, 45*time.Second)
		require.LessOrEqual(t, long, 75*time.Second)
	}
}

// TestNextPause_ConcurrentDrawsAreSafe exercises the jitter path from many
// goroutines; every worker shares one Scheduler, so concurrent draws must
// stay serialized and in range. Run with the race detector.
func TestNextPause_ConcurrentDrawsAreSafe(t *testing.T) {
	t.Parallel()

	s, _, _, _ := newTestScheduler(t, newFakeRunner(), Config{
		BatchSize: 10,
		Pause:     PauseConfig{Short: time.Second, Long: time.Minute, JitterFraction: 0.25, RotationThreshold: 5},
	})
	singleDomain := extract.BatchResult{
		Processed:        4,
		DomainsProcessed: map[string]int{"a.example": 4},
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				pause := s.NextPause(singleDomain)
				if pause < 45*time.Second || pause > 75*time.Second {
					t.Errorf("jittered long pause out of range: %v", pause)
				}
			}
		}()
	}
	wg.Wait()
}

func TestNextPause_FloorsShortPauseAtDomainBatchPause(t *testing.T) {
	t.Parallel()

	s, store, _, _ := newTestScheduler(t, newFakeRunner(), Config{
		BatchSize: 10,
		Pause:     PauseConfig{Short: time.Second, Long: 10 * time.Minute, JitterFraction: 0.25, RotationThreshold: 5},
	})

	rotated := extract.BatchResult{
		Processed:             4,
		DomainsProcessed:      map[string]int{"a.example": 2, "b.example": 2},
		SameDomainConsecutive: 1,
	}

	// Fresh domains sit at the initial level; that row's batch pause
	// outranks a shorter configured pause.
	initial := sensitivity.DefaultPolicyTable()[sensitivity.InitialLevel-1].BatchPause
	require.Equal(t, initial, s.NextPause(rotated))

	// Escalating one processed domain raises the floor to its new row.
	store.RecordDetection(context.Background(), "b.example", sensitivity.EventCaptchaDetected)
	escalated := sensitivity.DefaultPolicyTable()[7].BatchPause
	require.Equal(t, escalated, s.NextPause(rotated))
}

func TestPacer_DelaysDeriveFromSensitivityLevel(t *testing.T) {
	t.Parallel()

	low := sensitivity.DefaultPolicyTable()[0]
	high := sensitivity.DefaultPolicyTable()[9]
	require.Greater(t, float64(limitFor(low)), float64(limitFor(high)),
		"higher sensitivity must mean a lower request rate")
}

func TestPacer_FirstRequestIsImmediate(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	store := sensitivity.NewStore(sensitivity.Config{}, clock, logmemory.NewLog(), zap.NewNop())
	pacer := NewPacer(store)

	start := time.Now()
	require.NoError(t, pacer.Wait(context.Background(), "a.example"))
	require.Less(t, time.Since(start), 500*time.Millisecond,
		"burst of one means the first request never waits")
}

func TestPacer_SecondRequestHonorsContext(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	store := sensitivity.NewStore(sensitivity.Config{}, clock, logmemory.NewLog(), zap.NewNop())
	pacer := NewPacer(store)

	require.NoError(t, pacer.Wait(context.Background(), "a.example"))

	// Level 5 paces in seconds; a short deadline must abort the wait.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, pacer.Wait(ctx, "a.example"))
}
