package sensitivity

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	logmemory "github.com/newsloom/extractor/internal/eventlog/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, cfg Config) (*Store, *fakeClock, *logmemory.Log) {
	t.Helper()
	clock := newFakeClock()
	events := logmemory.NewLog()
	return NewStore(cfg, clock, events, zap.NewNop()), clock, events
}

func TestRecordDetection_FreshDomainCaptcha(t *testing.T) {
	t.Parallel()

	store, clock, events := newTestStore(t, Config{})

	// Scenario A: fresh domain starts at level 5; a CAPTCHA adds +3 and the
	// cooldown uses the 5-6 bucket multiplier (2x) of the level in effect
	// when the event arrived.
	snap := store.RecordDetection(context.Background(), "fresh.example", EventCaptchaDetected)
	require.Equal(t, 8, snap.Level)
	require.Equal(t, 1, snap.Encounters)
	require.NotNil(t, snap.CooldownUntil)
	require.Equal(t, clock.Now().Add(8*time.Hour), *snap.CooldownUntil)
	require.Equal(t, 1, events.CountForDomain("fresh.example"))
}

func TestRecordDetection_CapBelowCurrentLevel(t *testing.T) {
	t.Parallel()

	store, clock, _ := newTestStore(t, Config{})
	domain := "hot.example"

	// Drive the domain to level 9 via two captchas with the cooldown expired
	// in between (5 -> 8 -> capped handling below).
	store.RecordDetection(context.Background(), domain, EventCaptchaDetected)
	clock.Advance(100 * time.Hour)
	store.RecordDetection(context.Background(), domain, EventCaptchaDetected)
	snap, ok := store.Snapshot(domain)
	require.True(t, ok)
	require.Equal(t, 10, snap.Level)

	// Scenario B needs level 9: rebuild with a multiple_failures event whose
	// cap is 9.
	store2, clock2, _ := newTestStore(t, Config{})
	store2.RecordDetection(context.Background(), domain, EventCaptchaDetected) // 5 -> 8
	clock2.Advance(100 * time.Hour)
	store2.RecordDetection(context.Background(), domain, EventMultipleFailures) // 8 -> 9 (cap 9)
	snap, ok = store2.Snapshot(domain)
	require.True(t, ok)
	require.Equal(t, 9, snap.Level)

	// A forbidden_403 whose cap (8) sits below the current level applies no
	// increase, and the cooldown uses the 9-10 bucket's 8x multiplier.
	clock2.Advance(100 * time.Hour)
	before := clock2.Now()
	snap = store2.RecordDetection(context.Background(), domain, EventForbidden403)
	require.Equal(t, 9, snap.Level)
	require.NotNil(t, snap.CooldownUntil)
	require.Equal(t, before.Add(2*time.Hour*8), *snap.CooldownUntil)
}

func TestRecordDetection_InsideCooldownLogsButDoesNotEscalate(t *testing.T) {
	t.Parallel()

	store, _, events := newTestStore(t, Config{})
	domain := "burst.example"

	first := store.RecordDetection(context.Background(), domain, EventRateLimit429)
	require.Equal(t, 6, first.Level)
	require.NotNil(t, first.CooldownUntil)
	until := *first.CooldownUntil

	second := store.RecordDetection(context.Background(), domain, EventRateLimit429)
	require.Equal(t, 6, second.Level, "level must not move inside an active cooldown")
	require.Equal(t, 2, second.Encounters)
	require.NotNil(t, second.CooldownUntil)
	require.Equal(t, until, *second.CooldownUntil, "cooldown window must stay put")
	require.Equal(t, 2, events.CountForDomain(domain), "every instance is audited")
}

func TestRecordDetection_CooldownNeverShortened(t *testing.T) {
	t.Parallel()

	store, clock, _ := newTestStore(t, Config{})
	domain := "sticky.example"

	// Captcha at level 5: 4h base x2 = 8h window.
	snap := store.RecordDetection(context.Background(), domain, EventCaptchaDetected)
	longUntil := *snap.CooldownUntil

	// Once the window expires, a lower-severity timeout must not move
	// cooldown_until backwards even though its own window would be shorter.
	clock.Advance(9 * time.Hour)
	snap = store.RecordDetection(context.Background(), domain, EventConnectionTimeout)
	require.True(t, snap.CooldownUntil.After(longUntil))
}

func TestLevelStaysInBounds(t *testing.T) {
	t.Parallel()

	store, clock, _ := newTestStore(t, Config{
		Decay: DecayConfig{Enabled: true, SuccessStreak: 1, Window: time.Minute},
	})
	domain := "fuzz.example"
	types := []EventType{
		EventRateLimit429,
		EventForbidden403,
		EventCaptchaDetected,
		EventConnectionTimeout,
		EventMultipleFailures,
	}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		if rng.Intn(3) == 0 {
			store.RecordSuccess(domain)
		} else {
			store.RecordDetection(context.Background(), domain, types[rng.Intn(len(types))])
		}
		clock.Advance(time.Duration(rng.Intn(120)) * time.Minute)
		snap, ok := store.Snapshot(domain)
		require.True(t, ok)
		require.GreaterOrEqual(t, snap.Level, MinLevel)
		require.LessOrEqual(t, snap.Level, MaxLevel)
	}
}

func TestRecordSuccess_DecayRequiresSustainedWindow(t *testing.T) {
	t.Parallel()

	store, clock, _ := newTestStore(t, Config{
		Decay: DecayConfig{Enabled: true, SuccessStreak: 3, Window: time.Hour},
	})
	domain := "calm.example"

	store.RecordDetection(context.Background(), domain, EventForbidden403) // 5 -> 7
	snap, _ := store.Snapshot(domain)
	require.Equal(t, 7, snap.Level)

	// Successes inside the window keep the level.
	for i := 0; i < 5; i++ {
		snap = store.RecordSuccess(domain)
	}
	require.Equal(t, 7, snap.Level)

	// Outside the window, a fresh streak steps down exactly one level.
	clock.Advance(2 * time.Hour)
	for i := 0; i < 3; i++ {
		snap = store.RecordSuccess(domain)
	}
	require.Equal(t, 6, snap.Level)
}

func TestRecordSuccess_NoDecayByDefault(t *testing.T) {
	t.Parallel()

	store, clock, _ := newTestStore(t, Config{})
	domain := "steady.example"
	store.RecordDetection(context.Background(), domain, EventForbidden403)
	clock.Advance(48 * time.Hour)
	for i := 0; i < 100; i++ {
		store.RecordSuccess(domain)
	}
	snap, _ := store.Snapshot(domain)
	require.Equal(t, 7, snap.Level)
}

func TestCooldownActive(t *testing.T) {
	t.Parallel()

	store, clock, _ := newTestStore(t, Config{})
	domain := "cool.example"

	active, _ := store.CooldownActive(domain)
	require.False(t, active, "unknown domain has no cooldown")

	store.RecordDetection(context.Background(), domain, EventRateLimit429)
	active, until := store.CooldownActive(domain)
	require.True(t, active)
	require.Equal(t, clock.Now().Add(2*time.Hour), until)

	clock.Advance(3 * time.Hour)
	active, _ = store.CooldownActive(domain)
	require.False(t, active)
}

func TestPolicyFor_LazyCreationAtLevelFive(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t, Config{})
	policy := store.PolicyFor("new.example")
	require.Equal(t, DefaultPolicyTable()[InitialLevel-1], policy)

	snap, ok := store.Snapshot("new.example")
	require.True(t, ok)
	require.Equal(t, InitialLevel, snap.Level)
	require.Equal(t, 0, snap.Encounters)
}

func TestConcurrentDetections_SingleEscalation(t *testing.T) {
	t.Parallel()

	store, _, events := newTestStore(t, Config{})
	domain := "race.example"

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.RecordDetection(context.Background(), domain, EventForbidden403)
		}()
	}
	wg.Wait()

	snap, ok := store.Snapshot(domain)
	require.True(t, ok)
	require.Equal(t, 7, snap.Level, "racing workers must escalate exactly once")
	require.Equal(t, 16, snap.Encounters)
	require.Equal(t, 16, events.CountForDomain(domain))
}
