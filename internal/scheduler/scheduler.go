package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newsloom/extractor/internal/extract"
	"github.com/newsloom/extractor/internal/metrics"
	"github.com/newsloom/extractor/internal/sensitivity"
	"github.com/newsloom/extractor/internal/telemetry"
)

// Runner resolves one candidate URL; the cascade satisfies this.
type Runner interface {
	Run(ctx context.Context, candidate extract.Candidate) (extract.Attempt, *extract.Article, error)
}

// DomainPacer blocks until the next request slot for a domain.
type DomainPacer interface {
	Wait(ctx context.Context, domain string) error
}

// Config controls batch selection and pacing.
type Config struct {
	BatchSize int
	Pause     PauseConfig
}

// Scheduler drives one worker's batch cycle: select, skip cooled-down
// domains, pace, run the cascade, and pick the next pause.
type Scheduler struct {
	store   *sensitivity.Store
	runner  Runner
	pacer   DomainPacer
	emitter telemetry.Emitter
	clock   extract.Clock
	logger  *zap.Logger
	cfg     Config

	// rng backs the long-pause jitter; one Scheduler serves every worker,
	// so draws must be serialized.
	rngMu sync.Mutex
	rng   *rand.Rand
}

// New builds a Scheduler. A nil pacer disables inter-request delays and a
// nil emitter disables telemetry; both are test conveniences, production
// wiring always provides them.
func New(
	store *sensitivity.Store,
	runner Runner,
	pacer DomainPacer,
	emitter telemetry.Emitter,
	cfg Config,
	clock extract.Clock,
	logger *zap.Logger,
) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	cfg.Pause = cfg.Pause.withDefaults()
	if emitter == nil {
		emitter = telemetry.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:   store,
		runner:  runner,
		pacer:   pacer,
		emitter: emitter,
		clock:   clock,
		logger:  logger,
		rng:     rand.New(rand.NewSource(clock.Now().UnixNano())),
		cfg:     cfg,
	}
}

// Extracted pairs a successful article with its source candidate.
type Extracted struct {
	Candidate extract.Candidate
	Article   *extract.Article
}

// RunBatch processes up to BatchSize candidates and returns the batch
// counters plus every successful extraction. The cooldown check here is the
// only scheduler-layer gate: a cooled-down domain's URLs are skipped without
// invoking the cascade at all. No single URL failure fails the batch; the
// returned error is reserved for context cancellation.
func (s *Scheduler) RunBatch(ctx context.Context, candidates []extract.Candidate) (extract.BatchResult, []Extracted, error) {
	batch := SelectBatch(candidates, s.cfg.BatchSize)
	result := extract.BatchResult{DomainsProcessed: make(map[string]int)}

	var extracted []Extracted
	skipped := make(map[string]bool)
	lastDomain := ""
	streak := 0

	for _, candidate := range batch {
		if err := ctx.Err(); err != nil {
			return result, extracted, fmt.Errorf("batch canceled: %w", err)
		}

		if active, until := s.store.CooldownActive(candidate.Domain); active {
			if !skipped[candidate.Domain] {
				skipped[candidate.Domain] = true
				result.SkippedDomains++
			}
			s.logger.Debug("domain in cooldown, skipping url",
				zap.String("domain", candidate.Domain),
				zap.String("url", candidate.URL),
				zap.Time("cooldown_until", until),
			)
			continue
		}

		if s.pacer != nil {
			if err := s.pacer.Wait(ctx, candidate.Domain); err != nil {
				return result, extracted, err
			}
		}

		attempt, article, err := s.runner.Run(ctx, candidate)
		s.emitter.Emit(telemetry.FromAttempt(attempt, s.clock.Now()))

		result.Processed++
		result.DomainsProcessed[candidate.Domain]++
		if candidate.Domain == lastDomain {
			streak++
		} else {
			lastDomain = candidate.Domain
			streak = 1
		}
		if streak > result.SameDomainConsecutive {
			result.SameDomainConsecutive = streak
		}

		switch {
		case err == nil:
			extracted = append(extracted, Extracted{Candidate: candidate, Article: article})
		case extract.IsNotFound(err):
			// Resolved dead, not a batch error.
			s.logger.Debug("url permanently gone", zap.String("url", candidate.URL))
		case extract.IsRateLimited(err):
			// The URL stays eligible once the cooldown expires.
			s.logger.Debug("domain rate limited mid-batch", zap.String("domain", candidate.Domain))
		default:
			result.Errors++
			s.logger.Warn("extraction failed",
				zap.String("url", candidate.URL),
				zap.String("domain", candidate.Domain),
				zap.Error(err),
			)
		}
	}
	return result, extracted, nil
}

// NextPause picks the pause to apply after the given batch result. The
// short pause is floored by the hottest processed domain's policy batch
// pause, so a batch that touched a sensitive domain does not resume on the
// default cadence.
func (s *Scheduler) NextPause(result extract.BatchResult) time.Duration {
	s.rngMu.Lock()
	pause := NextPause(result, s.cfg.Pause, s.rng)
	s.rngMu.Unlock()

	if !LongPauseRequired(result, s.cfg.Pause.RotationThreshold) {
		for domain := range result.DomainsProcessed {
			if batchPause := s.store.PolicyFor(domain).BatchPause; batchPause > pause {
				pause = batchPause
			}
		}
	}
	return pause
}

// Pause blocks for the batch's computed pause, returning early on
// cancellation.
func (s *Scheduler) Pause(ctx context.Context, result extract.BatchResult) error {
	pause := s.NextPause(result)
	metrics.ObserveBatch(LongPauseRequired(result, s.cfg.Pause.RotationThreshold), pause, result.SkippedDomains)
	s.logger.Debug("batch pause",
		zap.Duration("pause", pause),
		zap.Int("unique_domains", result.UniqueDomains()),
		zap.Int("skipped_domains", result.SkippedDomains),
		zap.Int("same_domain_consecutive", result.SameDomainConsecutive),
	)
	timer := time.NewTimer(pause)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("batch pause canceled: %w", ctx.Err())
	}
}
