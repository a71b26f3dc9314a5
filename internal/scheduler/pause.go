package scheduler

import (
	"math/rand"
	"time"

	"github.com/newsloom/extractor/internal/extract"
)

// PauseConfig controls the end-of-batch pacing decision.
type PauseConfig struct {
	// Short is the pause between batches during ordinary multi-domain work,
	// including cycles where other domains exist but are cooling down.
	Short time.Duration
	// Long is the base pause applied when the workload genuinely has only
	// one domain, or when rotation failed to break up a same-domain run.
	Long time.Duration
	// JitterFraction widens the long pause by up to this fraction either way.
	JitterFraction float64
	// RotationThreshold is the same-domain consecutive run length that
	// forces the long pause even in a multi-domain batch.
	RotationThreshold int
}

func (c PauseConfig) withDefaults() PauseConfig {
	if c.Short <= 0 {
		c.Short = 5 * time.Second
	}
	if c.Long <= 0 {
		c.Long = 3 * time.Minute
	}
	if c.JitterFraction <= 0 {
		c.JitterFraction = 0.25
	}
	if c.RotationThreshold <= 0 {
		c.RotationThreshold = 5
	}
	return c
}

// LongPauseRequired decides which pause class a finished batch earns. The
// long pause is only for a genuinely single-domain workload or a rotation
// breakdown. One unique domain plus cooled-down skips means other domains
// exist and will come back, so stalling for minutes there would be wasted
// time; that case takes the short pause.
func LongPauseRequired(result extract.BatchResult, rotationThreshold int) bool {
	if result.IsSingleDomainDataset() {
		return true
	}
	return result.SameDomainConsecutive > rotationThreshold
}

// NextPause returns the concrete pause duration for a finished batch. The
// long pause is jittered so workers restarted together do not hammer a
// single-domain dataset in lockstep.
func NextPause(result extract.BatchResult, cfg PauseConfig, rng *rand.Rand) time.Duration {
	cfg = cfg.withDefaults()
	if !LongPauseRequired(result, cfg.RotationThreshold) {
		return cfg.Short
	}
	jitter := time.Duration(0)
	if rng != nil {
		span := float64(cfg.Long) * cfg.JitterFraction
		jitter = time.Duration((rng.Float64()*2 - 1) * span)
	}
	return cfg.Long + jitter
}
