package sensitivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newsloom/extractor/internal/eventlog"
	"github.com/newsloom/extractor/internal/extract"
)

// DomainSensitivity is the per-domain adaptive state. Snapshots returned by
// the store are copies; callers cannot mutate store state through them.
type DomainSensitivity struct {
	Domain          string
	Level           int
	Encounters      int
	LastDetectionAt *time.Time
	CooldownUntil   *time.Time
}

// DecayConfig controls the optional slow level decay. Decay is off unless
// Enabled is set; nothing downstream depends on it.
type DecayConfig struct {
	Enabled       bool
	SuccessStreak int
	Window        time.Duration
}

// Config assembles the store's tables and collaborators.
type Config struct {
	Profiles map[EventType]EventProfile
	Table    []Policy
	Decay    DecayConfig
}

// Store holds sensitivity state for all domains. It is the single shared
// mutable structure across workers; every read-adjust decision happens under
// one lock so two workers racing on the same underlying event cannot
// double-escalate (the first sets the cooldown, the second only logs).
type Store struct {
	mu       sync.Mutex
	domains  map[string]*domainState
	profiles map[EventType]EventProfile
	table    []Policy
	decay    DecayConfig
	clock    extract.Clock
	events   eventlog.Log
	logger   *zap.Logger
}

type domainState struct {
	DomainSensitivity
	successStreak int
}

// NewStore builds a Store. The event log is best-effort: append failures are
// logged and never surface to callers.
func NewStore(cfg Config, clock extract.Clock, events eventlog.Log, logger *zap.Logger) *Store {
	if cfg.Profiles == nil {
		cfg.Profiles = DefaultEventProfiles()
	}
	if len(cfg.Table) != MaxLevel {
		cfg.Table = DefaultPolicyTable()
	}
	if cfg.Decay.SuccessStreak <= 0 {
		cfg.Decay.SuccessStreak = 20
	}
	if cfg.Decay.Window <= 0 {
		cfg.Decay.Window = 6 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		domains:  make(map[string]*domainState),
		profiles: cfg.Profiles,
		table:    cfg.Table,
		decay:    cfg.Decay,
		clock:    clock,
		events:   events,
		logger:   logger,
	}
}

// PolicyFor returns the pacing policy for the domain's current level.
func (s *Store) PolicyFor(domain string) Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table[s.ensureLocked(domain).Level-1]
}

// CooldownActive reports whether the domain is inside an active cooldown
// window, and when that window ends.
func (s *Store) CooldownActive(domain string) (bool, time.Time) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.domains[domain]
	if !ok || d.CooldownUntil == nil {
		return false, time.Time{}
	}
	if now.Before(*d.CooldownUntil) {
		return true, *d.CooldownUntil
	}
	return false, time.Time{}
}

// RecordDetection registers one detected protection instance. Inside an
// active cooldown the event is logged and counted but the level and the
// cooldown window stay untouched; that is what stops a burst of same-type
// failures from escalating a domain straight to the ceiling. The cooldown
// multiplier uses the level in effect when the event arrived, and an existing
// window is never shortened.
func (s *Store) RecordDetection(ctx context.Context, domain string, eventType EventType) DomainSensitivity {
	now := s.clock.Now()

	s.mu.Lock()
	d := s.ensureLocked(domain)
	d.Encounters++
	d.successStreak = 0

	escalated := false
	if d.CooldownUntil == nil || !now.Before(*d.CooldownUntil) {
		profile, ok := s.profiles[eventType]
		if !ok {
			profile = EventProfile{Increase: 1, MaxCap: MaxLevel, BaseCooldown: time.Hour}
		}
		multiplier := CooldownMultiplier(d.Level)
		if d.Level < profile.MaxCap {
			d.Level = clampLevel(min(d.Level+profile.Increase, profile.MaxCap))
		}
		detectedAt := now
		d.LastDetectionAt = &detectedAt
		until := now.Add(profile.BaseCooldown * time.Duration(multiplier))
		if d.CooldownUntil == nil || until.After(*d.CooldownUntil) {
			d.CooldownUntil = &until
		}
		escalated = true
	}
	snapshot := d.snapshot()
	s.mu.Unlock()

	s.appendEvent(ctx, domain, eventType, now)
	s.logger.Debug("bot detection recorded",
		zap.String("domain", domain),
		zap.String("event_type", string(eventType)),
		zap.Int("level", snapshot.Level),
		zap.Bool("escalated", escalated),
	)
	return snapshot
}

// RecordSuccess resets the domain's failure streak accounting. It never
// lowers the level directly; with decay enabled, a sustained success streak
// outside the decay window steps the level down by one.
func (s *Store) RecordSuccess(domain string) DomainSensitivity {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.ensureLocked(domain)
	d.successStreak++
	if s.decay.Enabled && d.Level > MinLevel && d.successStreak >= s.decay.SuccessStreak {
		if d.LastDetectionAt == nil || now.Sub(*d.LastDetectionAt) >= s.decay.Window {
			d.Level--
			d.successStreak = 0
		}
	}
	return d.snapshot()
}

// Snapshot returns a copy of the domain's state, if any.
func (s *Store) Snapshot(domain string) (DomainSensitivity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.domains[domain]
	if !ok {
		return DomainSensitivity{}, false
	}
	return d.snapshot(), true
}

func (s *Store) ensureLocked(domain string) *domainState {
	d, ok := s.domains[domain]
	if !ok {
		d = &domainState{DomainSensitivity: DomainSensitivity{
			Domain: domain,
			Level:  InitialLevel,
		}}
		s.domains[domain] = d
	}
	return d
}

func (s *Store) appendEvent(ctx context.Context, domain string, eventType EventType, at time.Time) {
	if s.events == nil {
		return
	}
	err := s.events.Append(ctx, eventlog.Event{
		Domain:     domain,
		EventType:  string(eventType),
		DetectedAt: at,
	})
	if err != nil {
		s.logger.Warn("detection event append failed",
			zap.String("domain", domain),
			zap.Error(err),
		)
	}
}

func (d *domainState) snapshot() DomainSensitivity {
	out := d.DomainSensitivity
	if d.LastDetectionAt != nil {
		t := *d.LastDetectionAt
		out.LastDetectionAt = &t
	}
	if d.CooldownUntil != nil {
		t := *d.CooldownUntil
		out.CooldownUntil = &t
	}
	return out
}
