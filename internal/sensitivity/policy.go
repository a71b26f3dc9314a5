// Package sensitivity tracks a per-domain caution level (1-10) and derives
// pacing and cooldown policy from it.
package sensitivity

import "time"

// Level bounds. Domains are created lazily at InitialLevel.
const (
	MinLevel     = 1
	MaxLevel     = 10
	InitialLevel = 5
)

// EventType labels one class of bot-detection event.
type EventType string

// Recorded event types.
const (
	EventRateLimit429      EventType = "rate_limit_429"
	EventForbidden403      EventType = "forbidden_403"
	EventCaptchaDetected   EventType = "captcha_detected"
	EventConnectionTimeout EventType = "connection_timeout"
	EventMultipleFailures  EventType = "multiple_failures"
)

// EventProfile controls how one event type escalates a domain. MaxCap differs
// per type: a rate-limit event alone cannot push a domain as high as a CAPTCHA
// can.
type EventProfile struct {
	Increase     int
	MaxCap       int
	BaseCooldown time.Duration
}

// DefaultEventProfiles returns the escalation table keyed by event type.
func DefaultEventProfiles() map[EventType]EventProfile {
	return map[EventType]EventProfile{
		EventRateLimit429:      {Increase: 1, MaxCap: 7, BaseCooldown: time.Hour},
		EventForbidden403:      {Increase: 2, MaxCap: 8, BaseCooldown: 2 * time.Hour},
		EventCaptchaDetected:   {Increase: 3, MaxCap: 10, BaseCooldown: 4 * time.Hour},
		EventConnectionTimeout: {Increase: 1, MaxCap: 6, BaseCooldown: 30 * time.Minute},
		EventMultipleFailures:  {Increase: 2, MaxCap: 9, BaseCooldown: 3 * time.Hour},
	}
}

// Policy is the pacing derived from a sensitivity level.
type Policy struct {
	DelayMin   time.Duration
	DelayMax   time.Duration
	BatchPause time.Duration
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// DefaultPolicyTable returns the 10-row level->policy table. Delay and
// backoff grow super-linearly: level 1 is sub-second, level 10 paces in tens
// of seconds and backs off for hours.
func DefaultPolicyTable() []Policy {
	return []Policy{
		{DelayMin: 200 * time.Millisecond, DelayMax: 700 * time.Millisecond, BatchPause: 2 * time.Second, BackoffMin: 30 * time.Second, BackoffMax: 2 * time.Minute},
		{DelayMin: 500 * time.Millisecond, DelayMax: 1500 * time.Millisecond, BatchPause: 3 * time.Second, BackoffMin: time.Minute, BackoffMax: 5 * time.Minute},
		{DelayMin: 1 * time.Second, DelayMax: 2 * time.Second, BatchPause: 5 * time.Second, BackoffMin: 2 * time.Minute, BackoffMax: 10 * time.Minute},
		{DelayMin: 2 * time.Second, DelayMax: 4 * time.Second, BatchPause: 8 * time.Second, BackoffMin: 5 * time.Minute, BackoffMax: 20 * time.Minute},
		{DelayMin: 3 * time.Second, DelayMax: 6 * time.Second, BatchPause: 12 * time.Second, BackoffMin: 10 * time.Minute, BackoffMax: 40 * time.Minute},
		{DelayMin: 5 * time.Second, DelayMax: 9 * time.Second, BatchPause: 18 * time.Second, BackoffMin: 20 * time.Minute, BackoffMax: time.Hour},
		{DelayMin: 8 * time.Second, DelayMax: 14 * time.Second, BatchPause: 30 * time.Second, BackoffMin: 40 * time.Minute, BackoffMax: 2 * time.Hour},
		{DelayMin: 12 * time.Second, DelayMax: 20 * time.Second, BatchPause: 45 * time.Second, BackoffMin: time.Hour, BackoffMax: 3 * time.Hour},
		{DelayMin: 18 * time.Second, DelayMax: 30 * time.Second, BatchPause: 70 * time.Second, BackoffMin: 2 * time.Hour, BackoffMax: 5 * time.Hour},
		{DelayMin: 25 * time.Second, DelayMax: 45 * time.Second, BatchPause: 100 * time.Second, BackoffMin: 3 * time.Hour, BackoffMax: 8 * time.Hour},
	}
}

// cooldownBuckets is the step function mapping a level to its cooldown
// multiplier. Kept as data so monotonicity is trivial to property-test.
var cooldownBuckets = []struct {
	maxLevel   int
	multiplier int
}{
	{4, 1},
	{6, 2},
	{8, 4},
	{10, 8},
}

// CooldownMultiplier returns the step multiplier for a level. The same event
// type costs far more cooldown at high sensitivity than at low.
func CooldownMultiplier(level int) int {
	for _, bucket := range cooldownBuckets {
		if level <= bucket.maxLevel {
			return bucket.multiplier
		}
	}
	return cooldownBuckets[len(cooldownBuckets)-1].multiplier
}

func clampLevel(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}
