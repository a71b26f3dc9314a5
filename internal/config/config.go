// Package config loads and validates extractor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/newsloom/extractor/internal/sensitivity"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Batch       BatchConfig       `mapstructure:"batch"`
	Detector    DetectorConfig    `mapstructure:"detector"`
	Sensitivity SensitivityConfig `mapstructure:"sensitivity"`
	Methods     MethodsConfig     `mapstructure:"methods"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Publisher   PublisherConfig   `mapstructure:"publisher"`
	Storage     StorageConfig     `mapstructure:"storage"`
	DB          DBConfig          `mapstructure:"db"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// BatchConfig governs batch selection and end-of-batch pacing.
type BatchConfig struct {
	Workers            int `mapstructure:"workers"`
	Size               int `mapstructure:"size"`
	RotationThreshold  int `mapstructure:"rotation_threshold"`
	ShortPauseSeconds  int `mapstructure:"short_pause_seconds"`
	LongPauseSeconds   int `mapstructure:"long_pause_seconds"`
	PauseJitterPercent int `mapstructure:"pause_jitter_percent"`
}

// DetectorConfig tunes bot-protection classification. The signature lists
// and byte threshold are heuristics prone to false positives on short wire
// briefs, so they stay configurable rather than hardcoded.
type DetectorConfig struct {
	MinBodyBytes        int      `mapstructure:"min_body_bytes"`
	BlockingStatusCodes []int    `mapstructure:"blocking_status_codes"`
	ShortResponseCodes  []int    `mapstructure:"short_response_codes"`
	ChallengeSignatures []string `mapstructure:"challenge_signatures"`
	CaptchaSignatures   []string `mapstructure:"captcha_signatures"`
	BlockSignatures     []string `mapstructure:"block_signatures"`
}

// SensitivityConfig tunes the per-domain caution store. Table and
// EventProfiles override the built-in tables; left empty, the store's
// defaults apply.
type SensitivityConfig struct {
	Table              []PolicyRowConfig             `mapstructure:"table"`
	EventProfiles      map[string]EventProfileConfig `mapstructure:"event_profiles"`
	DecayEnabled       bool                          `mapstructure:"decay_enabled"`
	DecaySuccessStreak int                           `mapstructure:"decay_success_streak"`
	DecayWindowMinutes int                           `mapstructure:"decay_window_minutes"`
}

// PolicyRowConfig is one row of the level-to-policy table; row N applies at
// sensitivity level N.
type PolicyRowConfig struct {
	DelayMinMs        int `mapstructure:"delay_min_ms"`
	DelayMaxMs        int `mapstructure:"delay_max_ms"`
	BatchPauseSeconds int `mapstructure:"batch_pause_seconds"`
	BackoffMinMinutes int `mapstructure:"backoff_min_minutes"`
	BackoffMaxMinutes int `mapstructure:"backoff_max_minutes"`
}

// EventProfileConfig overrides how one detection event type escalates a
// domain.
type EventProfileConfig struct {
	Increase            int `mapstructure:"increase"`
	MaxCap              int `mapstructure:"max_cap"`
	BaseCooldownMinutes int `mapstructure:"base_cooldown_minutes"`
}

// MethodsConfig configures the three extraction methods.
type MethodsConfig struct {
	UserAgent            string `mapstructure:"user_agent"`
	ProxyURL             string `mapstructure:"proxy_url"`
	LightTimeoutSeconds  int    `mapstructure:"light_timeout_seconds"`
	SkipThreshold        int    `mapstructure:"skip_threshold"`
	MinBodyRunes         int    `mapstructure:"min_body_runes"`
	BrowserEnabled       bool   `mapstructure:"browser_enabled"`
	BrowserMaxParallel   int    `mapstructure:"browser_max_parallel"`
	BrowserNavTimeoutSec int    `mapstructure:"browser_nav_timeout_seconds"`
}

// QueueConfig selects the candidate source.
type QueueConfig struct {
	Mode           string `mapstructure:"mode"`
	Buffer         int    `mapstructure:"buffer"`
	ProjectID      string `mapstructure:"project_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
}

// PublisherConfig selects the downstream article publisher.
type PublisherConfig struct {
	Mode      string `mapstructure:"mode"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// StorageConfig sets paths and content types for snapshot persistence.
type StorageConfig struct {
	Mode        string `mapstructure:"mode"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to Postgres for the detection event log and the
// attempt archive.
type DBConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	DSN           string `mapstructure:"dsn"`
	EventsTable   string `mapstructure:"events_table"`
	AttemptsTable string `mapstructure:"attempts_table"`
	MaxConns      int    `mapstructure:"max_conns"`
}

// TelemetryConfig controls the attempt event hub.
type TelemetryConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXTRACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("batch.workers", 1)
	v.SetDefault("batch.size", 20)
	v.SetDefault("batch.rotation_threshold", 5)
	v.SetDefault("batch.short_pause_seconds", 5)
	v.SetDefault("batch.long_pause_seconds", 180)
	v.SetDefault("batch.pause_jitter_percent", 25)
	v.SetDefault("detector.min_body_bytes", 500)
	v.SetDefault("detector.blocking_status_codes", []int{401, 403, 502, 503, 504})
	v.SetDefault("detector.short_response_codes", []int{403, 503})
	v.SetDefault("sensitivity.decay_enabled", false)
	v.SetDefault("sensitivity.decay_success_streak", 20)
	v.SetDefault("sensitivity.decay_window_minutes", 360)
	v.SetDefault("methods.user_agent", "newsloom-extractor/0.1")
	v.SetDefault("methods.light_timeout_seconds", 15)
	v.SetDefault("methods.skip_threshold", 3)
	v.SetDefault("methods.min_body_runes", 140)
	v.SetDefault("methods.browser_enabled", false)
	v.SetDefault("methods.browser_max_parallel", 1)
	v.SetDefault("methods.browser_nav_timeout_seconds", 45)
	v.SetDefault("queue.mode", "memory")
	v.SetDefault("queue.buffer", 256)
	v.SetDefault("publisher.mode", "memory")
	v.SetDefault("storage.mode", "memory")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("db.enabled", false)
	v.SetDefault("db.events_table", "bot_detection_events")
	v.SetDefault("db.attempts_table", "extraction_attempts")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("telemetry.buffer_size", 4096)
	v.SetDefault("telemetry.max_batch_events", 500)
	v.SetDefault("telemetry.max_batch_wait_ms", 500)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch.workers must be > 0")
	}
	if c.Batch.Size <= 0 {
		return fmt.Errorf("batch.size must be > 0")
	}
	if c.Batch.RotationThreshold <= 0 {
		return fmt.Errorf("batch.rotation_threshold must be > 0")
	}
	if c.Batch.ShortPauseSeconds <= 0 || c.Batch.LongPauseSeconds <= 0 {
		return fmt.Errorf("batch pauses must be > 0")
	}
	if c.Batch.LongPauseSeconds <= c.Batch.ShortPauseSeconds {
		return fmt.Errorf("batch.long_pause_seconds must exceed batch.short_pause_seconds")
	}
	if c.Detector.MinBodyBytes <= 0 {
		return fmt.Errorf("detector.min_body_bytes must be > 0")
	}
	if c.Methods.LightTimeoutSeconds <= 0 {
		return fmt.Errorf("methods.light_timeout_seconds must be > 0")
	}
	if c.Methods.BrowserNavTimeoutSec <= c.Methods.LightTimeoutSeconds {
		return fmt.Errorf("methods.browser_nav_timeout_seconds must exceed the light method timeout")
	}
	if c.Methods.SkipThreshold <= 0 {
		return fmt.Errorf("methods.skip_threshold must be > 0")
	}
	switch c.Queue.Mode {
	case "memory":
	case "pubsub":
		if c.Queue.ProjectID == "" || c.Queue.SubscriptionID == "" {
			return fmt.Errorf("queue.project_id and queue.subscription_id are required in pubsub mode")
		}
	default:
		return fmt.Errorf("queue.mode must be memory or pubsub")
	}
	switch c.Publisher.Mode {
	case "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.TopicID == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic_id are required in pubsub mode")
		}
	default:
		return fmt.Errorf("publisher.mode must be memory or pubsub")
	}
	switch c.Storage.Mode {
	case "memory":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required in gcs mode")
		}
	default:
		return fmt.Errorf("storage.mode must be memory or gcs")
	}
	if c.DB.Enabled && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.enabled is set")
	}
	if err := c.Sensitivity.validate(); err != nil {
		return err
	}
	return nil
}

func (c SensitivityConfig) validate() error {
	if len(c.Table) > 0 && len(c.Table) != sensitivity.MaxLevel {
		return fmt.Errorf("sensitivity.table must have exactly %d rows, got %d", sensitivity.MaxLevel, len(c.Table))
	}
	for i, row := range c.Table {
		if row.DelayMinMs <= 0 || row.DelayMaxMs < row.DelayMinMs {
			return fmt.Errorf("sensitivity.table row %d has an invalid delay range", i+1)
		}
		if row.BatchPauseSeconds <= 0 {
			return fmt.Errorf("sensitivity.table row %d needs a positive batch pause", i+1)
		}
		if row.BackoffMinMinutes <= 0 || row.BackoffMaxMinutes < row.BackoffMinMinutes {
			return fmt.Errorf("sensitivity.table row %d has an invalid backoff range", i+1)
		}
	}
	for name, profile := range c.EventProfiles {
		switch sensitivity.EventType(name) {
		case sensitivity.EventRateLimit429, sensitivity.EventForbidden403,
			sensitivity.EventCaptchaDetected, sensitivity.EventConnectionTimeout,
			sensitivity.EventMultipleFailures:
		default:
			return fmt.Errorf("sensitivity.event_profiles: unknown event type %q", name)
		}
		if profile.Increase <= 0 {
			return fmt.Errorf("sensitivity.event_profiles[%s].increase must be > 0", name)
		}
		if profile.MaxCap < sensitivity.MinLevel || profile.MaxCap > sensitivity.MaxLevel {
			return fmt.Errorf("sensitivity.event_profiles[%s].max_cap must be within [%d,%d]", name, sensitivity.MinLevel, sensitivity.MaxLevel)
		}
		if profile.BaseCooldownMinutes <= 0 {
			return fmt.Errorf("sensitivity.event_profiles[%s].base_cooldown_minutes must be > 0", name)
		}
	}
	return nil
}

// PolicyTable converts the configured rows into the store's table, falling
// back to the built-in defaults when no rows are set.
func (c SensitivityConfig) PolicyTable() []sensitivity.Policy {
	if len(c.Table) == 0 {
		return sensitivity.DefaultPolicyTable()
	}
	table := make([]sensitivity.Policy, len(c.Table))
	for i, row := range c.Table {
		table[i] = sensitivity.Policy{
			DelayMin:   time.Duration(row.DelayMinMs) * time.Millisecond,
			DelayMax:   time.Duration(row.DelayMaxMs) * time.Millisecond,
			BatchPause: time.Duration(row.BatchPauseSeconds) * time.Second,
			BackoffMin: time.Duration(row.BackoffMinMinutes) * time.Minute,
			BackoffMax: time.Duration(row.BackoffMaxMinutes) * time.Minute,
		}
	}
	return table
}

// Profiles converts the configured event profiles, overlaying them on the
// defaults so a partial override leaves the remaining event types intact.
func (c SensitivityConfig) Profiles() map[sensitivity.EventType]sensitivity.EventProfile {
	profiles := sensitivity.DefaultEventProfiles()
	for name, p := range c.EventProfiles {
		profiles[sensitivity.EventType(name)] = sensitivity.EventProfile{
			Increase:     p.Increase,
			MaxCap:       p.MaxCap,
			BaseCooldown: time.Duration(p.BaseCooldownMinutes) * time.Minute,
		}
	}
	return profiles
}

// ShortPause returns the configured short pause duration.
func (c BatchConfig) ShortPause() time.Duration {
	return time.Duration(c.ShortPauseSeconds) * time.Second
}

// LongPause returns the configured long pause duration.
func (c BatchConfig) LongPause() time.Duration {
	return time.Duration(c.LongPauseSeconds) * time.Second
}

// JitterFraction converts the jitter percentage into a fraction.
func (c BatchConfig) JitterFraction() float64 {
	return float64(c.PauseJitterPercent) / 100
}

// DecayWindow returns the configured decay window.
func (c SensitivityConfig) DecayWindow() time.Duration {
	return time.Duration(c.DecayWindowMinutes) * time.Minute
}

// LightTimeout returns the lightweight methods' request timeout.
func (c MethodsConfig) LightTimeout() time.Duration {
	return time.Duration(c.LightTimeoutSeconds) * time.Second
}

// BrowserNavTimeout returns the browser method's navigation timeout.
func (c MethodsConfig) BrowserNavTimeout() time.Duration {
	return time.Duration(c.BrowserNavTimeoutSec) * time.Second
}

// MaxBatchWait returns the telemetry hub's flush interval.
func (c TelemetryConfig) MaxBatchWait() time.Duration {
	return time.Duration(c.MaxBatchWaitMs) * time.Millisecond
}
