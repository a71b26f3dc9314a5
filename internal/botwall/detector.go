// Package botwall classifies HTTP responses that indicate anti-automation
// defenses: challenge pages, CAPTCHAs, generic blocks, and rate limiting.
package botwall

import (
	"bytes"
	"net/http"
)

// Kind is the classified category of an anti-automation response.
type Kind string

// Protection kinds, ordered roughly by specificity.
const (
	KindNone                Kind = ""
	KindRateLimited         Kind = "rate_limited"
	KindCloudflareChallenge Kind = "cloudflare_challenge"
	KindCaptcha             Kind = "captcha"
	KindGenericBlock        Kind = "generic_block"
	KindServerBlock         Kind = "server_block"
	KindSuspiciousShort     Kind = "suspicious_short_response"
)

// Config holds the tunable signature lists and thresholds. Signatures are
// matched case-insensitively against the body. The defaults cover the
// phrasings that trip extraction in practice; publishers vary, so all of it
// is configuration rather than constants.
type Config struct {
	MinBodyBytes        int
	ChallengeSignatures []string
	CaptchaSignatures   []string
	BlockSignatures     []string
	BlockingStatusCodes []int
	ShortResponseCodes  []int
}

// DefaultConfig returns the signature set used when none is configured.
func DefaultConfig() Config {
	return Config{
		MinBodyBytes: 500,
		ChallengeSignatures: []string{
			"checking your browser",
			"cf-browser-verification",
			"ddos protection by",
			"just a moment",
		},
		CaptchaSignatures: []string{
			"captcha",
			"recaptcha",
			"hcaptcha",
			"verify you are human",
		},
		BlockSignatures: []string{
			"access denied",
			"security check",
			"request blocked",
			"bot detected",
		},
		BlockingStatusCodes: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
		ShortResponseCodes: []int{
			http.StatusForbidden,
			http.StatusServiceUnavailable,
		},
	}
}

// Detector is a pure classifier; it holds no mutable state and is safe for
// concurrent use.
type Detector struct {
	minBodyBytes int
	challenge    [][]byte
	captcha      [][]byte
	block        [][]byte
	blocking     map[int]struct{}
	shortStatus  map[int]struct{}
}

// New builds a Detector from cfg, falling back to defaults for empty fields.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.MinBodyBytes <= 0 {
		cfg.MinBodyBytes = def.MinBodyBytes
	}
	if len(cfg.ChallengeSignatures) == 0 {
		cfg.ChallengeSignatures = def.ChallengeSignatures
	}
	if len(cfg.CaptchaSignatures) == 0 {
		cfg.CaptchaSignatures = def.CaptchaSignatures
	}
	if len(cfg.BlockSignatures) == 0 {
		cfg.BlockSignatures = def.BlockSignatures
	}
	if len(cfg.BlockingStatusCodes) == 0 {
		cfg.BlockingStatusCodes = def.BlockingStatusCodes
	}
	if len(cfg.ShortResponseCodes) == 0 {
		cfg.ShortResponseCodes = def.ShortResponseCodes
	}
	return &Detector{
		minBodyBytes: cfg.MinBodyBytes,
		challenge:    lowerAll(cfg.ChallengeSignatures),
		captcha:      lowerAll(cfg.CaptchaSignatures),
		block:        lowerAll(cfg.BlockSignatures),
		blocking:     toSet(cfg.BlockingStatusCodes),
		shortStatus:  toSet(cfg.ShortResponseCodes),
	}
}

// Classify maps an HTTP response to a protection Kind. It never panics on
// nil headers or empty bodies and returns KindNone for ordinary responses.
func (d *Detector) Classify(status int, header http.Header, body []byte) Kind {
	if status == http.StatusTooManyRequests {
		return KindRateLimited
	}

	lower := bytes.ToLower(body)

	if _, blocked := d.blocking[status]; blocked {
		if d.isCloudflare(header) || matchAny(lower, d.challenge) {
			return KindCloudflareChallenge
		}
		if matchAny(lower, d.captcha) {
			return KindCaptcha
		}
		if matchAny(lower, d.block) {
			return KindGenericBlock
		}
		if _, short := d.shortStatus[status]; short && len(body) < d.minBodyBytes {
			return KindSuspiciousShort
		}
		return KindServerBlock
	}

	// Publishers often serve challenge pages with a 200.
	if status == http.StatusOK {
		switch {
		case matchAny(lower, d.challenge):
			return KindCloudflareChallenge
		case matchAny(lower, d.captcha):
			return KindCaptcha
		case matchAny(lower, d.block):
			return KindGenericBlock
		}
	}

	return KindNone
}

func (d *Detector) isCloudflare(header http.Header) bool {
	if header == nil {
		return false
	}
	if header.Get("Cf-Ray") != "" || header.Get("Cf-Cache-Status") != "" {
		return true
	}
	return header.Get("Server") == "cloudflare"
}

func matchAny(lowerBody []byte, signatures [][]byte) bool {
	if len(lowerBody) == 0 {
		return false
	}
	for _, sig := range signatures {
		if len(sig) == 0 {
			continue
		}
		if bytes.Contains(lowerBody, sig) {
			return true
		}
	}
	return false
}

func lowerAll(signatures []string) [][]byte {
	out := make([][]byte, 0, len(signatures))
	for _, sig := range signatures {
		if sig == "" {
			continue
		}
		out = append(out, bytes.ToLower([]byte(sig)))
	}
	return out
}

func toSet(codes []int) map[int]struct{} {
	set := make(map[int]struct{}, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return set
}
