// Package cascade runs the ordered fallback across extraction methods for a
// single URL, with typed-error control flow.
package cascade

import (
	"context"
	"errors"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/newsloom/extractor/internal/botwall"
	"github.com/newsloom/extractor/internal/extract"
	"github.com/newsloom/extractor/internal/sensitivity"
)

const defaultSkipThreshold = 3

// Config controls cascade behavior.
type Config struct {
	// SkipThreshold is the consecutive-failure count at which a fallback
	// method is skipped for a domain until a success resets it.
	SkipThreshold int
}

// Cascade executes the three-method fallback for candidates.
type Cascade struct {
	detector      *botwall.Detector
	store         *sensitivity.Store
	fetchers      map[extract.Method]extract.ArticleFetcher
	counters      *failureCounters
	skipThreshold int
	clock         extract.Clock
	logger        *zap.Logger
}

// New constructs a Cascade over the provided fetchers. Methods without a
// fetcher are skipped at runtime, so a deployment can run without the
// browser tier.
func New(
	detector *botwall.Detector,
	store *sensitivity.Store,
	fetchers []extract.ArticleFetcher,
	cfg Config,
	clock extract.Clock,
	logger *zap.Logger,
) *Cascade {
	if cfg.SkipThreshold <= 0 {
		cfg.SkipThreshold = defaultSkipThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	byMethod := make(map[extract.Method]extract.ArticleFetcher, len(fetchers))
	for _, f := range fetchers {
		if f != nil {
			byMethod[f.Method()] = f
		}
	}
	return &Cascade{
		detector:      detector,
		store:         store,
		fetchers:      byMethod,
		counters:      newFailureCounters(),
		skipThreshold: cfg.SkipThreshold,
		clock:         clock,
		logger:        logger,
	}
}

// Run resolves one candidate. It returns the attempt record always, the
// article on success, and a typed error otherwise. A classified protection
// kind always surfaces as an error; an empty success payload is never
// returned, because a swallowed block would let the chain burn its most
// expensive method on a domain already known to be blocking.
func (c *Cascade) Run(ctx context.Context, candidate extract.Candidate) (extract.Attempt, *extract.Article, error) {
	start := c.clock.Now()
	attempt := extract.Attempt{
		URL:    candidate.URL,
		Domain: candidate.Domain,
	}

	state := StateNotStarted
	if active, until := c.store.CooldownActive(candidate.Domain); active {
		state = Next(state, SignalCooldownActive)
		attempt.Outcome = extract.OutcomeRateLimited
		attempt.DetectedKind = "cooldown_active"
		attempt.Elapsed = c.clock.Now().Sub(start)
		c.logger.Debug("cascade short-circuited by cooldown",
			zap.String("domain", candidate.Domain),
			zap.Time("cooldown_until", until),
		)
		return attempt, nil, &extract.RateLimitedError{Domain: candidate.Domain, Kind: "cooldown_active"}
	}
	state = Next(state, SignalStart)

	var (
		lastErr  error
		lastKind botwall.Kind
	)
	for !state.Terminal() {
		method := methodFor[state]
		fetcher := c.fetchers[method]

		if fetcher == nil {
			state = Next(state, SignalMethodSkipped)
			continue
		}
		if method != extract.MethodStructured && c.counters.Count(method, candidate.Domain) >= c.skipThreshold {
			c.logger.Debug("method skipped for domain",
				zap.String("method", string(method)),
				zap.String("domain", candidate.Domain),
			)
			state = Next(state, SignalMethodSkipped)
			continue
		}

		attempt.MethodsTried = append(attempt.MethodsTried, method)
		resp, article, err := fetcher.Fetch(ctx, candidate)
		if err != nil {
			if isTimeout(err) {
				c.store.RecordDetection(ctx, candidate.Domain, sensitivity.EventConnectionTimeout)
			}
			c.counters.Inc(method, candidate.Domain)
			lastErr = &extract.ExtractionError{Method: method, URL: candidate.URL, Err: err}
			state = Next(state, SignalMethodError)
			continue
		}

		attempt.HTTPStatus = resp.StatusCode
		attempt.ProxyUsed = attempt.ProxyUsed || resp.ProxyUsed

		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			// Permanently dead URL: later methods must not burn two more
			// fetches on it.
			state = Next(state, SignalGone)
			attempt.Outcome = extract.OutcomeNotFound
			attempt.Elapsed = c.clock.Now().Sub(start)
			return attempt, nil, &extract.NotFoundError{URL: candidate.URL, StatusCode: resp.StatusCode}
		}

		if kind := c.detector.Classify(resp.StatusCode, resp.Headers, resp.Body); kind != botwall.KindNone {
			// The method counters stay untouched here: they gate a method's
			// own breakage, while a block is domain state owned by the
			// sensitivity store.
			c.store.RecordDetection(ctx, candidate.Domain, eventTypeFor(kind))
			lastKind = kind
			attempt.DetectedKind = string(kind)
			state = Next(state, SignalProtection)
			continue
		}

		if article == nil || article.BodyText == "" {
			c.counters.Inc(method, candidate.Domain)
			lastErr = &extract.ExtractionError{
				Method: method,
				URL:    candidate.URL,
				Err:    errors.New("no article content parsed"),
			}
			state = Next(state, SignalMethodError)
			continue
		}

		c.store.RecordSuccess(candidate.Domain)
		c.counters.Reset(method, candidate.Domain)
		state = Next(state, SignalSuccess)
		article.Method = method
		if article.URL == "" {
			article.URL = candidate.URL
		}
		attempt.FinalMethod = method
		attempt.Outcome = extract.OutcomeExtracted
		attempt.Elapsed = c.clock.Now().Sub(start)
		return attempt, article, nil
	}

	attempt.Elapsed = c.clock.Now().Sub(start)
	switch state {
	case StateBlocked:
		attempt.Outcome = extract.OutcomeRateLimited
		return attempt, nil, &extract.RateLimitedError{Domain: candidate.Domain, Kind: string(lastKind)}
	default:
		// Every method failed without a classified block: that is a
		// domain-level signal worth a multiple_failures detection. A single
		// broken method rescued by a fallback is not.
		c.store.RecordDetection(ctx, candidate.Domain, sensitivity.EventMultipleFailures)
		attempt.Outcome = extract.OutcomeFailed
		if lastErr == nil {
			lastErr = &extract.ExtractionError{
				Method: extract.MethodStructured,
				URL:    candidate.URL,
				Err:    errors.New("no extraction method available"),
			}
		}
		return attempt, nil, lastErr
	}
}

func eventTypeFor(kind botwall.Kind) sensitivity.EventType {
	switch kind {
	case botwall.KindRateLimited:
		return sensitivity.EventRateLimit429
	case botwall.KindCaptcha, botwall.KindCloudflareChallenge:
		return sensitivity.EventCaptchaDetected
	default:
		return sensitivity.EventForbidden403
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
