// Package extract defines core types shared across the extraction engine.
package extract

import (
	"net/http"
	"time"
)

// Method identifies one extraction strategy in the cascade.
type Method string

// Cascade methods in fallback order.
const (
	MethodStructured   Method = "structured"
	MethodHeuristicDOM Method = "heuristic_dom"
	MethodBrowser      Method = "browser_emulation"
)

// Outcome is the resolution class reported for each candidate URL.
type Outcome string

// Every candidate resolves to exactly one of these.
const (
	OutcomeExtracted   Outcome = "extracted"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeFailed      Outcome = "failed"
	OutcomeRateLimited Outcome = "rate_limited"
)

// Candidate is one URL handed over by the discovery collaborator.
type Candidate struct {
	URL      string `json:"url"`
	Domain   string `json:"domain"`
	SourceID string `json:"source_id"`
}

// Article is the parsed payload handed to downstream collaborators.
type Article struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Author      string     `json:"author,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	BodyText    string     `json:"body_text"`
	Method      Method     `json:"extraction_method_used"`
}

// FetchResponse is the raw result returned by an ArticleFetcher.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	ProxyUsed  bool
}

// Attempt is the ephemeral per-URL record produced by one cascade run.
type Attempt struct {
	URL          string
	Domain       string
	MethodsTried []Method
	FinalMethod  Method
	Outcome      Outcome
	HTTPStatus   int
	DetectedKind string
	ProxyUsed    bool
	Elapsed      time.Duration
}

// BatchResult aggregates counters over one scheduler cycle.
type BatchResult struct {
	Processed             int
	SkippedDomains        int
	Errors                int
	DomainsProcessed      map[string]int
	SameDomainConsecutive int
}

// UniqueDomains counts distinct domains that actually got processed.
func (r BatchResult) UniqueDomains() int {
	return len(r.DomainsProcessed)
}

// IsSingleDomainDataset reports whether only one domain genuinely exists in
// the workload. One unique domain with cooled-down skips means other domains
// exist but are temporarily unavailable, so it is not a single-domain dataset.
func (r BatchResult) IsSingleDomainDataset() bool {
	return r.UniqueDomains() <= 1 && r.SkippedDomains == 0
}
