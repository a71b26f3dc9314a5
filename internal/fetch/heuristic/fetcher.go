// Package heuristic implements the second cascade method: content-density
// DOM extraction for pages without usable structured metadata.
package heuristic

import (
	"context"
	"net/http"

	"github.com/newsloom/extractor/internal/extract"
	"github.com/newsloom/extractor/internal/fetch/collyfetch"
)

// Config controls the underlying HTTP client and the extraction thresholds.
type Config struct {
	Client collyfetch.Config
	// MinBodyRunes discards candidate containers whose text mass is below
	// this; guards against picking a nav block on thin pages.
	MinBodyRunes int
}

// Fetcher implements extract.ArticleFetcher with DOM heuristics.
type Fetcher struct {
	client       *collyfetch.Client
	minBodyRunes int
}

// New builds a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	client, err := collyfetch.New(cfg.Client)
	if err != nil {
		return nil, err
	}
	if cfg.MinBodyRunes <= 0 {
		cfg.MinBodyRunes = 140
	}
	return &Fetcher{client: client, minBodyRunes: cfg.MinBodyRunes}, nil
}

// Method identifies this fetcher in the cascade.
func (f *Fetcher) Method() extract.Method {
	return extract.MethodHeuristicDOM
}

// Fetch executes a single GET and scores DOM containers by paragraph mass.
func (f *Fetcher) Fetch(ctx context.Context, candidate extract.Candidate) (extract.FetchResponse, *extract.Article, error) {
	resp, err := f.client.Get(ctx, candidate.URL)
	if err != nil {
		return extract.FetchResponse{}, nil, err
	}
	if resp.StatusCode != http.StatusOK || len(resp.Body) == 0 {
		return resp, nil, nil
	}
	return resp, ExtractArticle(resp.Body, f.minBodyRunes), nil
}
