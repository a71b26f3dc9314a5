// Package structured implements the first cascade method: a plain HTTP fetch
// plus a structured-metadata article parse (JSON-LD, OpenGraph).
package structured

import (
	"context"
	"net/http"

	"github.com/newsloom/extractor/internal/extract"
	"github.com/newsloom/extractor/internal/fetch/collyfetch"
)

// Config controls the underlying HTTP client.
type Config = collyfetch.Config

// Fetcher implements extract.ArticleFetcher for structured metadata.
type Fetcher struct {
	client *collyfetch.Client
}

// New builds a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	client, err := collyfetch.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Fetcher{client: client}, nil
}

// Method identifies this fetcher in the cascade.
func (f *Fetcher) Method() extract.Method {
	return extract.MethodStructured
}

// Fetch executes a single GET and parses structured article metadata. The
// response is returned for any HTTP status so the caller can classify
// blocks; the article is nil when the page carries no usable metadata.
func (f *Fetcher) Fetch(ctx context.Context, candidate extract.Candidate) (extract.FetchResponse, *extract.Article, error) {
	resp, err := f.client.Get(ctx, candidate.URL)
	if err != nil {
		return extract.FetchResponse{}, nil, err
	}
	if resp.StatusCode != http.StatusOK || len(resp.Body) == 0 {
		return resp, nil, nil
	}
	return resp, parseStructured(resp.Body), nil
}
