package browser

import (
	"context"
	"errors"

	"github.com/newsloom/extractor/internal/extract"
)

// Noop implements extract.ArticleFetcher but always returns an error to
// indicate that browser rendering is not available in the current build.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Method identifies this fetcher in the cascade.
func (Noop) Method() extract.Method {
	return extract.MethodBrowser
}

// Fetch returns an error since this is a stub implementation.
func (Noop) Fetch(_ context.Context, _ extract.Candidate) (extract.FetchResponse, *extract.Article, error) {
	return extract.FetchResponse{}, nil, errors.New("browser fetcher not configured")
}
