package extract

import (
	"context"
	"io"
	"time"
)

// ArticleFetcher runs one extraction method end to end: fetch the URL and
// parse an article from the response. Implementations return the response
// even when the status code indicates a block, so the caller can classify it;
// err is reserved for transport failures and parse failures.
type ArticleFetcher interface {
	Method() Method
	Fetch(ctx context.Context, candidate Candidate) (FetchResponse, *Article, error)
}

// Publisher pushes extracted articles to downstream collaborators.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives raw page snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// CandidateQueue supplies candidate URLs from the discovery collaborator.
type CandidateQueue interface {
	// Dequeue blocks for the next candidate, respecting ctx.
	Dequeue(ctx context.Context) (Candidate, error)
	// TryDequeue returns immediately; ok is false when the queue is empty.
	TryDequeue() (Candidate, bool)
}

// Hasher computes digests for snapshot paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing cooldowns).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces attempt and event IDs.
type IDGenerator interface {
	NewID() (string, error)
}
