// Package memory keeps published articles in-process. It backs tests and
// single-binary runs where no Pub/Sub topic exists; nothing leaves the
// process.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/newsloom/extractor/internal/extract"
)

// Publisher implements extract.Publisher by recording every publish.
type Publisher struct {
	mu      sync.RWMutex
	records []Record
}

// Record is one captured publish. Payload is normally an *extract.Article;
// the type stays open because the interface is payload-agnostic.
type Record struct {
	Topic   string
	Payload any
}

// New returns an empty in-memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the payload under the topic and returns a locally
// assigned message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, Record{Topic: topic, Payload: payload})
	return fmt.Sprintf("local-%d", len(p.records)), nil
}

// Records returns every captured publish in order.
func (p *Publisher) Records() []Record {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Record, len(p.records))
	copy(out, p.records)
	return out
}

// Articles returns the published article payloads in publish order,
// skipping any payload that is not an article.
func (p *Publisher) Articles() []*extract.Article {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*extract.Article
	for _, rec := range p.records {
		if article, ok := rec.Payload.(*extract.Article); ok {
			out = append(out, article)
		}
	}
	return out
}
