// Package collyfetch wraps the colly collector into a single-URL HTTP client
// shared by the lightweight extraction methods.
package collyfetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/newsloom/extractor/internal/extract"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	ProxyURL  string
}

// Client executes single GETs with a pooled transport.
type Client struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	usesProxy     bool
}

// New builds a Client. A non-empty ProxyURL routes all requests through it.
func New(cfg Config) (*Client, error) {
	transport, usesProxy, err := newHTTPTransport(cfg.ProxyURL)
	if err != nil {
		return nil, err
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(transport)
	return &Client{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		usesProxy:     usesProxy,
	}, nil
}

// Get fetches one URL. Responses come back for any HTTP status so callers
// can classify challenge pages; the error path is reserved for transport
// failures.
func (c *Client) Get(ctx context.Context, target string) (extract.FetchResponse, error) {
	var (
		result   extract.FetchResponse
		fetchErr error
	)
	start := time.Now()

	collector := c.baseCollector.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	// Error statuses carry challenge pages worth classifying, so parse them
	// instead of failing the visit.
	collector.ParseHTTPErrorResponse = true
	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(c.transport)

	collector.OnResponse(func(r *colly.Response) {
		result = c.toResponse(r, start)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			result = c.toResponse(r, start)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return extract.FetchResponse{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return extract.FetchResponse{}, fmt.Errorf("fetch failed: %w", fetchErr)
		}
		if err != nil && result.StatusCode == 0 {
			return extract.FetchResponse{}, fmt.Errorf("visit failed: %w", err)
		}
		return result, nil
	}
}

func (c *Client) toResponse(r *colly.Response, start time.Time) extract.FetchResponse {
	headers := http.Header{}
	if r.Headers != nil {
		headers = r.Headers.Clone()
	}
	return extract.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    headers,
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(start),
		ProxyUsed:  c.usesProxy,
	}
}

func newHTTPTransport(proxyURL string) (*http.Transport, bool, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	if proxyURL == "" {
		return transport, false, nil
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, false, fmt.Errorf("parse proxy url: %w", err)
	}
	transport.Proxy = http.ProxyURL(parsed)
	return transport, true, nil
}
