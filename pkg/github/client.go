// Package github adapts the GitHub REST API to the gate: pull request
// metadata, changed files and the issue comment feed.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v68/github"
	"github.com/gregjones/httpcache"
)

const perPage = 100

// Client wraps a go-github client.
type Client struct {
	gh        *gh.Client
	rateLimit *RateLimitTracker
	perPage   int
}

type clientOptions struct {
	baseURL   string
	transport http.RoundTripper
	perPage   int
}

// Option configures NewClient.
type Option func(*clientOptions)

// WithBaseURL points the client at a GitHub Enterprise or test server. The
// URL is normalised to end with a slash.
func WithBaseURL(u string) Option {
	return func(o *clientOptions) { o.baseURL = u }
}

// WithTransport sets the innermost transport, below caching and rate limit
// handling.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) { o.transport = rt }
}

// WithPerPage overrides the page size used for listing.
func WithPerPage(n int) Option {
	return func(o *clientOptions) { o.perPage = n }
}

// NewClient creates a GitHub client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. revalidation of requests marked with mustRevalidate
//  3. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  4. go-github (REST client with token auth)
func NewClient(token string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("GitHub token is required")
	}

	o := clientOptions{perPage: perPage}
	for _, opt := range opts {
		opt(&o)
	}

	cacheTransport := httpcache.NewMemoryCacheTransport()
	if o.transport != nil {
		cacheTransport.Transport = o.transport
	}
	rateLimitClient := github_ratelimit.NewClient(&revalidateTransport{next: cacheTransport})
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	if o.baseURL != "" {
		base := o.baseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parsing base URL: %w", err)
		}
		client.BaseURL = u
	}

	return &Client{
		gh:        client,
		rateLimit: NewRateLimitTracker(),
		perPage:   o.perPage,
	}, nil
}

// RateLimit returns the last observed rate limit status.
func (c *Client) RateLimit() RateLimitStatus {
	return c.rateLimit.GetStatus()
}

// RateLimitObserved reports whether any response carried rate limit headers.
func (c *Client) RateLimitObserved() bool {
	return c.rateLimit.Observed()
}

func (c *Client) listOptions(page int) gh.ListOptions {
	if page < 1 {
		page = 1
	}
	return gh.ListOptions{Page: page, PerPage: c.perPage}
}

type revalidateKey struct{}

// mustRevalidate marks ctx so that GET requests made with it bypass fresh
// cache entries. GitHub serves comment lists with max-age=60, and a list read
// after our own create or edit must see the write.
func mustRevalidate(ctx context.Context) context.Context {
	return context.WithValue(ctx, revalidateKey{}, true)
}

// revalidateTransport adds Cache-Control: no-cache to marked requests.
// httpcache then goes to the server instead of answering from memory.
type revalidateTransport struct {
	next http.RoundTripper
}

func (t *revalidateTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if marked, _ := req.Context().Value(revalidateKey{}).(bool); !marked {
		return t.next.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Cache-Control", "no-cache")
	return t.next.RoundTrip(clone)
}
