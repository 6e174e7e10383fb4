package github

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	gh "github.com/google/go-github/v68/github"

	holonlog "github.com/holon-run/prquiz/pkg/log"
)

const (
	defaultRateLimit  = 5000
	lowRateLimitAlarm = 100
)

// RateLimitStatus represents the current rate limit status
type RateLimitStatus struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
	Used      int       `json:"used"`
}

// RateLimitTracker records the primary rate limit reported by GitHub
// responses. Secondary limits are handled by the transport.
type RateLimitTracker struct {
	mu    sync.RWMutex
	limit RateLimitStatus
	seen  bool
}

// NewRateLimitTracker creates a new rate limit tracker
func NewRateLimitTracker() *RateLimitTracker {
	return &RateLimitTracker{
		limit: RateLimitStatus{
			Limit: defaultRateLimit,
		},
	}
}

// Update records the rate limit of resp and logs the call. It warns once
// the remaining budget drops below lowRateLimitAlarm.
func (r *RateLimitTracker) Update(resp *gh.Response, endpoint string) {
	if resp == nil || resp.Rate.Limit == 0 {
		return
	}

	r.mu.Lock()
	r.limit = RateLimitStatus{
		Limit:     resp.Rate.Limit,
		Remaining: resp.Rate.Remaining,
		Reset:     resp.Rate.Reset.Time,
		Used:      usedFromHeader(resp, resp.Rate),
	}
	r.seen = true
	r.mu.Unlock()

	holonlog.Debug("github api call",
		"endpoint", endpoint,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < lowRateLimitAlarm {
		holonlog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// GetStatus returns a copy of the current rate limit status
func (r *RateLimitTracker) GetStatus() RateLimitStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limit
}

// Observed reports whether any response carried rate limit headers.
func (r *RateLimitTracker) Observed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seen
}

// FetchRateLimit queries the rate limit endpoint, which does not count
// against the budget, and records the core limit.
func (c *Client) FetchRateLimit(ctx context.Context) (RateLimitStatus, error) {
	limits, resp, err := c.gh.RateLimit.Get(ctx)
	if err != nil {
		return RateLimitStatus{}, fmt.Errorf("failed to fetch rate limit: %w", err)
	}
	c.rateLimit.Update(resp, "rate_limit")

	core := limits.GetCore()
	if core == nil {
		return c.rateLimit.GetStatus(), nil
	}
	return RateLimitStatus{
		Limit:     core.Limit,
		Remaining: core.Remaining,
		Reset:     core.Reset.Time,
		Used:      usedFromHeader(resp, *core),
	}, nil
}

// usedFromHeader reads X-RateLimit-Used, which go-github does not decode.
// Without the header the count is derived from limit and remaining.
func usedFromHeader(resp *gh.Response, rate gh.Rate) int {
	if resp != nil && resp.Response != nil {
		if used := resp.Header.Get("X-RateLimit-Used"); used != "" {
			if val, err := strconv.Atoi(used); err == nil {
				return val
			}
		}
	}
	if rate.Limit > rate.Remaining {
		return rate.Limit - rate.Remaining
	}
	return 0
}
