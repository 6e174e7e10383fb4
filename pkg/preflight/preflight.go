// Package preflight verifies that a gate run can succeed before it creates a
// quiz: the settings are valid, GitHub accepts the token and the validation
// service answers.
package preflight

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/holon-run/prquiz/pkg/config"
	"github.com/holon-run/prquiz/pkg/github"
	holonlog "github.com/holon-run/prquiz/pkg/log"
)

// CheckLevel represents the severity level of a preflight check
type CheckLevel int

const (
	// LevelError indicates a failure that would make the gate run fail
	LevelError CheckLevel = iota
	// LevelWarn indicates a problem that does not block the run
	LevelWarn
	// LevelInfo indicates informational output
	LevelInfo
)

const (
	checkTimeout      = 5 * time.Second
	lowRateLimitAlarm = 100
)

// CheckResult represents the result of a single preflight check
type CheckResult struct {
	Name    string
	Level   CheckLevel
	Message string
	Error   error
}

// Check represents a single preflight check
type Check interface {
	Name() string
	Run(ctx context.Context) CheckResult
}

// Checker runs a collection of preflight checks
type Checker struct {
	checks []Check
	quiet  bool
}

// NewChecker creates a checker for the given checks. Quiet suppresses
// info-level results.
func NewChecker(quiet bool, checks ...Check) *Checker {
	return &Checker{checks: checks, quiet: quiet}
}

// Run executes all checks and returns an error listing every failed one.
// All checks run even after a failure.
func (c *Checker) Run(ctx context.Context) ([]CheckResult, error) {
	holonlog.Progress("running preflight checks")

	results := make([]CheckResult, 0, len(c.checks))
	var failures []string
	for _, check := range c.checks {
		result := check.Run(ctx)
		results = append(results, result)

		switch result.Level {
		case LevelError:
			holonlog.Error("preflight check failed", "check", result.Name, "message", result.Message)
			failures = append(failures, fmt.Sprintf("%s: %s", result.Name, result.Message))
		case LevelWarn:
			holonlog.Warn("preflight check warning", "check", result.Name, "message", result.Message)
		case LevelInfo:
			if !c.quiet {
				holonlog.Info("preflight check", "check", result.Name, "message", result.Message)
			}
		}
	}

	if len(failures) > 0 {
		return results, fmt.Errorf("preflight checks failed:\n  - %s", strings.Join(failures, "\n  - "))
	}
	holonlog.Progress("preflight checks passed")
	return results, nil
}

// ConfigCheck validates the resolved settings.
type ConfigCheck struct {
	Config config.Config
}

func (c *ConfigCheck) Name() string { return "config" }

func (c *ConfigCheck) Run(ctx context.Context) CheckResult {
	if err := c.Config.Validate(); err != nil {
		return CheckResult{Name: c.Name(), Level: LevelError, Message: err.Error(), Error: err}
	}
	return CheckResult{
		Name:  c.Name(),
		Level: LevelInfo,
		Message: fmt.Sprintf("polling every %ds up to %d times (%s)",
			c.Config.PollingInterval, c.Config.MaxPollingAttempts, c.Config.Backoff),
	}
}

// APIKeyCheck reports a missing validation service key. The service would
// answer invalid_api_key.
type APIKeyCheck struct {
	Key string
}

func (c *APIKeyCheck) Name() string { return "api-key" }

func (c *APIKeyCheck) Run(ctx context.Context) CheckResult {
	if strings.TrimSpace(c.Key) == "" {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: "API key is empty. Set --api-key or the api-key input",
			Error:   fmt.Errorf("no API key"),
		}
	}
	return CheckResult{Name: c.Name(), Level: LevelInfo, Message: "API key is set"}
}

// RateLimitFetcher is satisfied by *github.Client.
type RateLimitFetcher interface {
	FetchRateLimit(ctx context.Context) (github.RateLimitStatus, error)
}

// GitHubCheck verifies that GitHub accepts the token by reading the rate
// limit, which does not consume it.
type GitHubCheck struct {
	Client RateLimitFetcher
	// Source names where the token came from, for the message.
	Source string
}

func (c *GitHubCheck) Name() string { return "github" }

func (c *GitHubCheck) Run(ctx context.Context) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	status, err := c.Client.FetchRateLimit(checkCtx)
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: "GitHub rejected the token or is unreachable",
			Error:   err,
		}
	}
	if status.Remaining < lowRateLimitAlarm {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelWarn,
			Message: fmt.Sprintf("only %d of %d API requests left until %s", status.Remaining, status.Limit, status.Reset.Format(time.RFC3339)),
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: fmt.Sprintf("token from %s accepted, %d/%d requests left", c.Source, status.Remaining, status.Limit),
	}
}

// BackendCheck probes GET {URL}/health on the validation service.
type BackendCheck struct {
	URL    string
	Client *http.Client
}

func (c *BackendCheck) Name() string { return "backend" }

func (c *BackendCheck) Run(ctx context.Context) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	url := strings.TrimRight(c.URL, "/") + "/health"
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, url, nil)
	if err != nil {
		return CheckResult{Name: c.Name(), Level: LevelError, Message: "invalid backend URL", Error: err}
	}

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: checkTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("validation service at %s is unreachable", c.URL),
			Error:   err,
		}
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		holonlog.Debug("failed to drain response body", "error", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("health check returned unexpected status: %d", resp.StatusCode),
			Error:   fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}
	return CheckResult{Name: c.Name(), Level: LevelInfo, Message: fmt.Sprintf("validation service at %s is healthy", c.URL)}
}
