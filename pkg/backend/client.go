// Package backend talks to the quiz validation service: it creates a quiz for a
// pull request and queries the quiz status.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	holonlog "github.com/holon-run/prquiz/pkg/log"
	"github.com/holon-run/prquiz/pkg/quiz"
)

const (
	// DefaultBaseURL points at a locally running mock backend.
	DefaultBaseURL = "http://localhost:3000"

	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "prquiz"
)

// Config configures a Client.
type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string

	// HTTPClient supplies the underlying transport. The API key is layered on
	// top of it. Nil uses a default client.
	HTTPClient *http.Client
}

// Client is the quiz service client.
type Client struct {
	baseURL   string
	apiKey    string
	userAgent string
	http      *http.Client
}

// NewClient creates a client. It never fails; a missing API key surfaces as
// an AuthError on the first call.
func NewClient(cfg Config) *Client {
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	copied := *base
	httpClient := &copied
	if apiKey != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey}))
	}
	httpClient.Timeout = timeout

	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		userAgent: userAgent,
		http:      httpClient,
	}
}

// Generate creates a new quiz for the request. Every call creates an
// independent quiz; deduplication across runs is not attempted.
func (c *Client) Generate(ctx context.Context, req quiz.ValidationRequest) (quiz.Subject, *quiz.AuthError, error) {
	if authErr := c.checkKey(); authErr != nil {
		return quiz.Subject{}, authErr, nil
	}

	payload, err := json.Marshal(newGenerateRequest(req))
	if err != nil {
		return quiz.Subject{}, nil, fmt.Errorf("failed to encode quiz request: %w", err)
	}

	var out generateResponse
	authErr, err := c.do(ctx, http.MethodPost, "/generate-quiz", payload, &out)
	if err != nil || authErr != nil {
		return quiz.Subject{}, authErr, err
	}
	if authErr, err := out.failure(); err != nil || authErr != nil {
		return quiz.Subject{}, authErr, err
	}
	if out.QuizID == "" {
		return quiz.Subject{}, nil, fmt.Errorf("quiz service returned no quiz id")
	}

	holonlog.Debug("quiz generated", "quiz_id", out.QuizID, "url", out.QuizURL)
	return quiz.Subject{ID: out.QuizID, URL: out.QuizURL}, nil, nil
}

// Status queries the current state of a quiz. Auth failures come back as a
// *quiz.AuthError response; the error return is reserved for transport and
// server faults.
func (c *Client) Status(ctx context.Context, quizID string) (quiz.Response, error) {
	if authErr := c.checkKey(); authErr != nil {
		return authErr, nil
	}

	var out statusResponse
	authErr, err := c.do(ctx, http.MethodGet, "/quiz-status/"+url.PathEscape(quizID), nil, &out)
	if err != nil {
		return nil, err
	}
	if authErr != nil {
		return authErr, nil
	}
	return out.toStatus()
}

func (c *Client) checkKey() *quiz.AuthError {
	if c.apiKey == "" {
		return &quiz.AuthError{Code: quiz.AuthInvalidKey, Message: "API key not provided or empty"}
	}
	return nil
}

// do performs one request and decodes a 2xx body into out. Auth refusals are
// returned as values; everything else that is not a 2xx is a *ServiceError.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) (*quiz.AuthError, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if authErr := classifyAuth(resp.StatusCode, data); authErr != nil {
		return authErr, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newServiceError(method, path, resp, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil, nil
}
