// Package config resolves the gate settings from defaults, an optional YAML
// file, Actions step inputs and command line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cli/go-gh/v2/pkg/auth"
	"gopkg.in/yaml.v3"

	"github.com/holon-run/prquiz/pkg/backend"
	"github.com/holon-run/prquiz/pkg/comment"
	"github.com/holon-run/prquiz/pkg/poller"
)

// Defaults.
const (
	DefaultPollingInterval    = 10
	DefaultMaxPollingAttempts = 30
	DefaultHost               = "github.com"
)

// ErrMissingGitHubToken is returned when no GitHub token could be found.
var ErrMissingGitHubToken = errors.New("GitHub token is required (set --github-token, the github-token input, GITHUB_TOKEN or log in with gh)")

// Config is the resolved gate configuration.
type Config struct {
	GitHubToken        string
	BackendURL         string
	APIKey             string
	PollingInterval    int // seconds
	MaxPollingAttempts int
	Backoff            string
	Language           string
	Marker             string
	LogLevel           string
	LogFormat          string
	PR                 string
}

// Layer is one source of settings. Nil fields leave lower layers untouched.
type Layer struct {
	GitHubToken        *string `yaml:"-"`
	BackendURL         *string `yaml:"backend_url"`
	APIKey             *string `yaml:"api_key"`
	PollingInterval    *int    `yaml:"polling_interval"`
	MaxPollingAttempts *int    `yaml:"max_polling_attempts"`
	Backoff            *string `yaml:"backoff"`
	Language           *string `yaml:"language"`
	Marker             *string `yaml:"marker"`
	LogLevel           *string `yaml:"log_level"`
	LogFormat          *string `yaml:"log_format"`
	PR                 *string `yaml:"pr"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		BackendURL:         backend.DefaultBaseURL,
		PollingInterval:    DefaultPollingInterval,
		MaxPollingAttempts: DefaultMaxPollingAttempts,
		Backoff:            string(poller.StrategyFixed),
		Language:           comment.DefaultLanguage,
		Marker:             comment.DefaultMarker,
		LogLevel:           "progress",
		LogFormat:          "console",
	}
}

// Resolve applies layers over the defaults, later layers winning.
func Resolve(layers ...Layer) Config {
	cfg := Defaults()
	for _, l := range layers {
		cfg.apply(l)
	}
	return cfg
}

func (c *Config) apply(l Layer) {
	setString(&c.GitHubToken, l.GitHubToken)
	setString(&c.BackendURL, l.BackendURL)
	setString(&c.APIKey, l.APIKey)
	setString(&c.Backoff, l.Backoff)
	setString(&c.Language, l.Language)
	setString(&c.Marker, l.Marker)
	setString(&c.LogLevel, l.LogLevel)
	setString(&c.LogFormat, l.LogFormat)
	setString(&c.PR, l.PR)
	if l.PollingInterval != nil {
		c.PollingInterval = *l.PollingInterval
	}
	if l.MaxPollingAttempts != nil {
		c.MaxPollingAttempts = *l.MaxPollingAttempts
	}
}

// setString ignores blank values so an empty input does not clear a
// lower layer.
func setString(dst *string, v *string) {
	if v == nil {
		return
	}
	if s := strings.TrimSpace(*v); s != "" {
		*dst = s
	}
}

// LoadFile reads a YAML layer. Unknown keys are rejected.
func LoadFile(path string) (Layer, error) {
	f, err := os.Open(path)
	if err != nil {
		return Layer{}, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	var l Layer
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&l); err != nil {
		return Layer{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return l, nil
}

// InputNames maps each setting to the step input names that carry it, in
// lookup order.
var InputNames = struct {
	GitHubToken, BackendURL, APIKey, PollingInterval, MaxPollingAttempts []string
	Backoff, Language, Marker, LogLevel, PR                              []string
}{
	GitHubToken:        []string{"github-token"},
	BackendURL:         []string{"backend-url", "mock-backend-url"},
	APIKey:             []string{"api-key"},
	PollingInterval:    []string{"polling-interval"},
	MaxPollingAttempts: []string{"max-polling-attempts"},
	Backoff:            []string{"backoff"},
	Language:           []string{"language"},
	Marker:             []string{"marker"},
	LogLevel:           []string{"log-level"},
	PR:                 []string{"pr"},
}

// FromInputs builds a layer from Actions step inputs read through input.
func FromInputs(input func(name string) string) (Layer, error) {
	lookup := func(names []string) *string {
		for _, n := range names {
			if v := input(n); v != "" {
				return &v
			}
		}
		return nil
	}

	l := Layer{
		GitHubToken: lookup(InputNames.GitHubToken),
		BackendURL:  lookup(InputNames.BackendURL),
		APIKey:      lookup(InputNames.APIKey),
		Backoff:     lookup(InputNames.Backoff),
		Language:    lookup(InputNames.Language),
		Marker:      lookup(InputNames.Marker),
		LogLevel:    lookup(InputNames.LogLevel),
		PR:          lookup(InputNames.PR),
	}

	var err error
	if l.PollingInterval, err = parseInt("polling-interval", lookup(InputNames.PollingInterval)); err != nil {
		return Layer{}, err
	}
	if l.MaxPollingAttempts, err = parseInt("max-polling-attempts", lookup(InputNames.MaxPollingAttempts)); err != nil {
		return Layer{}, err
	}
	return l, nil
}

func parseInt(name string, v *string) (*int, error) {
	if v == nil {
		return nil, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(*v))
	if err != nil {
		return nil, fmt.Errorf("input %s must be an integer, got %q", name, *v)
	}
	return &n, nil
}

// Validate checks the resolved values.
func (c Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend URL must be an http(s) URL, got %q", c.BackendURL)
	}
	if c.PollingInterval < 0 {
		return fmt.Errorf("polling interval must not be negative, got %d", c.PollingInterval)
	}
	if c.MaxPollingAttempts < 0 {
		return fmt.Errorf("max polling attempts must not be negative, got %d", c.MaxPollingAttempts)
	}
	if _, err := poller.ParseStrategy(c.Backoff); err != nil {
		return err
	}
	if strings.TrimSpace(c.Marker) == "" {
		return errors.New("comment marker must not be empty")
	}
	return nil
}

// PollOptions converts the polling settings.
func (c Config) PollOptions() poller.Options {
	return poller.Options{
		Interval:    time.Duration(c.PollingInterval) * time.Second,
		MaxAttempts: c.MaxPollingAttempts,
		Backoff:     poller.Strategy(c.Backoff),
	}
}

// tokenForHost is swapped in tests.
var tokenForHost = auth.TokenForHost

// ResolveGitHubToken fills GitHubToken from GITHUB_TOKEN, GH_TOKEN or the gh
// CLI login, in that order, when no higher layer set it. It returns the
// source the token came from.
func (c *Config) ResolveGitHubToken(getenv func(string) string) (string, error) {
	if c.GitHubToken != "" {
		return "config", nil
	}
	for _, key := range []string{"GITHUB_TOKEN", "GH_TOKEN"} {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			c.GitHubToken = v
			return key, nil
		}
	}
	if token, source := tokenForHost(DefaultHost); token != "" {
		c.GitHubToken = token
		return source, nil
	}
	return "", ErrMissingGitHubToken
}
