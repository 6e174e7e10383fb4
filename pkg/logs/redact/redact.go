// Package redact masks credentials before text reaches CI logs, annotations
// or pull request comments.
package redact

import (
	"os"
	"regexp"
	"sort"
	"strings"
)

// Mode represents the redaction mode.
type Mode string

const (
	// ModeOff masks only the registered secret values.
	ModeOff Mode = "off"
	// ModeBasic also masks token-shaped strings, auth headers and sensitive
	// query parameters.
	ModeBasic Mode = "basic"

	defaultReplacement = "***"

	// Shorter values are too likely to collide with ordinary words.
	minSecretLen = 4
)

var (
	headerPattern = regexp.MustCompile(`(?i)\b(Authorization|X-API-Key|X-GitHub-Token|Proxy-Authorization)\s*:\s*[^\n\r]+`)
	queryPattern  = regexp.MustCompile(`([?&](?i:token|key|api_key|apikey|access_token|secret))=[^&\s#'"]+`)
	// GitHub token prefixes: classic, OAuth, user-to-server, server-to-server
	// and refresh tokens, plus fine-grained PATs.
	tokenPattern = regexp.MustCompile(`\b(gh[pousr]_[A-Za-z0-9_]{30,}|github_pat_[A-Za-z0-9_]{22,})\b`)
)

// Redactor masks secrets in text.
type Redactor struct {
	mode        Mode
	secrets     []string
	replacement string
}

// Config holds configuration for a Redactor.
type Config struct {
	Mode        Mode
	Secrets     []string // exact values to mask, e.g. the API key and GitHub token
	Replacement string   // default "***"
}

// New creates a new Redactor with the given configuration.
func New(cfg Config) *Redactor {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeBasic
	}

	replacement := cfg.Replacement
	if replacement == "" {
		replacement = defaultReplacement
	}

	r := &Redactor{mode: mode, replacement: replacement}
	r.Add(cfg.Secrets...)
	return r
}

// Add registers more secret values.
func (r *Redactor) Add(secrets ...string) {
	for _, s := range secrets {
		s = strings.TrimSpace(s)
		if len(s) < minSecretLen {
			continue
		}
		r.secrets = append(r.secrets, s)
	}
	// Longest first so a secret containing another is masked whole.
	sort.SliceStable(r.secrets, func(i, j int) bool {
		return len(r.secrets[i]) > len(r.secrets[j])
	})
}

// Secrets returns the registered secret values.
func (r *Redactor) Secrets() []string {
	return append([]string(nil), r.secrets...)
}

// String returns s with every secret masked.
func (r *Redactor) String(s string) string {
	if r == nil {
		return s
	}
	for _, secret := range r.secrets {
		s = strings.ReplaceAll(s, secret, r.replacement)
	}
	if r.mode == ModeOff {
		return s
	}

	s = headerPattern.ReplaceAllString(s, "$1: "+r.replacement)
	s = queryPattern.ReplaceAllString(s, "$1="+r.replacement)
	s = tokenPattern.ReplaceAllString(s, r.replacement)
	return s
}

// Error returns the redacted message of err, or "" for nil.
func (r *Redactor) Error(err error) string {
	if err == nil {
		return ""
	}
	return r.String(err.Error())
}

// FromEnv creates a Redactor using PRQUIZ_LOG_REDACT for the mode
// ("off" or "basic") and PRQUIZ_LOG_REDACT_REPLACEMENT for the mask.
func FromEnv(secrets ...string) *Redactor {
	mode := Mode(os.Getenv("PRQUIZ_LOG_REDACT"))
	switch mode {
	case ModeOff, ModeBasic:
	default:
		mode = ModeBasic
	}

	return New(Config{
		Mode:        mode,
		Secrets:     secrets,
		Replacement: os.Getenv("PRQUIZ_LOG_REDACT_REPLACEMENT"),
	})
}
