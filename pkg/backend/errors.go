package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/holon-run/prquiz/pkg/quiz"
)

// ServiceError is a non-auth, non-2xx answer from the quiz service. It is
// fatal to the run; the gate does not retry it.
type ServiceError struct {
	Method     string
	Path       string
	StatusCode int
	Status     string
	Message    string
}

func (e *ServiceError) Error() string {
	msg := fmt.Sprintf("quiz service error (status %d) on %s %s", e.StatusCode, e.Method, e.Path)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Temporary reports whether the failure is a server-side fault that a later
// run might not hit.
func (e *ServiceError) Temporary() bool {
	return e.StatusCode >= 500
}

// IsNotFound reports whether err is a 404 from the quiz service.
func IsNotFound(err error) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.StatusCode == http.StatusNotFound
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func newServiceError(method, path string, resp *http.Response, body []byte) *ServiceError {
	svcErr := &ServiceError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
	}

	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil {
		svcErr.Message = strings.TrimSpace(strings.Join(nonEmpty(env.Error, env.Message), ": "))
	}
	if svcErr.Message == "" {
		svcErr.Message = strings.TrimSpace(truncate(string(body), 200))
	}
	return svcErr
}

// classifyAuth maps credential refusals to AuthError values. 401 and 403
// default to invalid_api_key, 429 to rate_limited; a recognised error code in
// the body wins over the default.
func classifyAuth(statusCode int, body []byte) *quiz.AuthError {
	var fallback quiz.AuthCode
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		fallback = quiz.AuthInvalidKey
	case http.StatusTooManyRequests:
		fallback = quiz.AuthRateLimited
	default:
		return nil
	}

	var env errorEnvelope
	_ = json.Unmarshal(body, &env)

	code := fallback
	if parsed, ok := quiz.ParseAuthCode(env.Error); ok {
		code = parsed
	}

	msg := env.Message
	if msg == "" {
		switch code {
		case quiz.AuthRateLimited:
			msg = "too many requests, try again in a few minutes"
		case quiz.AuthExpiredKey:
			msg = "API key has expired"
		default:
			msg = "credentials rejected"
		}
	}
	return &quiz.AuthError{Code: code, Message: msg}
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
