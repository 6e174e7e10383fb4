package quiz

import "fmt"

// AuthCode classifies why the service refused the credential.
type AuthCode string

const (
	AuthInvalidKey  AuthCode = "invalid_api_key"
	AuthExpiredKey  AuthCode = "expired_api_key"
	AuthRateLimited AuthCode = "rate_limited"
)

// ParseAuthCode returns ok=false for codes that are not auth failures.
func ParseAuthCode(s string) (AuthCode, bool) {
	switch AuthCode(s) {
	case AuthInvalidKey, AuthExpiredKey, AuthRateLimited:
		return AuthCode(s), true
	default:
		return "", false
	}
}

// AuthError is an expected business answer from the service, not a transport
// fault. It is terminal: callers never retry on it.
type AuthError struct {
	Code    AuthCode `json:"error"`
	Message string   `json:"message"`
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (*AuthError) isResponse() {}

// Response is what a status query yields: either a Status or an *AuthError.
// The set is closed; switch on the concrete type.
type Response interface {
	isResponse()
}

var (
	_ Response = Status{}
	_ Response = (*AuthError)(nil)
)
