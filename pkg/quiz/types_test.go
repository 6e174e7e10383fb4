package quiz

import "testing"

func TestParseFileStatus(t *testing.T) {
	tests := []struct {
		in   string
		want FileStatus
	}{
		{"added", FileAdded},
		{"modified", FileModified},
		{"removed", FileRemoved},
		{"renamed", FileRenamed},
		{"copied", FileModified},
		{"changed", FileModified},
		{"", FileModified},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseFileStatus(tt.in); got != tt.want {
				t.Errorf("ParseFileStatus(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseState(t *testing.T) {
	for _, s := range []string{"PENDING", "FAILED", "PASSED"} {
		if _, err := ParseState(s); err != nil {
			t.Errorf("ParseState(%q) error = %v", s, err)
		}
	}
	if _, err := ParseState("passed"); err == nil {
		t.Error("ParseState is case sensitive, expected error for lowercase")
	}
}

func TestParseAuthCode(t *testing.T) {
	if code, ok := ParseAuthCode("expired_api_key"); !ok || code != AuthExpiredKey {
		t.Errorf("ParseAuthCode(expired_api_key) = %v, %v", code, ok)
	}
	if _, ok := ParseAuthCode("not_found"); ok {
		t.Error("ParseAuthCode(not_found) should not be an auth code")
	}
}

func TestAuthErrorMessage(t *testing.T) {
	err := &AuthError{Code: AuthRateLimited, Message: "slow down"}
	if got := err.Error(); got != "rate_limited: slow down" {
		t.Errorf("Error() = %q", got)
	}
	bare := &AuthError{Code: AuthInvalidKey}
	if got := bare.Error(); got != "invalid_api_key" {
		t.Errorf("Error() = %q", got)
	}
}

func TestPullRequestRefString(t *testing.T) {
	ref := PullRequestRef{Owner: "holon-run", Repo: "prquiz", Number: 12}
	if got := ref.String(); got != "holon-run/prquiz#12" {
		t.Errorf("String() = %q", got)
	}
	if got := ref.FullName(); got != "holon-run/prquiz" {
		t.Errorf("FullName() = %q", got)
	}
}

func TestResponseSwitch(t *testing.T) {
	responses := []Response{
		Status{State: StatePassed, Attempts: 1},
		&AuthError{Code: AuthInvalidKey},
	}

	var statuses, denials int
	for _, r := range responses {
		switch r.(type) {
		case Status:
			statuses++
		case *AuthError:
			denials++
		}
	}
	if statuses != 1 || denials != 1 {
		t.Errorf("statuses=%d denials=%d, want 1 and 1", statuses, denials)
	}
}
