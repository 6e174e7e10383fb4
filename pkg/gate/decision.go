package gate

import (
	"fmt"

	"github.com/holon-run/prquiz/pkg/quiz"
)

// Verdict is the CI decision.
type Verdict string

const (
	VerdictApproved     Verdict = "approved"
	VerdictRejected     Verdict = "rejected"
	VerdictTimeout      Verdict = "timeout"
	VerdictUnauthorized Verdict = "unauthorized"
)

// Decision is the result of a gate run.
type Decision struct {
	Verdict Verdict
	Subject quiz.Subject
	// Status is the last observed quiz status, nil when none was observed.
	Status  *quiz.Status
	AuthErr *quiz.AuthError
	Message string
}

// Approved reports whether the pull request may merge.
func (d Decision) Approved() bool {
	return d.Verdict == VerdictApproved
}

// StatusOutput is the value of the quiz-status output.
func (d Decision) StatusOutput() string {
	switch d.Verdict {
	case VerdictApproved:
		return string(quiz.StatePassed)
	case VerdictRejected:
		return string(quiz.StateFailed)
	case VerdictUnauthorized:
		return StatusUnauthorized
	default:
		return StatusTimeout
	}
}

// StepError is a fault that stopped the run before a decision.
type StepError struct {
	Step string
	Err  error
	msg  string
}

func (e *StepError) Error() string {
	msg := e.msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Step, msg)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
