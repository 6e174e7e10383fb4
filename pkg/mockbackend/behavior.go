package mockbackend

import (
	"fmt"
	"time"

	"github.com/holon-run/prquiz/pkg/quiz"
)

// Behavior controls how the mock answers status queries.
type Behavior struct {
	// DefaultStatus is the state every new quiz starts in.
	DefaultStatus quiz.State
	// AutoPassAfter flips a quiz to PASSED once it is this old. Zero disables it.
	AutoPassAfter time.Duration
	// FailedAttemptsBeforePass is reported as prior failures when a quiz
	// auto-passes.
	FailedAttemptsBeforePass int
}

// DefaultBehavior keeps every quiz PENDING until updated by hand.
func DefaultBehavior() Behavior {
	return Behavior{DefaultStatus: quiz.StatePending}
}

// Validate checks the behavior settings.
func (b Behavior) Validate() error {
	if _, err := quiz.ParseState(string(b.DefaultStatus)); err != nil {
		return fmt.Errorf("default status: %w", err)
	}
	if b.AutoPassAfter < 0 {
		return fmt.Errorf("auto-pass delay must not be negative, got %s", b.AutoPassAfter)
	}
	if b.FailedAttemptsBeforePass < 0 {
		return fmt.Errorf("failed attempts must not be negative, got %d", b.FailedAttemptsBeforePass)
	}
	return nil
}

// apply advances r according to the behavior and reports whether it changed.
func (b Behavior) apply(r *Record, now time.Time) bool {
	if b.AutoPassAfter <= 0 || r.State == quiz.StatePassed {
		return false
	}
	if now.Sub(r.CreatedAt) < b.AutoPassAfter {
		return false
	}
	r.State = quiz.StatePassed
	r.Attempts = b.FailedAttemptsBeforePass + 1
	r.LastAttemptAt = &now
	return true
}

// Clock returns the current time. Tests replace it to move time forward.
type Clock func() time.Time
