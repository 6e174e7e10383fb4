// Package poller waits for a quiz to reach a terminal state by querying its
// status at a bounded number of attempts.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	holonlog "github.com/holon-run/prquiz/pkg/log"
	"github.com/holon-run/prquiz/pkg/quiz"
)

// Source answers status queries for a quiz.
type Source interface {
	Status(ctx context.Context, quizID string) (quiz.Response, error)
}

// Strategy selects how the delay between attempts evolves.
type Strategy string

const (
	// StrategyFixed waits Interval between every attempt.
	StrategyFixed Strategy = "fixed"
	// StrategyExponential starts at Interval and grows with jitter, capped at
	// maxGrowth times Interval.
	StrategyExponential Strategy = "exponential"

	maxGrowth = 8
)

// ParseStrategy accepts "fixed" or "exponential". Empty means fixed.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyFixed:
		return StrategyFixed, nil
	case StrategyExponential:
		return StrategyExponential, nil
	default:
		return "", fmt.Errorf("unknown backoff strategy %q (want fixed or exponential)", s)
	}
}

// Options bound a polling run.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
	Backoff     Strategy

	// Sleep blocks between attempts. Nil uses a timer that returns early with
	// ctx.Err() when the context ends.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Validate rejects negative bounds and unknown strategies.
func (o Options) Validate() error {
	if o.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must not be negative, got %d", o.MaxAttempts)
	}
	if o.Interval < 0 {
		return fmt.Errorf("polling interval must not be negative, got %s", o.Interval)
	}
	if _, err := ParseStrategy(string(o.Backoff)); err != nil {
		return err
	}
	return nil
}

// Outcome is the terminal result of a poll. The set is closed: Passed,
// Exhausted or Denied.
type Outcome interface {
	isOutcome()
	// QueryCount is the number of status queries issued.
	QueryCount() int
}

// Passed means the quiz was observed PASSED.
type Passed struct {
	Status  quiz.Status
	Queries int
}

// Exhausted means attempts ran out. Last holds the final confirmatory
// status, or nil when no query was issued.
type Exhausted struct {
	Last    *quiz.Status
	Queries int
}

// Denied means the service refused the credential. It is never retried.
type Denied struct {
	Err     *quiz.AuthError
	Queries int
}

func (Passed) isOutcome()    {}
func (Exhausted) isOutcome() {}
func (Denied) isOutcome()    {}

func (o Passed) QueryCount() int    { return o.Queries }
func (o Exhausted) QueryCount() int { return o.Queries }
func (o Denied) QueryCount() int    { return o.Queries }

// Poll queries src for quizID up to opts.MaxAttempts times. PASSED returns at
// once; FAILED and PENDING keep polling, since the author may still retry the
// quiz. After the last attempt one more query is made and its status is
// returned as Exhausted whatever its value. Transport errors end the poll.
func Poll(ctx context.Context, src Source, quizID string, opts Options) (Outcome, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxAttempts == 0 {
		holonlog.Warn("polling skipped, max attempts is zero", "quiz_id", quizID)
		return Exhausted{}, nil
	}

	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	delays := newDelays(opts)
	queries := 0

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		resp, err := src.Status(ctx, quizID)
		queries++
		if err != nil {
			return nil, fmt.Errorf("status query %d/%d for %s failed: %w", attempt, opts.MaxAttempts, quizID, err)
		}

		switch r := resp.(type) {
		case *quiz.AuthError:
			return Denied{Err: r, Queries: queries}, nil
		case quiz.Status:
			holonlog.Info("quiz status", "quiz_id", quizID, "attempt", attempt, "max_attempts", opts.MaxAttempts, "state", r.State, "quiz_attempts", r.Attempts)
			if r.Passed() {
				return Passed{Status: r, Queries: queries}, nil
			}
			if r.State == quiz.StateFailed {
				holonlog.Info("quiz failed, waiting for the author to retry", "quiz_id", quizID)
			}
		default:
			return nil, fmt.Errorf("unexpected status response %T", resp)
		}

		if attempt == opts.MaxAttempts {
			break
		}
		if err := sleep(ctx, delays.next()); err != nil {
			return nil, fmt.Errorf("polling interrupted: %w", err)
		}
	}

	holonlog.Warn("max polling attempts reached, checking final status", "quiz_id", quizID, "max_attempts", opts.MaxAttempts)
	resp, err := src.Status(ctx, quizID)
	queries++
	if err != nil {
		return nil, fmt.Errorf("final status query for %s failed: %w", quizID, err)
	}
	switch r := resp.(type) {
	case *quiz.AuthError:
		return Denied{Err: r, Queries: queries}, nil
	case quiz.Status:
		return Exhausted{Last: &r, Queries: queries}, nil
	default:
		return nil, fmt.Errorf("unexpected status response %T", resp)
	}
}

type delaySequence struct {
	interval time.Duration
	exp      *backoff.ExponentialBackOff
}

func newDelays(opts Options) *delaySequence {
	d := &delaySequence{interval: opts.Interval}
	if opts.Backoff == StrategyExponential && opts.Interval > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = opts.Interval
		exp.MaxInterval = opts.Interval * maxGrowth
		exp.MaxElapsedTime = 0
		exp.Reset()
		d.exp = exp
	}
	return d
}

func (d *delaySequence) next() time.Duration {
	if d.exp == nil {
		return d.interval
	}
	next := d.exp.NextBackOff()
	if next == backoff.Stop {
		return d.exp.MaxInterval
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
