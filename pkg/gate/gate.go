// Package gate runs one quiz validation for a pull request: it creates the
// quiz, keeps the tracking comment current, waits for the result and turns it
// into a CI decision.
package gate

import (
	"context"
	"fmt"

	"github.com/holon-run/prquiz/pkg/comment"
	holonlog "github.com/holon-run/prquiz/pkg/log"
	"github.com/holon-run/prquiz/pkg/logs/redact"
	"github.com/holon-run/prquiz/pkg/poller"
	"github.com/holon-run/prquiz/pkg/quiz"
)

// Output names published to the workflow.
const (
	OutputQuizURL    = "quiz-url"
	OutputQuizStatus = "quiz-status"

	StatusTimeout      = "TIMEOUT"
	StatusUnauthorized = "UNAUTHORIZED"
)

// MetadataSource yields the pull request under validation.
type MetadataSource interface {
	FetchRequest(ctx context.Context) (quiz.ValidationRequest, error)
}

// Generator creates a quiz.
type Generator interface {
	Generate(ctx context.Context, req quiz.ValidationRequest) (quiz.Subject, *quiz.AuthError, error)
}

// CommentUpserter maintains the tracking comment.
type CommentUpserter interface {
	Upsert(ctx context.Context, pr quiz.PullRequestRef, body string) (comment.Result, error)
}

// OutputSink publishes step outputs.
type OutputSink interface {
	SetOutput(name, value string) error
}

// Messages renders comment bodies and decision messages.
type Messages interface {
	RenderQuiz(subject quiz.Subject) string
	RenderAuthError(authErr *quiz.AuthError) string
	Approved(attempts int) string
	Rejected(url string) string
	TimedOut(url string) string
	Unauthorized(code quiz.AuthCode) string
}

// Gate wires the collaborators of one run.
type Gate struct {
	Metadata  MetadataSource
	Generator Generator
	Status    poller.Source
	Comments  CommentUpserter
	Outputs   OutputSink
	Messages  Messages
	Poll      poller.Options
	Redactor  *redact.Redactor
}

// Run executes the gate. Business outcomes (rejected, timed out, refused
// credentials) come back as a Decision; the error is reserved for faults
// that prevented a decision.
func (g *Gate) Run(ctx context.Context) (Decision, error) {
	if err := g.Poll.Validate(); err != nil {
		return Decision{}, g.fail("validate options", err)
	}

	req, err := g.Metadata.FetchRequest(ctx)
	if err != nil {
		return Decision{}, g.fail("fetch pull request metadata", err)
	}
	pr := req.PullRequest
	logger := holonlog.With("pr", pr.String())
	logger.Infow("pull request loaded", "title", pr.Title, "files_changed", len(req.Files))

	subject, authErr, err := g.Generator.Generate(ctx, req)
	if err != nil {
		return Decision{}, g.fail("generate quiz", err)
	}
	if authErr != nil {
		return g.deny(ctx, pr, quiz.Subject{}, authErr)
	}
	logger.Infow("quiz generated", "quiz_id", subject.ID, "quiz_url", subject.URL)

	if err := g.setOutput(OutputQuizURL, subject.URL); err != nil {
		return Decision{}, err
	}

	if _, err := g.Comments.Upsert(ctx, pr, g.Messages.RenderQuiz(subject)); err != nil {
		return Decision{}, g.fail("publish quiz comment", err)
	}

	outcome, err := poller.Poll(ctx, g.Status, subject.ID, g.Poll)
	if err != nil {
		return Decision{}, g.fail("poll quiz status", err)
	}
	logger.Infow("polling finished", "quiz_id", subject.ID, "queries", outcome.QueryCount(), "outcome", fmt.Sprintf("%T", outcome))

	switch o := outcome.(type) {
	case poller.Passed:
		return g.decide(Decision{
			Verdict: VerdictApproved,
			Subject: subject,
			Status:  &o.Status,
			Message: g.Messages.Approved(o.Status.Attempts),
		})
	case poller.Denied:
		return g.deny(ctx, pr, subject, o.Err)
	case poller.Exhausted:
		return g.decide(g.exhausted(subject, o))
	default:
		return Decision{}, fmt.Errorf("unexpected poll outcome %T", outcome)
	}
}

// exhausted maps a run that used all its attempts. A PASSED confirmation
// still approves; FAILED means the author answered and did not pass.
func (g *Gate) exhausted(subject quiz.Subject, o poller.Exhausted) Decision {
	d := Decision{Subject: subject, Status: o.Last}
	switch {
	case o.Last != nil && o.Last.Passed():
		d.Verdict = VerdictApproved
		d.Message = g.Messages.Approved(o.Last.Attempts)
	case o.Last != nil && o.Last.State == quiz.StateFailed:
		d.Verdict = VerdictRejected
		d.Message = g.Messages.Rejected(subject.URL)
	default:
		d.Verdict = VerdictTimeout
		d.Message = g.Messages.TimedOut(subject.URL)
	}
	return d
}

// deny replaces the tracking comment with the credential error.
func (g *Gate) deny(ctx context.Context, pr quiz.PullRequestRef, subject quiz.Subject, authErr *quiz.AuthError) (Decision, error) {
	holonlog.Warn("quiz service refused the credentials", "pr", pr.String(), "code", authErr.Code)

	body := g.Redactor.String(g.Messages.RenderAuthError(authErr))
	if _, err := g.Comments.Upsert(ctx, pr, body); err != nil {
		return Decision{}, g.fail("publish auth error comment", err)
	}

	return g.decide(Decision{
		Verdict: VerdictUnauthorized,
		Subject: subject,
		AuthErr: authErr,
		Message: g.Messages.Unauthorized(authErr.Code),
	})
}

func (g *Gate) decide(d Decision) (Decision, error) {
	d.Message = g.Redactor.String(d.Message)
	if err := g.setOutput(OutputQuizStatus, d.StatusOutput()); err != nil {
		return Decision{}, err
	}
	return d, nil
}

func (g *Gate) setOutput(name, value string) error {
	if g.Outputs == nil {
		return nil
	}
	if err := g.Outputs.SetOutput(name, value); err != nil {
		return g.fail("set output "+name, err)
	}
	return nil
}

// fail wraps err with the failing step and strips secrets from its text.
func (g *Gate) fail(step string, err error) error {
	return &StepError{Step: step, Err: err, msg: g.Redactor.Error(err)}
}
