package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holon-run/prquiz/pkg/backend"
	"github.com/holon-run/prquiz/pkg/comment"
	"github.com/holon-run/prquiz/pkg/logs/redact"
	"github.com/holon-run/prquiz/pkg/poller"
	"github.com/holon-run/prquiz/pkg/quiz"
)

var testPR = quiz.PullRequestRef{Owner: "acme", Repo: "api", Number: 7, Title: "Add login"}

type fakeMetadata struct{ err error }

func (f fakeMetadata) FetchRequest(ctx context.Context) (quiz.ValidationRequest, error) {
	if f.err != nil {
		return quiz.ValidationRequest{}, f.err
	}
	return quiz.ValidationRequest{PullRequest: testPR}, nil
}

type fakeGenerator struct {
	subject quiz.Subject
	authErr *quiz.AuthError
	err     error
	calls   int
}

func (f *fakeGenerator) Generate(ctx context.Context, req quiz.ValidationRequest) (quiz.Subject, *quiz.AuthError, error) {
	f.calls++
	return f.subject, f.authErr, f.err
}

type fakeStatus struct {
	responses []quiz.Response
	err       error
	calls     int
}

func (f *fakeStatus) Status(ctx context.Context, id string) (quiz.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	i := f.calls - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

type fakeComments struct {
	bodies []string
	err    error
}

func (f *fakeComments) Upsert(ctx context.Context, pr quiz.PullRequestRef, body string) (comment.Result, error) {
	if f.err != nil {
		return comment.Result{}, f.err
	}
	f.bodies = append(f.bodies, body)
	return comment.Result{CommentID: 1, Created: len(f.bodies) == 1}, nil
}

type fakeOutputs map[string]string

func (f fakeOutputs) SetOutput(name, value string) error {
	f[name] = value
	return nil
}

type harness struct {
	gen      *fakeGenerator
	status   *fakeStatus
	comments *fakeComments
	outputs  fakeOutputs
	gate     *Gate
}

func newHarness(t *testing.T, maxAttempts int, responses ...quiz.Response) *harness {
	t.Helper()

	renderer, err := comment.NewRenderer("en")
	require.NoError(t, err)

	h := &harness{
		gen:      &fakeGenerator{subject: quiz.Subject{ID: "quiz-1", URL: "http://quiz.test/quiz/quiz-1"}},
		status:   &fakeStatus{responses: responses},
		comments: &fakeComments{},
		outputs:  fakeOutputs{},
	}
	h.gate = &Gate{
		Metadata:  fakeMetadata{},
		Generator: h.gen,
		Status:    h.status,
		Comments:  h.comments,
		Outputs:   h.outputs,
		Messages:  renderer,
		Poll:      poller.Options{MaxAttempts: maxAttempts},
		Redactor:  redact.New(redact.Config{Secrets: []string{"super-secret-key"}}),
	}
	return h
}

func TestGateApproved(t *testing.T) {
	h := newHarness(t, 5,
		quiz.Status{State: quiz.StatePending},
		quiz.Status{State: quiz.StatePassed, Attempts: 2},
	)

	d, err := h.gate.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, d.Approved())
	assert.Equal(t, VerdictApproved, d.Verdict)
	assert.Equal(t, 2, h.status.calls)
	// Only the quiz comment; passing does not touch the thread again.
	assert.Len(t, h.comments.bodies, 1)
	assert.Contains(t, h.comments.bodies[0], "http://quiz.test/quiz/quiz-1")
	assert.Equal(t, "http://quiz.test/quiz/quiz-1", h.outputs[OutputQuizURL])
	assert.Equal(t, "PASSED", h.outputs[OutputQuizStatus])
}

func TestGateRejectedAndTimeoutDiffer(t *testing.T) {
	rejected := newHarness(t, 2, quiz.Status{State: quiz.StateFailed, Attempts: 1})
	rd, err := rejected.gate.Run(context.Background())
	require.NoError(t, err)

	timedOut := newHarness(t, 2, quiz.Status{State: quiz.StatePending})
	td, err := timedOut.gate.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, VerdictRejected, rd.Verdict)
	assert.Equal(t, VerdictTimeout, td.Verdict)
	assert.False(t, rd.Approved())
	assert.False(t, td.Approved())
	assert.NotEqual(t, rd.Message, td.Message)
	assert.Contains(t, rd.Message, "http://quiz.test/quiz/quiz-1")
	assert.Contains(t, td.Message, "http://quiz.test/quiz/quiz-1")
	assert.Equal(t, "FAILED", rejected.outputs[OutputQuizStatus])
	assert.Equal(t, StatusTimeout, timedOut.outputs[OutputQuizStatus])
	assert.Equal(t, 3, rejected.status.calls)
}

func TestGateZeroAttemptsTimesOut(t *testing.T) {
	h := newHarness(t, 0, quiz.Status{State: quiz.StatePassed})

	d, err := h.gate.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, VerdictTimeout, d.Verdict)
	assert.Nil(t, d.Status)
	assert.Zero(t, h.status.calls)
}

func TestGatePassedOnConfirmation(t *testing.T) {
	h := newHarness(t, 1,
		quiz.Status{State: quiz.StatePending},
		quiz.Status{State: quiz.StatePassed, Attempts: 1},
	)

	d, err := h.gate.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Approved())
}

func TestGateAuthErrorOnGenerateNeverPolls(t *testing.T) {
	h := newHarness(t, 5, quiz.Status{State: quiz.StatePassed})
	h.gen.authErr = &quiz.AuthError{Code: quiz.AuthInvalidKey, Message: "key super-secret-key unknown"}

	d, err := h.gate.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, VerdictUnauthorized, d.Verdict)
	assert.Zero(t, h.status.calls)
	require.Len(t, h.comments.bodies, 1)
	assert.NotContains(t, h.comments.bodies[0], "super-secret-key")
	assert.Contains(t, d.Message, "invalid_api_key")
	assert.Equal(t, StatusUnauthorized, h.outputs[OutputQuizStatus])
	assert.NotContains(t, h.outputs, OutputQuizURL)
}

func TestGateEmptyAPIKeyShortCircuits(t *testing.T) {
	h := newHarness(t, 5, quiz.Status{State: quiz.StatePassed})
	client := backend.NewClient(backend.Config{BaseURL: "http://127.0.0.1:1", APIKey: ""})
	h.gate.Generator = client
	h.gate.Status = client

	d, err := h.gate.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, VerdictUnauthorized, d.Verdict)
	require.NotNil(t, d.AuthErr)
	assert.Equal(t, quiz.AuthInvalidKey, d.AuthErr.Code)
}

func TestGateAuthErrorWhilePolling(t *testing.T) {
	h := newHarness(t, 5,
		quiz.Status{State: quiz.StatePending},
		&quiz.AuthError{Code: quiz.AuthRateLimited},
	)

	d, err := h.gate.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, VerdictUnauthorized, d.Verdict)
	assert.Equal(t, "quiz-1", d.Subject.ID)
	assert.Equal(t, 2, h.status.calls)
	assert.Len(t, h.comments.bodies, 2)
}

func TestGateFaults(t *testing.T) {
	t.Run("metadata", func(t *testing.T) {
		h := newHarness(t, 1, quiz.Status{State: quiz.StatePassed})
		h.gate.Metadata = fakeMetadata{err: errors.New("404 Not Found")}

		_, err := h.gate.Run(context.Background())
		var stepErr *StepError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, "fetch pull request metadata", stepErr.Step)
		assert.Zero(t, h.gen.calls)
	})

	t.Run("generate", func(t *testing.T) {
		h := newHarness(t, 1, quiz.Status{State: quiz.StatePassed})
		h.gen.err = errors.New("dial tcp: connection refused for super-secret-key")

		_, err := h.gate.Run(context.Background())
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "super-secret-key")
		assert.Contains(t, err.Error(), "generate quiz")
	})

	t.Run("comment", func(t *testing.T) {
		h := newHarness(t, 1, quiz.Status{State: quiz.StatePassed})
		h.comments.err = &comment.APIError{Op: "create", Err: errors.New("403")}

		_, err := h.gate.Run(context.Background())
		var apiErr *comment.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Zero(t, h.status.calls)
	})

	t.Run("poll", func(t *testing.T) {
		h := newHarness(t, 3)
		h.status.err = &backend.ServiceError{StatusCode: 502, Method: "GET", Path: "/quiz-status/quiz-1"}

		_, err := h.gate.Run(context.Background())
		var svcErr *backend.ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, 1, h.status.calls)
	})

	t.Run("invalid options", func(t *testing.T) {
		h := newHarness(t, -1)

		_, err := h.gate.Run(context.Background())
		require.Error(t, err)
		assert.Zero(t, h.gen.calls)
	})
}

func TestDecisionStatusOutput(t *testing.T) {
	tests := []struct {
		verdict Verdict
		want    string
	}{
		{VerdictApproved, "PASSED"},
		{VerdictRejected, "FAILED"},
		{VerdictTimeout, "TIMEOUT"},
		{VerdictUnauthorized, "UNAUTHORIZED"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Decision{Verdict: tt.verdict}.StatusOutput(), tt.verdict)
	}
}
