package backend

import (
	"fmt"
	"time"

	"github.com/holon-run/prquiz/pkg/quiz"
)

// generateRequest is the POST /generate-quiz body.
type generateRequest struct {
	RepoOwner    string            `json:"repoOwner"`
	RepoName     string            `json:"repoName"`
	PRNumber     int               `json:"prNumber"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	CommitSHA    string            `json:"commitSHA"`
	BaseBranch   string            `json:"baseBranch"`
	HeadBranch   string            `json:"headBranch"`
	Author       string            `json:"author"`
	FilesChanged []quiz.FileChange `json:"filesChanged"`
}

func newGenerateRequest(req quiz.ValidationRequest) generateRequest {
	pr := req.PullRequest
	files := req.Files
	if files == nil {
		files = []quiz.FileChange{}
	}
	return generateRequest{
		RepoOwner:    pr.Owner,
		RepoName:     pr.Repo,
		PRNumber:     pr.Number,
		Title:        pr.Title,
		Description:  pr.Description,
		CommitSHA:    pr.HeadSHA,
		BaseBranch:   pr.BaseBranch,
		HeadBranch:   pr.HeadBranch,
		Author:       pr.Author,
		FilesChanged: files,
	}
}

type generateResponse struct {
	QuizID  string `json:"quizId"`
	QuizURL string `json:"quizUrl"`

	errorEnvelope
}

type statusResponse struct {
	Status        string  `json:"status"`
	Attempts      int     `json:"attempts"`
	LastAttemptAt *string `json:"lastAttemptAt"`

	errorEnvelope
}

// failure interprets an error envelope on a 2xx answer. Known auth codes
// become an AuthError; any other code is a service fault.
func (e errorEnvelope) failure() (*quiz.AuthError, error) {
	if e.Error == "" {
		return nil, nil
	}
	if code, ok := quiz.ParseAuthCode(e.Error); ok {
		return &quiz.AuthError{Code: code, Message: e.Message}, nil
	}
	return nil, fmt.Errorf("quiz service error %q: %s", e.Error, e.Message)
}

func (r statusResponse) toStatus() (quiz.Response, error) {
	authErr, err := r.failure()
	if err != nil {
		return nil, err
	}
	if authErr != nil {
		return authErr, nil
	}

	state, err := quiz.ParseState(r.Status)
	if err != nil {
		return nil, err
	}

	status := quiz.Status{State: state, Attempts: r.Attempts}
	if r.LastAttemptAt != nil && *r.LastAttemptAt != "" {
		at, err := time.Parse(time.RFC3339, *r.LastAttemptAt)
		if err != nil {
			return nil, fmt.Errorf("invalid lastAttemptAt %q: %w", *r.LastAttemptAt, err)
		}
		status.LastAttemptAt = &at
	}
	return status, nil
}
