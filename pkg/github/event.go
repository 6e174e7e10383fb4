package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	gh "github.com/google/go-github/v68/github"

	"github.com/holon-run/prquiz/pkg/quiz"
)

// ErrNotPullRequest is returned when the workflow was not triggered by a pull
// request event.
var ErrNotPullRequest = errors.New("event is not a pull_request event")

// LoadEvent reads the Actions event payload at path and returns the pull
// request it refers to. The repository comes from the payload, falling back
// to repository ("owner/repo", usually $GITHUB_REPOSITORY).
func LoadEvent(path, repository string) (quiz.PullRequestRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return quiz.PullRequestRef{}, fmt.Errorf("failed to read event payload: %w", err)
	}

	var event gh.PullRequestEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return quiz.PullRequestRef{}, fmt.Errorf("failed to parse event payload: %w", err)
	}
	if event.PullRequest == nil {
		return quiz.PullRequestRef{}, ErrNotPullRequest
	}

	owner := event.GetRepo().GetOwner().GetLogin()
	repo := event.GetRepo().GetName()
	if owner == "" || repo == "" {
		owner, repo, err = SplitRepo(repository)
		if err != nil {
			return quiz.PullRequestRef{}, fmt.Errorf("event has no repository: %w", err)
		}
	}

	ref := convertFromGitHubPR(owner, repo, event.PullRequest)
	if ref.Number == 0 {
		ref.Number = event.GetNumber()
	}
	if ref.Number == 0 {
		return quiz.PullRequestRef{}, fmt.Errorf("event payload has no pull request number")
	}
	return ref, nil
}
