package github

import (
	"context"

	"github.com/holon-run/prquiz/pkg/quiz"
)

// MetadataSource assembles the validation request for one pull request.
type MetadataSource struct {
	Client *Client
	Ref    quiz.PullRequestRef
}

// FetchRequest refreshes the pull request metadata and lists its files.
func (m *MetadataSource) FetchRequest(ctx context.Context) (quiz.ValidationRequest, error) {
	pr, err := m.Client.FetchPullRequest(ctx, m.Ref.Owner, m.Ref.Repo, m.Ref.Number)
	if err != nil {
		return quiz.ValidationRequest{}, err
	}

	files, err := m.Client.ListFiles(ctx, pr.Owner, pr.Repo, pr.Number)
	if err != nil {
		return quiz.ValidationRequest{}, err
	}

	return quiz.ValidationRequest{PullRequest: pr, Files: files}, nil
}
