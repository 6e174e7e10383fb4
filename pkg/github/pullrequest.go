package github

import (
	"context"
	"fmt"

	gh "github.com/google/go-github/v68/github"

	"github.com/holon-run/prquiz/pkg/quiz"
)

// FetchPullRequest fetches the pull request metadata.
func (c *Client) FetchPullRequest(ctx context.Context, owner, repo string, number int) (quiz.PullRequestRef, error) {
	pr, resp, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return quiz.PullRequestRef{}, fmt.Errorf("failed to fetch PR %s/%s#%d: %w", owner, repo, number, err)
	}
	c.rateLimit.Update(resp, "pulls.get")

	return convertFromGitHubPR(owner, repo, pr), nil
}

// convertFromGitHubPR uses the Get helpers so missing fields stay empty.
func convertFromGitHubPR(owner, repo string, pr *gh.PullRequest) quiz.PullRequestRef {
	return quiz.PullRequestRef{
		Owner:       owner,
		Repo:        repo,
		Number:      pr.GetNumber(),
		Author:      pr.GetUser().GetLogin(),
		HeadSHA:     pr.GetHead().GetSHA(),
		BaseBranch:  pr.GetBase().GetRef(),
		HeadBranch:  pr.GetHead().GetRef(),
		Title:       pr.GetTitle(),
		Description: pr.GetBody(),
	}
}

// ListFiles returns every file changed by the pull request, following
// pagination to the end.
func (c *Client) ListFiles(ctx context.Context, owner, repo string, number int) ([]quiz.FileChange, error) {
	opts := c.listOptions(1)
	files := []quiz.FileChange{}

	for {
		page, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, repo, number, &opts)
		if err != nil {
			return nil, fmt.Errorf("listing files for %s/%s#%d (page %d): %w", owner, repo, number, opts.Page, err)
		}
		c.rateLimit.Update(resp, "pulls.files")

		for _, f := range page {
			files = append(files, convertFromCommitFile(f))
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return files, nil
}

func convertFromCommitFile(f *gh.CommitFile) quiz.FileChange {
	return quiz.FileChange{
		Filename:  f.GetFilename(),
		Status:    quiz.ParseFileStatus(f.GetStatus()),
		Additions: f.GetAdditions(),
		Deletions: f.GetDeletions(),
		Changes:   f.GetChanges(),
		Patch:     f.GetPatch(),
	}
}
