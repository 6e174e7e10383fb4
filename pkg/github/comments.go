package github

import (
	"context"
	"fmt"

	gh "github.com/google/go-github/v68/github"

	"github.com/holon-run/prquiz/pkg/comment"
)

var _ comment.Feed = (*Client)(nil)

// ListComments returns one page of issue comments on the pull request,
// oldest first, and the next page number (0 on the last page). The page is
// always revalidated with GitHub so the marker search sees our own writes.
func (c *Client) ListComments(ctx context.Context, owner, repo string, number, page int) ([]comment.Comment, int, error) {
	opts := &gh.IssueListCommentsOptions{
		Sort:        gh.Ptr("created"),
		Direction:   gh.Ptr("asc"),
		ListOptions: c.listOptions(page),
	}

	comments, resp, err := c.gh.Issues.ListComments(mustRevalidate(ctx), owner, repo, number, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list comments (page %d): %w", opts.Page, err)
	}
	c.rateLimit.Update(resp, "issues.comments")

	out := make([]comment.Comment, 0, len(comments))
	for _, ic := range comments {
		out = append(out, comment.Comment{ID: ic.GetID(), Body: ic.GetBody()})
	}

	next := 0
	if resp != nil {
		next = resp.NextPage
	}
	return out, next, nil
}

// CreateComment posts a new issue comment and returns its ID.
func (c *Client) CreateComment(ctx context.Context, owner, repo string, number int, body string) (int64, error) {
	created, resp, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &gh.IssueComment{Body: &body})
	if err != nil {
		return 0, fmt.Errorf("failed to create comment: %w", err)
	}
	c.rateLimit.Update(resp, "issues.comments.create")
	return created.GetID(), nil
}

// UpdateComment replaces the body of an existing issue comment.
func (c *Client) UpdateComment(ctx context.Context, owner, repo string, commentID int64, body string) error {
	_, resp, err := c.gh.Issues.EditComment(ctx, owner, repo, commentID, &gh.IssueComment{Body: &body})
	if err != nil {
		return fmt.Errorf("failed to update comment %d: %w", commentID, err)
	}
	c.rateLimit.Update(resp, "issues.comments.edit")
	return nil
}
