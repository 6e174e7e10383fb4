// Package comment maintains the single tracking comment the gate owns on a
// pull request and renders its localized body.
package comment

import (
	"context"
	"fmt"
)

// DefaultMarker identifies the tracking comment. It renders invisibly in
// GitHub Markdown.
const DefaultMarker = "<!-- prquiz-tracking-comment -->"

// Comment is one entry of a pull request's conversation.
type Comment struct {
	ID   int64
	Body string
}

// Feed is the comment API of the code host. ListComments returns one page and
// the number of the next page, 0 when there is none. Pages start at 1.
type Feed interface {
	ListComments(ctx context.Context, owner, repo string, number, page int) ([]Comment, int, error)
	CreateComment(ctx context.Context, owner, repo string, number int, body string) (int64, error)
	UpdateComment(ctx context.Context, owner, repo string, commentID int64, body string) error
}

// APIError is a failed create or update of the tracking comment.
type APIError struct {
	Op  string
	Err error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("failed to %s tracking comment: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Result describes what Upsert did.
type Result struct {
	CommentID int64
	Created   bool
}
