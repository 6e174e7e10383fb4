package comment

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	holonlog "github.com/holon-run/prquiz/pkg/log"
	"github.com/holon-run/prquiz/pkg/quiz"
)

const defaultListRetries = 2

// Upserter keeps exactly one tracking comment per pull request when runs do
// not overlap. Concurrent runs on the same pull request may both miss the
// existing comment and create two; there is no locking.
type Upserter struct {
	Feed   Feed
	Marker string

	// NewBackOff builds the retry policy for listing comments. Nil retries
	// twice with a short exponential delay.
	NewBackOff func() backoff.BackOff
}

// NewUpserter returns an Upserter using marker, or DefaultMarker when empty.
func NewUpserter(feed Feed, marker string) *Upserter {
	return &Upserter{Feed: feed, Marker: marker}
}

func (u *Upserter) marker() string {
	if u.Marker == "" {
		return DefaultMarker
	}
	return u.Marker
}

// Upsert overwrites the first comment carrying the marker, or creates one. A
// listing failure is not fatal: after retries it degrades to creating a new
// comment. Create and update failures are returned as *APIError.
func (u *Upserter) Upsert(ctx context.Context, pr quiz.PullRequestRef, body string) (Result, error) {
	marker := u.marker()
	if !strings.Contains(body, marker) {
		body = marker + "\n" + body
	}

	existing, err := u.findWithRetry(ctx, pr, marker)
	if err != nil {
		holonlog.Warn("could not list comments, creating a new tracking comment", "pr", pr.String(), "error", err)
		existing = nil
	}

	if existing != nil {
		if err := u.Feed.UpdateComment(ctx, pr.Owner, pr.Repo, existing.ID, body); err != nil {
			return Result{}, &APIError{Op: "update", Err: err}
		}
		holonlog.Info("updated tracking comment", "pr", pr.String(), "comment_id", existing.ID)
		return Result{CommentID: existing.ID}, nil
	}

	id, err := u.Feed.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, body)
	if err != nil {
		return Result{}, &APIError{Op: "create", Err: err}
	}
	holonlog.Info("created tracking comment", "pr", pr.String(), "comment_id", id)
	return Result{CommentID: id, Created: true}, nil
}

func (u *Upserter) findWithRetry(ctx context.Context, pr quiz.PullRequestRef, marker string) (*Comment, error) {
	var b backoff.BackOff
	if u.NewBackOff != nil {
		b = u.NewBackOff()
	} else {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 500 * time.Millisecond
		exp.MaxElapsedTime = 10 * time.Second
		b = backoff.WithMaxRetries(exp, defaultListRetries)
	}

	var found *Comment
	op := func() error {
		c, err := u.find(ctx, pr, marker)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			holonlog.Debug("listing comments failed", "pr", pr.String(), "error", err)
			return err
		}
		found = c
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return found, nil
}

// find walks every page in feed order and returns the first comment
// containing the marker.
func (u *Upserter) find(ctx context.Context, pr quiz.PullRequestRef, marker string) (*Comment, error) {
	page := 1
	for {
		comments, next, err := u.Feed.ListComments(ctx, pr.Owner, pr.Repo, pr.Number, page)
		if err != nil {
			return nil, err
		}
		for i := range comments {
			if strings.Contains(comments[i].Body, marker) {
				c := comments[i]
				return &c, nil
			}
		}
		if next == 0 {
			return nil, nil
		}
		page = next
	}
}
