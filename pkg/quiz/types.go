// Package quiz holds the data exchanged between the gate, GitHub and the
// validation service: the pull request being gated, its diff summary, the quiz
// created for it and the statuses the service reports back.
package quiz

import (
	"fmt"
	"time"
)

// PullRequestRef identifies the pull request under validation. It is sourced
// from the triggering event and never changes during a run.
type PullRequestRef struct {
	Owner       string
	Repo        string
	Number      int
	Author      string
	HeadSHA     string
	BaseBranch  string
	HeadBranch  string
	Title       string
	Description string
}

// FullName returns "owner/repo".
func (r PullRequestRef) FullName() string {
	return r.Owner + "/" + r.Repo
}

// String returns "owner/repo#number".
func (r PullRequestRef) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

// FileStatus is the kind of change applied to a file.
type FileStatus string

const (
	FileAdded    FileStatus = "added"
	FileModified FileStatus = "modified"
	FileRemoved  FileStatus = "removed"
	FileRenamed  FileStatus = "renamed"
)

// ParseFileStatus maps a GitHub file status onto the four kinds the service
// understands. "copied", "changed" and "unchanged" count as modifications.
func ParseFileStatus(s string) FileStatus {
	switch FileStatus(s) {
	case FileAdded, FileRemoved, FileRenamed:
		return FileStatus(s)
	default:
		return FileModified
	}
}

// FileChange is a read-only diff summary for one file.
type FileChange struct {
	Filename  string     `json:"filename"`
	Status    FileStatus `json:"status"`
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Changes   int        `json:"changes"`
	Patch     string     `json:"patch,omitempty"`
}

// ValidationRequest is the payload sent to the service to create a quiz.
type ValidationRequest struct {
	PullRequest PullRequestRef
	Files       []FileChange
}

// Subject is the remote quiz created for a pull request.
type Subject struct {
	ID  string `json:"quizId"`
	URL string `json:"quizUrl"`
}

// State is the lifecycle position of a quiz as reported by the service.
type State string

const (
	StatePending State = "PENDING"
	StateFailed  State = "FAILED"
	StatePassed  State = "PASSED"
)

// ParseState validates a state string received on the wire.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StatePending, StateFailed, StatePassed:
		return State(s), nil
	default:
		return "", fmt.Errorf("unknown quiz state %q", s)
	}
}

// Status is a snapshot of a quiz. Attempts counts the author's submissions,
// not the gate's queries.
type Status struct {
	State         State
	Attempts      int
	LastAttemptAt *time.Time
}

func (Status) isResponse() {}

// Passed reports whether the quiz was approved.
func (s Status) Passed() bool { return s.State == StatePassed }
