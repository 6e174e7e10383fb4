package github

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/holon-run/prquiz/pkg/quiz"
)

var (
	// PR ref patterns:
	// - owner/repo/pr/123
	// - owner/repo#123
	// - owner/repo/pull/123
	// - https://github.com/owner/repo/pull/123
	prRefPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^([^/\s]+)/([^/#\s]+)/pr/(\d+)$`),
		regexp.MustCompile(`^([^/\s]+)/([^/#\s]+)#(\d+)$`),
		regexp.MustCompile(`^([^/\s]+)/([^/#\s]+)/pull/(\d+)$`),
	}
	urlPrefix = regexp.MustCompile(`^https?://[^/]+/`)
)

// ParsePRRef parses a pull request reference.
func ParsePRRef(target string) (quiz.PullRequestRef, error) {
	target = strings.TrimSpace(target)
	target = strings.TrimSuffix(urlPrefix.ReplaceAllString(target, ""), "/")

	for _, pattern := range prRefPatterns {
		matches := pattern.FindStringSubmatch(target)
		if matches == nil {
			continue
		}
		num, err := strconv.Atoi(matches[3])
		if err != nil || num <= 0 {
			return quiz.PullRequestRef{}, fmt.Errorf("invalid pull request number in %q", target)
		}
		return quiz.PullRequestRef{Owner: matches[1], Repo: matches[2], Number: num}, nil
	}

	return quiz.PullRequestRef{}, fmt.Errorf("invalid pull request reference: %s (expected: owner/repo#123, owner/repo/pull/123 or owner/repo/pr/123)", target)
}

// SplitRepo splits "owner/repo".
func SplitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
