// Package actions speaks the GitHub Actions runner protocol: step inputs,
// step outputs and workflow commands.
package actions

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Runner reads inputs from the environment and writes workflow commands to
// Out. The zero value is not usable; use New.
type Runner struct {
	Out    io.Writer
	Getenv func(string) string
}

// New creates a Runner with explicit dependencies.
func New(out io.Writer, getenv func(string) string) *Runner {
	return &Runner{Out: out, Getenv: getenv}
}

// InActions reports whether the process runs inside a GitHub Actions job.
func (r *Runner) InActions() bool {
	return r.Getenv("GITHUB_ACTIONS") == "true"
}

// Input returns the trimmed value of a step input. Names are looked up the
// way the runner exports them (INPUT_<NAME> upper-cased, spaces as
// underscores) and, for hyphenated names, also with underscores.
func (r *Runner) Input(name string) string {
	key := "INPUT_" + strings.ToUpper(strings.ReplaceAll(name, " ", "_"))
	if v := strings.TrimSpace(r.Getenv(key)); v != "" {
		return v
	}
	if strings.Contains(key, "-") {
		return strings.TrimSpace(r.Getenv(strings.ReplaceAll(key, "-", "_")))
	}
	return ""
}

// SetOutput appends name=value to $GITHUB_OUTPUT. Outside a runner it prints
// the legacy set-output command instead.
func (r *Runner) SetOutput(name, value string) error {
	path := r.Getenv("GITHUB_OUTPUT")
	if path == "" {
		_, err := fmt.Fprintf(r.Out, "::set-output name=%s::%s\n", name, escapeData(value))
		return err
	}

	delim, err := delimiter()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open GITHUB_OUTPUT: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s<<%s\n%s\n%s\n", name, delim, value, delim); err != nil {
		return fmt.Errorf("failed to write output %s: %w", name, err)
	}
	return nil
}

// AddMask hides value in all later log lines.
func (r *Runner) AddMask(value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	fmt.Fprintf(r.Out, "::add-mask::%s\n", escapeData(value))
}

// Errorf emits an error annotation.
func (r *Runner) Errorf(format string, args ...interface{}) {
	r.command("error", fmt.Sprintf(format, args...))
}

// Warningf emits a warning annotation.
func (r *Runner) Warningf(format string, args ...interface{}) {
	r.command("warning", fmt.Sprintf(format, args...))
}

// Noticef emits a notice annotation.
func (r *Runner) Noticef(format string, args ...interface{}) {
	r.command("notice", fmt.Sprintf(format, args...))
}

func (r *Runner) command(name, msg string) {
	fmt.Fprintf(r.Out, "::%s::%s\n", name, escapeData(msg))
}

// escapeData applies the runner's escaping for command payloads.
func escapeData(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "\r", "%0D")
	s = strings.ReplaceAll(s, "\n", "%0A")
	return s
}

func delimiter() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate output delimiter: %w", err)
	}
	return "ghadelimiter_" + hex.EncodeToString(buf), nil
}
