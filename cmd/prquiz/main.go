package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// errReported marks failures already surfaced as workflow annotations.
var errReported = errors.New("reported")

var rootCmd = &cobra.Command{
	Use:   "prquiz",
	Short: "Gate pull requests on the author passing a quiz about their change.",
	Long: `prquiz asks a validation service for a quiz about a pull request, links it
in a tracking comment and fails the check until the author passes it.

It runs as a GitHub Actions step (inputs are read from INPUT_* variables) or
locally against a pull request given with --pr.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// run executes the CLI and returns the process exit code.
func run() int {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

func main() {
	os.Exit(run())
}
