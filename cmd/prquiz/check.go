package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/holon-run/prquiz/pkg/actions"
	holonlog "github.com/holon-run/prquiz/pkg/log"
	"github.com/holon-run/prquiz/pkg/logs/redact"
	"github.com/holon-run/prquiz/pkg/preflight"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the gate settings, the GitHub token and the validation service",
	Long: `Run the preflight checks of a gate run without creating a quiz.

It takes the same flags, inputs and config file as run, then verifies that the
settings are valid, that GitHub accepts the token and that the validation
service answers its health check.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		runner := actions.New(cmd.OutOrStdout(), os.Getenv)
		redactor := redact.FromEnv()

		cfg, source, err := loadConfig(cmd, runner)
		if err != nil {
			runner.Errorf("%s", redactor.Error(err))
			return errReported
		}
		redactor.Add(cfg.GitHubToken, cfg.APIKey)
		runner.AddMask(cfg.GitHubToken)
		runner.AddMask(cfg.APIKey)

		level, err := holonlog.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		if err := holonlog.Init(holonlog.Config{Level: level, Format: cfg.LogFormat, Output: cmd.OutOrStdout()}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer holonlog.Sync()

		ghClient, err := newGitHubClient(cfg.GitHubToken)
		if err != nil {
			return err
		}

		checker := preflight.NewChecker(false,
			&preflight.ConfigCheck{Config: cfg},
			&preflight.APIKeyCheck{Key: cfg.APIKey},
			&preflight.GitHubCheck{Client: ghClient, Source: source},
			&preflight.BackendCheck{URL: cfg.BackendURL},
		)
		results, err := checker.Run(cmd.Context())
		for _, r := range results {
			if r.Level == preflight.LevelWarn && runner.InActions() {
				runner.Warningf("%s: %s", r.Name, r.Message)
			}
		}
		if err != nil {
			runner.Errorf("%s", redactor.Error(err))
			return errReported
		}
		fmt.Fprintln(cmd.OutOrStdout(), "all checks passed")
		return nil
	},
}

func init() {
	addGateFlags(checkCmd)
	rootCmd.AddCommand(checkCmd)
}
