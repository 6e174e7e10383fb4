package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	holonlog "github.com/holon-run/prquiz/pkg/log"
	"github.com/holon-run/prquiz/pkg/mockbackend"
	"github.com/holon-run/prquiz/pkg/mockbackend/sqlite"
	"github.com/holon-run/prquiz/pkg/quiz"
)

var (
	mockPort            int
	mockDefaultStatus   string
	mockAutoPassSeconds int
	mockFailedAttempts  int
	mockDBPath          string
	mockAPIKeys         []string
	mockExpiredKeys     []string
	mockFrontendURL     string
	mockLogLevel        string
)

var mockBackendCmd = &cobra.Command{
	Use:   "mock-backend",
	Short: "Run a local quiz validation service for testing",
	Long: `Run a stand-in for the quiz validation service.

Quizzes start in --default-status and can be moved by hand with
POST /quiz-status/{id}/update, or passed automatically after
--auto-pass-seconds. With --db the quizzes are kept in a SQLite file.

Unset flags fall back to PORT, MOCK_DEFAULT_STATUS, MOCK_AUTO_PASS_SECONDS
and MOCK_FAILED_ATTEMPTS.

Examples:
  prquiz mock-backend
  prquiz mock-backend --auto-pass-seconds 30 --failed-attempts 2
  prquiz mock-backend --api-key valid-test-key --expired-key expired-key`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		level, err := holonlog.ParseLevel(mockLogLevel)
		if err != nil {
			return err
		}
		if err := holonlog.Init(holonlog.Config{Level: level, Format: holonlog.FormatConsole, Output: cmd.OutOrStdout()}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer holonlog.Sync()

		flags := cmd.Flags()
		port, err := intSetting(flags.Changed("port"), mockPort, "PORT")
		if err != nil {
			return err
		}
		autoPass, err := intSetting(flags.Changed("auto-pass-seconds"), mockAutoPassSeconds, "MOCK_AUTO_PASS_SECONDS")
		if err != nil {
			return err
		}
		failed, err := intSetting(flags.Changed("failed-attempts"), mockFailedAttempts, "MOCK_FAILED_ATTEMPTS")
		if err != nil {
			return err
		}
		status := mockDefaultStatus
		if !flags.Changed("default-status") {
			status = firstNonEmpty(os.Getenv("MOCK_DEFAULT_STATUS"), status)
		}

		var store mockbackend.Store = mockbackend.NewMemoryStore()
		if mockDBPath != "" {
			db, err := sqlite.Open(mockDBPath)
			if err != nil {
				return fmt.Errorf("failed to open quiz database: %w", err)
			}
			store = sqlite.NewStore(db)
			holonlog.Info("using sqlite store", "path", mockDBPath)
		}
		defer store.Close()

		srv, err := mockbackend.New(mockbackend.Config{
			Addr:  fmt.Sprintf(":%d", port),
			Store: store,
			Behavior: mockbackend.Behavior{
				DefaultStatus:            quiz.State(strings.ToUpper(status)),
				AutoPassAfter:            time.Duration(autoPass) * time.Second,
				FailedAttemptsBeforePass: failed,
			},
			FrontendURL: mockFrontendURL,
			APIKeys:     mockAPIKeys,
			ExpiredKeys: mockExpiredKeys,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.Start(ctx)
	},
}

// intSetting returns the flag value when it was set, else the environment
// variable when present, else the flag default.
func intSetting(changed bool, flagValue int, env string) (int, error) {
	if changed {
		return flagValue, nil
	}
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return flagValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", env, v)
	}
	return n, nil
}

func init() {
	f := mockBackendCmd.Flags()
	f.IntVarP(&mockPort, "port", "p", 3000, "Port to listen on")
	f.StringVar(&mockDefaultStatus, "default-status", string(quiz.StatePending), "Initial quiz status: PENDING, FAILED or PASSED")
	f.IntVar(&mockAutoPassSeconds, "auto-pass-seconds", 0, "Pass quizzes this many seconds after creation (0 disables)")
	f.IntVar(&mockFailedAttempts, "failed-attempts", 0, "Failed attempts reported before an automatic pass")
	f.StringVar(&mockDBPath, "db", "", "SQLite database file (in memory when empty)")
	f.StringSliceVar(&mockAPIKeys, "api-key", nil, "Accepted API keys (authentication is off when no keys are given)")
	f.StringSliceVar(&mockExpiredKeys, "expired-key", nil, "API keys answered with expired_api_key")
	f.StringVar(&mockFrontendURL, "frontend-url", mockbackend.DefaultFrontendURL, "Base URL used in quiz links")
	f.StringVar(&mockLogLevel, "log-level", "info", "Log level: debug, info, progress, minimal, warn, error")
	rootCmd.AddCommand(mockBackendCmd)
}
