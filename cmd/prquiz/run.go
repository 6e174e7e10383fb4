package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cli/go-gh/v2/pkg/repository"
	"github.com/spf13/cobra"

	"github.com/holon-run/prquiz/pkg/actions"
	"github.com/holon-run/prquiz/pkg/backend"
	"github.com/holon-run/prquiz/pkg/comment"
	"github.com/holon-run/prquiz/pkg/config"
	"github.com/holon-run/prquiz/pkg/gate"
	"github.com/holon-run/prquiz/pkg/github"
	holonlog "github.com/holon-run/prquiz/pkg/log"
	"github.com/holon-run/prquiz/pkg/logs/redact"
	"github.com/holon-run/prquiz/pkg/quiz"
)

var (
	runConfigPath      string
	runGitHubToken     string
	runGitHubAPIURL    string
	runBackendURL      string
	runAPIKey          string
	runPollingInterval int
	runMaxAttempts     int
	runBackoff         string
	runLanguage        string
	runMarker          string
	runPR              string
	runLogLevel        string
	runLogFormat       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Create a quiz for a pull request and wait until it is passed",
	Long: `Create a quiz for the pull request, post or refresh the tracking comment
and poll the validation service until the quiz is passed or the attempts run
out.

Settings are resolved from, in increasing priority: built-in defaults, the
--config YAML file, Actions step inputs (INPUT_*) and command line flags.

The pull request comes from --pr, or from the pull_request event payload at
$GITHUB_EVENT_PATH when running inside Actions.

Examples:
  prquiz run --pr acme/api#42 --api-key $QUIZ_KEY
  prquiz run --pr 42 --backend-url https://quiz.example.com --language es`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		runner := actions.New(cmd.OutOrStdout(), os.Getenv)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		decision, redactor, err := runGate(ctx, cmd, runner)
		defer holonlog.Sync()
		if err != nil {
			runner.Errorf("%s", redactor.Error(err))
			if hint := faultHint(err); hint != "" {
				warn(runner, hint)
			}
			return errReported
		}
		if !decision.Approved() {
			runner.Errorf("%s", decision.Message)
			return errReported
		}
		if runner.InActions() {
			runner.Noticef("%s", decision.Message)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), decision.Message)
		}
		return nil
	},
}

// runGate resolves configuration, wires the collaborators and runs the gate.
// The redactor is returned even on error so the caller can scrub the message.
func runGate(ctx context.Context, cmd *cobra.Command, runner *actions.Runner) (gate.Decision, *redact.Redactor, error) {
	redactor := redact.FromEnv()

	cfg, _, err := loadConfig(cmd, runner)
	if err != nil {
		return gate.Decision{}, redactor, err
	}
	redactor.Add(cfg.GitHubToken, cfg.APIKey)
	runner.AddMask(cfg.GitHubToken)
	runner.AddMask(cfg.APIKey)
	if err := cfg.Validate(); err != nil {
		return gate.Decision{}, redactor, err
	}

	level, err := holonlog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return gate.Decision{}, redactor, err
	}
	if err := holonlog.Init(holonlog.Config{Level: level, Format: cfg.LogFormat, Output: cmd.OutOrStdout()}); err != nil {
		return gate.Decision{}, redactor, fmt.Errorf("failed to initialize logger: %w", err)
	}

	ref, err := resolvePullRequest(cfg.PR)
	if err != nil {
		return gate.Decision{}, redactor, err
	}

	ghClient, err := newGitHubClient(cfg.GitHubToken)
	if err != nil {
		return gate.Decision{}, redactor, err
	}

	renderer, err := comment.NewRenderer(cfg.Language)
	if err != nil {
		return gate.Decision{}, redactor, err
	}
	if renderer.Language() != cfg.Language {
		warn(runner, fmt.Sprintf("language %q is not available, comments use %q", cfg.Language, renderer.Language()))
	}

	quizClient := backend.NewClient(backend.Config{
		BaseURL:   cfg.BackendURL,
		APIKey:    cfg.APIKey,
		UserAgent: "prquiz/" + Version,
	})

	g := &gate.Gate{
		Metadata:  &github.MetadataSource{Client: ghClient, Ref: ref},
		Generator: quizClient,
		Status:    quizClient,
		Comments:  comment.NewUpserter(ghClient, cfg.Marker),
		Outputs:   runner,
		Messages:  renderer,
		Poll:      cfg.PollOptions(),
		Redactor:  redactor,
	}

	holonlog.Info("starting quiz gate", "pr", ref.String(), "backend", cfg.BackendURL,
		"interval_seconds", cfg.PollingInterval, "max_attempts", cfg.MaxPollingAttempts, "backoff", cfg.Backoff)

	decision, err := g.Run(ctx)
	if ghClient.RateLimitObserved() {
		rl := ghClient.RateLimit()
		holonlog.Debug("github rate limit", "remaining", rl.Remaining, "limit", rl.Limit, "used", rl.Used, "reset", rl.Reset)
		if rl.Remaining < lowRateLimit {
			warn(runner, fmt.Sprintf("only %d of %d GitHub API requests left until %s", rl.Remaining, rl.Limit, rl.Reset.Format(time.RFC3339)))
		}
	}
	if err != nil {
		return gate.Decision{}, redactor, err
	}
	holonlog.Info("quiz gate finished", "verdict", decision.Verdict, "quiz_id", decision.Subject.ID)
	return decision, redactor, nil
}

// loadConfig merges the config file, step inputs and changed flags. It also
// returns where the GitHub token came from. The result is not validated; run
// validates it up front and check reports it as one of its checks.
func loadConfig(cmd *cobra.Command, runner *actions.Runner) (config.Config, string, error) {
	var layers []config.Layer

	path := firstNonEmpty(runConfigPath, runner.Input("config"))
	if path != "" {
		l, err := config.LoadFile(path)
		if err != nil {
			return config.Config{}, "", err
		}
		layers = append(layers, l)
	}

	inputs, err := config.FromInputs(runner.Input)
	if err != nil {
		return config.Config{}, "", err
	}
	layers = append(layers, inputs, flagLayer(cmd))

	cfg := config.Resolve(layers...)
	source, err := cfg.ResolveGitHubToken(os.Getenv)
	if err != nil {
		return config.Config{}, "", err
	}
	return cfg, source, nil
}

// flagLayer holds only the flags set on the command line so defaults do not
// mask lower layers.
func flagLayer(cmd *cobra.Command) config.Layer {
	flags := cmd.Flags()
	str := func(name string, v string) *string {
		if !flags.Changed(name) {
			return nil
		}
		return &v
	}
	num := func(name string, v int) *int {
		if !flags.Changed(name) {
			return nil
		}
		return &v
	}
	return config.Layer{
		GitHubToken:        str("github-token", runGitHubToken),
		BackendURL:         str("backend-url", runBackendURL),
		APIKey:             str("api-key", runAPIKey),
		PollingInterval:    num("polling-interval", runPollingInterval),
		MaxPollingAttempts: num("max-polling-attempts", runMaxAttempts),
		Backoff:            str("backoff", runBackoff),
		Language:           str("language", runLanguage),
		Marker:             str("marker", runMarker),
		PR:                 str("pr", runPR),
		LogLevel:           str("log-level", runLogLevel),
		LogFormat:          str("log-format", runLogFormat),
	}
}

// resolvePullRequest turns --pr or the Actions event into a reference. A bare
// number ("42" or "#42") is looked up in the current repository.
func resolvePullRequest(pr string) (quiz.PullRequestRef, error) {
	if pr != "" {
		if n, err := strconv.Atoi(strings.TrimPrefix(pr, "#")); err == nil {
			if n <= 0 {
				return quiz.PullRequestRef{}, fmt.Errorf("invalid pull request number %d", n)
			}
			repo, err := repository.Current()
			if err != nil {
				return quiz.PullRequestRef{}, fmt.Errorf("failed to determine current repository for --pr %s: %w", pr, err)
			}
			return quiz.PullRequestRef{Owner: repo.Owner, Repo: repo.Name, Number: n}, nil
		}
		return github.ParsePRRef(pr)
	}

	if path := os.Getenv("GITHUB_EVENT_PATH"); path != "" {
		ref, err := github.LoadEvent(path, os.Getenv("GITHUB_REPOSITORY"))
		if errors.Is(err, github.ErrNotPullRequest) {
			return quiz.PullRequestRef{}, fmt.Errorf("%w (event %s); run on pull_request or pass --pr", err, os.Getenv("GITHUB_EVENT_NAME"))
		}
		return ref, err
	}
	return quiz.PullRequestRef{}, errors.New("no pull request: pass --pr or run from a pull_request workflow")
}

// newGitHubClient honours --github-api-url and GITHUB_API_URL for GHES.
func newGitHubClient(token string) (*github.Client, error) {
	var opts []github.Option
	if apiURL := firstNonEmpty(runGitHubAPIURL, os.Getenv("GITHUB_API_URL")); apiURL != "" {
		opts = append(opts, github.WithBaseURL(apiURL))
	}
	return github.NewClient(token, opts...)
}

// lowRateLimit is the remaining GitHub budget below which a run warns.
const lowRateLimit = 100

// warn emits a workflow warning annotation inside Actions and a log line
// elsewhere.
func warn(runner *actions.Runner, msg string) {
	if runner.InActions() {
		runner.Warningf("%s", msg)
		return
	}
	holonlog.Warn(msg)
}

// faultHint suggests what to do about a validation service fault.
func faultHint(err error) string {
	var svcErr *backend.ServiceError
	switch {
	case backend.IsNotFound(err):
		return "the validation service does not know this quiz or route; check the backend URL"
	case errors.As(err, &svcErr) && svcErr.Temporary():
		return "the validation service failed on its side; re-running the workflow may succeed"
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// addGateFlags registers the gate settings on cmd. run and check share them.
func addGateFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&runConfigPath, "config", "c", "", "Path to a YAML config file")
	f.StringVar(&runGitHubToken, "github-token", "", "GitHub token (defaults to GITHUB_TOKEN, GH_TOKEN or gh auth)")
	f.StringVar(&runGitHubAPIURL, "github-api-url", "", "GitHub API base URL (defaults to GITHUB_API_URL or api.github.com)")
	f.StringVar(&runBackendURL, "backend-url", backend.DefaultBaseURL, "Quiz validation service URL")
	f.StringVar(&runAPIKey, "api-key", "", "API key for the validation service")
	f.IntVar(&runPollingInterval, "polling-interval", config.DefaultPollingInterval, "Seconds between status queries")
	f.IntVar(&runMaxAttempts, "max-polling-attempts", config.DefaultMaxPollingAttempts, "Status queries before giving up")
	f.StringVar(&runBackoff, "backoff", "fixed", "Polling backoff: fixed or exponential")
	f.StringVar(&runLanguage, "language", comment.DefaultLanguage, "Comment language (en, es)")
	f.StringVar(&runMarker, "marker", comment.DefaultMarker, "Hidden marker identifying the tracking comment")
	f.StringVar(&runPR, "pr", "", "Pull request: owner/repo#N, a PR URL, or N in the current repository")
	f.StringVar(&runLogLevel, "log-level", "progress", "Log level: debug, info, progress, minimal, warn, error")
	f.StringVar(&runLogFormat, "log-format", "console", "Log format: console or json")
}

func init() {
	addGateFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
