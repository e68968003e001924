package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/openclaw/clawdev/internal/config"
	"github.com/openclaw/clawdev/internal/supervisor"
)

var (
	superviseRepo         string
	superviseInterval     time.Duration
	superviseRunOnce      bool
	superviseMaxAttempts  int
	superviseAttemptSleep time.Duration
	superviseQARetries    int
	superviseQARetrySleep int
	superviseFullAuto     bool
	superviseStart        bool
	superviseCodexTimeout time.Duration
	superviseAddDirs      []string
	superviseScope        string
)

func init() {
	superviseCmd := &cobra.Command{
		Use:   "supervise",
		Short: "Run the supervisor loop against a repository",
		Long: `Drive the coding agent through the repository's delivery blueprint.

Each tick the loop reads agent/STATUS.json, consumes any pending trigger,
invokes the agent (cold start or resume), judges progress by the mtimes of
agent/PLAN.md and agent/RESULT.md, gates step advancement on the QA_CMD/
TEST_CMD verification commands, and records the outcome to agent/RESULT.md
and memory/supervisor_nightly.log.

The loop exits on its own when the run reaches a terminal state (done or
blocked) or, with --run-once, after a single iteration.

Examples:
  clawdev supervise --repo ~/work/shop-repo --run-once
  clawdev supervise --repo ~/work/shop-repo --interval 30m --full-auto
  clawdev supervise --repo ~/work/shop-repo --start --codex-timeout 10m`,
		RunE: runSupervise,
	}

	superviseCmd.Flags().StringVar(&superviseRepo, "repo", "", "Repository root (required)")
	superviseCmd.Flags().DurationVar(&superviseInterval, "interval", 30*time.Minute, "Sleep between loop iterations")
	superviseCmd.Flags().BoolVar(&superviseRunOnce, "run-once", false, "Run a single iteration and exit")
	superviseCmd.Flags().IntVar(&superviseMaxAttempts, "max-attempts", 12, "Max agent attempts before marking blocked (0 = unlimited)")
	superviseCmd.Flags().DurationVar(&superviseAttemptSleep, "attempt-sleep", 20*time.Second, "Sleep between retry attempts")
	superviseCmd.Flags().IntVar(&superviseQARetries, "qa-retries", -1, "Verification retry count (-1 = use config)")
	superviseCmd.Flags().IntVar(&superviseQARetrySleep, "qa-retry-sleep", -1, "Seconds between verification retries (-1 = use config)")
	superviseCmd.Flags().BoolVar(&superviseFullAuto, "full-auto", false, "Pass --full-auto to the agent CLI")
	superviseCmd.Flags().BoolVar(&superviseStart, "start", false, "Force a cold start instead of resuming the last session")
	superviseCmd.Flags().DurationVar(&superviseCodexTimeout, "codex-timeout", 5*time.Minute, "Wall-clock timeout for a single agent call")
	superviseCmd.Flags().StringArrayVar(&superviseAddDirs, "add-dir", nil, "Extra writable directory for the agent sandbox (repeatable)")
	superviseCmd.Flags().StringVar(&superviseScope, "scope", "", "Git pathspec for diff summaries (default: config or \".\")")
	_ = superviseCmd.MarkFlagRequired("repo")

	rootCmd.AddCommand(superviseCmd)
}

func runSupervise(cmd *cobra.Command, args []string) error {
	repo, err := filepath.Abs(superviseRepo)
	if err != nil {
		return fmt.Errorf("resolve repo path: %w", err)
	}

	cfg, err := config.Load(repo)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Verbose = true
	}

	s := supervisor.New(repo, cfg, supervisor.Options{
		Interval:     superviseInterval,
		RunOnce:      superviseRunOnce,
		FullAuto:     superviseFullAuto,
		ForceStart:   superviseStart,
		CodexTimeout: superviseCodexTimeout,
		MaxAttempts:  superviseMaxAttempts,
		AttemptSleep: superviseAttemptSleep,
		QARetries:    superviseQARetries,
		QARetrySleep: superviseQARetrySleep,
		Scope:        superviseScope,
		AddDirs:      superviseAddDirs,
	})
	VerbosePrintf("scope=%s sync_target=%s add_dirs=%v\n", s.ScopeUsed(), s.SyncTarget(), s.AddDirs())
	return s.Run()
}
