// Package supervisor implements the control loop that drives the coding
// agent through the delivery blueprint. Each tick reads run state from disk,
// invokes the agent once, interprets its side effects through exit codes and
// file mtimes, gates advancement on the verification runner, and records the
// outcome. The loop never parses agent output.
package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openclaw/clawdev/internal/blueprint"
	"github.com/openclaw/clawdev/internal/brain"
	"github.com/openclaw/clawdev/internal/checkpoint"
	"github.com/openclaw/clawdev/internal/codex"
	"github.com/openclaw/clawdev/internal/config"
	"github.com/openclaw/clawdev/internal/namespace"
	"github.com/openclaw/clawdev/internal/outcome"
	"github.com/openclaw/clawdev/internal/status"
	"github.com/openclaw/clawdev/internal/trigger"
	"github.com/openclaw/clawdev/internal/verify"
)

// hostSyncTimeout caps a host-sync collaborator call.
const hostSyncTimeout = 300 * time.Second

// workspaceTestTimeout caps the secondary workspace test.
const workspaceTestTimeout = 180 * time.Second

// Options are the per-invocation knobs, normally set from command flags.
type Options struct {
	Interval     time.Duration
	RunOnce      bool
	FullAuto     bool
	ForceStart   bool
	CodexTimeout time.Duration
	MaxAttempts  int
	AttemptSleep time.Duration
	// QARetries and QARetrySleep override the configured verification
	// retry policy when non-negative.
	QARetries    int
	QARetrySleep int
	Scope        string
	AddDirs      []string
}

// Supervisor runs the loop for one repository.
type Supervisor struct {
	Repo     string
	AgentDir string
	Cfg      *config.Config
	Opts     Options

	scope      string
	addDirs    []string
	syncTarget string
	assembler  *brain.Assembler
	invoker    codex.Invoker
	recorder   outcome.Recorder

	// Collaborators are function fields so tests can drive the state
	// machine without real agent or git processes.
	startAgent      func(step *blueprint.Step, digest string, ns namespace.Namespace) int
	resumeAgent     func(step *blueprint.Step, digest string, ns namespace.Namespace) int
	forceAgent      func() int
	runGate         func() (rc, attempts int)
	runHostSync     func(target string) int
	runAutoPR       func() (rc int, message string)
	writeCheckpoint func(step blueprint.Step) (string, error)
	sleep           func(time.Duration)
	logf            func(format string, args ...any)
}

// New builds a supervisor with scope, add-dirs and collaborators resolved.
func New(repo string, cfg *config.Config, opts Options) *Supervisor {
	agentDir := filepath.Join(repo, "agent")
	scope := resolveScope(opts.Scope, cfg)
	addDirs := resolveAddDirs(repo, opts.AddDirs, cfg.Supervisor.AddDirs)

	retries := cfg.QARetries()
	if opts.QARetries >= 0 {
		retries = opts.QARetries
	}
	retrySleep := cfg.QARetrySleep()
	if opts.QARetrySleep >= 0 {
		retrySleep = opts.QARetrySleep
	}

	s := &Supervisor{
		Repo:       repo,
		AgentDir:   agentDir,
		Cfg:        cfg,
		Opts:       opts,
		scope:      scope,
		addDirs:    addDirs,
		syncTarget: resolveSyncTarget(addDirs),
		assembler:  brain.New(repo, cfg.SecondBrain, cfg.MemoryNamespace),
		invoker: codex.Invoker{
			Repo:     repo,
			Command:  cfg.Supervisor.CodexCommand,
			Timeout:  opts.CodexTimeout,
			FullAuto: opts.FullAuto,
			AddDirs:  addDirs,
		},
		recorder: outcome.Recorder{
			Repo:             repo,
			AgentDir:         agentDir,
			Scope:            scope,
			WorkspaceTest:    cfg.Supervisor.WorkspaceTestCommand,
			WorkspaceTimeout: workspaceTestTimeout,
		},
		sleep: time.Sleep,
		logf:  func(format string, args ...any) { fmt.Printf(format+"\n", args...) },
	}
	s.startAgent = s.invoker.Start
	s.resumeAgent = s.invoker.Resume
	s.forceAgent = s.invoker.ForceWrite
	verifier := verify.Runner{Repo: repo, Retries: retries, RetrySleep: time.Duration(retrySleep) * time.Second}
	s.runGate = verifier.Run
	s.runHostSync = s.hostSync
	s.runAutoPR = s.autoPR
	s.writeCheckpoint = func(step blueprint.Step) (string, error) {
		return checkpoint.Write(repo, agentDir, step)
	}
	return s
}

// record writes the iteration outcome, best-effort.
func (s *Supervisor) record(e outcome.Entry) {
	if err := s.recorder.Record(e); err != nil {
		s.logf("record outcome: %v", err)
	}
}

func mtime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Run executes the loop until a terminal state, the attempt budget, or, in
// run-once mode, the end of the first iteration.
func (s *Supervisor) Run() error {
	if info, err := os.Stat(s.AgentDir); err != nil || !info.IsDir() {
		return fmt.Errorf("agent/ directory not found under %s; scaffold the repo first", s.Repo)
	}

	plan := blueprint.Load(s.AgentDir)
	statusPath := status.Path(s.AgentDir)
	planPath := filepath.Join(s.AgentDir, "PLAN.md")
	resultPath := filepath.Join(s.AgentDir, "RESULT.md")
	attempts := 0

	for {
		st, err := status.Load(statusPath)
		if err != nil {
			return err
		}
		if payload, ok := trigger.Consume(s.AgentDir); ok {
			st, err = s.applyTrigger(statusPath, st, payload)
			if err != nil {
				return err
			}
		}

		ns := namespace.Resolve(st.TenantID, st.AgentID, st.ProjectID, s.Cfg.MemoryNamespace.Defaults())
		if st.TenantID != ns.TenantID || st.AgentID != ns.AgentID || st.ProjectID != ns.ProjectID {
			st.TenantID, st.AgentID, st.ProjectID = ns.TenantID, ns.AgentID, ns.ProjectID
			if err := status.Save(statusPath, st); err != nil {
				return err
			}
		}

		if st.State.Terminal() {
			s.logf("Status=%s. Exiting.", st.State)
			return nil
		}

		if s.Opts.MaxAttempts > 0 && attempts >= s.Opts.MaxAttempts {
			st.Block(status.SigMaxAttempts, fmt.Sprintf(
				"Reached max_attempts=%d without completion. "+
					"Likely repeated timeout/no-progress. Consider refining TASK.md or increasing --codex-timeout.",
				s.Opts.MaxAttempts))
			if err := status.Save(statusPath, st); err != nil {
				return err
			}
			s.record(outcome.Entry{
				Completion:  "Run halted: max attempts reached, marked blocked.",
				Risks:       st.HumanQuestion,
				StatusParts: []string{string(status.SigMaxAttempts)},
			})
			return nil
		}

		if st.CurrentStep == 0 {
			st.CurrentStep = 1
			if err := status.Save(statusPath, st); err != nil {
				return err
			}
		}
		step := plan.Lookup(st.CurrentStep)
		if step == nil {
			st.State = status.StateDone
			if err := status.Save(statusPath, st); err != nil {
				return err
			}
			s.logf("No more steps. Marked done.")
			return nil
		}

		hostSync := step.IsHostSync()
		if hostSync && s.syncTarget == "" {
			st.Block(status.SigSyncTargetMissing,
				"Sync step detected but no writable sync target configured. "+
					"Set supervisor.add_dirs in .clawdev/config.yaml or pass --add-dir.")
			if err := status.Save(statusPath, st); err != nil {
				return err
			}
			s.record(outcome.Entry{
				Completion:  "Run halted: sync target not configured, marked blocked.",
				Risks:       st.HumanQuestion,
				StatusParts: []string{string(status.SigSyncTargetMissing)},
			})
			return nil
		}

		startNeeded := s.Opts.ForceStart || st.LastCmd == "" || s.hasExternalAddDirs()

		st.State = status.StateRunning
		switch {
		case hostSync:
			st.LastCmd = fmt.Sprintf("%s --target %s", s.Cfg.Supervisor.SyncCommand, s.syncTarget)
		case startNeeded:
			st.LastCmd = s.invoker.StartLabel()
		default:
			st.LastCmd = codex.ResumeLabel
		}
		if err := status.Save(statusPath, st); err != nil {
			return err
		}

		planBefore, resultBefore := mtime(planPath), mtime(resultPath)
		digest := s.assembler.Build(ns)

		var rc int
		switch {
		case hostSync:
			rc = s.runHostSync(s.syncTarget)
		case startNeeded:
			rc = s.startAgent(step, digest, ns)
		default:
			rc = s.resumeAgent(step, digest, ns)
		}
		attempts++

		planAfter, resultAfter := mtime(planPath), mtime(resultPath)
		progressed := planAfter.After(planBefore) || resultAfter.After(resultBefore)

		// Second chance: a clean or timed-out call that touched nothing
		// gets one plan-forcing escalation before we judge progress.
		if !hostSync && (rc == codex.ExitTimeout || rc == 0) && !progressed {
			rc = s.forceAgent()
			planAfter, resultAfter = mtime(planPath), mtime(resultPath)
			progressed = planAfter.After(planBefore) || resultAfter.After(resultBefore)
		}

		if rc == codex.ExitTimeout && !hostSync {
			if done, err := s.handleTimeout(statusPath, progressed); done || err != nil {
				return err
			}
			continue
		}

		if !hostSync && !progressed {
			if !s.Opts.RunOnce {
				s.sleep(s.Opts.AttemptSleep)
				continue
			}
			st, err = status.Load(statusPath)
			if err != nil {
				return err
			}
			st.Block(status.SigCodexNoProgress,
				"codex exec finished but made no progress (PLAN.md/RESULT.md unchanged). "+
					"Likely prompt too vague or codex stuck in inspection. Refine TASK.md with explicit file edits.")
			if err := status.Save(statusPath, st); err != nil {
				return err
			}
			s.record(outcome.Entry{
				Completion:  "Run halted: codex produced no changes, marked blocked.",
				Risks:       st.HumanQuestion,
				StatusParts: []string{string(status.SigCodexNoProgress)},
			})
			return nil
		}

		st, err = status.Load(statusPath)
		if err != nil {
			return err
		}
		if rc != 0 {
			if !s.Opts.RunOnce {
				s.sleep(s.Opts.AttemptSleep)
				continue
			}
			if hostSync {
				st.Block(status.SigSyncFailed,
					"Host sync failed; inspect agent/sync_tail.log and verify target path permissions.")
			} else {
				st.Block(status.SigCodexFailed, "codex exec failed; inspect logs and agent/RESULT.md")
			}
			if err := status.Save(statusPath, st); err != nil {
				return err
			}
			completion := "Run halted: codex exec failed, marked blocked."
			if hostSync {
				completion = "Run halted: host sync failed, marked blocked."
			}
			s.record(outcome.Entry{
				Completion:  completion,
				Risks:       st.HumanQuestion,
				StatusParts: []string{string(st.LastErrorSig)},
			})
			return nil
		}

		testRC, testAttempts := s.runGate()
		st.LastTestOK = testRC == 0
		st.LastTestAttempts = testAttempts
		if !st.State.Terminal() {
			st.State = status.StateIdle
		}
		if err := status.Save(statusPath, st); err != nil {
			return err
		}

		stepOK := testRC == 0 || !step.NeedsTest()
		if stepOK {
			if step.AllowsCheckpoint() {
				id, err := s.writeCheckpoint(*step)
				if err != nil {
					s.logf("checkpoint: %v", err)
				} else {
					st.CheckpointID = id
				}
			}
			st.CurrentStep++
			if plan.Lookup(st.CurrentStep) == nil && st.State != status.StateBlocked {
				st.State = status.StateDone
			}
			if err := status.Save(statusPath, st); err != nil {
				return err
			}
		}

		var completion, risks string
		var parts []string
		if testRC == 0 {
			completion = "Run complete: codex succeeded and the quality gate passed."
			if testAttempts > 1 {
				risks = fmt.Sprintf("QA_CMD/TEST_CMD flaky recovered after %d attempts.", testAttempts)
				parts = []string{"codex_ok", "tests_ok", "tests_retried"}
			} else {
				parts = []string{"codex_ok", "tests_ok"}
			}
		} else {
			completion = "Run complete: codex succeeded but the quality gate failed."
			risks = "QA_CMD/TEST_CMD failed; further fixes needed."
			parts = []string{"codex_ok", "tests_failed"}
		}
		s.record(outcome.Entry{
			Completion:  completion,
			Risks:       risks,
			StatusParts: parts,
			TestRC:      &testRC,
			WriteDiff:   testRC == 0,
		})

		if testRC == 0 {
			if done, err := s.maybeAutoPR(statusPath); done || err != nil {
				return err
			}
		}

		if s.Opts.RunOnce {
			return nil
		}
		s.sleep(s.Opts.Interval)
	}
}

// handleTimeout resolves a timed-out agent call. With progress the run stays
// idle and retries; without it the loop either backs off or, in run-once
// mode, blocks. Returns done=true when the caller should stop.
func (s *Supervisor) handleTimeout(statusPath string, progressed bool) (done bool, err error) {
	timeoutSecs := int(s.Opts.CodexTimeout / time.Second)
	if progressed {
		st, err := status.Load(statusPath)
		if err != nil {
			return true, err
		}
		st.State = status.StateIdle
		st.NeedsHuman = false
		st.HumanQuestion = ""
		st.LastErrorSig = status.SigCodexTimeoutProgress
		st.LastAction = "codex_timeout_with_progress"
		if err := status.Save(statusPath, st); err != nil {
			return true, err
		}
		s.record(outcome.Entry{
			Completion: "Run ended: codex exec timed out but produced output; state stays idle.",
			Risks: fmt.Sprintf(
				"codex exec timed out after %ds, but progress was detected; "+
					"consider a larger --codex-timeout to avoid interruptions.", timeoutSecs),
			StatusParts: []string{string(status.SigCodexTimeoutProgress)},
		})
		if s.Opts.RunOnce {
			return true, nil
		}
		s.sleep(s.Opts.AttemptSleep)
		return false, nil
	}
	if !s.Opts.RunOnce {
		s.sleep(s.Opts.AttemptSleep)
		return false, nil
	}
	st, err := status.Load(statusPath)
	if err != nil {
		return true, err
	}
	st.Block(status.SigCodexTimeout, fmt.Sprintf(
		"codex exec timed out after %ds with no progress. "+
			"Consider increasing --codex-timeout, refining TASK.md, or reducing repo scope.", timeoutSecs))
	if err := status.Save(statusPath, st); err != nil {
		return true, err
	}
	s.record(outcome.Entry{
		Completion:  "Run halted: codex exec timed out, marked blocked.",
		Risks:       st.HumanQuestion,
		StatusParts: []string{string(status.SigCodexTimeout)},
	})
	return true, nil
}

// maybeAutoPR runs the delivery collaborator after a completed run. A failed
// required PR blocks the run; an optional one only logs. Returns done=true
// when the caller should stop.
func (s *Supervisor) maybeAutoPR(statusPath string) (done bool, err error) {
	st, err := status.Load(statusPath)
	if err != nil {
		return true, err
	}
	if st.State != status.StateDone || !s.Cfg.AutoPR.Enabled {
		return false, nil
	}
	rc, msg := s.runAutoPR()
	if rc == 0 || !s.Cfg.AutoPR.Required {
		return false, nil
	}
	st.Block(status.SigAutoPRFailed, fmt.Sprintf(
		"Auto-PR failed with exit=%d. %s. Inspect agent/autopr_tail.log.", rc, msg))
	if err := status.Save(statusPath, st); err != nil {
		return true, err
	}
	s.record(outcome.Entry{
		Completion:  "Run halted: automated PR failed, marked blocked.",
		Risks:       st.HumanQuestion,
		StatusParts: []string{string(status.SigAutoPRFailed)},
	})
	return true, nil
}
