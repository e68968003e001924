package supervisor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openclaw/clawdev/internal/blueprint"
	"github.com/openclaw/clawdev/internal/codex"
	"github.com/openclaw/clawdev/internal/config"
	"github.com/openclaw/clawdev/internal/namespace"
	"github.com/openclaw/clawdev/internal/outcome"
	"github.com/openclaw/clawdev/internal/status"
	"github.com/openclaw/clawdev/internal/trigger"
)

func newTestSupervisor(t *testing.T, opts Options) *Supervisor {
	t.Helper()
	repo := t.TempDir()
	if err := os.MkdirAll(filepath.Join(repo, "agent"), 0o755); err != nil {
		t.Fatal(err)
	}
	if opts.CodexTimeout == 0 {
		opts.CodexTimeout = 300 * time.Second
	}
	s := New(repo, config.Default(), Options{
		Interval:     opts.Interval,
		RunOnce:      opts.RunOnce,
		FullAuto:     opts.FullAuto,
		ForceStart:   opts.ForceStart,
		CodexTimeout: opts.CodexTimeout,
		MaxAttempts:  opts.MaxAttempts,
		AttemptSleep: opts.AttemptSleep,
		QARetries:    -1,
		QARetrySleep: -1,
		Scope:        opts.Scope,
		AddDirs:      opts.AddDirs,
	})
	s.sleep = func(time.Duration) {}
	s.logf = func(string, ...any) {}
	return s
}

// progressAgent simulates an agent call that writes the plan document.
func progressAgent(s *Supervisor) func(*blueprint.Step, string, namespace.Namespace) int {
	return func(*blueprint.Step, string, namespace.Namespace) int {
		path := filepath.Join(s.AgentDir, "PLAN.md")
		_ = os.WriteFile(path, []byte("1. do the thing\n"), 0o644)
		now := time.Now().Add(time.Second)
		_ = os.Chtimes(path, now, now)
		return 0
	}
}

func idleAgent(rc int) func(*blueprint.Step, string, namespace.Namespace) int {
	return func(*blueprint.Step, string, namespace.Namespace) int { return rc }
}

func passingGate() func() (int, int) {
	return func() (int, int) { return 0, 1 }
}

func failingGate(rc int) func() (int, int) {
	return func() (int, int) { return rc, 1 }
}

func loadStatus(t *testing.T, s *Supervisor) *status.RunStatus {
	t.Helper()
	st, err := status.Load(status.Path(s.AgentDir))
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func lastLogStatus(t *testing.T, s *Supervisor) string {
	t.Helper()
	records, err := outcome.ReadLog(s.Repo)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) == 0 {
		t.Fatal("run log is empty")
	}
	return records[len(records)-1].Status
}

func TestRunOnceHappyPathAdvancesStep(t *testing.T) {
	s := newTestSupervisor(t, Options{RunOnce: true})
	s.startAgent = progressAgent(s)
	s.runGate = passingGate()

	if err := s.Run(); err != nil {
		t.Fatal(err)
	}

	st := loadStatus(t, s)
	if st.State != status.StateIdle {
		t.Fatalf("state = %s", st.State)
	}
	if st.CurrentStep != 2 {
		t.Fatalf("current_step = %d", st.CurrentStep)
	}
	if !st.LastTestOK || st.LastTestAttempts != 1 {
		t.Fatalf("test fields: ok=%v attempts=%d", st.LastTestOK, st.LastTestAttempts)
	}
	// Step 1 of the default plan carries a checkpoint.
	if st.CheckpointID == "" {
		t.Fatal("checkpoint_id not set")
	}
	if _, err := os.Stat(filepath.Join(s.AgentDir, "checkpoints", st.CheckpointID)); err != nil {
		t.Fatalf("checkpoint artifact missing: %v", err)
	}
	if got := lastLogStatus(t, s); got != "codex_ok,tests_ok,run_tests_ok" {
		t.Fatalf("log status = %q", got)
	}
}

func TestRunOnceGateFailureHoldsStep(t *testing.T) {
	s := newTestSupervisor(t, Options{RunOnce: true})
	s.startAgent = progressAgent(s)
	s.runGate = failingGate(2)

	// Start from the verify step, which requires a passing gate.
	st := &status.RunStatus{State: status.StateIdle, CurrentStep: 3}
	if err := status.Save(status.Path(s.AgentDir), st); err != nil {
		t.Fatal(err)
	}

	if err := s.Run(); err != nil {
		t.Fatal(err)
	}

	st = loadStatus(t, s)
	if st.CurrentStep != 3 {
		t.Fatalf("failed gate advanced step to %d", st.CurrentStep)
	}
	if st.State != status.StateIdle {
		t.Fatalf("state = %s", st.State)
	}
	if st.LastTestOK {
		t.Fatal("last_test_ok should be false")
	}
	if got := lastLogStatus(t, s); got != "codex_ok,tests_failed,run_tests_ok" {
		t.Fatalf("log status = %q", got)
	}
}

func TestRunOnceGateFailureStillAdvancesOptionalStep(t *testing.T) {
	s := newTestSupervisor(t, Options{RunOnce: true})
	s.startAgent = progressAgent(s)
	s.runGate = failingGate(1)

	// Step 1 (spec) does not require tests, so a failing gate cannot hold it.
	if err := s.Run(); err != nil {
		t.Fatal(err)
	}
	if st := loadStatus(t, s); st.CurrentStep != 2 {
		t.Fatalf("current_step = %d", st.CurrentStep)
	}
}

func TestRunOnceTimeoutWithoutProgressBlocks(t *testing.T) {
	s := newTestSupervisor(t, Options{RunOnce: true, CodexTimeout: 60 * time.Second})
	s.startAgent = idleAgent(codex.ExitTimeout)
	s.forceAgent = func() int { return codex.ExitTimeout }

	if err := s.Run(); err != nil {
		t.Fatal(err)
	}

	st := loadStatus(t, s)
	if st.State != status.StateBlocked || !st.NeedsHuman {
		t.Fatalf("state=%s needs_human=%v", st.State, st.NeedsHuman)
	}
	if st.LastErrorSig != status.SigCodexTimeout {
		t.Fatalf("sig = %s", st.LastErrorSig)
	}
	if !strings.Contains(st.HumanQuestion, "60s") {
		t.Fatalf("question should mention the timeout: %q", st.HumanQuestion)
	}
}

func TestRunOnceTimeoutWithProgressStaysIdle(t *testing.T) {
	s := newTestSupervisor(t, Options{RunOnce: true})
	s.startAgent = func(step *blueprint.Step, digest string, ns namespace.Namespace) int {
		progressAgent(s)(step, digest, ns)
		return codex.ExitTimeout
	}

	if err := s.Run(); err != nil {
		t.Fatal(err)
	}

	st := loadStatus(t, s)
	if st.State != status.StateIdle || st.NeedsHuman {
		t.Fatalf("state=%s needs_human=%v", st.State, st.NeedsHuman)
	}
	if st.LastErrorSig != status.SigCodexTimeoutProgress {
		t.Fatalf("sig = %s", st.LastErrorSig)
	}
	if got := lastLogStatus(t, s); got != "codex_timeout_progress,run_tests_ok" {
		t.Fatalf("log status = %q", got)
	}
}

func TestRunOnceNoProgressEscalatesThenBlocks(t *testing.T) {
	s := newTestSupervisor(t, Options{RunOnce: true})
	forceCalled := false
	s.startAgent = idleAgent(0)
	s.forceAgent = func() int {
		forceCalled = true
		return 0
	}

	if err := s.Run(); err != nil {
		t.Fatal(err)
	}

	if !forceCalled {
		t.Fatal("plan-forcing fallback never ran")
	}
	st := loadStatus(t, s)
	if st.LastErrorSig != status.SigCodexNoProgress || st.State != status.StateBlocked {
		t.Fatalf("state=%s sig=%s", st.State, st.LastErrorSig)
	}
}

func TestForceWriteFallbackRecovers(t *testing.T) {
	s := newTestSupervisor(t, Options{RunOnce: true})
	s.startAgent = idleAgent(0)
	s.forceAgent = func() int {
		progressAgent(s)(nil, "", namespace.Namespace{})
		return 0
	}
	s.runGate = passingGate()

	if err := s.Run(); err != nil {
		t.Fatal(err)
	}
	if st := loadStatus(t, s); st.State != status.StateIdle || st.CurrentStep != 2 {
		t.Fatalf("state=%s step=%d", st.State, st.CurrentStep)
	}
}

func TestMaxAttemptsBlocks(t *testing.T) {
	s := newTestSupervisor(t, Options{MaxAttempts: 2, AttemptSleep: time.Second})
	s.startAgent = idleAgent(codex.ExitTimeout)
	s.resumeAgent = idleAgent(codex.ExitTimeout)
	s.forceAgent = func() int { return codex.ExitTimeout }

	if err := s.Run(); err != nil {
		t.Fatal(err)
	}

	st := loadStatus(t, s)
	if st.LastErrorSig != status.SigMaxAttempts || st.State != status.StateBlocked {
		t.Fatalf("state=%s sig=%s", st.State, st.LastErrorSig)
	}
	if got := lastLogStatus(t, s); got != "max_attempts,run_tests_ok" {
		t.Fatalf("log status = %q", got)
	}
}

func TestTerminalStateShortCircuits(t *testing.T) {
	s := newTestSupervisor(t, Options{RunOnce: true})
	called := false
	s.startAgent = func(*blueprint.Step, string, namespace.Namespace) int {
		called = true
		return 0
	}
	st := &status.RunStatus{State: status.StateDone}
	if err := status.Save(status.Path(s.AgentDir), st); err != nil {
		t.Fatal(err)
	}

	if err := s.Run(); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Fatal("terminal state should not invoke the agent")
	}
}

func TestStepBeyondPlanMarksDone(t *testing.T) {
	s := newTestSupervisor(t, Options{RunOnce: true})
	st := &status.RunStatus{State: status.StateIdle, CurrentStep: 99}
	if err := status.Save(status.Path(s.AgentDir), st); err != nil {
		t.Fatal(err)
	}

	if err := s.Run(); err != nil {
		t.Fatal(err)
	}
	if st := loadStatus(t, s); st.State != status.StateDone {
		t.Fatalf("state = %s", st.State)
	}
}

func TestFinalStepCompletionMarksDone(t *testing.T) {
	s := newTestSupervisor(t, Options{RunOnce: true})
	s.startAgent = progressAgent(s)
	s.runGate = passingGate()
	st := &status.RunStatus{State: status.StateIdle, CurrentStep: 4}
	if err := status.Save(status.Path(s.AgentDir), st); err != nil {
		t.Fatal(err)
	}

	if err := s.Run(); err != nil {
		t.Fatal(err)
	}
	if st := loadStatus(t, s); st.State != status.StateDone || st.CurrentStep != 5 {
		t.Fatalf("state=%s step=%d", st.State, st.CurrentStep)
	}
}

func TestTriggerReactivatesBlockedRun(t *testing.T) {
	s := newTestSupervisor(t, Options{RunOnce: true})
	s.startAgent = progressAgent(s)
	s.runGate = passingGate()

	blocked := &status.RunStatus{State: status.StateBlocked, NeedsHuman: true, CurrentStep: 3, CheckpointID: "step-2-x.json"}
	if err := status.Save(status.Path(s.AgentDir), blocked); err != nil {
		t.Fatal(err)
	}
	p := &trigger.Payload{Reason: "manual kick", Task: "fix the flaky login test", TenantID: "acme", ProjectID: "shop"}
	if err := trigger.Write(trigger.Path(s.AgentDir), p, time.Now()); err != nil {
		t.Fatal(err)
	}

	if err := s.Run(); err != nil {
		t.Fatal(err)
	}

	st := loadStatus(t, s)
	if st.NeedsHuman {
		t.Fatal("trigger should clear needs_human")
	}
	if st.TriggerReason != "manual kick" {
		t.Fatalf("trigger_reason = %q", st.TriggerReason)
	}
	// Reset defaulted to true, so the iteration ran step 1 and advanced.
	if st.CurrentStep != 2 {
		t.Fatalf("current_step = %d", st.CurrentStep)
	}
	if st.TenantID != "acme" || st.ProjectID != "shop" || st.AgentID != "main" {
		t.Fatalf("namespace = %s/%s/%s", st.TenantID, st.AgentID, st.ProjectID)
	}
	if _, err := os.Stat(trigger.Path(s.AgentDir)); !os.IsNotExist(err) {
		t.Fatal("trigger file should be consumed")
	}
	task, err := os.ReadFile(filepath.Join(s.AgentDir, "TASK.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(task), "fix the flaky login test") {
		t.Fatalf("TASK.md missing goal:\n%s", task)
	}
	records, err := outcome.ReadLog(s.Repo)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) < 2 || records[0].Status != "triggered" {
		t.Fatalf("first log record should be triggered: %+v", records)
	}
}

func TestRequiredAutoPRFailureBlocks(t *testing.T) {
	s := newTestSupervisor(t, Options{RunOnce: true})
	s.Cfg.AutoPR.Enabled = true
	s.Cfg.AutoPR.Required = true
	s.startAgent = progressAgent(s)
	s.runGate = passingGate()
	s.runAutoPR = func() (int, string) { return 1, "push rejected" }

	st := &status.RunStatus{State: status.StateIdle, CurrentStep: 4}
	if err := status.Save(status.Path(s.AgentDir), st); err != nil {
		t.Fatal(err)
	}

	if err := s.Run(); err != nil {
		t.Fatal(err)
	}

	st = loadStatus(t, s)
	if st.LastErrorSig != status.SigAutoPRFailed || st.State != status.StateBlocked {
		t.Fatalf("state=%s sig=%s", st.State, st.LastErrorSig)
	}
	if !strings.Contains(st.HumanQuestion, "push rejected") {
		t.Fatalf("question = %q", st.HumanQuestion)
	}
}

func TestOptionalAutoPRFailureDoesNotBlock(t *testing.T) {
	s := newTestSupervisor(t, Options{RunOnce: true})
	s.Cfg.AutoPR.Enabled = true
	s.startAgent = progressAgent(s)
	s.runGate = passingGate()
	s.runAutoPR = func() (int, string) { return 1, "push rejected" }

	st := &status.RunStatus{State: status.StateIdle, CurrentStep: 4}
	if err := status.Save(status.Path(s.AgentDir), st); err != nil {
		t.Fatal(err)
	}

	if err := s.Run(); err != nil {
		t.Fatal(err)
	}
	if st := loadStatus(t, s); st.State != status.StateDone {
		t.Fatalf("state = %s", st.State)
	}
}

func TestMissingAgentDirFails(t *testing.T) {
	repo := t.TempDir()
	s := New(repo, config.Default(), Options{RunOnce: true, QARetries: -1, QARetrySleep: -1})
	if err := s.Run(); err == nil {
		t.Fatal("missing agent/ should be fatal")
	}
}

func TestUpsertTaskGoalRewritesExistingLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "TASK.md")
	if err := os.WriteFile(path, []byte("# Task\nGoal: old goal\ndetails\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := UpsertTaskGoal(path, "new goal"); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	text := string(data)
	if !strings.Contains(text, "Goal: new goal") || strings.Contains(text, "old goal") {
		t.Fatalf("goal not rewritten:\n%s", text)
	}
	if !strings.Contains(text, "details") {
		t.Fatalf("body lost:\n%s", text)
	}
}

func TestUpsertTaskGoalInsertsAfterTitle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "TASK.md")
	if err := os.WriteFile(path, []byte("# Task\nbody\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := UpsertTaskGoal(path, "ship v2"); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	lines := strings.Split(string(data), "\n")
	if lines[0] != "# Task" || lines[1] != "目标：ship v2" {
		t.Fatalf("goal not inserted after title:\n%s", data)
	}
}

func TestResolveSyncTargetSkipsCodexHome(t *testing.T) {
	home := codexHome()
	target := t.TempDir()
	if got := resolveSyncTarget([]string{home, target}); got != target {
		t.Fatalf("got %q, want %q", got, target)
	}
	if got := resolveSyncTarget([]string{home}); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestResolveAddDirsFiltersAndDedupes(t *testing.T) {
	repo := t.TempDir()
	existing := filepath.Join(repo, "skills")
	if err := os.MkdirAll(existing, 0o755); err != nil {
		t.Fatal(err)
	}
	dirs := resolveAddDirs(repo, []string{"skills", "skills", "missing-dir"}, nil)
	found := 0
	for _, d := range dirs {
		if d == existing {
			found++
		}
		if strings.Contains(d, "missing-dir") {
			t.Fatalf("missing dir kept: %v", dirs)
		}
	}
	if found != 1 {
		t.Fatalf("existing dir listed %d times: %v", found, dirs)
	}
}
