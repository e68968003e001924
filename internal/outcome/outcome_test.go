package outcome

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func intPtr(v int) *int { return &v }

func setupRepo(t *testing.T) (repo, agentDir string) {
	t.Helper()
	repo = t.TempDir()
	agentDir = filepath.Join(repo, "agent")
	if err := os.MkdirAll(agentDir, 0o755); err != nil {
		t.Fatal(err)
	}
	return repo, agentDir
}

func git(t *testing.T, repo string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = repo
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func TestRecordWritesSummaryAndLog(t *testing.T) {
	repo, agentDir := setupRepo(t)
	r := Recorder{Repo: repo, AgentDir: agentDir, Scope: "."}

	err := r.Record(Entry{
		Completion:  "step done\nall tests green",
		Risks:       "none noted",
		StatusParts: []string{"codex_ok", "tests_ok"},
		TestRC:      intPtr(0),
	})
	if err != nil {
		t.Fatal(err)
	}

	summary, err := os.ReadFile(filepath.Join(agentDir, "RESULT.md"))
	if err != nil {
		t.Fatal(err)
	}
	text := string(summary)
	if !strings.Contains(text, "- Completion: step done ; all tests green") {
		t.Fatalf("completion not compacted:\n%s", text)
	}
	if !strings.Contains(text, "QA_CMD/TEST_CMD: OK") {
		t.Fatalf("verification missing:\n%s", text)
	}
	if !strings.Contains(text, "run_tests.sh: skipped (missing)") {
		t.Fatalf("workspace test not reported:\n%s", text)
	}

	records, err := ReadLog(repo)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d", len(records))
	}
	if records[0].Status != "codex_ok,tests_ok,run_tests_ok" {
		t.Fatalf("status = %q", records[0].Status)
	}
	if records[0].DiffWritten {
		t.Fatalf("diff_written should be false without WriteDiff")
	}
}

func TestRecordFailedGate(t *testing.T) {
	repo, agentDir := setupRepo(t)
	r := Recorder{Repo: repo, AgentDir: agentDir, Scope: "."}
	if err := r.Record(Entry{Completion: "gate failed", StatusParts: []string{"tests_failed"}, TestRC: intPtr(2)}); err != nil {
		t.Fatal(err)
	}
	summary, _ := os.ReadFile(filepath.Join(agentDir, "RESULT.md"))
	if !strings.Contains(string(summary), "QA_CMD/TEST_CMD: FAILED(exit=2)") {
		t.Fatalf("failure code missing:\n%s", summary)
	}
}

func TestRecordGateNotRun(t *testing.T) {
	repo, agentDir := setupRepo(t)
	r := Recorder{Repo: repo, AgentDir: agentDir, Scope: "."}
	if err := r.Record(Entry{Completion: "blocked early", StatusParts: []string{"max_attempts"}}); err != nil {
		t.Fatal(err)
	}
	summary, _ := os.ReadFile(filepath.Join(agentDir, "RESULT.md"))
	if !strings.Contains(string(summary), "QA_CMD/TEST_CMD: not run") {
		t.Fatalf("not-run marker missing:\n%s", summary)
	}
}

func TestWorkspaceTestFoldsIntoStatus(t *testing.T) {
	repo, agentDir := setupRepo(t)
	script := filepath.Join(repo, "run_tests.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho workspace boom\nexit 1\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	r := Recorder{Repo: repo, AgentDir: agentDir, Scope: ".", WorkspaceTest: "./run_tests.sh"}
	if err := r.Record(Entry{Completion: "done", StatusParts: []string{"codex_ok"}, TestRC: intPtr(0)}); err != nil {
		t.Fatal(err)
	}

	records, _ := ReadLog(repo)
	if len(records) != 1 || records[0].Status != "codex_ok,run_tests_failed" {
		t.Fatalf("records = %+v", records)
	}
	tail, err := os.ReadFile(filepath.Join(agentDir, "run_tests_tail.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(tail), "workspace boom") {
		t.Fatalf("tail log missing output: %q", tail)
	}
	summary, _ := os.ReadFile(filepath.Join(agentDir, "RESULT.md"))
	if !strings.Contains(string(summary), "run_tests.sh: FAILED(exit=1)") {
		t.Fatalf("workspace failure missing:\n%s", summary)
	}
}

func TestCollectDiffFiltersExcludedPaths(t *testing.T) {
	repo, agentDir := setupRepo(t)
	git(t, repo, "init")
	git(t, repo, "config", "user.email", "dev@example.com")
	git(t, repo, "config", "user.name", "dev")
	writeRepoFile(t, repo, "src/core.go", "package core\n")
	writeRepoFile(t, repo, "agent/PLAN.md", "plan\n")
	git(t, repo, "add", ".")
	git(t, repo, "commit", "-m", "initial")

	writeRepoFile(t, repo, "src/core.go", "package core\n\nvar x = 1\n")
	writeRepoFile(t, repo, "agent/PLAN.md", "changed plan\n")

	r := Recorder{Repo: repo, AgentDir: agentDir, Scope: "."}
	if err := r.Record(Entry{Completion: "done", StatusParts: []string{"codex_ok"}, TestRC: intPtr(0), WriteDiff: true}); err != nil {
		t.Fatal(err)
	}

	summary, _ := os.ReadFile(filepath.Join(agentDir, "RESULT.md"))
	text := string(summary)
	if !strings.Contains(text, "src/core.go") {
		t.Fatalf("real change missing:\n%s", text)
	}
	if strings.Contains(text, "agent/PLAN.md") {
		t.Fatalf("excluded path leaked:\n%s", text)
	}
	records, _ := ReadLog(repo)
	if len(records) != 1 || !records[0].DiffWritten {
		t.Fatalf("diff_written not set: %+v", records)
	}
}

func TestAppendLogPreservesOrder(t *testing.T) {
	repo := t.TempDir()
	for _, status := range []string{"first", "second", "third"} {
		if err := AppendLog(repo, status, false, "."); err != nil {
			t.Fatal(err)
		}
	}
	records, err := ReadLog(repo)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d", len(records))
	}
	for i, want := range []string{"first", "second", "third"} {
		if records[i].Status != want {
			t.Fatalf("record[%d] = %q, want %q", i, records[i].Status, want)
		}
	}
}

func TestReadLogSkipsMalformedLines(t *testing.T) {
	repo := t.TempDir()
	if err := AppendLog(repo, "good", true, "."); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(repo, filepath.FromSlash(LogFile))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{truncated\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if err := AppendLog(repo, "after", false, "."); err != nil {
		t.Fatal(err)
	}

	records, err := ReadLog(repo)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].Status != "good" || records[1].Status != "after" {
		t.Fatalf("records = %+v", records)
	}
}

func TestReadLogMissingFile(t *testing.T) {
	records, err := ReadLog(t.TempDir())
	if err != nil || records != nil {
		t.Fatalf("records=%v err=%v", records, err)
	}
}

func writeRepoFile(t *testing.T, repo, rel, content string) {
	t.Helper()
	path := filepath.Join(repo, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
