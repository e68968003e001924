// Package outcome records what an iteration did: a human-readable result
// summary overwritten each run, and one JSON line appended to an append-only
// run log that external readers tail. Recording is best-effort and never
// aborts the loop.
package outcome

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openclaw/clawdev/internal/run"
)

// LogFile is the append-only run log, relative to the repo root.
const LogFile = "memory/supervisor_nightly.log"

// workspaceTailLines caps the workspace-test output kept on disk.
const workspaceTailLines = 150

// none marks an empty field in the result summary.
const none = "none"

// excludedPrefixes filters generated and internal paths out of diff
// summaries. The agent scratch dir and memory indexes churn every run and
// would drown the real changes.
var excludedPrefixes = []string{
	"memory/.vector_db",
	"agent/",
	"skills/",
}

var nowFunc = time.Now

// LogRecord is one line of the run log.
type LogRecord struct {
	Timestamp   string `json:"timestamp"`
	Status      string `json:"status"`
	DiffWritten bool   `json:"diff_written"`
	ScopeUsed   string `json:"scope_used"`
}

// Entry describes one iteration outcome to record.
type Entry struct {
	Completion  string
	Risks       string
	StatusParts []string
	// TestRC is the primary verification exit code; nil means the gate
	// did not run this iteration.
	TestRC *int
	// WriteDiff controls whether a diff summary is collected.
	WriteDiff bool
}

// Recorder writes result summaries and run-log lines for one repository.
type Recorder struct {
	Repo     string
	AgentDir string
	Scope    string
	// WorkspaceTest is the optional secondary test entry point, relative
	// to the repo. Missing means skipped, which counts as a pass.
	WorkspaceTest string
	// WorkspaceTimeout bounds the secondary test run.
	WorkspaceTimeout time.Duration
}

// Record writes agent/RESULT.md and appends the run-log line. The workspace
// test runs regardless of the branch that led here; its failure taints the
// composite status but never stops the recording.
func (r Recorder) Record(e Entry) error {
	var verification []string
	switch {
	case e.TestRC == nil:
		verification = append(verification, "QA_CMD/TEST_CMD: not run")
	case *e.TestRC == 0:
		verification = append(verification, "QA_CMD/TEST_CMD: OK")
	default:
		verification = append(verification, fmt.Sprintf("QA_CMD/TEST_CMD: FAILED(exit=%d)", *e.TestRC))
	}

	workspaceSummary, workspaceOK := r.runWorkspaceTest()
	verification = append(verification, workspaceSummary)

	changedFiles, diffStat, diffWritten := none, none, false
	if e.WriteDiff {
		changedFiles, diffStat, diffWritten = collectDiff(r.Repo, r.Scope)
	}

	if err := r.writeSummary(e.Completion, changedFiles, diffStat, strings.Join(verification, "; "), e.Risks); err != nil {
		return err
	}

	parts := make([]string, 0, len(e.StatusParts)+1)
	for _, part := range e.StatusParts {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if workspaceOK {
		parts = append(parts, "run_tests_ok")
	} else {
		parts = append(parts, "run_tests_failed")
	}
	return AppendLog(r.Repo, strings.Join(parts, ","), diffWritten, r.Scope)
}

func (r Recorder) writeSummary(completion, changedFiles, diffStat, verification, risks string) error {
	summary := fmt.Sprintf(`# Result
- Completion: %s
- Changed files: %s
- diff --stat: %s
- Verification: %s
- Risks: %s
`, compact(completion), compact(changedFiles), compact(diffStat), compact(verification), compact(risks))
	return os.WriteFile(filepath.Join(r.AgentDir, "RESULT.md"), []byte(summary), 0o644)
}

// runWorkspaceTest executes the secondary test entry point and tails its
// output to agent/run_tests_tail.log. A missing script is a skipped pass.
func (r Recorder) runWorkspaceTest() (summary string, ok bool) {
	name := r.WorkspaceTest
	if name == "" {
		name = "./run_tests.sh"
	}
	script := name
	if !filepath.IsAbs(script) {
		script = filepath.Join(r.Repo, script)
	}
	base := filepath.Base(name)
	if _, err := os.Stat(script); err != nil {
		return base + ": skipped (missing)", true
	}

	out, rc := run.Output(r.Repo, r.WorkspaceTimeout, "bash", script)
	r.writeWorkspaceTail(out, base)
	switch {
	case rc == run.ExitTimeout:
		return base + ": timeout", false
	case rc == 0:
		return base + ": OK", true
	default:
		return fmt.Sprintf("%s: FAILED(exit=%d)", base, rc), false
	}
}

func (r Recorder) writeWorkspaceTail(out, base string) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) > workspaceTailLines {
		lines = lines[len(lines)-workspaceTailLines:]
	}
	content := strings.TrimSpace(strings.Join(lines, "\n"))
	if content == "" {
		content = base + " produced no output"
	}
	_ = os.WriteFile(filepath.Join(r.AgentDir, "run_tests_tail.log"), []byte(content+"\n"), 0o644)
}

// collectDiff summarizes uncommitted changes within scope, with generated
// paths filtered out of both the file list and the stat block.
func collectDiff(repo, scope string) (changedFiles, diffStat string, diffWritten bool) {
	changedFiles, diffStat = none, none

	out, rc := run.Output(repo, 0, "git", "diff", "--name-only", "--", scope)
	if rc != 0 || strings.TrimSpace(out) == "" {
		return changedFiles, diffStat, false
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !isExcluded(line) {
			files = append(files, line)
		}
	}
	if len(files) == 0 {
		return changedFiles, diffStat, false
	}
	changedFiles = strings.Join(files, ", ")

	statOut, rc := run.Output(repo, 0, "git", "diff", "--stat", "--", scope)
	if rc != 0 || strings.TrimSpace(statOut) == "" {
		return changedFiles, diffStat, false
	}
	var kept []string
	for _, line := range strings.Split(statOut, "\n") {
		if idx := strings.Index(line, "|"); idx >= 0 {
			path := strings.TrimSpace(line[:idx])
			for _, f := range files {
				if path == f {
					kept = append(kept, line)
					break
				}
			}
			continue
		}
		stripped := strings.TrimSpace(line)
		for _, f := range files {
			if strings.HasPrefix(stripped, f) {
				kept = append(kept, line)
				break
			}
		}
	}
	if len(kept) == 0 {
		return changedFiles, none, false
	}
	return changedFiles, strings.Join(kept, "\n"), true
}

func isExcluded(path string) bool {
	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// compact flattens a multi-line value to a single " ; " separated line.
func compact(value string) string {
	var parts []string
	for _, line := range strings.Split(value, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return none
	}
	return strings.Join(parts, " ; ")
}

// AppendLog appends one record to the run log, creating memory/ on demand.
// The log is never truncated or rewritten.
func AppendLog(repo, status string, diffWritten bool, scope string) error {
	path := filepath.Join(repo, filepath.FromSlash(LogFile))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	if status == "" {
		status = "unknown"
	}
	rec := LogRecord{
		Timestamp:   nowFunc().Format("2006-01-02T15:04:05"),
		Status:      status,
		DiffWritten: diffWritten,
		ScopeUsed:   scope,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode log record: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append run log: %w", err)
	}
	return nil
}

// ReadLog returns the run log records in write order. Malformed lines are
// skipped so a partially written tail never hides history.
func ReadLog(repo string) ([]LogRecord, error) {
	f, err := os.Open(filepath.Join(repo, filepath.FromSlash(LogFile)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []LogRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec LogRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
