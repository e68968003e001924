// Package verify runs the repository's own verification gate. Commands come
// from agent/COMMANDS.env: QA_CMD when set, TEST_CMD otherwise. Output is
// never parsed; only the exit code and the agent/test_tail.log tail matter.
package verify

import (
	"fmt"
	"time"

	"github.com/openclaw/clawdev/internal/run"
)

// TailLines is how many trailing output lines land in agent/test_tail.log.
const TailLines = 150

// tailScript sources the command env and pipes the gate through tail into
// the log. pipefail keeps the gate's exit code even though tail exits 0.
var tailScript = fmt.Sprintf(`set -o pipefail && source agent/COMMANDS.env && `+
	`{ if [ -n "${QA_CMD:-}" ]; then eval "$QA_CMD"; else eval "$TEST_CMD"; fi; } `+
	`2>&1 | tail -n %d > agent/test_tail.log`, TailLines)

// sleepFunc is swappable in tests so retries do not take wall-clock time.
var sleepFunc = time.Sleep

// Runner executes the verification gate for one repository.
type Runner struct {
	// Repo is the repository root; the script references agent/ paths
	// relative to it.
	Repo string
	// Retries is how many additional attempts a failing gate gets.
	Retries int
	// RetrySleep is the pause between attempts.
	RetrySleep time.Duration
}

// Once runs the gate a single time and returns its exit code.
func (r Runner) Once() int {
	return run.Code(r.Repo, 0, "bash", "-lc", tailScript)
}

// Run executes the gate with bounded retry. It returns the final exit code
// and the number of attempts actually made. A pass stops retrying
// immediately.
func (r Runner) Run() (rc, attempts int) {
	for {
		attempts++
		rc = r.Once()
		if rc == 0 {
			return rc, attempts
		}
		if attempts > r.Retries {
			return rc, attempts
		}
		if r.RetrySleep > 0 {
			sleepFunc(r.RetrySleep)
		}
	}
}
