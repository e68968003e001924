// Package checkpoint snapshots the working tree before risky steps. A
// checkpoint is a git patch plus a JSON record of the step and the untracked
// files the patch cannot carry. Restore stays manual: git apply the patch.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openclaw/clawdev/internal/blueprint"
	"github.com/openclaw/clawdev/internal/run"
)

// Record is the sidecar metadata written next to each patch.
type Record struct {
	Step      blueprint.Step `json:"step"`
	CreatedAt string         `json:"created_at"`
	Patch     string         `json:"patch"`
	Untracked []string       `json:"untracked"`
}

// nowFunc is swappable in tests so checkpoint names are deterministic.
var nowFunc = time.Now

// Write snapshots the repo's uncommitted changes for the step under
// agent/checkpoints/ and returns the metadata file name. Failures degrade to
// empty artifacts rather than blocking the run.
func Write(repo, agentDir string, step blueprint.Step) (string, error) {
	dir := filepath.Join(agentDir, "checkpoints")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create checkpoint dir: %w", err)
	}
	now := nowFunc()
	stamp := now.Format("20060102_150405")
	base := fmt.Sprintf("step-%d-%s", step.ID, stamp)
	patchPath := filepath.Join(dir, base+".patch")
	metaPath := filepath.Join(dir, base+".json")

	// --binary keeps the patch applyable when the agent touched non-text
	// files. A failing git still yields an empty but present patch.
	diff, rc := run.Output(repo, 0, "git", "diff", "--binary")
	if rc != 0 {
		diff = ""
	}
	if err := os.WriteFile(patchPath, []byte(diff), 0o644); err != nil {
		return "", fmt.Errorf("write patch: %w", err)
	}

	rec := Record{
		Step:      step,
		CreatedAt: now.Format("2006-01-02T15:04:05"),
		Patch:     base + ".patch",
		Untracked: untrackedFiles(repo),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode checkpoint record: %w", err)
	}
	if err := os.WriteFile(metaPath, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write checkpoint record: %w", err)
	}
	return base + ".json", nil
}

func untrackedFiles(repo string) []string {
	out, rc := run.Output(repo, 0, "git", "ls-files", "--others", "--exclude-standard")
	if rc != 0 {
		return []string{}
	}
	files := []string{}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			files = append(files, line)
		}
	}
	return files
}
