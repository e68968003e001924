// Package blueprint models the ordered delivery plan the supervisor walks.
// The plan is loaded from agent/BLUEPRINT.json and treated as immutable for
// the duration of a run; a missing or unreadable file falls back to the
// built-in 4-step plan.
package blueprint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the blueprint document name inside the agent directory.
const FileName = "BLUEPRINT.json"

// Step is one entry in the delivery plan. ID defines the total order and is
// matched exactly against the run's current_step.
type Step struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Objective string `json:"objective"`
	// RequiresTest overrides the verification gate when present.
	RequiresTest *bool `json:"requires_test,omitempty"`
	Checkpoint   bool  `json:"checkpoint,omitempty"`
}

// Blueprint is the immutable ordered step list for a run.
type Blueprint struct {
	Version string `json:"version"`
	Steps   []Step `json:"steps"`
}

// Default returns the built-in spec/implement/verify/finalize plan used when
// no blueprint document exists.
func Default() *Blueprint {
	return &Blueprint{
		Version: "1.0",
		Steps: []Step{
			{ID: 1, Name: "spec", Objective: "Write PLAN.md", Checkpoint: true},
			{ID: 2, Name: "implement", Objective: "Implement changes", Checkpoint: true},
			{ID: 3, Name: "verify", Objective: "Run tests"},
			{ID: 4, Name: "finalize", Objective: "Write RESULT.md"},
		},
	}
}

// Load reads the blueprint for an agent directory. Absent file yields the
// default plan; a malformed file yields an empty plan, which the loop
// interprets as "already complete" rather than an error.
func Load(agentDir string) *Blueprint {
	data, err := os.ReadFile(filepath.Join(agentDir, FileName))
	if err != nil {
		return Default()
	}
	var bp Blueprint
	if err := json.Unmarshal(data, &bp); err != nil {
		return &Blueprint{Version: "1.0"}
	}
	return &bp
}

// Lookup returns the step whose id equals currentStep, or nil when no step
// matches. A nil result always means "plan complete", never an error.
func (bp *Blueprint) Lookup(currentStep int) *Step {
	for i := range bp.Steps {
		if bp.Steps[i].ID == currentStep {
			return &bp.Steps[i]
		}
	}
	return nil
}

// NeedsTest reports whether the step gates advancement on verification.
// An explicit requires_test flag wins; otherwise only the verify and finalize
// steps require it. A nil step requires verification.
func (s *Step) NeedsTest() bool {
	if s == nil {
		return true
	}
	if s.RequiresTest != nil {
		return *s.RequiresTest
	}
	return s.Name == "verify" || s.Name == "finalize"
}

// AllowsCheckpoint reports whether the step snapshots pending changes on
// completion.
func (s *Step) AllowsCheckpoint() bool {
	return s != nil && s.Checkpoint
}

// IsHostSync detects the host-sync step by naming convention: the name or
// objective mentions both syncing and the skills mirror.
func (s *Step) IsHostSync() bool {
	if s == nil {
		return false
	}
	text := strings.ToLower(s.Name + " " + s.Objective)
	return strings.Contains(text, "sync") &&
		(strings.Contains(text, "skill") || strings.Contains(text, "../skills"))
}
