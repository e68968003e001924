// Package status persists the per-repository supervisor run state.
// The on-disk document is a flat JSON object at agent/STATUS.json; field
// names and value spellings are stable because external tooling tails and
// rewrites the same file.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileName is the status document name inside the agent directory.
const FileName = "STATUS.json"

// State is the supervisor scheduling state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateDone    State = "done"
	StateBlocked State = "blocked"
)

// Terminal reports whether the state halts the scheduling session.
// done and blocked are hard stops; only an external trigger re-opens them.
func (s State) Terminal() bool {
	return s == StateDone || s == StateBlocked
}

// ErrorSig is a short machine-readable tag describing the last failure class.
// The string values are part of the persisted format.
type ErrorSig string

const (
	SigTriggered            ErrorSig = "triggered"
	SigMaxAttempts          ErrorSig = "max_attempts"
	SigCodexTimeout         ErrorSig = "codex_timeout"
	SigCodexTimeoutProgress ErrorSig = "codex_timeout_progress"
	SigCodexNoProgress      ErrorSig = "codex_no_progress"
	SigCodexFailed          ErrorSig = "codex_failed"
	SigSyncFailed           ErrorSig = "sync_failed"
	SigSyncTargetMissing    ErrorSig = "sync_target_missing"
	SigTestsFailed          ErrorSig = "tests_failed"
	SigRunTestsFailed       ErrorSig = "run_tests_failed"
	SigAutoPRFailed         ErrorSig = "autopr_failed"
)

// RunStatus is the mutable run record, one per repository.
type RunStatus struct {
	State            State    `json:"state,omitempty"`
	CurrentStep      int      `json:"current_step,omitempty"`
	CheckpointID     string   `json:"checkpoint_id,omitempty"`
	LastCmd          string   `json:"last_cmd,omitempty"`
	LastAction       string   `json:"last_action,omitempty"`
	LastTestOK       bool     `json:"last_test_ok"`
	LastTestAttempts int      `json:"last_test_attempts,omitempty"`
	NeedsHuman       bool     `json:"needs_human"`
	HumanQuestion    string   `json:"human_question"`
	LastErrorSig     ErrorSig `json:"last_error_sig,omitempty"`
	TriggerReason    string   `json:"trigger_reason,omitempty"`
	TenantID         string   `json:"tenant_id,omitempty"`
	AgentID          string   `json:"agent_id,omitempty"`
	ProjectID        string   `json:"project_id,omitempty"`
	LastUpdate       string   `json:"last_update,omitempty"`
}

// Path returns the status document path for an agent directory.
func Path(agentDir string) string {
	return filepath.Join(agentDir, FileName)
}

// Load reads the status document. An absent file yields an empty record,
// never an error; the record is created implicitly on first save.
func Load(path string) (*RunStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RunStatus{}, nil
		}
		return nil, fmt.Errorf("read status: %w", err)
	}
	var st RunStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse status %s: %w", path, err)
	}
	return &st, nil
}

// Save rewrites the status document, stamping last_update.
func Save(path string, st *RunStatus) error {
	st.LastUpdate = time.Now().Format("2006-01-02T15:04:05")
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

// Block marks the run blocked with a question for the operator.
func (st *RunStatus) Block(sig ErrorSig, question string) {
	st.State = StateBlocked
	st.NeedsHuman = true
	st.HumanQuestion = question
	st.LastErrorSig = sig
}
