// Package trigger implements the transient wake-up request consumed by the
// supervisor loop. At most one trigger is pending at a time; it is read and
// deleted at the start of an iteration. A content fingerprint plus a short
// time window suppresses duplicate requests.
package trigger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileName is the trigger document name inside the agent directory.
const FileName = "TRIGGER.json"

// DefaultDedupWindow is the duplicate-suppression window.
const DefaultDedupWindow = 90 * time.Second

// Payload is the on-disk trigger document.
type Payload struct {
	RequestedAt      string `json:"requested_at"`
	RequestedAtEpoch int64  `json:"requested_at_epoch"`
	Reason           string `json:"reason"`
	Task             string `json:"task"`
	ResetStep        *bool  `json:"reset_step,omitempty"`
	TenantID         string `json:"tenant_id"`
	AgentID          string `json:"agent_id"`
	ProjectID        string `json:"project_id"`
	Fingerprint      string `json:"fingerprint"`
}

// Path returns the trigger document path for an agent directory.
func Path(agentDir string) string {
	return filepath.Join(agentDir, FileName)
}

// ShouldReset reports whether the trigger resets the step counter. Absent
// means reset; only an explicit false preserves the current step.
func (p *Payload) ShouldReset() bool {
	return p.ResetStep == nil || *p.ResetStep
}

// Fingerprint hashes the semantically significant trigger fields. Identical
// fields always produce the same fingerprint; changing any one field changes
// it.
func Fingerprint(reason, task string, resetStep bool, tenantID, agentID, projectID string) string {
	reset := 0
	if resetStep {
		reset = 1
	}
	payload := fmt.Sprintf("%s|%s|%d|%s|%s|%s",
		strings.TrimSpace(reason), strings.TrimSpace(task), reset,
		strings.TrimSpace(tenantID), strings.TrimSpace(agentID), strings.TrimSpace(projectID))
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// IsDuplicate reports whether a pending trigger with the same fingerprint was
// requested within the dedup window. A zero or negative window disables
// suppression, as does a missing or unreadable pending trigger.
func IsDuplicate(path, fingerprint string, window time.Duration, now time.Time) bool {
	if window <= 0 {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var prev Payload
	if err := json.Unmarshal(data, &prev); err != nil {
		return false
	}
	if prev.Fingerprint == "" || prev.Fingerprint != fingerprint {
		return false
	}
	if prev.RequestedAtEpoch == 0 {
		return false
	}
	return now.Unix()-prev.RequestedAtEpoch <= int64(window.Seconds())
}

// Write persists a trigger document, stamping request times and fingerprint.
func Write(path string, p *Payload, now time.Time) error {
	p.RequestedAt = now.Format("2006-01-02T15:04:05")
	p.RequestedAtEpoch = now.Unix()
	p.Fingerprint = Fingerprint(p.Reason, p.Task, p.ShouldReset(), p.TenantID, p.AgentID, p.ProjectID)
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write trigger: %w", err)
	}
	return nil
}

// Consume reads and deletes the pending trigger. A missing file means no
// trigger; an unreadable one is discarded so a poisoned document cannot wedge
// the loop.
func Consume(agentDir string) (*Payload, bool) {
	path := Path(agentDir)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	_ = os.Remove(path)
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false
	}
	return &p, true
}
