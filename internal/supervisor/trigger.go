package supervisor

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/openclaw/clawdev/internal/namespace"
	"github.com/openclaw/clawdev/internal/outcome"
	"github.com/openclaw/clawdev/internal/status"
	"github.com/openclaw/clawdev/internal/trigger"
)

// applyTrigger folds a consumed trigger into the run status: the task goal
// lands in agent/TASK.md, human flags clear, the state returns to idle and,
// unless the trigger opted out, the step counter resets. The run log gets a
// "triggered" line so the wake-up is auditable.
func (s *Supervisor) applyTrigger(statusPath string, st *status.RunStatus, payload *trigger.Payload) (*status.RunStatus, error) {
	if strings.TrimSpace(payload.Task) != "" {
		if err := UpsertTaskGoal(filepath.Join(s.AgentDir, "TASK.md"), payload.Task); err != nil {
			s.logf("update TASK.md: %v", err)
		}
	}

	st.State = status.StateIdle
	st.NeedsHuman = false
	st.HumanQuestion = ""
	st.LastErrorSig = status.SigTriggered
	st.LastAction = "triggered_run"
	if payload.ResetStep == nil || *payload.ResetStep {
		st.CurrentStep = 1
		st.CheckpointID = ""
	}
	if reason := strings.TrimSpace(payload.Reason); reason != "" {
		st.TriggerReason = reason
	}

	def := s.Cfg.MemoryNamespace.Defaults()
	st.TenantID = namespace.Normalize(payload.TenantID, fallbackID(st.TenantID, def.TenantID))
	st.AgentID = namespace.Normalize(payload.AgentID, fallbackID(st.AgentID, def.AgentID))
	st.ProjectID = namespace.Normalize(payload.ProjectID, fallbackID(st.ProjectID, def.ProjectID))

	if err := status.Save(statusPath, st); err != nil {
		return nil, err
	}
	if err := outcome.AppendLog(s.Repo, string(status.SigTriggered), false, s.scope); err != nil {
		s.logf("append run log: %v", err)
	}
	return st, nil
}

func fallbackID(current, def string) string {
	if strings.TrimSpace(current) != "" {
		return current
	}
	return def
}

// UpsertTaskGoal rewrites the goal line of a task document in place,
// recognizing both "Goal:" and "目标：" prefixes. When neither exists the
// goal is inserted after the title, or at the top for title-less files.
func UpsertTaskGoal(taskPath, goal string) error {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil
	}
	content := "# Task\n"
	if data, err := os.ReadFile(taskPath); err == nil {
		content = string(data)
	}
	lines := strings.Split(content, "\n")
	updated := false
	for i, line := range lines {
		if strings.HasPrefix(line, "目标：") {
			lines[i] = "目标：" + goal
			updated = true
			break
		}
		if strings.HasPrefix(strings.ToLower(line), "goal:") {
			lines[i] = "Goal: " + goal
			updated = true
			break
		}
	}
	if !updated {
		goalLine := "目标：" + goal
		if len(lines) > 0 && strings.HasPrefix(lines[0], "#") {
			lines = append(lines[:1], append([]string{goalLine}, lines[1:]...)...)
		} else {
			lines = append([]string{goalLine}, lines...)
		}
	}
	text := strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n"
	return os.WriteFile(taskPath, []byte(text), 0o644)
}
