package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/openclaw/clawdev/internal/namespace"
	"github.com/openclaw/clawdev/internal/status"
	"github.com/openclaw/clawdev/internal/supervisor"
	"github.com/openclaw/clawdev/internal/trigger"
)

var (
	triggerRepo      string
	triggerReason    string
	triggerTask      string
	triggerResetStep bool
	triggerTenantID  string
	triggerAgentID   string
	triggerProjectID string
	triggerDedup     time.Duration
)

func init() {
	triggerCmd := &cobra.Command{
		Use:   "trigger",
		Short: "Queue an event-driven supervisor run",
		Long: `Write agent/TRIGGER.json so the next supervisor tick wakes up,
optionally replacing the task goal in agent/TASK.md first.

A trigger whose fields match the still-pending previous trigger is skipped
inside the dedup window, so repeated hook firings collapse into one run.

Examples:
  clawdev trigger --repo ~/work/shop-repo --reason post-commit
  clawdev trigger --repo ~/work/shop-repo --task "fix the login flow" --reset-step=false
  clawdev trigger --repo ~/work/shop-repo --tenant-id acme --project-id shop`,
		RunE: runTrigger,
	}

	triggerCmd.Flags().StringVar(&triggerRepo, "repo", "", "Repository root (required)")
	triggerCmd.Flags().StringVar(&triggerReason, "reason", "manual", "Trigger reason")
	triggerCmd.Flags().StringVar(&triggerTask, "task", "", "Optional new task goal")
	triggerCmd.Flags().BoolVar(&triggerResetStep, "reset-step", true, "Reset the run to step 1")
	triggerCmd.Flags().StringVar(&triggerTenantID, "tenant-id", "", "Tenant namespace id (optional)")
	triggerCmd.Flags().StringVar(&triggerAgentID, "agent-id", "", "Agent namespace id (optional)")
	triggerCmd.Flags().StringVar(&triggerProjectID, "project-id", "", "Project namespace id (optional)")
	triggerCmd.Flags().DurationVar(&triggerDedup, "dedup-window", trigger.DefaultDedupWindow, "Skip duplicate triggers inside this window (0 disables)")
	_ = triggerCmd.MarkFlagRequired("repo")

	rootCmd.AddCommand(triggerCmd)
}

func runTrigger(cmd *cobra.Command, args []string) error {
	repo, err := filepath.Abs(triggerRepo)
	if err != nil {
		return fmt.Errorf("resolve repo path: %w", err)
	}
	agentDir := filepath.Join(repo, "agent")
	if info, err := os.Stat(agentDir); err != nil || !info.IsDir() {
		return fmt.Errorf("missing agent/ directory under %s", repo)
	}

	if triggerTask != "" {
		if err := supervisor.UpsertTaskGoal(filepath.Join(agentDir, "TASK.md"), triggerTask); err != nil {
			return fmt.Errorf("update TASK.md: %w", err)
		}
	}

	// Namespace falls back to the current status, then to defaults; the
	// project default is the repo name so two checkouts never share memory.
	st, err := status.Load(status.Path(agentDir))
	if err != nil {
		return err
	}
	tenantID := namespace.Normalize(triggerTenantID, orDefault(st.TenantID, "default"))
	agentID := namespace.Normalize(triggerAgentID, orDefault(st.AgentID, "main"))
	projectID := namespace.Normalize(triggerProjectID, orDefault(st.ProjectID, filepath.Base(repo)))

	// Wake a live status record immediately; the supervisor re-applies the
	// trigger when it consumes the file.
	if st.State != "" || st.LastUpdate != "" {
		st.State = status.StateIdle
		st.NeedsHuman = false
		st.HumanQuestion = ""
		st.LastErrorSig = status.SigTriggered
		st.LastAction = "triggered_run"
		st.TenantID, st.AgentID, st.ProjectID = tenantID, agentID, projectID
		if triggerResetStep {
			st.CurrentStep = 1
			st.CheckpointID = ""
		}
		if err := status.Save(status.Path(agentDir), st); err != nil {
			return err
		}
	}

	triggerPath := trigger.Path(agentDir)
	fp := trigger.Fingerprint(triggerReason, triggerTask, triggerResetStep, tenantID, agentID, projectID)
	now := time.Now()
	if trigger.IsDuplicate(triggerPath, fp, triggerDedup, now) {
		fmt.Println("trigger: skipped duplicate request in dedup window")
		return nil
	}

	reset := triggerResetStep
	payload := &trigger.Payload{
		Reason:    triggerReason,
		Task:      triggerTask,
		ResetStep: &reset,
		TenantID:  tenantID,
		AgentID:   agentID,
		ProjectID: projectID,
	}
	if err := trigger.Write(triggerPath, payload, now); err != nil {
		return err
	}
	fmt.Printf("trigger: queued at %s\n", triggerPath)
	return nil
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
