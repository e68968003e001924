package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/openclaw/clawdev/internal/outcome"
	"github.com/openclaw/clawdev/internal/status"
)

var (
	statusRepo string
	statusJSON bool
)

var (
	statusLabelStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	statusMutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	statusIdleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	statusDoneStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	statusBlockedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	statusRunningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
)

func init() {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current run status",
		Long: `Print the run status from agent/STATUS.json along with the most
recent outcome records from memory/supervisor_nightly.log.`,
		RunE: runStatus,
	}

	statusCmd.Flags().StringVar(&statusRepo, "repo", ".", "Repository root")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Emit the raw status document as JSON")

	rootCmd.AddCommand(statusCmd)
}

func stateStyle(s status.State) lipgloss.Style {
	switch s {
	case status.StateDone:
		return statusDoneStyle
	case status.StateBlocked:
		return statusBlockedStyle
	case status.StateRunning:
		return statusRunningStyle
	default:
		return statusIdleStyle
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	repo, err := filepath.Abs(statusRepo)
	if err != nil {
		return fmt.Errorf("resolve repo path: %w", err)
	}
	st, err := status.Load(status.Path(filepath.Join(repo, "agent")))
	if err != nil {
		return err
	}

	if statusJSON {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	state := st.State
	if state == "" {
		state = status.StateIdle
	}
	fmt.Printf("%s %s\n", statusLabelStyle.Render("State:"), stateStyle(state).Render(string(state)))
	fmt.Printf("%s %d\n", statusLabelStyle.Render("Step:"), st.CurrentStep)
	if st.CheckpointID != "" {
		fmt.Printf("%s %s\n", statusLabelStyle.Render("Checkpoint:"), st.CheckpointID)
	}
	if st.LastCmd != "" {
		fmt.Printf("%s %s\n", statusLabelStyle.Render("Last command:"), st.LastCmd)
	}
	fmt.Printf("%s ok=%v attempts=%d\n", statusLabelStyle.Render("Last gate:"), st.LastTestOK, st.LastTestAttempts)
	if st.NeedsHuman {
		fmt.Printf("%s %s\n", statusBlockedStyle.Render("Needs human:"), st.HumanQuestion)
	}
	if st.TriggerReason != "" {
		fmt.Printf("%s %s\n", statusLabelStyle.Render("Trigger reason:"), st.TriggerReason)
	}
	fmt.Printf("%s %s/%s/%s\n", statusLabelStyle.Render("Namespace:"), st.TenantID, st.AgentID, st.ProjectID)
	if st.LastUpdate != "" {
		fmt.Printf("%s %s\n", statusLabelStyle.Render("Updated:"), st.LastUpdate)
	}

	records, err := outcome.ReadLog(repo)
	if err != nil {
		return err
	}
	if len(records) > 0 {
		fmt.Println()
		fmt.Println(statusLabelStyle.Render("Recent outcomes:"))
		start := len(records) - 5
		if start < 0 {
			start = 0
		}
		for _, rec := range records[start:] {
			line := fmt.Sprintf("  %s  %s  diff=%v  scope=%s", rec.Timestamp, rec.Status, rec.DiffWritten, rec.ScopeUsed)
			fmt.Println(statusMutedStyle.Render(line))
		}
	}
	return nil
}
