package main

import (
	"fmt"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/openclaw/clawdev/internal/outcome"
	"github.com/openclaw/clawdev/internal/status"
)

var (
	watchRepo     string
	watchInterval time.Duration
)

func init() {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of run status and the outcome log",
		Long: `Poll agent/STATUS.json and memory/supervisor_nightly.log and render
them as a live terminal view. Press q to quit.`,
		RunE: runWatch,
	}

	watchCmd.Flags().StringVar(&watchRepo, "repo", ".", "Repository root")
	watchCmd.Flags().DurationVar(&watchInterval, "poll", 2*time.Second, "Poll interval")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	repo, err := filepath.Abs(watchRepo)
	if err != nil {
		return fmt.Errorf("resolve repo path: %w", err)
	}
	m := watchModel{repo: repo}
	m.reload()
	_, err = tea.NewProgram(m).Run()
	return err
}

type watchTickMsg time.Time

type watchModel struct {
	repo    string
	st      *status.RunStatus
	records []outcome.LogRecord
	loadErr error
}

func (m *watchModel) reload() {
	st, err := status.Load(status.Path(filepath.Join(m.repo, "agent")))
	if err != nil {
		m.loadErr = err
		return
	}
	records, err := outcome.ReadLog(m.repo)
	if err != nil {
		m.loadErr = err
		return
	}
	m.st = st
	m.records = records
	m.loadErr = nil
}

func watchTick() tea.Cmd {
	return tea.Tick(watchInterval, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

func (m watchModel) Init() tea.Cmd {
	return watchTick()
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case watchTickMsg:
		m.reload()
		return m, watchTick()
	}
	return m, nil
}

var (
	watchTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	watchHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	watchMutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	watchErrStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

func (m watchModel) View() string {
	out := watchTitleStyle.Render("clawdev "+filepath.Base(m.repo)) + "\n\n"
	if m.loadErr != nil {
		return out + watchErrStyle.Render(fmt.Sprintf("error: %v", m.loadErr)) + "\n"
	}
	if m.st == nil {
		return out + watchMutedStyle.Render("no status yet") + "\n"
	}

	state := m.st.State
	if state == "" {
		state = status.StateIdle
	}
	out += fmt.Sprintf("%s %s   %s %d   %s ok=%v\n",
		watchHeaderStyle.Render("state:"), stateStyle(state).Render(string(state)),
		watchHeaderStyle.Render("step:"), m.st.CurrentStep,
		watchHeaderStyle.Render("gate:"), m.st.LastTestOK)
	if m.st.LastCmd != "" {
		out += fmt.Sprintf("%s %s\n", watchHeaderStyle.Render("last cmd:"), m.st.LastCmd)
	}
	if m.st.NeedsHuman {
		out += watchErrStyle.Render("needs human: "+m.st.HumanQuestion) + "\n"
	}
	out += fmt.Sprintf("%s %s/%s/%s\n",
		watchHeaderStyle.Render("namespace:"), m.st.TenantID, m.st.AgentID, m.st.ProjectID)

	out += "\n" + watchHeaderStyle.Render("outcomes:") + "\n"
	start := len(m.records) - 8
	if start < 0 {
		start = 0
	}
	if len(m.records) == 0 {
		out += watchMutedStyle.Render("  (none yet)") + "\n"
	}
	for _, rec := range m.records[start:] {
		out += watchMutedStyle.Render(
			fmt.Sprintf("  %s  %s  diff=%v", rec.Timestamp, rec.Status, rec.DiffWritten)) + "\n"
	}
	out += "\n" + watchMutedStyle.Render("q to quit") + "\n"
	return out
}
