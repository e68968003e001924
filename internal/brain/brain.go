// Package brain assembles the bounded second-brain digest fed to the agent
// prompt. It is a pure read: missing or partial memory files produce empty
// sections, never errors. When strict namespace isolation is enabled, every
// path is derived from namespaced templates so one project's digest can never
// contain another project's memory.
package brain

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/openclaw/clawdev/internal/config"
	"github.com/openclaw/clawdev/internal/namespace"
)

// ElisionMarker separates head and tail when a digest is cut to budget.
const ElisionMarker = "\n...\n"

// memoryExcerptLines is the line cap for the global memory section.
const memoryExcerptLines = 12

var priorityPattern = regexp.MustCompile(`(?i)(#gold|#p0|#p1|decision|decisions|risk|blocked|next|milestone|目标|决策|风险|下一步)`)

// TruncateChars cuts text to at most maxChars runes, keeping both head and
// tail with a visible elision marker. The marker is charged against the
// budget, so the result never exceeds maxChars and re-truncating a truncated
// string returns it unchanged.
func TruncateChars(text string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	marker := []rune(ElisionMarker)
	if maxChars <= len(marker) {
		return string(runes[:maxChars])
	}
	budget := maxChars - len(marker)
	head := budget / 2
	tail := budget - head
	return string(runes[:head]) + ElisionMarker + string(runes[len(runes)-tail:])
}

// ExtractPriorityLines selects up to maxLines non-blank lines that carry a
// priority marker (decision, risk, next, milestone, or locale equivalents).
// When nothing is tagged it falls back to a head/tail line split so both the
// earliest and latest content survive.
func ExtractPriorityLines(text string, maxLines int) string {
	if maxLines <= 0 {
		return ""
	}
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, strings.TrimRight(line, " \t"))
		}
	}
	if len(lines) == 0 {
		return ""
	}

	var selected []string
	for _, line := range lines {
		if priorityPattern.MatchString(line) {
			selected = append(selected, line)
			if len(selected) >= maxLines {
				break
			}
		}
	}
	if len(selected) == 0 {
		head := maxLines / 2
		tail := maxLines - head
		if len(lines) <= maxLines {
			selected = lines
		} else {
			selected = append(append([]string{}, lines[:head]...), lines[len(lines)-tail:]...)
		}
	}
	if len(selected) > maxLines {
		selected = selected[:maxLines]
	}
	return strings.Join(selected, "\n")
}

// Assembler builds namespaced second-brain digests for one repository.
type Assembler struct {
	Repo      string
	Brain     config.SecondBrainConfig
	Namespace config.MemoryNamespaceConfig

	// now is injectable for tests; zero value uses time.Now.
	now func() time.Time
}

// New returns an assembler for the repo using the given configuration.
func New(repo string, brainCfg config.SecondBrainConfig, nsCfg config.MemoryNamespaceConfig) *Assembler {
	return &Assembler{Repo: repo, Brain: brainCfg, Namespace: nsCfg}
}

func (a *Assembler) today() string {
	if a.now != nil {
		return a.now().Format("2006-01-02")
	}
	return time.Now().Format("2006-01-02")
}

// paths resolves the memory, daily-index and session paths for a namespace.
// Namespaced templates win whenever namespacing with strict isolation is on.
func (a *Assembler) paths(ns namespace.Namespace) (memory, daily string, sessions []string) {
	root := a.Brain.Root
	memoryTpl := a.Brain.MemoryTemplate
	dailyTpl := a.Brain.DailyIndexTemplate
	sessionTpl := a.Brain.SessionGlobTemplate
	if a.Namespace.IsEnabled() && a.Namespace.Strict() {
		root = a.Namespace.Root
		memoryTpl = a.Namespace.GlobalMemoryTemplate
		dailyTpl = a.Namespace.DailyIndexTemplate
		sessionTpl = a.Namespace.SessionGlobTemplate
	}

	date := a.today()
	memory = ns.ResolvePath(a.Repo, root, memoryTpl, date)
	daily = ns.ResolvePath(a.Repo, root, dailyTpl, date)

	pattern := ns.ResolvePath(a.Repo, root, sessionTpl, date)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return memory, daily, nil
	}
	sort.Slice(matches, func(i, j int) bool {
		return fileMtime(matches[i]).After(fileMtime(matches[j]))
	})
	if len(matches) > a.Brain.MaxSessions {
		matches = matches[:a.Brain.MaxSessions]
	}
	return memory, daily, matches
}

func fileMtime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func safeRead(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// Build assembles the digest for a namespace. Returns "" when the second
// brain is disabled.
func (a *Assembler) Build(ns namespace.Namespace) string {
	if !a.Brain.Enabled {
		return ""
	}

	memoryPath, dailyPath, sessionPaths := a.paths(ns)
	maxLines := a.Brain.MaxLinesPerFile

	sections := []string{
		"[NAMESPACE]\ntenant_id=" + ns.TenantID +
			" agent_id=" + ns.AgentID +
			" project_id=" + ns.ProjectID,
	}

	if a.Brain.IncludeMemoryMD() {
		if excerpt := ExtractPriorityLines(safeRead(memoryPath), memoryExcerptLines); excerpt != "" {
			sections = append(sections, "[MEMORY]\n"+excerpt)
		}
	}
	if excerpt := ExtractPriorityLines(safeRead(dailyPath), maxLines); excerpt != "" {
		sections = append(sections, "[DAILY_INDEX]\n"+excerpt)
	}
	for _, sessionPath := range sessionPaths {
		if excerpt := ExtractPriorityLines(safeRead(sessionPath), maxLines); excerpt != "" {
			sections = append(sections, "[SESSION:"+filepath.Base(sessionPath)+"]\n"+excerpt)
		}
	}

	merged := strings.TrimSpace(strings.Join(sections, "\n\n"))
	return TruncateChars(merged, a.Brain.MaxChars)
}
