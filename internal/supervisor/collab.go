package supervisor

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/openclaw/clawdev/internal/config"
	"github.com/openclaw/clawdev/internal/run"
)

// collabTailLines caps collaborator output kept on disk.
const collabTailLines = 150

// codexHome is the agent CLI's own state directory, always granted to the
// sandbox and never treated as an external sync target.
func codexHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path, err := filepath.Abs(filepath.Join(home, ".codex"))
	if err != nil {
		return ""
	}
	return path
}

func resolveScope(flagScope string, cfg *config.Config) string {
	if s := strings.TrimSpace(flagScope); s != "" {
		return s
	}
	return cfg.Supervisor.DefaultScope
}

// resolveAddDirs merges the codex home, CLI flags, configured dirs and the
// auto-detected sibling skills mirror, keeping only existing directories,
// absolute and deduplicated in first-seen order.
func resolveAddDirs(repo string, cliDirs, configuredDirs []string) []string {
	candidates := []string{codexHome()}
	candidates = append(candidates, cliDirs...)
	candidates = append(candidates, configuredDirs...)

	// A repo named "<name>-repo" often has a sibling skills/<name> mirror.
	base := filepath.Base(repo)
	if strings.HasSuffix(base, "-repo") {
		mirror := filepath.Join(filepath.Dir(repo), "skills", strings.TrimSuffix(base, "-repo"))
		candidates = append(candidates, mirror)
	}

	var resolved []string
	seen := map[string]bool{}
	for _, raw := range candidates {
		dir := resolveAddDir(repo, raw)
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		resolved = append(resolved, dir)
	}
	return resolved
}

func resolveAddDir(repo, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		raw = filepath.Join(home, strings.TrimPrefix(raw, "~"))
	}
	if !filepath.IsAbs(raw) {
		raw = filepath.Join(repo, raw)
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return ""
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return ""
	}
	return abs
}

// resolveSyncTarget picks the first add-dir that is not the codex home.
func resolveSyncTarget(addDirs []string) string {
	home := codexHome()
	for _, dir := range addDirs {
		if dir != home {
			return dir
		}
	}
	return ""
}

// hasExternalAddDirs reports whether any sandbox dir beyond the codex home
// is granted. External dirs force a cold start so the fresh session sees the
// widened sandbox.
func (s *Supervisor) hasExternalAddDirs() bool {
	home := codexHome()
	for _, dir := range s.addDirs {
		if dir != home {
			return true
		}
	}
	return false
}

// hostSync runs the configured sync collaborator against the target,
// tailing its output to agent/sync_tail.log.
func (s *Supervisor) hostSync(target string) int {
	timeout := s.Opts.CodexTimeout
	if timeout <= 0 || timeout > hostSyncTimeout {
		timeout = hostSyncTimeout
	}
	name := s.Cfg.Supervisor.SyncCommand
	out, rc := run.Output(s.Repo, timeout, name, "--repo", s.Repo, "--target", target)
	label := filepath.Base(name)
	switch rc {
	case run.ExitTimeout:
		s.writeTail("sync_tail.log", label+" timed out", label)
	case run.ExitNotFound:
		s.writeTail("sync_tail.log", label+" missing", label)
	default:
		s.writeTail("sync_tail.log", out, label)
	}
	return rc
}

// autoPR runs the delivery collaborator, tailing its output to
// agent/autopr_tail.log and returning its exit code plus the last output
// line as a short message.
func (s *Supervisor) autoPR() (int, string) {
	pr := s.Cfg.AutoPR
	args := []string{
		"--repo", s.Repo,
		"--scope", s.scope,
		"--base", pr.Base,
		"--branch-prefix", pr.BranchPrefix,
		"--title", pr.Title,
		"--commit-message", pr.CommitMessage,
		"--mode", pr.Mode,
		"--body-file", pr.BodyFile,
	}
	// Auto-merge is only ever requested in dev mode.
	if pr.AutoMerge && pr.Mode == "dev" {
		args = append(args, "--auto-merge")
	}
	label := filepath.Base(pr.Command)
	out, rc := run.Output(s.Repo, hostSyncTimeout, pr.Command, args...)
	switch rc {
	case run.ExitTimeout:
		s.writeTail("autopr_tail.log", label+" timed out", label)
		return rc, label + " timed out"
	case run.ExitNotFound:
		s.writeTail("autopr_tail.log", label+" missing", label)
		return rc, label + " missing"
	}
	s.writeTail("autopr_tail.log", out, label)
	lines := tailLines(out, collabTailLines)
	msg := label + " finished"
	if len(lines) > 0 {
		msg = lines[len(lines)-1]
	}
	return rc, msg
}

func tailLines(out string, n int) []string {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

func (s *Supervisor) writeTail(name, out, label string) {
	lines := tailLines(out, collabTailLines)
	content := label + " produced no output\n"
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	path := filepath.Join(s.AgentDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		s.logf("write %s: %v", name, err)
	}
}

// ScopeUsed exposes the resolved diff scope, for command output.
func (s *Supervisor) ScopeUsed() string { return s.scope }

// SyncTarget exposes the resolved sync target, for command output.
func (s *Supervisor) SyncTarget() string { return s.syncTarget }

// AddDirs exposes the resolved sandbox directories, for command output.
func (s *Supervisor) AddDirs() []string { return s.addDirs }
