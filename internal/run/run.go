// Package run executes external collaborator commands and reports
// shell-style exit codes. Timeouts map to 124 and missing binaries to 127 so
// callers can branch on the same codes the commands themselves would produce
// under coreutils timeout.
package run

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"
)

const (
	// ExitOK is a clean exit.
	ExitOK = 0
	// ExitTimeout mirrors coreutils timeout(1).
	ExitTimeout = 124
	// ExitNotFound mirrors the shell's command-not-found code.
	ExitNotFound = 127
)

// ExecCommandContext is swappable in tests.
var ExecCommandContext = exec.CommandContext

// Code runs name with args in dir and returns its exit code. A zero timeout
// means no deadline. Output streams to the supervisor's own stdout/stderr.
func Code(dir string, timeout time.Duration, name string, args ...string) int {
	ctx := context.Background()
	cancel := func() {}
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	cmd := ExecCommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = defaultEnv()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err := cmd.Run()
	return classify(ctx, err)
}

// Output runs name with args in dir and returns the combined output
// alongside the exit code.
func Output(dir string, timeout time.Duration, name string, args ...string) (string, int) {
	ctx := context.Background()
	cancel := func() {}
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	cmd := ExecCommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = defaultEnv()
	out, err := cmd.CombinedOutput()
	return string(out), classify(ctx, err)
}

func classify(ctx context.Context, err error) int {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ExitTimeout
	}
	if err == nil {
		return ExitOK
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return ExitNotFound
	}
	return 1
}

// defaultEnv copies the process environment, defaulting TERM so interactive
// CLIs accept being driven without a real terminal.
func defaultEnv() []string {
	env := os.Environ()
	for _, kv := range env {
		if len(kv) >= 5 && kv[:5] == "TERM=" {
			return env
		}
	}
	return append(env, "TERM=xterm-256color")
}
