// Package sandbox runs allow-listed external tools under a deadline and a
// best-effort memory ceiling.
//
// Commands are spawned directly from an argument vector. No shell is ever
// involved, and the runner performs no interpretation of args: a path in
// args is passed to the tool verbatim, so keeping tool arguments inside the
// working directory is the calling agent's job.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"sync/atomic"
	"time"
)

// DefaultTimeout applies when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

const (
	defaultPollInterval = 50 * time.Millisecond
	// waitDelay bounds how long Wait blocks on inherited pipes after a kill.
	waitDelay = 250 * time.Millisecond
)

// Config describes one sandboxed invocation. It is never built from
// untrusted input beyond the command name, which is checked against
// AllowedCommands before anything is spawned.
type Config struct {
	Timeout          time.Duration
	MaxMemoryMB      int
	AllowedCommands  []string
	WorkingDirectory string
}

// Allows reports whether command is on the allow-list. Matching is exact.
func (c Config) Allows(command string) bool {
	return command != "" && slices.Contains(c.AllowedCommands, command)
}

// Result is the captured outcome of a process that ran to completion.
// A non-zero ExitCode is not an error: analysis tools use it to signal
// findings.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner spawns sandboxed processes. The zero value is ready to use.
type Runner struct {
	// PollInterval is how often resident memory is sampled.
	PollInterval time.Duration
}

// NewRunner creates a Runner with default settings.
func NewRunner() *Runner {
	return &Runner{PollInterval: defaultPollInterval}
}

// Run executes command with args under cfg.
//
// It fails with *CommandNotAllowedError without spawning when command is
// not allowed, and with *TimeoutError when the deadline or memory ceiling
// is hit. Cancelling ctx kills the process group and returns an error
// wrapping ctx.Err().
func (r *Runner) Run(ctx context.Context, command string, args []string, cfg Config) (*Result, error) {
	if !cfg.Allows(command) {
		return nil, &CommandNotAllowedError{Command: command}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = cfg.WorkingDirectory
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcAttrs(cmd)
	cmd.Cancel = func() error { return killTree(cmd) }
	cmd.WaitDelay = waitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sandbox: start %s: %w", command, err)
	}

	var memExceeded atomic.Bool
	var peak atomic.Uint64
	watchDone := make(chan struct{})
	if cfg.MaxMemoryMB > 0 {
		limit := uint64(cfg.MaxMemoryMB) << 20
		go func() {
			defer close(watchDone)
			if watchMemory(runCtx, int32(cmd.Process.Pid), limit, r.pollInterval(), &peak) {
				memExceeded.Store(true)
				cancel()
			}
		}()
	} else {
		close(watchDone)
	}

	waitErr := cmd.Wait()
	elapsed := time.Since(start)
	deadlineHit := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancel()
	<-watchDone

	switch {
	case memExceeded.Load():
		return nil, &TimeoutError{
			Command:     command,
			Cause:       CauseMemory,
			Timeout:     timeout,
			MaxMemoryMB: cfg.MaxMemoryMB,
			PeakRSS:     peak.Load(),
			Elapsed:     elapsed,
		}
	case ctx.Err() != nil:
		return nil, fmt.Errorf("sandbox: %s cancelled after %s: %w", command, elapsed.Round(time.Millisecond), ctx.Err())
	case deadlineHit:
		return nil, &TimeoutError{
			Command: command,
			Cause:   CauseDeadline,
			Timeout: timeout,
			Elapsed: elapsed,
		}
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("sandbox: wait %s: %w", command, waitErr)
		}
		exitCode = exitErr.ExitCode()
	}

	return &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: elapsed,
	}, nil
}

func (r *Runner) pollInterval() time.Duration {
	if r == nil || r.PollInterval <= 0 {
		return defaultPollInterval
	}
	return r.PollInterval
}

// Run executes command with a default Runner.
func Run(ctx context.Context, command string, args []string, cfg Config) (*Result, error) {
	return NewRunner().Run(ctx, command, args, cfg)
}
