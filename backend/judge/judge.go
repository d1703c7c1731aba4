// Package judge runs submitted programs and reports their output.
package judge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrTimeout means the program exceeded the wall-clock budget.
	ErrTimeout = errors.New("execution timed out")
	// ErrFault means the sandbox exited nonzero or could not run.
	ErrFault = errors.New("execution fault")
)

// Judge executes a program and returns whatever it printed. A returned
// error wraps ErrTimeout or ErrFault; callers surface either to the
// submitter as a failed result, never as a protocol failure.
type Judge interface {
	Execute(ctx context.Context, sourceCode string) (string, error)
}

// Sandbox runs submissions through an external sandbox command, the
// program arriving on stdin and its output (stdout and stderr merged)
// coming back on stdout. Each execution is bounded by Timeout.
type Sandbox struct {
	command []string
	timeout time.Duration
	logger  zerolog.Logger
}

type SandboxConfig struct {
	// Command is the sandbox argv, e.g. ["python3", "sandbox_riscv.py"].
	Command []string
	Timeout time.Duration
	Logger  *zerolog.Logger
}

const defaultTimeout = 30 * time.Second

func NewSandbox(cfg SandboxConfig) *Sandbox {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Sandbox{
		command: cfg.Command,
		timeout: timeout,
		logger:  cfg.Logger.With().Str("component", "judge").Logger(),
	}
}

func (s *Sandbox) Execute(ctx context.Context, sourceCode string) (string, error) {
	if len(s.command) == 0 {
		return "", fmt.Errorf("%w: no sandbox command configured", ErrFault)
	}

	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, s.command[0], s.command[1:]...)
	cmd.Stdin = strings.NewReader(sourceCode)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if execCtx.Err() == context.DeadlineExceeded {
		s.logger.Warn().Dur("elapsed", elapsed).Msg("sandbox killed on timeout")
		return "", fmt.Errorf("%w after %s", ErrTimeout, s.timeout)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("sandbox run failed")
		return "", fmt.Errorf("%w: %s", ErrFault, strings.TrimSpace(out.String()))
	}

	s.logger.Debug().Dur("elapsed", elapsed).Msg("sandbox run finished")
	return strings.TrimRight(out.String(), "\r\n"), nil
}

// Func adapts a plain function to the Judge interface, used in tests.
type Func func(ctx context.Context, sourceCode string) (string, error)

func (f Func) Execute(ctx context.Context, sourceCode string) (string, error) {
	return f(ctx, sourceCode)
}
