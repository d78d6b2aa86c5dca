// Package runner executes the native OS tools the resolvers parse.
// Every invocation is bounded by a timeout so a hung tool cannot hang a lookup.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/loykin/portctl/internal/metrics"
)

// DefaultTimeout bounds a single native tool invocation.
const DefaultTimeout = 5 * time.Second

// ErrTimeout is returned when a tool does not finish within the runner's timeout.
var ErrTimeout = errors.New("command timed out")

// Runner runs a command to completion and returns its standard output.
// A non-zero exit is reported as *exec.ExitError so callers can tell
// "the tool answered no" apart from "the tool could not run".
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	LookPath(name string) (string, error)
}

// Exec is the Runner backed by os/exec.
type Exec struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// New returns an Exec runner with the given timeout (DefaultTimeout when <= 0).
func New(timeout time.Duration, logger *slog.Logger) *Exec {
	return &Exec{Timeout: timeout, Logger: logger}
}

func (e *Exec) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	// #nosec G204 -- tool names are fixed by the resolvers, arguments are integers or literals
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	elapsed := time.Since(start)

	result := "ok"
	if err != nil {
		var ee *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			result = "timeout"
			err = fmt.Errorf("%s: %w after %s", name, ErrTimeout, timeout)
		case errors.As(err, &ee):
			result = "exit"
		default:
			result = "error"
		}
	}
	tool := filepath.Base(name)
	metrics.ObserveTool(tool, result, elapsed.Seconds())
	e.logger().Debug("exec", "tool", tool, "args", args, "result", result, "elapsed", elapsed)
	return out, err
}

func (e *Exec) LookPath(name string) (string, error) { return exec.LookPath(name) }

func (e *Exec) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
