package detector

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/loykin/portctl/internal/runner"
)

// CommandDetector runs a command that should succeed if the process is running,
// e.g. `ps -p <pid>`.
type CommandDetector struct {
	Runner runner.Runner
	Name   string
	Args   []string
}

func (d CommandDetector) Alive(ctx context.Context) (bool, error) {
	_, err := d.Runner.Run(ctx, d.Name, d.Args...)
	if err == nil {
		return true, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		// non-zero exit code means not alive
		return false, nil
	}
	return false, err
}

func (d CommandDetector) Describe() string {
	return "cmd:" + strings.TrimSpace(d.Name+" "+strings.Join(d.Args, " "))
}

// OutputDetector runs a command and reports alive when its output contains Match.
// tasklist exits 0 whether or not the filter matched, so the exit code alone says nothing.
type OutputDetector struct {
	Runner runner.Runner
	Name   string
	Args   []string
	Match  string
}

func (d OutputDetector) Alive(ctx context.Context) (bool, error) {
	out, err := d.Runner.Run(ctx, d.Name, d.Args...)
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return false, nil
		}
		return false, err
	}
	return strings.Contains(string(out), d.Match), nil
}

func (d OutputDetector) Describe() string {
	return "output:" + strings.TrimSpace(d.Name+" "+strings.Join(d.Args, " ")) + "~" + d.Match
}
