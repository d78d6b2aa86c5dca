package resolver

import (
	"bufio"
	"context"
	"strconv"
	"strings"

	"github.com/loykin/portctl/internal/runner"
)

var darwinCritical = []string{"systemd", "init", "kernel", "launchd", "WindowServer", "loginwindow"}

// Darwin resolves ports with lsof and enriches through ps, lsof and launchctl.
type Darwin struct {
	unix
}

var _ Resolver = (*Darwin)(nil)

// NewDarwin returns the macOS resolver.
func NewDarwin(r runner.Runner, opts ...Option) *Darwin {
	return &Darwin{unix{base: newBase(r, "darwin", opts), commField: "ucomm"}}
}

func (d *Darwin) Platform() string { return "darwin" }

func (d *Darwin) IsCritical(name string) bool { return isCritical(darwinCritical, name) }

func (d *Darwin) FindByPort(ctx context.Context, port int) *Record {
	// -t prints only pids
	out, err := d.output(ctx, "lsof", "-nP", "-iTCP:"+strconv.Itoa(port), "-sTCP:LISTEN", "-t")
	if err != nil {
		// lsof exits 1 when nothing matches
		d.log.Debug("port lookup failed", "port", port, "err", err)
		return nil
	}
	c, ok := lowestPID(parseLsofPIDs(out, port))
	if !ok {
		return nil
	}
	rec := d.build(ctx, c)
	return &rec
}

func (d *Darwin) ListListening(ctx context.Context) []Record {
	out, err := d.output(ctx, "lsof", "-nP", "-iTCP", "-sTCP:LISTEN")
	if err != nil {
		d.log.Debug("listing failed", "err", err)
		return []Record{}
	}
	return enrichAll(ctx, dedupe(parseLsofListen(out)), func(ctx context.Context, c candidate) Record {
		return d.build(ctx, c)
	})
}

func (d *Darwin) Kill(ctx context.Context, pid int, forceful bool) bool {
	return d.kill(ctx, pid, forceful)
}

func (d *Darwin) build(ctx context.Context, c candidate) Record {
	return d.unix.build(ctx, c, d.timing, d.parent, d.cwd, d.launchd)
}

// cwd asks lsof for the cwd file descriptor in field output mode.
func (d *Darwin) cwd(ctx context.Context, pid int) *Partial {
	out, err := d.output(ctx, "lsof", "-a", "-p", strconv.Itoa(pid), "-d", "cwd", "-Fn")
	if err != nil {
		d.stepFailed("cwd", pid, err)
		return nil
	}
	s := bufio.NewScanner(strings.NewReader(out))
	for s.Scan() {
		if dir, ok := strings.CutPrefix(s.Text(), "n"); ok && dir != "" {
			return &Partial{WorkDir: dir}
		}
	}
	return nil
}

// launchd looks the pid up in `launchctl list` (PID, Status, Label columns).
func (d *Darwin) launchd(ctx context.Context, pid int) *Partial {
	out, err := d.output(ctx, "launchctl", "list")
	if err != nil {
		d.stepFailed("launchd", pid, err)
		return nil
	}
	label, ok := parseLaunchctlList(out, pid)
	if !ok {
		return nil
	}
	return &Partial{Service: &ServiceInfo{Manager: ServiceLaunchd, Name: label}}
}

// parseLsofPIDs reads `lsof -t` output: one pid per line.
func parseLsofPIDs(out string, port int) []candidate {
	var cs []candidate
	for _, line := range strings.Split(out, "\n") {
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err == nil && pid > 0 {
			cs = append(cs, candidate{pid: pid, port: port})
		}
	}
	return cs
}

// parseLsofListen reads the default lsof table:
//
//	COMMAND PID USER FD TYPE DEVICE SIZE/OFF NODE NAME
//	node    123 me   23u IPv6 0x...  0t0      TCP  *:3000 (LISTEN)
func parseLsofListen(out string) []candidate {
	var cs []candidate
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 9 || fields[0] == "COMMAND" {
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil || pid <= 0 {
			continue
		}
		name := fields[len(fields)-1]
		if strings.HasPrefix(name, "(") && len(fields) >= 10 {
			name = fields[len(fields)-2]
		}
		port := parsePort(name)
		if port == 0 {
			continue
		}
		cs = append(cs, candidate{pid: pid, port: port, name: fields[0], user: fields[2]})
	}
	return cs
}

// parseLaunchctlList finds the line beginning with pid and returns its label.
func parseLaunchctlList(out string, pid int) (string, bool) {
	p := strconv.Itoa(pid)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] != p {
			continue
		}
		return fields[len(fields)-1], true
	}
	return "", false
}
