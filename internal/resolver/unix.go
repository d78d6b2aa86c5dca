package resolver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/loykin/portctl/internal/detector"
)

// unix holds the ps-based logic Darwin and Linux share.
type unix struct {
	base
	// commField is the ps keyword for the short command name
	// (ucomm on Darwin where comm is the full path).
	commField string
}

// info is the primary ps query: owning user and full command line. The short
// name is read on its own because it may contain spaces ("Code Helper",
// "tmux: server"); args stays last so only the user is split off.
func (u *unix) info(ctx context.Context, pid int) (name, command, user string, err error) {
	p := strconv.Itoa(pid)
	out, err := u.output(ctx, "ps", "-p", p, "-o", "user=,args=")
	if err != nil {
		return "", "", "", err
	}
	f := splitN(firstLine(out), 2)
	if len(f) == 0 {
		return "", "", "", fmt.Errorf("unexpected ps output %q", out)
	}
	user = f[0]
	if len(f) == 2 {
		command = f[1]
	}
	if out, err := u.output(ctx, "ps", "-p", p, "-o", u.commField+"="); err == nil {
		name = firstLine(out)
	} else {
		u.stepFailed("name", pid, err)
	}
	return name, command, user, nil
}

// build assembles the record for one (pid, port) binding.
func (u *unix) build(ctx context.Context, c candidate, steps ...func(context.Context, int) *Partial) Record {
	rec := Record{PID: c.pid, Port: c.port}
	name, command, user, err := u.info(ctx, c.pid)
	if err != nil {
		u.stepFailed("info", c.pid, err)
		user = c.user
	}
	if name == "" {
		name = c.name
	}
	if name == "" && command != "" {
		name = filepath.Base(strings.Fields(command)[0])
	}
	if name == "" {
		name = unknownName
	}
	if command == "" {
		command = name
	}
	rec.ProcessName, rec.Command, rec.User = name, command, user
	for _, step := range steps {
		rec.Absorb(step(ctx, c.pid))
	}
	return rec
}

// timing reads elapsed time and start time in one ps call.
func (u *unix) timing(ctx context.Context, pid int) *Partial {
	now := u.sys.now()
	var p Partial
	out, err := u.output(ctx, "ps", "-p", strconv.Itoa(pid), "-o", "etime=,lstart=")
	if err == nil {
		f := splitN(firstLine(out), 2)
		if len(f) > 0 {
			if d, ok := ParseElapsed(f[0]); ok {
				p.Uptime = d
			}
		}
		if len(f) == 2 {
			if t, ok := ParseLStart(f[1]); ok {
				p.StartTime = t
			}
		}
	} else {
		u.stepFailed("timing", pid, err)
	}
	if p.StartTime.IsZero() {
		if t, ok := u.sys.procStart(pid); ok {
			p.StartTime = t
		}
	}
	switch {
	case p.Uptime == 0 && p.StartTime.IsZero():
		return nil
	case p.Uptime == 0:
		p.Uptime = now.Sub(p.StartTime)
	case p.StartTime.IsZero():
		p.StartTime = now.Add(-p.Uptime)
	}
	return &p
}

// parent resolves the parent pid and its short name.
func (u *unix) parent(ctx context.Context, pid int) *Partial {
	out, err := u.output(ctx, "ps", "-p", strconv.Itoa(pid), "-o", "ppid=")
	if err != nil {
		u.stepFailed("parent", pid, err)
		return nil
	}
	ppid, err := strconv.Atoi(firstLine(out))
	if err != nil || ppid <= 0 {
		return nil
	}
	p := &Partial{ParentPID: ppid}
	if name, err := u.output(ctx, "ps", "-p", strconv.Itoa(ppid), "-o", "comm="); err == nil && name != "" {
		p.ParentName = filepath.Base(firstLine(name))
	}
	return p
}

// kill signals pid and verifies it is gone after the settle delay.
func (u *unix) kill(ctx context.Context, pid int, forceful bool) bool {
	sig := syscall.SIGTERM
	if forceful {
		sig = syscall.SIGKILL
	}
	if err := u.sys.signal(pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return true
		}
		u.log.Debug("signal failed", "pid", pid, "signal", sig, "err", err)
		return false
	}
	if !u.awaitSettle(ctx, pid) {
		return false
	}

	probe := detector.CommandDetector{Runner: u.run, Name: "ps", Args: []string{"-p", strconv.Itoa(pid)}}
	alive, err := probe.Alive(ctx)
	if err != nil {
		// The probe could not answer; this is reported as exited.
		u.log.Debug("liveness probe failed", "pid", pid, "probe", probe.Describe(), "err", err)
		return true
	}
	return !alive
}

// portCandidates keeps only the candidates bound to port.
func portCandidates(cs []candidate, port int) []candidate {
	out := cs[:0:0]
	for _, c := range cs {
		if c.port == port {
			out = append(out, c)
		}
	}
	return out
}

func trimQuotes(s string) string { return strings.Trim(strings.TrimSpace(s), `"`) }
