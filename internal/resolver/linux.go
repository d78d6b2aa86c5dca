package resolver

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/loykin/portctl/internal/runner"
)

var linuxCritical = []string{"systemd", "init", "kernel", "dbus", "NetworkManager", "sshd"}

// ssUser matches one `("name",pid=N,` entry of the ss users:(...) column.
var ssUser = regexp.MustCompile(`\("([^"]*)",pid=(\d+)`)

// Linux resolves ports with ss (netstat when ss is missing) and enriches
// through ps, /proc and systemctl.
type Linux struct {
	unix

	probeOnce sync.Once
	hasSS     bool
}

var _ Resolver = (*Linux)(nil)

// NewLinux returns the Linux resolver.
func NewLinux(r runner.Runner, opts ...Option) *Linux {
	return &Linux{unix: unix{base: newBase(r, "linux", opts), commField: "comm"}}
}

func (l *Linux) Platform() string { return "linux" }

func (l *Linux) IsCritical(name string) bool { return isCritical(linuxCritical, name) }

// useSS probes for ss once per resolver.
func (l *Linux) useSS() bool {
	l.probeOnce.Do(func() {
		_, err := l.run.LookPath("ss")
		l.hasSS = err == nil
		l.log.Debug("socket tool probed", "ss", l.hasSS)
	})
	return l.hasSS
}

// listeners returns every LISTEN binding reported by the socket tool.
func (l *Linux) listeners(ctx context.Context) ([]candidate, error) {
	if l.useSS() {
		out, err := l.output(ctx, "ss", "-tlnp")
		if err != nil {
			return nil, err
		}
		return parseSS(out), nil
	}
	out, err := l.output(ctx, "netstat", "-tlnp")
	if err != nil {
		return nil, err
	}
	return parseNetstatLinux(out), nil
}

func (l *Linux) FindByPort(ctx context.Context, port int) *Record {
	cs, err := l.listeners(ctx)
	if err != nil {
		l.log.Debug("port lookup failed", "port", port, "err", err)
		return nil
	}
	c, ok := lowestPID(portCandidates(cs, port))
	if !ok {
		return nil
	}
	rec := l.build(ctx, c)
	return &rec
}

func (l *Linux) ListListening(ctx context.Context) []Record {
	cs, err := l.listeners(ctx)
	if err != nil {
		l.log.Debug("listing failed", "err", err)
		return []Record{}
	}
	return enrichAll(ctx, dedupe(cs), l.build)
}

func (l *Linux) Kill(ctx context.Context, pid int, forceful bool) bool {
	return l.kill(ctx, pid, forceful)
}

func (l *Linux) build(ctx context.Context, c candidate) Record {
	return l.unix.build(ctx, c, l.timing, l.parent, l.cwd, l.systemd)
}

func (l *Linux) cwd(_ context.Context, pid int) *Partial {
	dir, err := l.sys.readlink("/proc/" + strconv.Itoa(pid) + "/cwd")
	if err != nil || dir == "" {
		l.stepFailed("cwd", pid, err)
		return nil
	}
	return &Partial{WorkDir: dir}
}

// systemd checks cgroup membership and, for systemd-managed processes,
// asks systemctl for the unit name.
func (l *Linux) systemd(ctx context.Context, pid int) *Partial {
	cg, err := l.sys.readFile("/proc/" + strconv.Itoa(pid) + "/cgroup")
	if err != nil {
		l.stepFailed("cgroup", pid, err)
		return nil
	}
	if !strings.Contains(string(cg), "systemd") {
		return nil
	}
	svc := &ServiceInfo{Manager: ServiceSystemd}
	// systemctl status exits 3 for inactive units but still prints the header;
	// only a clean run is trusted here.
	out, err := l.output(ctx, "systemctl", "status", strconv.Itoa(pid), "--no-pager")
	if err == nil {
		svc.Name = parseSystemctlUnit(out)
	} else {
		l.stepFailed("systemctl", pid, err)
	}
	return &Partial{Service: svc}
}

// parseSS reads `ss -tlnp`:
//
//	State  Recv-Q Send-Q Local Address:Port Peer Address:Port Process
//	LISTEN 0      511    *:3000             *:*               users:(("node",pid=42,fd=20))
func parseSS(out string) []candidate {
	var cs []candidate
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != "LISTEN" {
			continue
		}
		port := parsePort(fields[3])
		if port == 0 {
			continue
		}
		for _, m := range ssUser.FindAllStringSubmatch(line, -1) {
			pid, err := strconv.Atoi(m[2])
			if err != nil || pid <= 0 {
				continue
			}
			cs = append(cs, candidate{pid: pid, port: port, name: m[1]})
		}
	}
	return cs
}

// parseNetstatLinux reads `netstat -tlnp`; the last column is "<pid>/<name>" or "-".
//
//	tcp6       0      0 :::3000     :::*       LISTEN      42/node
func parseNetstatLinux(out string) []candidate {
	var cs []candidate
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "LISTEN") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 7 || !strings.HasPrefix(fields[0], "tcp") {
			continue
		}
		port := parsePort(fields[3])
		if port == 0 {
			continue
		}
		pidStr, name, ok := strings.Cut(fields[len(fields)-1], "/")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(pidStr)
		if err != nil || pid <= 0 {
			continue
		}
		cs = append(cs, candidate{pid: pid, port: port, name: name})
	}
	return cs
}

// parseSystemctlUnit takes the unit from the status header
// "● nginx.service - A high performance web server".
func parseSystemctlUnit(out string) string {
	line := firstLine(out)
	line = strings.TrimLeft(line, "●*○× \t")
	f := strings.Fields(line)
	if len(f) == 0 || !strings.Contains(f[0], ".") {
		return ""
	}
	return f[0]
}
