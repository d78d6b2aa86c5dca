package resolver

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/loykin/portctl/internal/detector"
	"github.com/loykin/portctl/internal/runner"
)

var windowsCritical = []string{
	"svchost.exe", "csrss.exe", "winlogon.exe", "explorer.exe",
	"System", "smss.exe", "services.exe", "lsass.exe",
}

// systemPID is the pid of the Windows "System" process.
const systemPID = 4

// Windows resolves ports with netstat and enriches through tasklist and wmic.
// Owning user is never reported.
type Windows struct {
	base
}

var _ Resolver = (*Windows)(nil)

// NewWindows returns the Windows resolver.
func NewWindows(r runner.Runner, opts ...Option) *Windows {
	return &Windows{base: newBase(r, "windows", opts)}
}

func (w *Windows) Platform() string { return "windows" }

func (w *Windows) IsCritical(name string) bool { return isCritical(windowsCritical, name) }

func (w *Windows) FindByPort(ctx context.Context, port int) *Record {
	out, err := w.output(ctx, "netstat", "-ano")
	if err != nil {
		w.log.Debug("port lookup failed", "port", port, "err", err)
		return nil
	}
	c, ok := lowestPID(portCandidates(parseNetstatWindows(out), port))
	if !ok {
		return nil
	}
	rec := w.build(ctx, c)
	return &rec
}

func (w *Windows) ListListening(ctx context.Context) []Record {
	out, err := w.output(ctx, "netstat", "-ano")
	if err != nil {
		w.log.Debug("listing failed", "err", err)
		return []Record{}
	}
	return enrichAll(ctx, dedupe(parseNetstatWindows(out)), w.build)
}

// Kill uses taskkill; without /F it asks the process to close.
func (w *Windows) Kill(ctx context.Context, pid int, forceful bool) bool {
	p := strconv.Itoa(pid)
	args := []string{"/PID", p}
	if forceful {
		args = []string{"/F", "/PID", p}
	}
	out, err := w.run.Run(ctx, "taskkill", args...)
	if err != nil {
		msg := string(out)
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			msg += string(ee.Stderr)
		}
		if strings.Contains(strings.ToLower(msg), "not found") {
			return true
		}
		w.log.Debug("taskkill failed", "pid", pid, "forceful", forceful, "err", err)
		return false
	}
	if !w.awaitSettle(ctx, pid) {
		return false
	}

	probe := detector.OutputDetector{
		Runner: w.run,
		Name:   "tasklist",
		Args:   tasklistArgs(pid),
		Match:  `"` + p + `"`,
	}
	alive, err := probe.Alive(ctx)
	if err != nil {
		// The probe could not answer; this is reported as exited.
		w.log.Debug("liveness probe failed", "pid", pid, "probe", probe.Describe(), "err", err)
		return true
	}
	return !alive
}

func (w *Windows) build(ctx context.Context, c candidate) Record {
	rec := Record{PID: c.pid, Port: c.port}
	name, err := w.imageName(ctx, c.pid)
	if err != nil {
		w.stepFailed("tasklist", c.pid, err)
		name = c.name
		if name == "" {
			name = unknownName
		}
	}
	rec.ProcessName = name
	rec.Command = w.commandLine(ctx, c.pid, name)
	rec.Absorb(w.details(ctx, c.pid))
	return rec
}

func tasklistArgs(pid int) []string {
	return []string{"/FI", "PID eq " + strconv.Itoa(pid), "/FO", "CSV", "/NH"}
}

// imageName reads the first CSV field of tasklist output.
func (w *Windows) imageName(ctx context.Context, pid int) (string, error) {
	out, err := w.output(ctx, "tasklist", tasklistArgs(pid)...)
	if err != nil {
		return "", err
	}
	return parseTasklistName(out)
}

// commandLine needs rights over the target process; the bare name is used when denied.
func (w *Windows) commandLine(ctx context.Context, pid int, name string) string {
	out, err := w.output(ctx, "wmic", "process", "where", "ProcessId="+strconv.Itoa(pid), "get", "CommandLine", "/value")
	if err != nil {
		w.stepFailed("commandline", pid, err)
		return name
	}
	if cmd := parseKeyValues(out)["CommandLine"]; cmd != "" {
		return cmd
	}
	return name
}

// details reads creation date, parent pid and executable path in one wmic call.
func (w *Windows) details(ctx context.Context, pid int) *Partial {
	out, err := w.output(ctx, "wmic", "process", "where", "ProcessId="+strconv.Itoa(pid),
		"get", "CreationDate,ExecutablePath,ParentProcessId", "/value")
	if err != nil {
		w.stepFailed("details", pid, err)
		return nil
	}
	kv := parseKeyValues(out)
	var p Partial
	if t, ok := ParseWMIDate(kv["CreationDate"]); ok {
		p.StartTime = t
		p.Uptime = w.sys.now().Sub(t)
	}
	if exe := kv["ExecutablePath"]; exe != "" {
		p.WorkDir = windowsDir(exe)
	}
	if ppid, err := strconv.Atoi(kv["ParentProcessId"]); err == nil && ppid > 0 {
		p.ParentPID = ppid
		if pname, err := w.imageName(ctx, ppid); err == nil {
			p.ParentName = pname
		}
		// Approximate: services are children of services.exe; pid 4 is System.
		if ppid == systemPID || strings.Contains(strings.ToLower(p.ParentName), "services") {
			p.Service = &ServiceInfo{Manager: ServiceWindows}
		}
	}
	return &p
}

// parseNetstatWindows reads `netstat -ano`, keeping TCP rows in LISTENING state:
//
//	TCP    0.0.0.0:3000    0.0.0.0:0    LISTENING    4242
func parseNetstatWindows(out string) []candidate {
	var cs []candidate
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || !strings.EqualFold(fields[0], "TCP") || fields[3] != "LISTENING" {
			continue
		}
		port := parsePort(fields[1])
		if port == 0 {
			continue
		}
		pid, err := strconv.Atoi(fields[4])
		if err != nil || pid <= 0 {
			continue
		}
		cs = append(cs, candidate{pid: pid, port: port})
	}
	return cs
}

// parseTasklistName takes the image name from `"node.exe","4242",...`.
// tasklist prints an INFO line (no quotes) when the filter matched nothing.
func parseTasklistName(out string) (string, error) {
	line := firstLine(out)
	if !strings.HasPrefix(line, `"`) {
		return "", fmt.Errorf("no tasklist entry: %q", line)
	}
	rec, err := csv.NewReader(strings.NewReader(line)).Read()
	if err != nil || len(rec) == 0 || rec[0] == "" {
		return trimQuotes(strings.SplitN(line, ",", 2)[0]), nil
	}
	return rec[0], nil
}

// parseKeyValues reads wmic /value output (Key=Value lines, CRLF separated).
func parseKeyValues(out string) map[string]string {
	kv := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || k == "" {
			continue
		}
		kv[k] = strings.TrimSpace(v)
	}
	return kv
}

// windowsDir returns the folder containing a Windows path regardless of host OS.
func windowsDir(p string) string {
	i := strings.LastIndexAny(p, `\/`)
	switch {
	case i < 0:
		return ""
	case i == 2 && p[1] == ':':
		return p[:3] // keep "C:\"
	default:
		return p[:i]
	}
}
