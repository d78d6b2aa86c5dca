// Package resolver maps listening TCP ports to the processes that own them
// and terminates those processes, one implementation per OS family.
//
// The implementations shell out to the platform's own tools (lsof, ps, ss,
// netstat, tasklist, wmic ...) through a runner.Runner and parse their text
// output. Resolution failures of any kind collapse into "absent"; enrichment
// failures are dropped per field.
package resolver

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/portctl/internal/runner"
)

// Resolver is the per-platform capability set.
type Resolver interface {
	// FindByPort returns the process listening on port, or nil when none
	// was found or the lookup could not be completed.
	FindByPort(ctx context.Context, port int) *Record
	// Kill sends a graceful (forceful=false) or forceful termination request
	// and reports whether the process is gone after the settle delay.
	Kill(ctx context.Context, pid int, forceful bool) bool
	// ListListening returns one record per listening (pid, port) pair.
	ListListening(ctx context.Context) []Record
	// IsCritical reports whether name looks like a core OS process.
	IsCritical(name string) bool
	// Platform returns the GOOS-style platform identifier.
	Platform() string
}

const (
	// DefaultSettleDelay is the pause between a termination request and the liveness recheck.
	DefaultSettleDelay = 100 * time.Millisecond

	enrichLimit = 8
	unknownName = "unknown"
)

// sysHooks are the direct OS touch points besides native tools.
type sysHooks struct {
	signal    func(pid int, sig syscall.Signal) error
	readFile  func(path string) ([]byte, error)
	readlink  func(path string) (string, error)
	sleep     func(ctx context.Context, d time.Duration)
	procStart func(pid int) (time.Time, bool)
	now       func() time.Time
}

func defaultHooks() sysHooks {
	return sysHooks{
		signal:    sendSignal,
		readFile:  os.ReadFile,
		readlink:  os.Readlink,
		sleep:     sleepCtx,
		procStart: procStartTime,
		now:       time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Option configures a resolver.
type Option func(*base)

// WithSettleDelay overrides DefaultSettleDelay.
func WithSettleDelay(d time.Duration) Option {
	return func(b *base) { b.settle = d }
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(b *base) {
		if l != nil {
			b.log = l
		}
	}
}

// base holds what every platform implementation shares.
type base struct {
	run    runner.Runner
	sys    sysHooks
	settle time.Duration
	log    *slog.Logger
}

func newBase(r runner.Runner, platform string, opts []Option) base {
	b := base{
		run:    r,
		sys:    defaultHooks(),
		settle: DefaultSettleDelay,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(&b)
	}
	b.log = b.log.With("platform", platform)
	return b
}

// output runs a tool and returns its trimmed stdout.
func (b *base) output(ctx context.Context, name string, args ...string) (string, error) {
	out, err := b.run.Run(ctx, name, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// awaitSettle waits out the settle delay before the liveness check. It reports
// false when ctx ended first; the process state is then unknown, not exited.
func (b *base) awaitSettle(ctx context.Context, pid int) bool {
	b.sys.sleep(ctx, b.settle)
	if err := ctx.Err(); err != nil {
		b.log.Debug("kill interrupted before liveness check", "pid", pid, "err", err)
		return false
	}
	return true
}

func (b *base) stepFailed(step string, pid int, err error) {
	b.log.Debug("enrichment step failed", "step", step, "pid", pid, "err", err)
}

// candidate is a raw (pid, port) binding before enrichment.
type candidate struct {
	pid  int
	port int
	name string
	user string
}

// dedupe keeps the first occurrence of each (pid, port) pair.
func dedupe(in []candidate) []candidate {
	type key struct{ pid, port int }
	seen := make(map[key]struct{}, len(in))
	out := make([]candidate, 0, len(in))
	for _, c := range in {
		k := key{c.pid, c.port}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}

// lowestPID picks the main listener among candidates for one port; forked
// workers sharing the socket have higher pids.
func lowestPID(cs []candidate) (candidate, bool) {
	if len(cs) == 0 {
		return candidate{}, false
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].pid < cs[j].pid })
	return cs[0], true
}

// enrichAll builds records for candidates. Each build is independent and
// side-effect free, so they run concurrently.
func enrichAll(ctx context.Context, cs []candidate, build func(context.Context, candidate) Record) []Record {
	out := make([]Record, len(cs))
	var g errgroup.Group
	g.SetLimit(enrichLimit)
	for i, c := range cs {
		g.Go(func() error {
			out[i] = build(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// parsePort extracts the port from an address such as "127.0.0.1:3000",
// "*:3000", "[::1]:3000" or "[fe80::1%lo0]:3000". Returns 0 when invalid.
func parsePort(addr string) int {
	idx := strings.LastIndex(addr, ":")
	if idx == -1 {
		// BSD netstat style "127.0.0.1.3000"
		idx = strings.LastIndex(addr, ".")
		if idx == -1 {
			return 0
		}
	}
	portStr := addr[idx+1:]
	if parenIdx := strings.Index(portStr, "("); parenIdx != -1 {
		portStr = portStr[:parenIdx]
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return 0
	}
	return port
}

// splitN splits s on runs of whitespace into at most n fields; the last
// field keeps its inner spacing.
func splitN(s string, n int) []string {
	s = strings.TrimSpace(s)
	out := make([]string, 0, n)
	for len(out) < n-1 && s != "" {
		i := strings.IndexAny(s, " \t")
		if i == -1 {
			break
		}
		out = append(out, s[:i])
		s = strings.TrimLeft(s[i:], " \t")
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}

// isCritical does a case-insensitive substring match of name against list.
func isCritical(list []string, name string) bool {
	n := strings.ToLower(name)
	if n == "" {
		return false
	}
	for _, c := range list {
		if strings.Contains(n, strings.ToLower(c)) {
			return true
		}
	}
	return false
}
