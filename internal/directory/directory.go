// Package directory is the single entry point for port-to-process lookups.
// It validates input, selects the resolver for the running platform and
// forwards to it.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/portctl/internal/metrics"
	"github.com/loykin/portctl/internal/resolver"
	"github.com/loykin/portctl/internal/runner"
)

var (
	ErrInvalidPort         = errors.New("invalid port")
	ErrInvalidPID          = errors.New("invalid pid")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

const (
	MinPort = 1
	MaxPort = 65535
)

var platformNames = map[string]string{
	"darwin":  "macOS",
	"linux":   "Linux",
	"windows": "Windows",
}

// Service wraps one platform resolver. It holds no state of its own and is
// safe for concurrent use when the resolver is.
type Service struct {
	r   resolver.Resolver
	log *slog.Logger
}

type options struct {
	run    runner.Runner
	log    *slog.Logger
	settle time.Duration
}

// Option configures New.
type Option func(*options)

// WithRunner replaces the exec-based tool runner.
func WithRunner(r runner.Runner) Option { return func(o *options) { o.run = r } }

// WithLogger sets the logger passed down to the resolver.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }

// WithSettleDelay overrides the pause between a kill request and the liveness check.
func WithSettleDelay(d time.Duration) Option { return func(o *options) { o.settle = d } }

// New returns a Service backed by the resolver for goos (runtime.GOOS in production).
func New(goos string, opts ...Option) (*Service, error) {
	o := options{log: slog.Default(), settle: resolver.DefaultSettleDelay}
	for _, opt := range opts {
		opt(&o)
	}
	if o.run == nil {
		o.run = runner.New(runner.DefaultTimeout, o.log)
	}
	ropts := []resolver.Option{resolver.WithLogger(o.log), resolver.WithSettleDelay(o.settle)}

	var r resolver.Resolver
	switch goos {
	case "darwin":
		r = resolver.NewDarwin(o.run, ropts...)
	case "linux":
		r = resolver.NewLinux(o.run, ropts...)
	case "windows":
		r = resolver.NewWindows(o.run, ropts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, goos)
	}
	return NewWithResolver(r, o.log), nil
}

// NewWithResolver builds a Service around an existing resolver.
func NewWithResolver(r resolver.Resolver, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{r: r, log: log.With("component", "directory")}
}

// ParsePort converts user input into a port, rejecting anything that is not
// an integer in range.
func ParsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidPort, s)
	}
	if err := validatePort(p); err != nil {
		return 0, err
	}
	return p, nil
}

func validatePort(port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("%w: %d is outside %d-%d", ErrInvalidPort, port, MinPort, MaxPort)
	}
	return nil
}

// FindByPort returns the process listening on port, or nil when none was found.
// Only an out-of-range port is an error; lookup failures read as absent.
func (s *Service) FindByPort(ctx context.Context, port int) (*resolver.Record, error) {
	if err := validatePort(port); err != nil {
		return nil, err
	}
	rec := s.r.FindByPort(ctx, port)
	metrics.IncLookup(s.r.Platform(), rec != nil)
	if rec == nil {
		s.log.Debug("port not in use", "port", port)
		return nil, nil
	}
	s.log.Debug("port resolved", "port", port, "pid", rec.PID, "name", rec.ProcessName)
	return rec, nil
}

// KillProcess asks the resolver to terminate pid and reports whether it is gone.
func (s *Service) KillProcess(ctx context.Context, pid int, forceful bool) (bool, error) {
	if pid <= 0 {
		return false, fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}
	ok := s.r.Kill(ctx, pid, forceful)
	metrics.IncKill(s.r.Platform(), forceful, ok)
	s.log.Debug("kill requested", "pid", pid, "forceful", forceful, "gone", ok)
	return ok, nil
}

// ListListening returns every listening (pid, port) pair, unordered.
func (s *Service) ListListening(ctx context.Context) []resolver.Record {
	recs := s.r.ListListening(ctx)
	metrics.SetListening(s.r.Platform(), len(recs))
	return recs
}

// IsCriticalProcess reports whether rec looks like a core OS process.
func (s *Service) IsCriticalProcess(rec resolver.Record) bool {
	return s.r.IsCritical(rec.ProcessName)
}

// Platform returns the resolver's GOOS identifier.
func (s *Service) Platform() string { return s.r.Platform() }

// PlatformName returns the display name of the platform.
func (s *Service) PlatformName() string {
	if n, ok := platformNames[s.r.Platform()]; ok {
		return n
	}
	return s.r.Platform()
}
