package portctl

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/portctl/internal/config"
	"github.com/loykin/portctl/internal/directory"
	"github.com/loykin/portctl/internal/history"
	hfactory "github.com/loykin/portctl/internal/history/factory"
	"github.com/loykin/portctl/internal/metrics"
	"github.com/loykin/portctl/internal/resolver"
	"github.com/loykin/portctl/internal/runner"
	"github.com/loykin/portctl/internal/store"
	sfactory "github.com/loykin/portctl/internal/store/factory"
	"github.com/loykin/portctl/internal/workflow"
)

// Re-export core types for external consumers.

type Record = resolver.Record

type ServiceInfo = resolver.ServiceInfo

type Mapping = store.Mapping

type Entry = workflow.Entry

type AutoResult = workflow.AutoResult

type KillOptions = workflow.KillOptions

type KillResult = workflow.KillResult

type Confirmer = workflow.Confirmer

type Config = cfg.Config

var (
	ErrInvalidPort         = directory.ErrInvalidPort
	ErrInvalidPID          = directory.ErrInvalidPID
	ErrUnsupportedPlatform = directory.ErrUnsupportedPlatform
	ErrNotInUse            = workflow.ErrNotInUse
	ErrKillFailed          = workflow.ErrKillFailed
	ErrAborted             = workflow.ErrAborted
)

// Options configure Open. Zero values fall back to runtime.GOOS, slog.Default
// and a confirmer that declines every prompt.
type Options struct {
	Config    Config
	Logger    *slog.Logger
	Confirmer Confirmer
	GOOS      string
	// Runner replaces the native tool runner; used by tests.
	Runner runner.Runner
}

// Client is the assembled port directory with its persistence and history.
type Client struct {
	dir   *directory.Service
	store store.Store
	sink  history.Sink
	flow  *workflow.Service
	log   *slog.Logger
}

// Open builds a Client from o. The mapping store and the history sink are
// opened from their configured DSNs.
func Open(ctx context.Context, o Options) (*Client, error) {
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	goos := o.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	run := o.Runner
	if run == nil {
		run = runner.New(o.Config.Exec.Timeout, log)
	}

	dirOpts := []directory.Option{directory.WithRunner(run), directory.WithLogger(log)}
	if o.Config.Kill.SettleDelay > 0 {
		dirOpts = append(dirOpts, directory.WithSettleDelay(o.Config.Kill.SettleDelay))
	}
	dir, err := directory.New(goos, dirOpts...)
	if err != nil {
		return nil, err
	}

	st, err := sfactory.NewFromDSN(ctx, o.Config.Store.DSN, log)
	if err != nil {
		return nil, err
	}
	sink, err := hfactory.NewSinkFromDSN(ctx, o.Config.History.DSN)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	wopts := []workflow.Option{workflow.WithHistory(sink), workflow.WithLogger(log)}
	if o.Confirmer != nil {
		wopts = append(wopts, workflow.WithConfirmer(o.Confirmer))
	}
	return &Client{
		dir:   dir,
		store: st,
		sink:  sink,
		flow:  workflow.New(dir, st, wopts...),
		log:   log,
	}, nil
}

// Close releases the store and the history sink.
func (c *Client) Close() error {
	var errs []error
	if cl, ok := c.sink.(io.Closer); ok {
		errs = append(errs, cl.Close())
	}
	errs = append(errs, c.store.Close())
	return errors.Join(errs...)
}

func (c *Client) Platform() string     { return c.dir.Platform() }
func (c *Client) PlatformName() string { return c.dir.PlatformName() }

// Find returns the process listening on port, or nil when the port is free.
func (c *Client) Find(ctx context.Context, port int) (*Record, error) {
	return c.dir.FindByPort(ctx, port)
}

func (c *Client) IsCritical(rec Record) bool { return c.dir.IsCriticalProcess(rec) }

func (c *Client) Kill(ctx context.Context, port int, o KillOptions) (*KillResult, error) {
	return c.flow.Kill(ctx, port, o)
}

func (c *Client) Scan(ctx context.Context) ([]Entry, error) { return c.flow.Scan(ctx) }

func (c *Client) Auto(ctx context.Context, projectPath string) ([]AutoResult, error) {
	return c.flow.Auto(ctx, projectPath)
}

func (c *Client) Claim(ctx context.Context, port int, projectPath string, autoKill bool) (Mapping, error) {
	return c.flow.Claim(ctx, port, projectPath, autoKill)
}

// Mapping returns the stored mapping for port, or nil.
func (c *Client) Mapping(ctx context.Context, port int) (*Mapping, error) {
	return c.store.GetPortMapping(ctx, port)
}

func (c *Client) Mappings(ctx context.Context) ([]Mapping, error) {
	return c.store.GetAllMappings(ctx)
}

func (c *Client) Unclaim(ctx context.Context, port int) error {
	return c.store.RemovePortMapping(ctx, port)
}

// Settings reports the global auto-kill and confirm-kill switches.
func (c *Client) Settings(ctx context.Context) (autoKill, confirmKill bool, err error) {
	if autoKill, err = c.store.IsAutoKillEnabled(ctx); err != nil {
		return false, false, err
	}
	if confirmKill, err = c.store.IsConfirmKillEnabled(ctx); err != nil {
		return false, false, err
	}
	return autoKill, confirmKill, nil
}

func (c *Client) SetAutoKill(ctx context.Context, on bool) error {
	return c.store.SetAutoKill(ctx, on)
}

func (c *Client) SetConfirmKill(ctx context.Context, on bool) error {
	return c.store.SetConfirmKill(ctx, on)
}

// LoadConfig reads the optional TOML file at path with PORTCTL_* environment
// overrides and defaults applied.
func LoadConfig(path string) (Config, error) {
	return cfg.Load(cfg.New(), path)
}

// ParsePort validates user input as a TCP port.
func ParsePort(s string) (int, error) { return directory.ParsePort(s) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// WriteMetrics writes a textfile snapshot of the default registry to path.
func WriteMetrics(path string) error { return metrics.WriteTextfile(path, prometheus.DefaultGatherer) }
