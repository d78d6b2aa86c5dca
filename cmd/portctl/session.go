package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/loykin/portctl"
	"github.com/loykin/portctl/internal/config"
	"github.com/loykin/portctl/internal/logger"
	"github.com/loykin/portctl/internal/workflow"
)

// session owns everything a single invocation opens: configuration, the log
// file and the client. open runs before the command, close after it.
type session struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	flags  *GlobalFlags
	v      *viper.Viper

	cfg     config.Config
	log     *slog.Logger
	logFile io.Closer
	client  *portctl.Client

	// openClient is replaced in tests.
	openClient func(cmd *cobra.Command, o portctl.Options) (*portctl.Client, error)
}

func newSession(in io.Reader, out, errOut io.Writer, flags *GlobalFlags) *session {
	return &session{
		in:     in,
		out:    out,
		errOut: errOut,
		flags:  flags,
		v:      config.New(),
		openClient: func(cmd *cobra.Command, o portctl.Options) (*portctl.Client, error) {
			return portctl.Open(cmd.Context(), o)
		},
	}
}

// bind lets a flag override the config key when it was set explicitly.
func (s *session) bind(key string, f *pflag.Flag) {
	if err := s.v.BindPFlag(key, f); err != nil {
		panic(err)
	}
}

func (s *session) open(cmd *cobra.Command) error {
	c, err := config.Load(s.v, s.flags.ConfigPath)
	if err != nil {
		return err
	}
	s.cfg = c

	log, closer, err := logger.New(c.Log.Logger(), s.errOut)
	if err != nil {
		return err
	}
	s.log, s.logFile = log, closer

	if c.Metrics.File != "" {
		if err := portctl.RegisterMetricsDefault(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	prompt := s.out
	if s.flags.JSON {
		prompt = s.errOut
	}
	client, err := s.openClient(cmd, portctl.Options{
		Config:    c,
		Logger:    log,
		Confirmer: &workflow.PromptConfirmer{In: s.in, Out: prompt},
	})
	if err != nil {
		return err
	}
	s.client = client
	return nil
}

func (s *session) close() error {
	var errs []error
	if s.client != nil && s.cfg.Metrics.File != "" {
		if err := portctl.WriteMetrics(s.cfg.Metrics.File); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if s.client != nil {
		errs = append(errs, s.client.Close())
		s.client = nil
	}
	if s.logFile != nil {
		errs = append(errs, s.logFile.Close())
		s.logFile = nil
	}
	return errors.Join(errs...)
}
