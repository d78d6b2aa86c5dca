package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/portctl"
	"github.com/loykin/portctl/internal/render"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := newSession(os.Stdin, os.Stdout, os.Stderr, &GlobalFlags{})
	if err := run(ctx, s, os.Args[1:]); err != nil {
		render.Error(os.Stderr, "%v", err)
		stop()
		os.Exit(exitCode(err))
	}
}

// run executes one invocation and always releases what the session opened,
// including when the command failed.
func run(ctx context.Context, s *session, args []string) error {
	root := buildRootWith(s)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, s.close())
}

// buildRootWith wires every subcommand to s.
func buildRootWith(s *session) *cobra.Command {
	killFlags := &KillFlags{}
	claimFlags := &ClaimFlags{}
	c := command{s: s}

	root := createRootCommand(s, s.flags)
	root.SetIn(s.in)
	root.SetOut(s.out)
	root.SetErr(s.errOut)
	root.AddCommand(
		createInfoCommand(c),
		createKillCommand(c, killFlags),
		createScanCommand(c),
		createAutoCommand(c),
		createClaimCommand(c, claimFlags),
		createMappingsCommand(c),
		createSettingsCommand(c),
	)
	return root
}

// createRootCommand creates the root command with the persistent flags every
// subcommand shares.
func createRootCommand(s *session, flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "portctl",
		Short: "Find and free processes listening on local TCP ports",
		Long: `portctl tells you which local process holds a TCP port and can stop it,
remembering which project each port belongs to.

Examples:
  portctl info 3000            # who is listening on 3000
  portctl kill 3000            # ask, then stop it (graceful, then forced)
  portctl scan                 # every listening port
  portctl claim 3000           # map 3000 to the current directory
  portctl auto                 # free the ports mapped to this project`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return s.open(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	pf.BoolVar(&flags.JSON, "json", false, "print machine-readable JSON")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("metrics-file", "", "write a Prometheus textfile snapshot here after the command")
	pf.String("store", "", "mapping store DSN (json file, sqlite://, postgres://)")
	s.bind("log.level", pf.Lookup("log-level"))
	s.bind("metrics.file", pf.Lookup("metrics-file"))
	s.bind("store.dsn", pf.Lookup("store"))

	return root
}

// exitCode is 2 for bad input and 1 for everything else.
func exitCode(err error) int {
	if errors.Is(err, portctl.ErrInvalidPort) || errors.Is(err, portctl.ErrInvalidPID) {
		return 2
	}
	return 1
}
