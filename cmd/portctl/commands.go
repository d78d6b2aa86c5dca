package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/loykin/portctl"
	"github.com/loykin/portctl/internal/render"
)

type command struct {
	s *session
}

// createInfoCommand creates the info subcommand
func createInfoCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:     "info <port>",
		Aliases: []string{"find", "who"},
		Short:   "Show the process listening on a port",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := portctl.ParsePort(args[0])
			if err != nil {
				return err
			}
			return c.Info(cmd, port)
		},
	}
}

// createKillCommand creates the kill subcommand
func createKillCommand(c command, f *KillFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill <port>",
		Short: "Stop the process listening on a port",
		Long: `Stop the process listening on a port. A graceful request is sent first
and a forced one follows if the process survives it.

Examples:
  portctl kill 3000
  portctl kill 8080 --force --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := portctl.ParsePort(args[0])
			if err != nil {
				return err
			}
			return c.Kill(cmd, port, *f)
		},
	}
	cmd.Flags().BoolVarP(&f.Force, "force", "f", false, "skip the graceful request")
	cmd.Flags().BoolVarP(&f.Yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

// createScanCommand creates the scan subcommand
func createScanCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:     "scan",
		Aliases: []string{"ls", "list"},
		Short:   "List every listening port with its process",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Scan(cmd)
		},
	}
}

// createAutoCommand creates the auto subcommand
func createAutoCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "auto [project-dir]",
		Short: "Free the ports mapped to a project (current directory by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := dirArg(args)
			if err != nil {
				return err
			}
			return c.Auto(cmd, dir)
		},
	}
}

// createClaimCommand creates the claim subcommand
func createClaimCommand(c command, f *ClaimFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim <port>",
		Short: "Map a port to a project directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := portctl.ParsePort(args[0])
			if err != nil {
				return err
			}
			if f.Path == "" {
				if f.Path, err = os.Getwd(); err != nil {
					return err
				}
			}
			return c.Claim(cmd, port, *f)
		},
	}
	cmd.Flags().StringVar(&f.Path, "path", "", "project directory (default: current directory)")
	cmd.Flags().BoolVar(&f.AutoKill, "auto-kill", false, "free this port when auto runs for the project")
	return cmd
}

// createMappingsCommand creates the mappings command group
func createMappingsCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Manage stored port mappings",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored port mappings",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.MappingsList(cmd)
			},
		},
		&cobra.Command{
			Use:     "remove <port>",
			Aliases: []string{"rm"},
			Short:   "Forget the mapping for a port",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				port, err := portctl.ParsePort(args[0])
				if err != nil {
					return err
				}
				return c.MappingsRemove(cmd, port)
			},
		},
	)
	return cmd
}

// createSettingsCommand creates the settings command group
func createSettingsCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change global switches",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show global switches",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.SettingsShow(cmd)
			},
		},
		&cobra.Command{
			Use:       "set <auto-kill|confirm-kill> <on|off>",
			Short:     "Change a global switch",
			Args:      cobra.ExactArgs(2),
			ValidArgs: []string{"auto-kill", "confirm-kill"},
			RunE: func(cmd *cobra.Command, args []string) error {
				on, err := parseSwitch(args[1])
				if err != nil {
					return err
				}
				return c.SettingsSet(cmd, args[0], on)
			},
		},
	)
	return cmd
}

func (c command) Info(cmd *cobra.Command, port int) error {
	cl := c.s.client
	rec, err := cl.Find(cmd.Context(), port)
	if err != nil {
		return err
	}
	if c.s.flags.JSON {
		return render.JSON(c.s.out, struct {
			Port     int              `json:"port"`
			InUse    bool             `json:"inUse"`
			Process  *portctl.Record  `json:"process,omitempty"`
			Critical bool             `json:"critical,omitempty"`
			Mapping  *portctl.Mapping `json:"mapping,omitempty"`
		}{Port: port, InUse: rec != nil, Process: rec, Critical: rec != nil && cl.IsCritical(*rec), Mapping: c.mapping(cmd, port)})
	}
	if rec == nil {
		_, _ = fmt.Fprintln(c.s.out, render.MutedStyle.Render(fmt.Sprintf("Port %d is not in use.", port)))
		return nil
	}
	render.Record(c.s.out, *rec, c.mapping(cmd, port))
	if cl.IsCritical(*rec) {
		render.Warning(c.s.out, "%s is a system process", rec.ProcessName)
	}
	return nil
}

// mapping looks up the stored mapping for display; lookup errors only hide it.
func (c command) mapping(cmd *cobra.Command, port int) *portctl.Mapping {
	m, err := c.s.client.Mapping(cmd.Context(), port)
	if err != nil {
		c.s.log.Debug("mapping lookup failed", "port", port, "err", err)
		return nil
	}
	return m
}

func (c command) Kill(cmd *cobra.Command, port int, f KillFlags) error {
	res, err := c.s.client.Kill(cmd.Context(), port, portctl.KillOptions{Force: f.Force, Yes: f.Yes})
	switch {
	case errors.Is(err, portctl.ErrAborted):
		_, _ = fmt.Fprintln(c.s.errOut, "Aborted.")
		return nil
	case errors.Is(err, portctl.ErrNotInUse) && !c.s.flags.JSON:
		_, _ = fmt.Fprintln(c.s.out, render.MutedStyle.Render(fmt.Sprintf("Port %d is not in use.", port)))
		return nil
	case err != nil:
		return err
	}
	if c.s.flags.JSON {
		return render.JSON(c.s.out, res)
	}
	how := "stopped"
	if res.Forceful {
		how = "killed"
	}
	render.Success(c.s.out, "%s %s (PID %d) on port %d", how, res.Record.ProcessName, res.Record.PID, port)
	return nil
}

func (c command) Scan(cmd *cobra.Command) error {
	entries, err := c.s.client.Scan(cmd.Context())
	if err != nil {
		return err
	}
	if c.s.flags.JSON {
		return render.JSON(c.s.out, entries)
	}
	render.Scan(c.s.out, entries)
	return nil
}

func (c command) Auto(cmd *cobra.Command, dir string) error {
	results, err := c.s.client.Auto(cmd.Context(), dir)
	if err != nil {
		return err
	}
	if c.s.flags.JSON {
		return render.JSON(c.s.out, results)
	}
	render.AutoResults(c.s.out, results)
	return nil
}

func (c command) Claim(cmd *cobra.Command, port int, f ClaimFlags) error {
	m, err := c.s.client.Claim(cmd.Context(), port, f.Path, f.AutoKill)
	if err != nil {
		return err
	}
	if c.s.flags.JSON {
		return render.JSON(c.s.out, m)
	}
	render.Success(c.s.out, "port %d mapped to %s (%s)", m.Port, m.ProjectName, m.ProjectPath)
	return nil
}

func (c command) MappingsList(cmd *cobra.Command) error {
	ms, err := c.s.client.Mappings(cmd.Context())
	if err != nil {
		return err
	}
	if c.s.flags.JSON {
		return render.JSON(c.s.out, ms)
	}
	render.Mappings(c.s.out, ms)
	return nil
}

func (c command) MappingsRemove(cmd *cobra.Command, port int) error {
	if err := c.s.client.Unclaim(cmd.Context(), port); err != nil {
		return err
	}
	if !c.s.flags.JSON {
		render.Success(c.s.out, "mapping for port %d removed", port)
	}
	return nil
}

func (c command) SettingsShow(cmd *cobra.Command) error {
	auto, confirm, err := c.s.client.Settings(cmd.Context())
	if err != nil {
		return err
	}
	if c.s.flags.JSON {
		return render.JSON(c.s.out, map[string]bool{"autoKill": auto, "confirmKill": confirm})
	}
	render.Settings(c.s.out, auto, confirm)
	return nil
}

func (c command) SettingsSet(cmd *cobra.Command, name string, on bool) error {
	var err error
	switch name {
	case "auto-kill":
		err = c.s.client.SetAutoKill(cmd.Context(), on)
	case "confirm-kill":
		err = c.s.client.SetConfirmKill(cmd.Context(), on)
	default:
		return fmt.Errorf("unknown setting %q (want auto-kill or confirm-kill)", name)
	}
	if err != nil {
		return err
	}
	return c.SettingsShow(cmd)
}

func dirArg(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	return os.Getwd()
}

func parseSwitch(s string) (bool, error) {
	switch s {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid switch value %q (want on or off)", s)
	}
	return b, nil
}
