package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
}

func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}
	root := createRootCommand(flags)
	c := &command{flags: flags}
	root.AddCommand(
		createServeCommand(flags),
		createStatusCommand(c),
		createStartCommand(c),
		createStopCommand(c),
		createRestartCommand(c),
		createInputCommand(c),
		createXvbModeCommand(c),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "rigwatch",
		Short: "Supervisor for a Monero mining rig",
		Long: `rigwatch runs and watches monerod, P2Pool, XMRig, XMRig-Proxy and the XvB
distribution client, and exposes their state over a local HTTP API.

Examples:
  rigwatch serve --config=rigwatch.toml
  rigwatch status
  rigwatch start p2pool
  echo "$PASS" | rigwatch start xmrig --secret-stdin
  rigwatch input node status`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	pf.StringVar(&flags.APIUrl, "api-url", "", "daemon URL (default from config or http://127.0.0.1:8390/api)")
	pf.DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	pf.StringVar(&flags.CACert, "ca-cert", "", "CA certificate trusted for an https daemon")
	pf.BoolVar(&flags.Insecure, "insecure", false, "skip TLS verification")
	return root
}

func createServeCommand(global *GlobalFlags) *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the rigwatch daemon",
		Long: `Run the daemon: start the workers marked autostart and serve the control API.

Examples:
  rigwatch serve rigwatch.toml
  rigwatch serve --config=rigwatch.toml --daemonize --pidfile=/run/rigwatch.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			if len(args) > 0 {
				flags.ConfigPath = args[0]
			}
			if flags.Daemonize {
				return daemonize(flags.PidFile, flags.LogFile)
			}
			return runServe(cmd.Context(), *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&flags.PidFile, "pidfile", "", "write the daemon pid to this file")
	cmd.Flags().StringVar(&flags.LogFile, "logfile", "", "redirect daemon output to file")
	return cmd
}

func createStatusCommand(c *command) *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status [kind]",
		Short: "Show worker state",
		Long: `Show the state of every worker, or the full snapshot of one.

Examples:
  rigwatch status
  rigwatch status xvb --output`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				flags.Kind = args[0]
			}
			return c.Status(cmd, *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print raw JSON")
	cmd.Flags().BoolVar(&flags.Output, "output", false, "include the captured console output")
	return cmd
}

func createStartCommand(c *command) *cobra.Command {
	flags := &LaunchFlags{}
	cmd := &cobra.Command{
		Use:   "start <kind>",
		Short: "Start a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.Kind = args[0]
			return c.Start(cmd, *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.SecretStdin, "secret-stdin", false, "read the elevation password from stdin")
	return cmd
}

func createRestartCommand(c *command) *cobra.Command {
	flags := &LaunchFlags{}
	cmd := &cobra.Command{
		Use:   "restart <kind>",
		Short: "Restart a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.Kind = args[0]
			return c.Restart(cmd, *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.SecretStdin, "secret-stdin", false, "read the elevation password from stdin")
	return cmd
}

func createStopCommand(c *command) *cobra.Command {
	flags := &LaunchFlags{}
	cmd := &cobra.Command{
		Use:   "stop <kind>",
		Short: "Stop a worker",
		Long: `Stop a worker. On macOS an elevated XMRig can only be killed through sudo;
pass the password with --secret-stdin when its start password was already used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.Kind = args[0]
			return c.Stop(cmd, *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.SecretStdin, "secret-stdin", false, "read the elevation password from stdin")
	return cmd
}

func createInputCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "input <kind> <line...>",
		Short: "Send a console line to a worker",
		Long: `Send a line to the worker's stdin, as typed into its console.

Examples:
  rigwatch input node status
  rigwatch input p2pool peers`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Input(cmd, args[0], args[1:])
		},
	}
}

func createXvbModeCommand(c *command) *cobra.Command {
	flags := &XvbModeFlags{}
	cmd := &cobra.Command{
		Use:   "xvb-mode <mode>",
		Short: "Change the XvB distribution mode",
		Long: `Change the mode used by the running XvB worker from its next decision on.
Modes: auto, hero, manual_xvb, manual_p2pool, manual_donation_level.

Examples:
  rigwatch xvb-mode hero
  rigwatch xvb-mode manual_xvb --amount=1500
  rigwatch xvb-mode manual_donation_level --level=vip`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.Mode = args[0]
			return c.XvbMode(cmd, *flags)
		},
	}
	cmd.Flags().Float64Var(&flags.Amount, "amount", 0, "H/s for the manual modes")
	cmd.Flags().StringVar(&flags.Level, "level", "", "donation level for manual_donation_level")
	return cmd
}
