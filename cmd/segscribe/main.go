package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leonardotrapani/segscribe/internal/bus"
	"github.com/leonardotrapani/segscribe/internal/config"
	"github.com/leonardotrapani/segscribe/internal/tui"
)

var version = "dev"

var configPath string

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "segscribe",
		Short:         "Segment transcription daemon with cloud and local fallback",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			tui.SetOutput(cmd.OutOrStdout())
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/segscribe/config.toml)")

	root.AddCommand(
		serveCmd(),
		busCmd("status", "Show queue status", bus.CmdStatus),
		busCmd("pause", "Stop dequeuing new segments", bus.CmdPause),
		busCmd("resume", "Resume dequeuing segments", bus.CmdResume),
		busCmd("stop", "Stop the daemon", bus.CmdQuit),
		versionCmd(),
		keyCmd(),
		sessionsCmd(),
		modelCmd(),
		mcpCmd(),
		doctorCmd(),
	)
	return root
}

// loadConfig reads the config file, creating it with defaults when missing.
func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		p, err := config.GetConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, path, nil
}

func busCmd(use, short string, command byte) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := bus.SendCommand(command)
			if err != nil {
				return fmt.Errorf("failed to reach daemon (is `segscribe serve` running?): %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show client and daemon versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "segscribe %s (proto %s)\n", version, bus.ProtoVer)
			if resp, err := bus.SendCommand(bus.CmdVersion); err == nil {
				fmt.Fprintf(out, "daemon: %s\n", resp)
			} else {
				fmt.Fprintln(out, tui.StyleMuted.Render("daemon: not running"))
			}
			return nil
		},
	}
}
