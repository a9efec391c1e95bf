package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skylink-fpv/skylink/config"
	"github.com/skylink-fpv/skylink/internal/util"
	"github.com/skylink-fpv/skylink/internal/version"
)

var (
	verbose    bool
	configFile string

	rootCmd = &cobra.Command{
		Use:   "skylink",
		Short: "Digital FPV video and telemetry link",
		Long: `skylink streams camera video and serial telemetry over UDP between an air unit and a
ground station, carries the RC uplink back to the aircraft and keeps the radio
components in sync with the operator settings file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			util.InitLogger(verbose)
			util.SetupGlobalLogger()
			return config.Load(configFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flag("version").Changed {
				info := version.Client()
				fmt.Fprintf(cmd.OutOrStdout(), "skylink version %s, build %s\n", info.Version, info.GitCommit)
				return nil
			}
			return cmd.Help()
		},
	}
)

// Execute runs the root command until it returns or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and exit")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default searches ./config.yaml, $XDG_CONFIG_HOME/skylink and /etc/skylink)")

	rootCmd.AddCommand(NewCamerasCommand())
	rootCmd.AddCommand(NewStreamCommand())
	rootCmd.AddCommand(NewReceiveCommand())
	rootCmd.AddCommand(NewTelemetryCommand())
	rootCmd.AddCommand(NewRCCommand())
	rootCmd.AddCommand(NewSettingsCommand())
	rootCmd.AddCommand(NewVersionCommand())
}
