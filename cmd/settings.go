package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/skylink-fpv/skylink/config"
	"github.com/skylink-fpv/skylink/internal/settings"
)

type SettingsApplyOptions struct {
	Root      string
	NoRestart bool
}

var settingsFlags = map[string]string{
	"file":   "settings.file",
	"ground": "settings.ground",
}

func NewSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage link component configuration",
	}
	cmd.AddCommand(NewSettingsApplyCommand())
	return cmd
}

func NewSettingsApplyCommand() *cobra.Command {
	opts := &SettingsApplyOptions{}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Write the operator settings into the component configuration files",
		Long: `Read the operator settings file and update the configuration files of the video,
telemetry and radio components. Components whose files changed are reloaded.
Running it again with unchanged settings leaves every file untouched.`,
		Example: `  sudo skylink settings apply
  sudo skylink settings apply --ground
  skylink settings apply --root ./image --no-restart`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlagOverrides(cmd.Flags(), settingsFlags)
			return runSettingsApply(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringP("file", "f", "", "Operator settings file")
	flags.Bool("ground", false, "Apply the ground station variant")
	flags.StringVar(&opts.Root, "root", "", "Apply to a filesystem image under this directory instead of /")
	flags.BoolVar(&opts.NoRestart, "no-restart", false, "Do not reload changed components")
	return cmd
}

func runSettingsApply(cmd *cobra.Command, opts *SettingsApplyOptions) error {
	if opts.Root == "" && os.Geteuid() != 0 {
		return fmt.Errorf("settings apply must run as root to modify system configuration (use --root for an image)")
	}

	s, err := settings.Load(config.GetSettingsFile())
	if err != nil {
		return err
	}

	applier := settings.NewApplier()
	applier.Root = opts.Root
	if opts.NoRestart || opts.Root != "" {
		applier.Restarter = nil
	}

	res, err := applier.Apply(cmd.Context(), s, config.IsGround())
	printApplyResult(cmd.OutOrStdout(), res)
	return err
}

func printApplyResult(out io.Writer, res settings.Result) {
	if !res.Changed() {
		fmt.Fprintln(out, "All components are up to date")
		return
	}
	names := make([]string, 0, len(res.Changes))
	for name := range res.Changes {
		names = append(names, name)
	}
	sort.Strings(names)

	green := color.New(color.FgGreen).SprintFunc()
	for _, name := range names {
		fmt.Fprintf(out, "%s %s\n", green("updated"), name)
		for _, ch := range res.Changes[name] {
			fmt.Fprintf(out, "  [%s] %s: %s -> %s\n", ch.Section, ch.Key, ch.Old, ch.New)
		}
	}
	for _, unit := range res.Restarted {
		fmt.Fprintf(out, "%s %s\n", green("reloaded"), unit)
	}
}
