package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skylink-fpv/skylink/internal/version"
)

func NewVersionCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Client()
			out := cmd.OutOrStdout()
			if output == "json" {
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal version info: %v", err)
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			fmt.Fprintf(out, "Version:      %s\n", info.Version)
			fmt.Fprintf(out, "Protocol:     %d\n", info.Protocol)
			fmt.Fprintf(out, "Go version:   %s\n", info.GoVersion)
			fmt.Fprintf(out, "Git commit:   %s\n", info.GitCommit)
			fmt.Fprintf(out, "Built:        %s\n", info.FormattedTime)
			fmt.Fprintf(out, "OS/Arch:      %s/%s\n", info.OS, info.Arch)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (json or text)")
	return cmd
}
