package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/skylink-fpv/skylink/internal/capture"
	"github.com/skylink-fpv/skylink/internal/stream"
	"github.com/skylink-fpv/skylink/internal/util"
)

var v4l2Ctl = capture.NewV4L2Ctl()

// integratedProber is shared by the catalog and the encoder driver so logical camera
// ids resolve to the cameras the last detection found.
var integratedProber = sync.OnceValue(func() *capture.IntegratedProber {
	return capture.NewIntegratedProber(v4l2Ctl, v4l2Ctl)
})

// newDetector builds the camera catalog. Tests replace it.
var newDetector = func() stream.Detector {
	return capture.NewCatalog(
		integratedProber(),
		capture.NewNativeProber(v4l2Ctl, v4l2Ctl),
	)
}

type CamerasListOptions struct {
	OutputFormat string
	Device       string
}

func NewCamerasCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cameras",
		Short: "Inspect attached cameras",
	}
	cmd.AddCommand(NewCamerasListCommand())
	return cmd
}

func NewCamerasListCommand() *cobra.Command {
	opts := &CamerasListOptions{}

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List cameras and the modes they offer",
		Example: `  skylink cameras ls
  skylink cameras ls --device picam1
  skylink cameras ls -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCamerasList(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.OutputFormat, "output", "o", "text", "Output format (json or text)")
	flags.StringVarP(&opts.Device, "device", "d", "", "Only show this camera (logical id or device node)")

	cmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"json", "text"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func runCamerasList(ctx context.Context, out io.Writer, opts *CamerasListOptions) error {
	if opts.OutputFormat != "text" && opts.OutputFormat != "json" {
		return fmt.Errorf("unsupported output format %q", opts.OutputFormat)
	}

	sp := NewUISpinner(verbose, "Probing cameras...")
	groups, err := newDetector().Detect(ctx, opts.Device)
	if err != nil {
		sp.Fail("Camera detection failed")
		return err
	}
	sp.Success(fmt.Sprintf("Found %d camera(s)", len(groups)))

	return printCameras(out, groups, opts.OutputFormat)
}

func printCameras(out io.Writer, groups []capture.DeviceGroup, format string) error {
	if format == "json" {
		if groups == nil {
			groups = []capture.DeviceGroup{}
		}
		data, err := json.MarshalIndent(map[string]interface{}{"data": groups}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal cameras: %v", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(groups) == 0 {
		fmt.Fprintln(out, "No cameras found")
		return nil
	}

	columns := []util.TableColumn{
		{Header: "DEVICE", Key: "device"},
		{Header: "NODE", Key: "node"},
		{Header: "KIND", Key: "kind"},
		{Header: "SENSOR", Key: "sensor"},
		{Header: "RESOLUTION", Key: "resolution"},
		{Header: "MAX FPS", Key: "fps"},
	}
	var rows []map[string]interface{}
	for _, g := range groups {
		for _, m := range g.Modes {
			sensor := g.Sensor
			if sensor == "" {
				sensor = "-"
			}
			rows = append(rows, map[string]interface{}{
				"device":     g.DeviceID,
				"node":       g.Node,
				"kind":       g.Kind.String(),
				"sensor":     sensor,
				"resolution": m.Resolution(),
				"fps":        m.MaxFPS,
			})
		}
	}
	util.RenderTable(out, columns, rows)
	return nil
}
