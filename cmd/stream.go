package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/skylink-fpv/skylink/config"
	"github.com/skylink-fpv/skylink/internal/capture"
	"github.com/skylink-fpv/skylink/internal/stream"
)

// newDriver builds the encoder driver. Tests replace it.
var newDriver = func() capture.Driver {
	return &capture.ExecDriver{Resolve: integratedProber().CameraNumber}
}

// streamFlags maps command-line flags to the config keys they override.
var streamFlags = map[string]string{
	"host":          "stream.host",
	"port":          "stream.port",
	"broadcast":     "stream.broadcast",
	"packet-size":   "stream.max_packet_bytes",
	"fec-ratio":     "stream.fec_ratio",
	"bitrate":       "stream.bitrate",
	"intra-period":  "stream.intra_period",
	"align-nal":     "stream.align_nal",
	"width":         "camera.width",
	"height":        "camera.height",
	"fps":           "camera.fps",
	"device":        "camera.device",
	"prefer":        "camera.prefer",
	"legacy-metric": "camera.legacy_metric",
}

func NewStreamCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream camera video over UDP",
		Long: `Detect the attached cameras, pick the mode closest to the requested resolution and
stream its H.264 output to the configured destination until interrupted.`,
		Example: `  skylink stream --host 192.168.2.1 --width 1280 --height 720 --fps 30
  skylink stream --broadcast --fec-ratio 0.25
  skylink stream --device /dev/video0 --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlagOverrides(cmd.Flags(), streamFlags)

			req, err := config.SelectionRequest()
			if err != nil {
				return err
			}
			s := stream.New(stream.Config{
				Request:     req,
				Output:      config.StreamConfig(),
				Bitrate:     config.GetBitrate(),
				IntraPeriod: config.GetIntraPeriod(),
				Metric:      config.Metric(),
				AlignNAL:    config.AlignNAL(),
			}, newDetector(), newDriver())

			if dryRun {
				plan, err := s.Plan(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Selected %s\n", plan)
				return nil
			}
			return s.Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.String("host", "", "Destination host")
	flags.Int("port", 0, "Destination UDP port")
	flags.Bool("broadcast", false, "Send to the IPv4 broadcast address")
	flags.Int("packet-size", 0, "Maximum datagram size in bytes")
	flags.Float64("fec-ratio", 0, "Parity shards per data shard, 0 disables forward error correction")
	flags.Int("bitrate", 0, "Encoder bitrate in bits per second")
	flags.Int("intra-period", 0, "Frames between key frames")
	flags.Bool("align-nal", false, "Send whole H.264 NAL units rather than encoder read chunks")
	flags.Uint32("width", 0, "Desired width")
	flags.Uint32("height", 0, "Desired height")
	flags.Uint32("fps", 0, "Desired frame rate, 0 uses the mode's maximum")
	flags.String("device", "", "Camera to use (logical id or device node)")
	flags.String("prefer", "", "Preferred camera kind (native, integrated or any)")
	flags.Bool("legacy-metric", false, "Rank modes with the legacy distance metric")
	flags.BoolVar(&dryRun, "dry-run", false, "Print the selected mode and exit")

	cmd.RegisterFlagCompletionFunc("prefer", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"native", "integrated", "any"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

// applyFlagOverrides copies every flag the user set into the config.
func applyFlagOverrides(flags *pflag.FlagSet, keys map[string]string) {
	flags.Visit(func(f *pflag.Flag) {
		key, ok := keys[f.Name]
		if !ok {
			return
		}
		config.Set(key, f.Value.String())
	})
}
