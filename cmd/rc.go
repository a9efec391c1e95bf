package cmd

import (
	"fmt"
	"math"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/skylink-fpv/skylink/config"
	"github.com/skylink-fpv/skylink/internal/rc"
	"github.com/skylink-fpv/skylink/internal/telemetry"
	"github.com/skylink-fpv/skylink/internal/transport"
	"github.com/skylink-fpv/skylink/internal/util"
)

// rcCentre is sent for channels left out of `rc send`.
const rcCentre = 1500

var rcFlags = map[string]string{
	"host":   "rc.host",
	"port":   "rc.port",
	"period": "rc.period",
	"device": "rc.device",
}

func NewRCCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rc",
		Short: "Send RC channel commands to the air unit",
	}
	cmd.PersistentFlags().String("host", "", "Air unit host")
	cmd.PersistentFlags().Int("port", 0, "Air unit RC uplink port")
	cmd.AddCommand(NewRCSendCommand())
	cmd.AddCommand(NewRCRunCommand())
	return cmd
}

func NewRCSendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "send <ch1> [ch2 ... ch16]",
		Short: "Send one set of channel values",
		Long:  fmt.Sprintf("Send a single RC uplink datagram. Channels that are not given are sent as %d.", rcCentre),
		Example: `  skylink rc send 1500 1500 1000 1500
  skylink rc send --host 192.168.2.2 1500 1500 1100 1500 1900`,
		Args: cobra.RangeArgs(1, telemetry.NumRCChannels),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlagOverrides(cmd.Flags(), rcFlags)

			ch, err := parseChannels(args)
			if err != nil {
				return err
			}
			sink, err := transport.NewUDPSink(config.RCConfig(), transport.WithLogger(util.Component("rc")))
			if err != nil {
				return err
			}
			defer sink.Close()

			tx := rc.NewTransmitter(nil, sink)
			if err := tx.Send(ch); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %v to %s\n", ch[:len(args)], sink.Destination())
			return nil
		},
	}
}

func NewRCRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Relay a joystick to the air unit until interrupted",
		Example: `  skylink rc run --device /dev/input/js0
  skylink rc run --host 192.168.2.2 --period 10ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlagOverrides(cmd.Flags(), rcFlags)
			logger := util.Component("rc")

			sink, err := transport.NewUDPSink(config.RCConfig(), transport.WithLogger(logger))
			if err != nil {
				return err
			}
			defer sink.Close()

			js := rc.NewJoystick(config.GetRCDevice(), logger)
			defer js.Close()

			return rc.NewTransmitter(js, sink,
				rc.WithPeriod(config.GetRCPeriod()),
				rc.WithLogger(logger),
			).Run(cmd.Context())
		},
	}
	cmd.Flags().String("device", "", "Joystick device")
	cmd.Flags().Duration("period", 0, "Interval between datagrams")
	return cmd
}

// parseChannels converts command-line values to a channel set.
func parseChannels(args []string) (telemetry.RCChannels, error) {
	var ch telemetry.RCChannels
	if len(args) > len(ch) {
		return ch, fmt.Errorf("at most %d channels, got %d", len(ch), len(args))
	}
	for i := range ch {
		ch[i] = rcCentre
	}
	for i, arg := range args {
		v, err := cast.ToIntE(arg)
		if err != nil || v < 0 || v > math.MaxUint16 {
			return ch, fmt.Errorf("channel %d: invalid value %q", i+1, arg)
		}
		ch[i] = uint16(v)
	}
	return ch, nil
}
