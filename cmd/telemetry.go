package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skylink-fpv/skylink/config"
	"github.com/skylink-fpv/skylink/internal/telemetry"
	"github.com/skylink-fpv/skylink/internal/transport"
	"github.com/skylink-fpv/skylink/internal/util"
)

var telemetryFlags = map[string]string{
	"uart":           "telemetry.uart",
	"baudrate":       "telemetry.baudrate",
	"host":           "telemetry.host",
	"port":           "telemetry.port",
	"broadcast":      "telemetry.broadcast",
	"min-packet":     "telemetry.min_packet",
	"flush-interval": "telemetry.flush_interval",
	"rc-host":        "telemetry.rc_host",
	"rc-port":        "telemetry.rc_port",
	"forward-host":   "telemetry.rc_forward_host",
	"forward-port":   "telemetry.rc_forward_port",
}

func NewTelemetryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telemetry",
		Short: "Relay serial telemetry and the RC uplink",
	}
	cmd.AddCommand(NewTelemetryRunCommand())
	cmd.AddCommand(NewTelemetryPortsCommand())
	return cmd
}

func NewTelemetryRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Bridge a serial port to UDP until interrupted",
		Long: `Forward bytes read from the flight controller's serial port to the telemetry
destination. With --rc-host set, RC channel datagrams received on --rc-port are
decoded and, with --forward-host set, passed on to the flight-controller router.`,
		Example: `  skylink telemetry run --uart /dev/ttyS0 --baudrate 57600 --host 192.168.2.1
  skylink telemetry run --rc-host 0.0.0.0 --forward-host 127.0.0.1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlagOverrides(cmd.Flags(), telemetryFlags)
			logger := util.Component("telemetry")

			deps := telemetry.BridgeDeps{Logger: logger}
			if fwdCfg, ok := config.RCForwardConfig(); ok {
				sink, err := transport.NewUDPSink(fwdCfg, transport.WithLogger(logger))
				if err != nil {
					return err
				}
				fwd := telemetry.NewForwarder(sink)
				defer fwd.Close()
				deps.Commands = fwd
			}

			bridge, err := telemetry.NewBridge(config.BridgeConfig(), deps)
			if err != nil {
				return err
			}
			return bridge.Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.String("uart", "", "Serial device of the flight controller")
	flags.Int("baudrate", 0, "Serial baud rate")
	flags.String("host", "", "Telemetry destination host")
	flags.Int("port", 0, "Telemetry destination UDP port")
	flags.Bool("broadcast", false, "Send telemetry to the IPv4 broadcast address")
	flags.Int("min-packet", 0, "Coalesce serial reads until a datagram exceeds this many bytes")
	flags.Duration("flush-interval", 0, "Send coalesced bytes after this long even when below --min-packet")
	flags.String("rc-host", "", "Address to receive RC channel datagrams on, empty disables the uplink")
	flags.Int("rc-port", 0, "UDP port to receive RC channel datagrams on")
	flags.String("forward-host", "", "Host to forward decoded RC updates to")
	flags.Int("forward-port", 0, "UDP port to forward decoded RC updates to")
	return cmd
}

func NewTelemetryPortsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := telemetry.ListSerialPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No serial ports found")
				return nil
			}
			for _, p := range ports {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}
