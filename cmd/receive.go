package cmd

import (
	"log/slog"
	"os"
	"os/exec"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/skylink-fpv/skylink/config"
	"github.com/skylink-fpv/skylink/internal/procgroup"
	"github.com/skylink-fpv/skylink/internal/relayerr"
	"github.com/skylink-fpv/skylink/internal/transport"
	"github.com/skylink-fpv/skylink/internal/util"
)

var receiveFlags = map[string]string{
	"host": "receive.host",
	"port": "receive.port",
	"fec":  "receive.fec",
	"exec": "receive.exec",
}

func NewReceiveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Receive a video stream on the ground station",
		Long: `Listen for the datagrams sent by "skylink stream", rebuild the H.264 byte stream and
write it to stdout or to the stdin of a player command. --fec must match whether the
air unit streams with a non-zero FEC ratio.`,
		Example: `  skylink receive --port 5600 | ffplay -fflags nobuffer -f h264 -
  skylink receive --fec --exec "gst-launch-1.0 fdsrc ! h264parse ! avdec_h264 ! autovideosink"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlagOverrides(cmd.Flags(), receiveFlags)
			return runReceive(cmd)
		},
	}

	flags := cmd.Flags()
	flags.String("host", "", "Local address to bind, empty for all interfaces")
	flags.Int("port", 0, "UDP port to listen on")
	flags.Bool("fec", false, "Expect forward error corrected shards")
	flags.String("exec", "", "Player command fed the stream on its stdin")
	return cmd
}

func runReceive(cmd *cobra.Command) error {
	logger := util.Component("receive")
	r, err := transport.NewReceiver(config.ReceiverConfig(), transport.WithReceiverLogger(logger))
	if err != nil {
		return err
	}
	defer r.Close()

	player := config.GetPlayerCommand()
	if player == "" {
		if err := r.Run(cmd.Context(), cmd.OutOrStdout()); err != nil {
			return err
		}
		logReceiverStats(logger, r)
		return nil
	}

	p := exec.CommandContext(cmd.Context(), "sh", "-c", player)
	procgroup.Set(p)
	p.Cancel = func() error { return procgroup.Kill(p) }
	p.Stdout = os.Stdout
	p.Stderr = os.Stderr
	stdin, err := p.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "failed to open player stdin")
	}
	if err := p.Start(); err != nil {
		return relayerr.WrapUnavailable(err, "failed to start player %q", player)
	}
	logger.Info("player started", "command", player, "pid", p.Process.Pid)

	runErr := r.Run(cmd.Context(), stdin)
	stdin.Close()
	waitErr := p.Wait()
	if runErr != nil {
		return runErr
	}
	if waitErr != nil && cmd.Context().Err() == nil {
		return errors.Wrap(waitErr, "player failed")
	}
	logReceiverStats(logger, r)
	return nil
}

func logReceiverStats(logger *slog.Logger, r *transport.Receiver) {
	stats := r.Stats()
	logger.Info("receiver stopped", "datagrams", stats.Datagrams, "bytes", stats.Bytes,
		"malformed", stats.Malformed, "groups", stats.Reassembly.Groups, "lost", stats.Reassembly.Lost)
}
