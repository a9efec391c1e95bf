package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/skylink-fpv/skylink/internal/capture"
	"github.com/skylink-fpv/skylink/internal/settings"
	"github.com/skylink-fpv/skylink/internal/telemetry"
	"github.com/skylink-fpv/skylink/internal/transport"
)

var v *viper.Viper

func init() {
	v = viperWithDefaults()

	// Environment variables
	v.SetEnvPrefix("SKYLINK")
	v.AutomaticEnv()
	v.BindEnv("stream.host", "SKYLINK_STREAM_HOST")
	v.BindEnv("stream.port", "SKYLINK_STREAM_PORT")
	v.BindEnv("stream.fec_ratio", "SKYLINK_FEC_RATIO")
	v.BindEnv("camera.device", "SKYLINK_CAMERA")
	v.BindEnv("telemetry.uart", "SKYLINK_UART")
	v.BindEnv("settings.file", "SKYLINK_SETTINGS_FILE")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Look for config in the following paths
	configPaths := []string{
		".",
		filepath.Join(xdg.ConfigHome, "skylink"),
		"/etc/skylink",
	}
	for _, path := range configPaths {
		v.AddConfigPath(os.ExpandEnv(path))
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
	}
}

func viperWithDefaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("stream.host", "")
	v.SetDefault("stream.port", 5600)
	v.SetDefault("stream.broadcast", false)
	v.SetDefault("stream.max_packet_bytes", transport.DefaultMaxPacketBytes)
	v.SetDefault("stream.fec_ratio", 0.0)
	v.SetDefault("stream.bitrate", 3000000)
	v.SetDefault("stream.intra_period", 5)
	v.SetDefault("stream.align_nal", false)

	// Oversized defaults select the largest mode a camera offers.
	v.SetDefault("camera.width", 10000)
	v.SetDefault("camera.height", 10000)
	v.SetDefault("camera.fps", 30)
	v.SetDefault("camera.device", "")
	v.SetDefault("camera.prefer", "integrated")
	v.SetDefault("camera.legacy_metric", false)

	v.SetDefault("telemetry.uart", "/dev/ttyS0")
	v.SetDefault("telemetry.baudrate", 57600)
	v.SetDefault("telemetry.host", "127.0.0.1")
	v.SetDefault("telemetry.port", 14550)
	v.SetDefault("telemetry.broadcast", false)
	v.SetDefault("telemetry.rc_host", "")
	v.SetDefault("telemetry.rc_port", 14551)
	v.SetDefault("telemetry.rc_forward_host", "")
	v.SetDefault("telemetry.rc_forward_port", 14552)
	v.SetDefault("telemetry.min_packet", telemetry.DefaultMinPacket)
	v.SetDefault("telemetry.flush_interval", telemetry.DefaultFlushInterval)

	v.SetDefault("rc.host", "127.0.0.1")
	v.SetDefault("rc.port", 14551)
	v.SetDefault("rc.period", 20*time.Millisecond)
	v.SetDefault("rc.device", "/dev/input/js0")

	v.SetDefault("receive.host", "")
	v.SetDefault("receive.port", 5600)
	v.SetDefault("receive.fec", false)
	v.SetDefault("receive.exec", "")

	v.SetDefault("settings.file", settings.DefaultFile)
	v.SetDefault("settings.ground", false)
}

// Load reads an explicit config file on top of the defaults.
func Load(path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

// Set overrides a key for the rest of the process, as a command-line flag does.
func Set(key string, value interface{}) {
	v.Set(key, value)
}

// ConfigFile returns the config file in use, if any.
func ConfigFile() string {
	return v.ConfigFileUsed()
}

// StreamConfig returns the video output settings.
func StreamConfig() transport.OutputStreamConfig {
	return transport.OutputStreamConfig{
		Host:           v.GetString("stream.host"),
		Port:           v.GetInt("stream.port"),
		Broadcast:      v.GetBool("stream.broadcast"),
		MaxPacketBytes: v.GetInt("stream.max_packet_bytes"),
		FECRatio:       v.GetFloat64("stream.fec_ratio"),
	}
}

// GetBitrate returns the encoder bitrate in bits per second.
func GetBitrate() int {
	return v.GetInt("stream.bitrate")
}

// AlignNAL reports whether video is sent in whole NAL units.
func AlignNAL() bool {
	return v.GetBool("stream.align_nal")
}

// GetIntraPeriod returns the number of frames between key frames.
func GetIntraPeriod() int {
	return v.GetInt("stream.intra_period")
}

// SelectionRequest returns the requested camera mode.
func SelectionRequest() (capture.SelectionRequest, error) {
	kind, err := capture.ParseKind(v.GetString("camera.prefer"))
	if err != nil {
		return capture.SelectionRequest{}, err
	}
	return capture.SelectionRequest{
		DesiredWidth:  v.GetUint32("camera.width"),
		DesiredHeight: v.GetUint32("camera.height"),
		DesiredFPS:    v.GetUint32("camera.fps"),
		PreferKind:    kind,
		DeviceFilter:  v.GetString("camera.device"),
	}, nil
}

// Metric returns the configured mode distance metric.
func Metric() capture.Metric {
	if v.GetBool("camera.legacy_metric") {
		return capture.LegacyDistance
	}
	return capture.Distance
}

// BridgeConfig returns the serial telemetry bridge settings.
func BridgeConfig() telemetry.BridgeConfig {
	cfg := telemetry.BridgeConfig{
		UART:     v.GetString("telemetry.uart"),
		Baudrate: v.GetInt("telemetry.baudrate"),
		Output: transport.OutputStreamConfig{
			Host:      v.GetString("telemetry.host"),
			Port:      v.GetInt("telemetry.port"),
			Broadcast: v.GetBool("telemetry.broadcast"),
		},
		MinPacket:     v.GetInt("telemetry.min_packet"),
		FlushInterval: v.GetDuration("telemetry.flush_interval"),
	}
	if host := v.GetString("telemetry.rc_host"); host != "" {
		cfg.RCListen = net.JoinHostPort(host, strconv.Itoa(v.GetInt("telemetry.rc_port")))
	}
	return cfg
}

// RCForwardConfig returns where received RC updates are forwarded. ok is false when
// forwarding is disabled.
func RCForwardConfig() (transport.OutputStreamConfig, bool) {
	host := v.GetString("telemetry.rc_forward_host")
	if host == "" {
		return transport.OutputStreamConfig{}, false
	}
	return transport.OutputStreamConfig{Host: host, Port: v.GetInt("telemetry.rc_forward_port")}, true
}

// RCConfig returns the destination of the RC uplink sent by the ground station.
func RCConfig() transport.OutputStreamConfig {
	return transport.OutputStreamConfig{
		Host: v.GetString("rc.host"),
		Port: v.GetInt("rc.port"),
	}
}

// GetRCPeriod returns the interval between RC uplink datagrams.
func GetRCPeriod() time.Duration {
	return v.GetDuration("rc.period")
}

// GetRCDevice returns the joystick device of the transmitter.
func GetRCDevice() string {
	return v.GetString("rc.device")
}

// ReceiverConfig returns the ground-side video listener settings.
func ReceiverConfig() transport.ReceiverConfig {
	return transport.ReceiverConfig{
		Listen: net.JoinHostPort(v.GetString("receive.host"), strconv.Itoa(v.GetInt("receive.port"))),
		FEC:    v.GetBool("receive.fec"),
	}
}

// GetPlayerCommand returns the shell command fed the received stream, if any.
func GetPlayerCommand() string {
	return v.GetString("receive.exec")
}

// GetSettingsFile returns the operator settings file.
func GetSettingsFile() string {
	return v.GetString("settings.file")
}

// IsGround reports whether this node is the ground station.
func IsGround() bool {
	return v.GetBool("settings.ground")
}
