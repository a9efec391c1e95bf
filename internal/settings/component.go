package settings

import (
	"strconv"
)

// Change records one option rewritten by a component update.
type Change struct {
	Section string
	Key     string
	Old     string
	New     string
}

// Component is one configuration file owned by a link component.
type Component struct {
	Name string
	Path string
	// Unit and Action name the systemd operation that makes the component pick up a
	// changed file. An empty Action means the component reads the file on start only.
	Unit   string
	Action string
	Update func(s *Settings, ground bool, f *IniFile) ([]Change, error)
}

func set(f *IniFile, changes []Change, section, key, value string) []Change {
	if old, changed := f.Set(section, key, value); changed {
		changes = append(changes, Change{Section: section, Key: key, Old: old, New: value})
	}
	return changes
}

// OpenHD updates the video and telemetry options of /etc/default/openhd.
func OpenHD() Component {
	return Component{
		Name: "openhd",
		Path: "/etc/default/openhd",
		Update: func(s *Settings, ground bool, f *IniFile) ([]Change, error) {
			var uart, baudrate string
			if ground {
				if s.YN("ENABLE_SERIAL_TELEMETRY_OUTPUT") {
					uart, _ = s.Get("TELEMETRY_OUTPUT_SERIALPORT_GROUND")
					baudrate, _ = s.Get("TELEMETRY_OUTPUT_SERIALPORT_GROUND_BAUDRATE")
				}
			} else {
				uart, _ = s.Get("FC_TELEMETRY_SERIALPORT")
				baudrate, _ = s.Get("FC_TELEMETRY_BAUDRATE")
			}
			width, err := s.MustGet("WIDTH")
			if err != nil {
				return nil, err
			}
			height, err := s.MustGet("HEIGHT")
			if err != nil {
				return nil, err
			}

			var changes []Change
			if uart != "" && baudrate != "" {
				changes = set(f, changes, "global", "telemetry_uart", uart)
				changes = set(f, changes, "global", "telemetry_baudrate", baudrate)
			}
			changes = set(f, changes, "global", "video_width", width)
			changes = set(f, changes, "global", "video_height", height)
			if fps, ok := s.Get("FPS"); ok && fps != "" {
				changes = set(f, changes, "global", "video_fps", fps)
			}
			return changes, nil
		},
	}
}

// Wifi updates the frequency and transmit power in every section of the wifi
// configuration.
func Wifi() Component {
	return Component{
		Name:   "wifi_config",
		Path:   "/etc/default/wifi_config",
		Unit:   "wifi_config",
		Action: "reload",
		Update: func(s *Settings, ground bool, f *IniFile) ([]Change, error) {
			freq, err := s.Int("FREQ")
			if err != nil {
				return nil, err
			}
			powerKey := "TxPowerAir"
			if ground {
				powerKey = "TxPowerGround"
			}
			power, err := s.Int(powerKey)
			if err != nil {
				return nil, err
			}

			var changes []Change
			for _, sec := range f.Sections() {
				if cur, ok := f.Get(sec, "frequency"); ok && !sameInt(cur, freq) {
					changes = set(f, changes, sec, "frequency", strconv.Itoa(freq))
				}
				if cur, ok := f.Get(sec, "txpower"); ok && !sameInt(cur, power) {
					changes = set(f, changes, sec, "txpower", strconv.Itoa(power))
				}
			}
			return changes, nil
		},
	}
}

// WFBBridge sets the bridge mode to air or ground.
func WFBBridge() Component {
	return Component{
		Name:   "wfb_bridge",
		Path:   "/etc/default/wfb_bridge",
		Unit:   "wfb_bridge",
		Action: "restart",
		Update: func(_ *Settings, ground bool, f *IniFile) ([]Change, error) {
			mode := "air"
			if ground {
				mode = "ground"
			}
			return set(f, nil, "global", "mode", mode), nil
		},
	}
}

// DefaultComponents returns the components a link node runs.
func DefaultComponents() []Component {
	return []Component{OpenHD(), Wifi(), WFBBridge()}
}

func sameInt(raw string, want int) bool {
	n, err := strconv.Atoi(raw)
	return err == nil && n == want
}
