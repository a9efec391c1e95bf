package capture

import (
	"fmt"
	"strings"

	"github.com/skylink-fpv/skylink/internal/relayerr"
)

// Kind tells which source family produced a capability record.
type Kind int

const (
	// KindAny is only meaningful in a SelectionRequest: no kind is preferred.
	KindAny Kind = iota
	// NativeCapture is a generic V4L2 device with its own H.264 encoder.
	NativeCapture
	// IntegratedCapture is a board camera module driven through the vendor stack.
	IntegratedCapture
)

func (k Kind) String() string {
	switch k {
	case NativeCapture:
		return "native"
	case IntegratedCapture:
		return "integrated"
	default:
		return "any"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind accepts the names printed by Kind.String. An empty name is KindAny.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "any", "none":
		return KindAny, nil
	case "native", "v4l2":
		return NativeCapture, nil
	case "integrated", "picam":
		return IntegratedCapture, nil
	default:
		return KindAny, relayerr.Configuration("unknown camera kind %q (want native, integrated or any)", name)
	}
}

// CapabilityRecord is one resolution and frame rate a device can deliver.
type CapabilityRecord struct {
	Kind     Kind   `json:"kind"`
	DeviceID string `json:"device"`
	Width    uint32 `json:"width"`
	Height   uint32 `json:"height"`
	MaxFPS   uint32 `json:"max_fps"`
	// Sensor is the camera module model of integrated records.
	Sensor string `json:"sensor,omitempty"`
}

// Resolution formats the record as WIDTHxHEIGHT.
func (r CapabilityRecord) Resolution() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

func (r CapabilityRecord) String() string {
	return fmt.Sprintf("%s %s %s@%d", r.DeviceID, r.Kind, r.Resolution(), r.MaxFPS)
}

// DeviceGroup holds the modes of one physical device in preference order.
type DeviceGroup struct {
	DeviceID string `json:"device"`
	// Node is the device node backing DeviceID. It equals DeviceID for native devices.
	Node   string             `json:"node"`
	Kind   Kind               `json:"kind"`
	Sensor string             `json:"sensor,omitempty"`
	Modes  []CapabilityRecord `json:"modes"`
}

// Matches reports whether filter names this device, either by id or by node.
func (g DeviceGroup) Matches(filter string) bool {
	return filter == "" || filter == g.DeviceID || filter == g.Node
}

// Flatten concatenates the modes of groups, keeping group and mode order.
func Flatten(groups []DeviceGroup) []CapabilityRecord {
	var out []CapabilityRecord
	for _, g := range groups {
		out = append(out, g.Modes...)
	}
	return out
}

// SelectionRequest describes the mode a caller would like.
type SelectionRequest struct {
	DesiredWidth  uint32
	DesiredHeight uint32
	DesiredFPS    uint32
	PreferKind    Kind
	// DeviceFilter restricts the choice to one device id. Empty means any device.
	DeviceFilter string
}

func (r SelectionRequest) String() string {
	s := fmt.Sprintf("%dx%d@%dfps", r.DesiredWidth, r.DesiredHeight, r.DesiredFPS)
	if r.DeviceFilter != "" {
		s += " on " + r.DeviceFilter
	}
	return s
}
