package capture

import (
	"context"
)

// DefaultNativeFPS is assumed for native modes whose driver reports no frame interval.
const DefaultNativeFPS = 30

// Format is one pixel format and frame size a device advertises.
type Format struct {
	FourCC string
	Width  uint32
	Height uint32
	// Stepwise is set when Width and Height are the upper bound of a continuous range.
	Stepwise bool
	MaxFPS   uint32
}

// FormatLister enumerates the formats of a device node.
type FormatLister interface {
	ListFormats(ctx context.Context, device string) ([]Format, error)
}

// NativeProber reports the discrete H.264 frame sizes of every device node.
type NativeProber struct {
	devices DeviceLister
	formats FormatLister
}

func NewNativeProber(devices DeviceLister, formats FormatLister) *NativeProber {
	return &NativeProber{devices: devices, formats: formats}
}

func (p *NativeProber) Name() string { return "native" }

func (p *NativeProber) Probe(ctx context.Context) ([]DeviceGroup, error) {
	nodes, err := p.devices.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	probeErr := &ProbeError{Prober: p.Name()}
	var groups []DeviceGroup
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return groups, err
		}
		formats, err := p.formats.ListFormats(ctx, node)
		if err != nil {
			probeErr.add(node, err)
			continue
		}

		group := DeviceGroup{DeviceID: node, Node: node, Kind: NativeCapture}
		for _, f := range formats {
			if f.FourCC != "H264" || f.Stepwise {
				continue
			}
			fps := f.MaxFPS
			if fps == 0 {
				fps = DefaultNativeFPS
			}
			group.Modes = append(group.Modes, CapabilityRecord{
				Kind:     NativeCapture,
				DeviceID: node,
				Width:    f.Width,
				Height:   f.Height,
				MaxFPS:   fps,
			})
		}
		if len(group.Modes) > 0 {
			groups = append(groups, group)
		}
	}
	return groups, probeErr.orNil()
}
