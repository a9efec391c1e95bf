package capture

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/vishalkuo/bimap"
)

// IntegratedPrefix names integrated cameras: picam1, picam2, ...
const IntegratedPrefix = "picam"

// DeviceLister lists candidate device nodes.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]string, error)
}

// SensorDetector reports the camera module behind a device node, or "" when the node
// is not an integrated camera.
type SensorDetector interface {
	DetectSensor(ctx context.Context, device string) (string, error)
}

// IntegratedProber turns integrated camera modules into device groups using the canned
// mode tables. Cameras get logical ids in discovery order; the mapping to device nodes
// is kept so either name can be used later.
type IntegratedProber struct {
	devices DeviceLister
	sensors SensorDetector
	table   SensorTable

	mu      sync.Mutex
	aliases *bimap.BiMap[string, string]
}

// NewIntegratedProber returns a prober using the built-in sensor table.
func NewIntegratedProber(devices DeviceLister, sensors SensorDetector) *IntegratedProber {
	return NewIntegratedProberWithTable(devices, sensors, DefaultSensorTable())
}

// NewIntegratedProberWithTable returns a prober using table.
func NewIntegratedProberWithTable(devices DeviceLister, sensors SensorDetector, table SensorTable) *IntegratedProber {
	return &IntegratedProber{
		devices: devices,
		sensors: sensors,
		table:   table,
		aliases: bimap.NewBiMap[string, string](),
	}
}

func (p *IntegratedProber) Name() string { return "integrated" }

func (p *IntegratedProber) Probe(ctx context.Context) ([]DeviceGroup, error) {
	nodes, err := p.devices.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	aliases := bimap.NewBiMap[string, string]()
	probeErr := &ProbeError{Prober: p.Name()}
	var groups []DeviceGroup
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return groups, err
		}
		model, err := p.sensors.DetectSensor(ctx, node)
		if err != nil {
			probeErr.add(node, err)
			continue
		}
		if model == "" {
			continue
		}
		sensor, ok := p.table.Lookup(model)
		if !ok {
			probeErr.add(node, fmt.Errorf("no mode table for sensor %s", model))
			continue
		}

		id := fmt.Sprintf("%s%d", IntegratedPrefix, aliases.Size()+1)
		aliases.Insert(id, node)
		group := DeviceGroup{DeviceID: id, Node: node, Kind: IntegratedCapture, Sensor: sensor.Model}
		for _, m := range sensor.Modes {
			group.Modes = append(group.Modes, CapabilityRecord{
				Kind:     IntegratedCapture,
				DeviceID: id,
				Width:    m.Width,
				Height:   m.Height,
				MaxFPS:   m.FPS,
				Sensor:   sensor.Model,
			})
		}
		groups = append(groups, group)
	}

	p.mu.Lock()
	p.aliases = aliases
	p.mu.Unlock()
	return groups, probeErr.orNil()
}

// Node returns the device node of a logical id from the last probe.
func (p *IntegratedProber) Node(id string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aliases.Get(id)
}

// CameraNumber returns the encoder camera number of a logical id from the last detection.
// Ids it did not hand out are rejected. It is meant as ExecDriver.Resolve.
func (p *IntegratedProber) CameraNumber(id string) (int, bool) {
	if _, ok := p.Node(id); !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(id, IntegratedPrefix))
	if err != nil {
		return 0, false
	}
	return n - 1, true
}
