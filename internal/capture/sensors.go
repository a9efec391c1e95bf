package capture

import (
	_ "embed"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

//go:embed sensors.toml
var builtinSensors []byte

// SensorMode is one canned mode of a camera module.
type SensorMode struct {
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	FPS    uint32 `toml:"fps"`
}

// Sensor describes a camera module known to the integrated stack.
type Sensor struct {
	Model    string       `toml:"model"`
	MaxWidth uint32       `toml:"max_width"`
	Modes    []SensorMode `toml:"modes"`
}

// SensorTable lists the known camera modules.
type SensorTable struct {
	Sensors []Sensor `toml:"sensor"`
}

// ParseSensorTable decodes a TOML sensor table.
func ParseSensorTable(data []byte) (SensorTable, error) {
	var table SensorTable
	if err := toml.Unmarshal(data, &table); err != nil {
		return SensorTable{}, errors.Wrap(err, "failed to parse sensor table")
	}
	for _, s := range table.Sensors {
		if s.Model == "" || len(s.Modes) == 0 {
			return SensorTable{}, errors.Errorf("sensor table entry %+v needs a model and modes", s)
		}
	}
	return table, nil
}

// DefaultSensorTable returns the built-in table.
func DefaultSensorTable() SensorTable {
	table, err := ParseSensorTable(builtinSensors)
	if err != nil {
		panic(err)
	}
	return table
}

// Lookup finds a sensor by model name.
func (t SensorTable) Lookup(model string) (Sensor, bool) {
	for _, s := range t.Sensors {
		if s.Model == model {
			return s, true
		}
	}
	return Sensor{}, false
}

// ByMaxWidth finds the sensor whose driver reports the given maximum frame width.
func (t SensorTable) ByMaxWidth(width uint32) (Sensor, bool) {
	for _, s := range t.Sensors {
		if s.MaxWidth == width {
			return s, true
		}
	}
	return Sensor{}, false
}
