package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/skylink-fpv/skylink/internal/relayerr"
	"github.com/skylink-fpv/skylink/internal/util"
)

// Prober enumerates the devices of one source family.
//
// A prober that fails on some devices still returns the groups it did find, together
// with a *ProbeError describing the failures.
type Prober interface {
	Name() string
	Probe(ctx context.Context) ([]DeviceGroup, error)
}

// ProbeError collects per-device enumeration failures.
type ProbeError struct {
	Prober string
	Errs   map[string]error
}

func (e *ProbeError) Error() string {
	parts := make([]string, 0, len(e.Errs))
	for dev, err := range e.Errs {
		parts = append(parts, fmt.Sprintf("%s: %v", dev, err))
	}
	return fmt.Sprintf("%s probe failed for %d device(s): %s", e.Prober, len(e.Errs), strings.Join(parts, "; "))
}

func (e *ProbeError) add(device string, err error) {
	if e.Errs == nil {
		e.Errs = make(map[string]error)
	}
	e.Errs[device] = err
}

func (e *ProbeError) orNil() error {
	if len(e.Errs) == 0 {
		return nil
	}
	return e
}

// Catalog enumerates capture devices through its probers. Every Detect call probes
// again; nothing is cached, so hot-plugged cameras show up on the next call.
type Catalog struct {
	probers []Prober
	logger  *slog.Logger
}

// NewCatalog returns a catalog that asks probers in order.
func NewCatalog(probers ...Prober) *Catalog {
	return &Catalog{probers: probers, logger: util.Component("capture")}
}

// WithLogger replaces the catalog's logger.
func (c *Catalog) WithLogger(logger *slog.Logger) *Catalog {
	c.logger = logger
	return c
}

// Detect returns the device groups matching deviceFilter in prober order. Failures of
// single probers or devices are logged and skipped; they are only returned when no
// device was found at all, before filtering. A filter that matches nothing is not a
// detection failure.
func (c *Catalog) Detect(ctx context.Context, deviceFilter string) ([]DeviceGroup, error) {
	var (
		groups []DeviceGroup
		errs   []error
		total  int
	)
	for _, p := range c.probers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := p.Probe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("camera probe incomplete", "prober", p.Name(), "error", err)
			errs = append(errs, err)
		}
		total += len(found)
		for _, g := range found {
			if !g.Matches(deviceFilter) {
				continue
			}
			for _, m := range g.Modes {
				c.logger.Debug("found camera mode", "device", m.DeviceID, "kind", m.Kind.String(), "resolution", m.Resolution(), "fps", m.MaxFPS)
			}
			groups = append(groups, g)
		}
	}

	c.logger.Info("detected cameras", "count", len(groups), "filter", deviceFilter)
	if total == 0 && len(errs) > 0 {
		return nil, relayerr.WrapUnavailable(errors.Join(errs...), "camera detection failed")
	}
	return groups, nil
}
