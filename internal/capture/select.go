package capture

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/skylink-fpv/skylink/internal/relayerr"
)

// ErrNotFound is matched by every error Select returns.
var ErrNotFound = errors.New("no capture mode found")

// NotFoundError explains which constraint ruled out every mode. It matches both
// ErrNotFound and relayerr.ErrHardwareUnavailable.
type NotFoundError struct {
	Request SelectionRequest
	Reason  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no capture mode for %s: %s", e.Request, e.Reason)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound || target == relayerr.ErrHardwareUnavailable
}

// Metric measures how far a mode is from the requested resolution, given the absolute
// width and height deltas. It must be symmetric in sign and grow with each delta.
type Metric func(dw, dh float64) float64

// Distance is the Euclidean distance between resolutions.
func Distance(dw, dh float64) float64 {
	return math.Hypot(dw, dh)
}

// LegacyDistance reproduces the ranking of older air units, which weight the height
// delta linearly: sqrt(dw² + 2·dh).
func LegacyDistance(dw, dh float64) float64 {
	return math.Sqrt(dw*dw + 2*dh)
}

// Selector picks capture modes. The zero value uses Distance.
type Selector struct {
	Metric Metric
}

// Select returns the mode closest to the request using Distance.
func Select(records []CapabilityRecord, req SelectionRequest) (CapabilityRecord, error) {
	return Selector{}.Select(records, req)
}

// Select walks records in catalog order and keeps the closest one. Ties go to the
// earlier record.
//
// With a preferred kind, preference beats distance: once a record of that kind has
// been seen, later records of other kinds are no longer considered, even if closer.
func (s Selector) Select(records []CapabilityRecord, req SelectionRequest) (CapabilityRecord, error) {
	metric := s.Metric
	if metric == nil {
		metric = Distance
	}

	var (
		best          CapabilityRecord
		bestDist      = math.Inf(1)
		found         bool
		seenPreferred bool
	)
	for _, r := range records {
		if req.DeviceFilter != "" && r.DeviceID != req.DeviceFilter {
			continue
		}
		if seenPreferred && r.Kind != req.PreferKind {
			continue
		}
		d := metric(absDelta(r.Width, req.DesiredWidth), absDelta(r.Height, req.DesiredHeight))
		if !found || d < bestDist {
			best, bestDist, found = r, d, true
		}
		if req.PreferKind != KindAny && r.Kind == req.PreferKind {
			seenPreferred = true
		}
	}
	if !found {
		return CapabilityRecord{}, &NotFoundError{Request: req, Reason: notFoundReason(records, req)}
	}
	return best, nil
}

// SelectGroups selects over the modes of all groups in catalog order, so a preferred
// kind wins across devices and not only within one.
func (s Selector) SelectGroups(groups []DeviceGroup, req SelectionRequest) (CapabilityRecord, error) {
	return s.Select(Flatten(groups), req)
}

// SelectGroups is Selector.SelectGroups with the default metric.
func SelectGroups(groups []DeviceGroup, req SelectionRequest) (CapabilityRecord, error) {
	return Selector{}.SelectGroups(groups, req)
}

// EffectiveFPS is the frame rate a stream of rec runs at when desired is requested.
// A desired rate of 0 means as fast as the mode allows.
func EffectiveFPS(rec CapabilityRecord, desired uint32) uint32 {
	if desired == 0 {
		return rec.MaxFPS
	}
	return min(desired, rec.MaxFPS)
}

func notFoundReason(records []CapabilityRecord, req SelectionRequest) string {
	if len(records) == 0 {
		return "no capture devices detected; check that a camera is connected and its driver is loaded"
	}
	seen := map[string]bool{}
	var ids []string
	for _, r := range records {
		if !seen[r.DeviceID] {
			seen[r.DeviceID] = true
			ids = append(ids, r.DeviceID)
		}
	}
	return fmt.Sprintf("device %q not found; available devices: %s", req.DeviceFilter, strings.Join(ids, ", "))
}

func absDelta(a, b uint32) float64 {
	return math.Abs(float64(a) - float64(b))
}
