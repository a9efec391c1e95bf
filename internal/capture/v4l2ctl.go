package capture

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/skylink-fpv/skylink/internal/relayerr"
)

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return out, errors.Wrapf(err, "%s: %s", name, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return out, errors.Wrapf(err, "failed to run %s", name)
	}
	return out, nil
}

// V4L2Ctl inspects video devices with the v4l2-ctl utility. It implements
// DeviceLister, FormatLister and SensorDetector.
type V4L2Ctl struct {
	// Pattern globs the device nodes to inspect.
	Pattern string
	Table   SensorTable
	Run     Runner
}

// NewV4L2Ctl returns an inspector for /dev/video* using the built-in sensor table.
func NewV4L2Ctl() *V4L2Ctl {
	return &V4L2Ctl{Pattern: "/dev/video*", Table: DefaultSensorTable(), Run: execRunner}
}

func (v *V4L2Ctl) ListDevices(ctx context.Context) ([]string, error) {
	nodes, err := filepath.Glob(v.Pattern)
	if err != nil {
		return nil, relayerr.Configuration("bad device pattern %q: %v", v.Pattern, err)
	}
	sort.Strings(nodes)
	return nodes, nil
}

func (v *V4L2Ctl) ListFormats(ctx context.Context, device string) ([]Format, error) {
	out, err := v.Run(ctx, "v4l2-ctl", "-d", device, "--list-formats-ext")
	if err != nil {
		return nil, relayerr.WrapUnavailable(err, "failed to list formats of %s", device)
	}
	return ParseFormats(out), nil
}

// DetectSensor recognises camera modules driven by the mmal driver from the widest
// H.264 frame size they advertise.
func (v *V4L2Ctl) DetectSensor(ctx context.Context, device string) (string, error) {
	out, err := v.Run(ctx, "v4l2-ctl", "-d", device, "--info")
	if err != nil {
		return "", relayerr.WrapUnavailable(err, "failed to query %s", device)
	}
	if !strings.Contains(driverName(out), "mmal") {
		return "", nil
	}

	formats, err := v.ListFormats(ctx, device)
	if err != nil {
		return "", err
	}
	for _, f := range formats {
		if f.FourCC != "H264" || !f.Stepwise {
			continue
		}
		if s, ok := v.Table.ByMaxWidth(f.Width); ok {
			return s.Model, nil
		}
	}
	return "", nil
}

var (
	formatLine   = regexp.MustCompile(`^\s*\[\d+\]:\s*'([^']+)'`)
	discreteLine = regexp.MustCompile(`Size:\s*Discrete\s+(\d+)x(\d+)`)
	stepwiseLine = regexp.MustCompile(`Size:\s*Stepwise\s+\d+x\d+\s*-\s*(\d+)x(\d+)`)
	intervalLine = regexp.MustCompile(`Interval:.*\(([\d.]+)\s*fps\)`)
)

// ParseFormats reads the output of `v4l2-ctl --list-formats-ext`.
func ParseFormats(out []byte) []Format {
	var (
		formats []Format
		fourcc  string
		current = -1
	)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if m := formatLine.FindStringSubmatch(line); m != nil {
			fourcc = strings.TrimSpace(m[1])
			current = -1
			continue
		}
		if m := discreteLine.FindStringSubmatch(line); m != nil && fourcc != "" {
			formats = append(formats, Format{FourCC: fourcc, Width: atou(m[1]), Height: atou(m[2])})
			current = len(formats) - 1
			continue
		}
		if m := stepwiseLine.FindStringSubmatch(line); m != nil && fourcc != "" {
			formats = append(formats, Format{FourCC: fourcc, Width: atou(m[1]), Height: atou(m[2]), Stepwise: true})
			current = -1
			continue
		}
		if m := intervalLine.FindStringSubmatch(line); m != nil && current >= 0 {
			fps, err := strconv.ParseFloat(m[1], 64)
			if err == nil && uint32(fps+0.5) > formats[current].MaxFPS {
				formats[current].MaxFPS = uint32(fps + 0.5)
			}
		}
	}
	return formats
}

func driverName(info []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(info))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if ok && strings.TrimSpace(key) == "Driver name" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func atou(s string) uint32 {
	n, _ := strconv.ParseUint(s, 10, 32)
	return uint32(n)
}
