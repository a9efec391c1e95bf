package settings

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/skylink-fpv/skylink/internal/util"
)

// Restarter makes a system unit pick up new configuration.
type Restarter interface {
	Apply(ctx context.Context, action, unit string) error
}

// Systemctl runs systemctl.
type Systemctl struct{}

func (Systemctl) Apply(ctx context.Context, action, unit string) error {
	out, err := exec.CommandContext(ctx, "systemctl", action, unit).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "systemctl %s %s: %s", action, unit, strings.TrimSpace(string(out)))
	}
	return nil
}

// Result lists what an Apply call changed.
type Result struct {
	Changes   map[string][]Change
	Restarted []string
}

// Changed reports whether any file was rewritten.
func (r Result) Changed() bool {
	return len(r.Changes) > 0
}

// Applier writes settings into component files.
type Applier struct {
	Components []Component
	Restarter  Restarter
	// Root is prepended to component paths. Empty means the real filesystem root.
	Root   string
	Logger *slog.Logger
}

// NewApplier returns an applier for the default components using systemctl.
func NewApplier() *Applier {
	return &Applier{Components: DefaultComponents(), Restarter: Systemctl{}, Logger: util.Component("settings")}
}

// Apply updates every component file from s. A missing component file is skipped. A
// component whose file changed is reloaded through the Restarter; if the reload fails
// the file is restored, so a later Apply makes the same change and reloads again. A
// failing update stops at that component and returns the error together with what was
// done so far.
func (a *Applier) Apply(ctx context.Context, s *Settings, ground bool) (Result, error) {
	logger := a.Logger
	if logger == nil {
		logger = util.Component("settings")
	}
	res := Result{Changes: map[string][]Change{}}

	for _, c := range a.Components {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		path := filepath.Join(a.Root, c.Path)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			logger.Warn("component configuration not found", "component", c.Name, "path", path)
			continue
		}
		if err != nil {
			return res, errors.Wrapf(err, "failed to read %s", path)
		}

		file := ParseIni(data)
		changes, err := c.Update(s, ground, file)
		if err != nil {
			return res, errors.Wrapf(err, "failed to update %s", c.Name)
		}
		if len(changes) == 0 {
			logger.Debug("component configuration up to date", "component", c.Name)
			continue
		}
		for _, ch := range changes {
			logger.Info("changing option", "component", c.Name, "section", ch.Section, "key", ch.Key, "from", ch.Old, "to", ch.New)
		}

		if err := writeFileAtomic(path, file.Bytes()); err != nil {
			return res, err
		}
		res.Changes[c.Name] = changes
		logger.Info("wrote updated configuration", "component", c.Name, "path", path)

		if c.Action == "" || a.Restarter == nil {
			continue
		}
		logger.Info("reloading component", "unit", c.Unit, "action", c.Action)
		if err := a.Restarter.Apply(ctx, c.Action, c.Unit); err != nil {
			// Put the old file back so the next run sees the change again and retries.
			if rerr := writeFileAtomic(path, data); rerr != nil {
				logger.Error("failed to restore configuration", "component", c.Name, "path", path, "error", rerr)
			}
			delete(res.Changes, c.Name)
			return res, errors.Wrapf(err, "failed to reload %s", c.Name)
		}
		res.Restarted = append(res.Restarted, c.Unit)
	}
	return res, nil
}

func writeFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file for %s", path)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write %s", tmp.Name())
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to chmod %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", tmp.Name())
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "failed to replace %s", path)
}
