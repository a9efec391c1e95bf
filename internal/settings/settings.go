// Package settings applies the operator settings file to the configuration files of
// the link components and reloads the components whose files changed. Applying the
// same settings twice changes nothing the second time.
package settings

import (
	"bytes"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/skylink-fpv/skylink/internal/relayerr"
)

// DefaultFile is where the operator settings live on the boot partition.
const DefaultFile = "/boot/openhd-settings-1.txt"

// Settings is a parsed operator settings file of KEY=value lines. Keys are matched
// case-insensitively.
type Settings struct {
	v *viper.Viper
}

// Load reads the operator settings file at path.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, relayerr.Configuration("settings file %s does not exist", path)
		}
		return nil, errors.Wrapf(err, "failed to read settings file %s", path)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "settings file %s", path)
	}
	return s, nil
}

// Parse decodes settings file contents.
func Parse(data []byte) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("env")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, relayerr.Configuration("cannot parse settings: %v", err)
	}
	return &Settings{v: v}, nil
}

// Get returns the raw value of name.
func (s *Settings) Get(name string) (string, bool) {
	if !s.v.IsSet(name) {
		return "", false
	}
	return strings.TrimSpace(s.v.GetString(name)), true
}

// MustGet returns the value of name or a configuration error naming the missing key.
func (s *Settings) MustGet(name string) (string, error) {
	v, ok := s.Get(name)
	if !ok || v == "" {
		return "", relayerr.Configuration("setting %s is missing", name)
	}
	return v, nil
}

// Int returns name as an integer.
func (s *Settings) Int(name string) (int, error) {
	raw, err := s.MustGet(name)
	if err != nil {
		return 0, err
	}
	n, err := cast.ToIntE(raw)
	if err != nil {
		return 0, relayerr.Configuration("setting %s=%q is not an integer", name, raw)
	}
	return n, nil
}

// YN reports whether a Y/N setting is Y.
func (s *Settings) YN(name string) bool {
	v, _ := s.Get(name)
	return strings.EqualFold(v, "y")
}
