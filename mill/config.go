package mill

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/pandalab/grblmill/coord"
	"github.com/pandalab/grblmill/grbl"
)

// Settings keys the controller actually interprets. Everything else in
// the settings map is carried verbatim for the device.
const (
	settingStatusReport  = "$10"
	settingHomingPullOff = "$27"
	settingXMaxTravel    = "$130"
	settingYMaxTravel    = "$131"
	settingZMaxTravel    = "$132"
)

// WorkingVolume is the legal travel envelope per axis. Travel is
// negative-going from the origin, so each bound is the most negative
// legal value and zero is the other end.
type WorkingVolume struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Config is the persisted machine configuration.
type Config struct {
	Settings        map[string]string          `json:"settings"`
	Offsets         map[Instrument]coord.Point `json:"instrument_offsets"`
	WorkingVolume   WorkingVolume              `json:"working_volume"`
	ElectrodeBath   coord.Point                `json:"electrode_bath"`
	SafeHeightFloor float64                    `json:"safe_height_floor"`
	DefaultFeedRate int                        `json:"default_feed_rate"`
}

// Offset returns the instrument's offset from the head reference point.
func (c *Config) Offset(i Instrument) coord.Point {
	if !i.HasOffset() {
		return coord.Point{}
	}
	return c.Offsets[i]
}

// ReportMode derives the position-report mode from the $10 setting.
func (c *Config) ReportMode() grbl.ReportMode {
	return grbl.ReportModeFromSetting(c.Settings[settingStatusReport])
}

// HomingPullOff returns the $27 pull-off distance in mm, zero if unset.
func (c *Config) HomingPullOff() float64 {
	return c.settingFloat(settingHomingPullOff)
}

// MaxTravel returns the per-axis travel distances the device itself is
// configured with ($130-$132), zero per axis when unset.
func (c *Config) MaxTravel() coord.Point {
	return coord.Point{
		X: c.settingFloat(settingXMaxTravel),
		Y: c.settingFloat(settingYMaxTravel),
		Z: c.settingFloat(settingZMaxTravel),
	}
}

func (c *Config) settingFloat(key string) float64 {
	var v float64
	fmt.Sscanf(c.Settings[key], "%f", &v)
	return v
}

func (c *Config) validate() error {
	if c.WorkingVolume.X > 0 || c.WorkingVolume.Y > 0 || c.WorkingVolume.Z > 0 {
		return errors.New("working volume bounds must be negative-going")
	}
	if c.SafeHeightFloor > 0 || c.SafeHeightFloor < c.WorkingVolume.Z {
		return errors.New("safe height floor outside working volume")
	}
	if c.DefaultFeedRate <= 0 {
		return errors.New("default feed rate must be positive")
	}
	for _, i := range Instruments {
		if !i.HasOffset() {
			continue
		}
		if _, ok := c.Offsets[i]; !ok {
			return fmt.Errorf("missing offset for instrument %q", i)
		}
	}
	// After homing the head sits the pull-off distance inside the travel
	// range, so the usable envelope per axis is $13x minus $27. Only
	// checked when the device settings are in the config at all.
	travel := c.MaxTravel()
	pull := c.HomingPullOff()
	for _, axis := range []struct {
		name   string
		bound  float64
		travel float64
	}{
		{"x", c.WorkingVolume.X, travel.X},
		{"y", c.WorkingVolume.Y, travel.Y},
		{"z", c.WorkingVolume.Z, travel.Z},
	} {
		if axis.travel == 0 {
			continue
		}
		if -axis.bound > axis.travel-pull {
			return fmt.Errorf("%s working volume %g exceeds usable device travel %g",
				axis.name, axis.bound, axis.travel-pull)
		}
	}
	return nil
}

// A ConfigStore persists machine configuration between sessions.
type ConfigStore interface {
	Load() (*Config, error)
	Save(*Config) error
}

// FileStore keeps the configuration as a JSON document on disk.
type FileStore struct {
	Path string
}

var _ ConfigStore = FileStore{}

func (s FileStore) Load() (*Config, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &ConfigNotFoundError{Path: s.Path}
	}
	if err != nil {
		return nil, &ConfigError{Path: s.Path, Err: err}
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Path: s.Path, Err: err}
	}
	if cfg.Settings == nil {
		cfg.Settings = make(map[string]string)
	}
	if cfg.Offsets == nil {
		cfg.Offsets = make(map[Instrument]coord.Point)
	}
	if err := cfg.validate(); err != nil {
		return nil, &ConfigError{Path: s.Path, Err: err}
	}
	return &cfg, nil
}

func (s FileStore) Save(cfg *Config) error {
	if err := cfg.validate(); err != nil {
		return &ConfigError{Path: s.Path, Err: err}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return &ConfigError{Path: s.Path, Err: err}
	}
	if err := os.WriteFile(s.Path, append(data, '\n'), 0644); err != nil {
		return &ConfigError{Path: s.Path, Err: err}
	}
	return nil
}
