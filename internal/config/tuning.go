package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/screenlink/internal/degrade"
	"github.com/smazurov/screenlink/internal/session"
)

// Tuning holds the structured tables of the config file. Nil members keep the
// built-in defaults.
type Tuning struct {
	Thresholds *degrade.Thresholds
	Profile    *degrade.Profile
	Ceilings   *degrade.Ceilings
}

// file mirrors the parts of the config file that are not flat options.
type file struct {
	Session struct {
		FPS         int    `toml:"fps"`
		BitrateKbps int    `toml:"bitrate_kbps"`
		Width       int    `toml:"width"`
		Height      int    `toml:"height"`
		Backend     string `toml:"encoder_backend"`
	} `toml:"session"`
	Degrade struct {
		Thresholds *degrade.Thresholds `toml:"thresholds"`
		Profile    *degrade.Profile    `toml:"profile"`
	} `toml:"degrade"`
	Failure struct {
		Ceilings *degrade.Ceilings `toml:"ceilings"`
	} `toml:"failure"`
}

func readFile(path string) (file, error) {
	var f file
	data, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := toml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
	}
	return f, nil
}

// LoadTuning reads the degradation and failure tables. A missing file yields
// an empty Tuning.
func LoadTuning(path string) (Tuning, error) {
	f, err := readFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Tuning{}, nil
	}
	if err != nil {
		return Tuning{}, err
	}

	t := Tuning{
		Thresholds: f.Degrade.Thresholds,
		Profile:    f.Degrade.Profile,
		Ceilings:   f.Failure.Ceilings,
	}
	if t.Thresholds != nil {
		if err := t.Thresholds.Validate(); err != nil {
			return Tuning{}, err
		}
	}
	if t.Profile != nil {
		if err := t.Profile.Validate(); err != nil {
			return Tuning{}, err
		}
	}
	return t, nil
}

// LoadSessionDefaults reads the [session] defaults. Keys left out of the file
// fall back to base. It is the loader behind the config watcher, so it never
// caches.
func LoadSessionDefaults(base session.Defaults) func(path string) (session.Defaults, error) {
	return func(path string) (session.Defaults, error) {
		f, err := readFile(path)
		if err != nil {
			return session.Defaults{}, err
		}
		d := base
		if f.Session.FPS != 0 {
			d.FPS = f.Session.FPS
		}
		if f.Session.BitrateKbps != 0 {
			d.BitrateKbps = f.Session.BitrateKbps
		}
		if f.Session.Width != 0 || f.Session.Height != 0 {
			d.Width, d.Height = f.Session.Width, f.Session.Height
		}
		if f.Session.Backend != "" {
			d.Backend = f.Session.Backend
		}
		if err := d.Validate(); err != nil {
			return session.Defaults{}, err
		}
		return d, nil
	}
}
