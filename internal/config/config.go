// Package config holds the validated Core::start(config) surface of spec
// §6.1. Defaults and fallback behavior follow the teacher's resolveDBPath
// /userDataDir pattern: prefer a sane default over a hard failure.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// SourceKind selects where the core reads memory from.
type SourceKind int

const (
	SourceProcess SourceKind = iota
	SourceDump
)

// Source is the tagged union of spec §6.2: either a live process selector
// or a path to a previously captured memory dump.
type Source struct {
	Kind          SourceKind
	ProcessName   string // case-insensitive substring match
	ProcessID     int    // explicit PID; 0 means "use ProcessName"
	DumpPath      string
}

const (
	DefaultPollIntervalMS = 200
	DefaultMaxEntries     = 30
	minPollIntervalMS     = 16 // below this the poller goroutine would busy-loop
)

// Config mirrors spec §6.1's Core::start(config) fields exactly.
type Config struct {
	Source           Source
	HeroHandle       string
	PollIntervalMS   int
	MaxEntries       int
	ContainerEnabled bool
}

// fileConfig is the TOML-shaped on-disk representation consumed by
// LoadTOML; the surrounding repository is free to build Config
// programmatically instead (spec §6.3: "no CLI or environment-variable
// surface mandated by the core").
type fileConfig struct {
	TargetProcess    string `toml:"target_process"`
	TargetPID        int    `toml:"target_pid"`
	DumpPath         string `toml:"dump_path"`
	HeroHandle       string `toml:"hero_handle"`
	PollIntervalMS   int    `toml:"poll_interval_ms"`
	MaxEntries       int    `toml:"max_entries"`
	ContainerEnabled *bool  `toml:"container_enabled"`
}

// LoadTOML reads a convenience TOML config file (cmd/memscan builds its
// Config from flags and does not use it). Field absence falls back to the
// same defaults Default() applies.
func LoadTOML(path string) (Config, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return Config{}, errors.Wrapf(err, "decode config %s", path)
	}

	cfg := Default()
	cfg.HeroHandle = fc.HeroHandle
	if fc.DumpPath != "" {
		cfg.Source = Source{Kind: SourceDump, DumpPath: fc.DumpPath}
	} else {
		cfg.Source = Source{Kind: SourceProcess, ProcessName: fc.TargetProcess, ProcessID: fc.TargetPID}
	}
	if fc.PollIntervalMS > 0 {
		cfg.PollIntervalMS = fc.PollIntervalMS
	}
	if fc.MaxEntries > 0 {
		cfg.MaxEntries = fc.MaxEntries
	}
	if fc.ContainerEnabled != nil {
		cfg.ContainerEnabled = *fc.ContainerEnabled
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a Config with the baselines spec §6.1/§4.5 document.
func Default() Config {
	return Config{
		PollIntervalMS:   DefaultPollIntervalMS,
		MaxEntries:       DefaultMaxEntries,
		ContainerEnabled: true,
	}
}

// Validate rejects configs that cannot possibly locate or poll a buffer.
// PollIntervalMS is clamped rather than rejected, matching the teacher's
// preference for a degraded-but-working default over a hard error.
func (c *Config) Validate() error {
	if c.HeroHandle == "" {
		return errors.New("hero_handle must be set: the locator cannot disambiguate a hero-SEATED entry without it")
	}
	switch c.Source.Kind {
	case SourceProcess:
		if c.Source.ProcessName == "" && c.Source.ProcessID == 0 {
			return errors.New("source must specify a process name or an explicit PID")
		}
	case SourceDump:
		if c.Source.DumpPath == "" {
			return errors.New("dump source requires a path")
		}
		if _, err := os.Stat(c.Source.DumpPath); err != nil {
			return errors.Wrap(err, "stat dump path")
		}
	default:
		return errors.Errorf("unknown source kind %d", c.Source.Kind)
	}
	if c.PollIntervalMS < minPollIntervalMS {
		c.PollIntervalMS = minPollIntervalMS
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	return nil
}

// PollInterval returns the configured poll cadence as a time.Duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}
