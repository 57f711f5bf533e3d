// Package config loads installer host settings. Everything has a
// default, the file only overrides.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

const DefaultPath = "/etc/osinstall/config.toml"

type Config struct {
	// Template is the location of the installation template, used when
	// the command line does not name one.
	Template       string `toml:"template"`
	ScratchDir     string `toml:"scratch_dir"`
	TargetDir      string `toml:"target_dir"`
	SourceDir      string `toml:"source_dir"`
	NBDDevice      string `toml:"nbd_device"`
	CommandTimeout string `toml:"command_timeout"`
}

func Default() *Config {
	return &Config{
		ScratchDir: "/var/tmp/osinstall",
		TargetDir:  "/mnt/osinstall/target",
		SourceDir:  "/mnt/osinstall/source",
		NBDDevice:  "nbd0",
	}
}

// Load reads the config file at path. A missing file is not an error,
// the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	return cfg, nil
}

// Timeout parses the command_timeout setting. Zero means the runner
// default applies.
func (c *Config) Timeout() (time.Duration, error) {
	if c.CommandTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.CommandTimeout)
	if err != nil {
		return 0, errors.Wrapf(err, "parse command_timeout %q", c.CommandTimeout)
	}
	return d, nil
}
