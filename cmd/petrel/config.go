package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
)

// config holds the optional petrel.toml settings.
type config struct {
	NoColor bool `toml:"no_color"`
}

// loadConfig reads the config file. With an empty path, petrel.toml in the
// working directory is used when present; a missing default file is not an
// error.
func loadConfig(path string) (*config, error) {
	explicit := path != ""
	if path == "" {
		path = "petrel.toml"
	}
	var cfg config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return &cfg, nil
		}
		return nil, err
	}
	return &cfg, nil
}

func (c *config) apply() {
	if c.NoColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
}
