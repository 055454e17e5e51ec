// config.go - TOML configuration for the spacelessd framework.
// Copyright (C) 2024  spacelessd authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config loads the framework's recognized options (spec §6):
// listener address/security, static peers, the root user, log level,
// and the business layer's data file path.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Security is the listener's security posture.
type Security string

const (
	SecurityOpen  Security = "open"
	SecurityClose Security = "close"
)

// Listen is the local listener configuration.
type Listen struct {
	IP       string   `toml:"ip"`
	Port     uint16   `toml:"port"`
	Security Security `toml:"security"`
}

// Peer is a statically configured remote service endpoint.
type Peer struct {
	IP   string `toml:"ip"`
	Port uint16 `toml:"port"`
}

// Log is the logging configuration.
type Log struct {
	Level string `toml:"level"`
}

// Config is the top-level configuration document.
type Config struct {
	Listen    Listen `toml:"listen"`
	Peers     []Peer `toml:"peers"`
	RootUser  string `toml:"root_user"`
	Log       Log    `toml:"log"`
	DataFile  string `toml:"data_file"`
}

// Load parses a TOML document from path into a Config and validates it.
func Load(path string) (*Config, error) {
	cfg := new(Config)
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %q: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Listen.IP == "" {
		return fmt.Errorf("config: listen.ip is required")
	}
	if c.Listen.Port == 0 {
		return fmt.Errorf("config: listen.port is required")
	}
	switch c.Listen.Security {
	case SecurityOpen, SecurityClose:
	case "":
		c.Listen.Security = SecurityClose
	default:
		return fmt.Errorf("config: listen.security must be %q or %q", SecurityOpen, SecurityClose)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	return nil
}
