// log.go - shared logging backend for every framework component.
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

// Package corelog wraps gopkg.in/op/go-logging.v1 into a single Backend
// shared by every component, mirroring katzenpost's core/log package:
// one process-wide backend, per-component named loggers.
package corelog

import (
	"os"

	logging "gopkg.in/op/go-logging.v1"
)

// Backend hands out named loggers that all share one level and one
// underlying writer.
type Backend struct {
	level   logging.Level
	backend logging.LeveledBackend
}

// New creates a Backend writing to os.Stderr at the given level ("debug", "info",
// "warn", "error", "off" per spec's log.level config option). An unknown
// level falls back to "info".
func New(level string) *Backend {
	lvl, err := logging.LogLevel(normalizeLevel(level))
	if err != nil {
		lvl = logging.INFO
	}

	format := logging.MustStringFormatter(
		`%{time:15:04:05.000} %{level:.4s} %{module}: %{message}`,
	)
	stderrBackend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(stderrBackend, format)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(lvl, "")

	return &Backend{level: lvl, backend: leveled}
}

func normalizeLevel(level string) string {
	switch level {
	case "warn":
		return "WARNING"
	case "off":
		return "CRITICAL"
	case "":
		return "INFO"
	default:
		return level
	}
}

// GetLogger returns a logger tagged with module, sharing this Backend's
// level and output.
func (b *Backend) GetLogger(module string) *logging.Logger {
	log := logging.MustGetLogger(module)
	log.SetBackend(b.backend)
	return log
}
