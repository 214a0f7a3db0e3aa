// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and validates the JSON configuration document
// that drives a backup run: catalog location, source/destination
// roots, hashing bounds, and the behavioral flags that govern when a
// replica is considered current.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/kraklabs/hashbackup/internal/errors"
)

// Source describes one directory tree to back up.
type Source struct {
	ParentDirectory string   `json:"parent_directory"`
	MaxDepth        uint     `json:"max_depth,omitempty"`
	SkipDirs        []string `json:"skip_dirs,omitempty"`
}

// Config is the full JSON configuration document.
type Config struct {
	DatabaseFile                     string   `json:"database_file"`
	MaxMebibytesForHash              uint     `json:"max_mebibytes_for_hash"`
	BackupSources                    []Source `json:"backup_sources"`
	BackupDestinations               []string `json:"backup_destinations"`
	SkipSourceHashCheckIfNewer       bool     `json:"skip_source_hash_check_if_newer"`
	ForceOverwriteBackup             bool     `json:"force_overwrite_backup"`
	OverwriteBackupIfExistingIsNewer bool     `json:"overwrite_backup_if_existing_is_newer"`
	MaxThreads                       uint     `json:"max_threads"`
	Schedule                         string   `json:"schedule,omitempty"`
	RunOnStartup                     bool     `json:"run_on_startup"`
	LogLevel                         string   `json:"log_level"`
}

// Default returns a Config with every documented default applied; only
// DatabaseFile, BackupSources, and BackupDestinations are left unset,
// since those are required fields with no sensible default.
func Default() Config {
	return Config{
		MaxMebibytesForHash:              1,
		SkipSourceHashCheckIfNewer:       true,
		ForceOverwriteBackup:             false,
		OverwriteBackupIfExistingIsNewer: false,
		MaxThreads:                       uint(runtime.NumCPU()),
		RunOnStartup:                     true,
		LogLevel:                         "INFO",
	}
}

// Load reads and parses the JSON configuration at path, rejecting
// unknown fields, applying defaults for omitted optional fields, and
// validating the result.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.NewConfigReadError("cannot read configuration", path, "check the --config path exists", err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode unmarshals over a Default()-seeded Config so omitted fields
// keep their documented defaults; boolean defaults like
// skip_source_hash_check_if_newer = true would otherwise be
// indistinguishable from an explicit false.
func decode(r io.Reader) (Config, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	cfg := Default()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, errors.NewConfigParseError("cannot parse configuration", "", "check for typos or unrecognized fields", err)
	}
	return cfg, nil
}

// Validate rejects missing required fields, invalid numerics,
// unreadable source directories, unwritable destinations, and invalid
// cron expressions. It does not mutate cfg.
func (cfg Config) Validate() error {
	if len(cfg.BackupSources) == 0 {
		return errors.NewConfigInvalidError("missing backup sources", "backup_sources must be non-empty", "add at least one source directory", nil)
	}
	if len(cfg.BackupDestinations) == 0 {
		return errors.NewConfigInvalidError("missing backup destinations", "backup_destinations must be non-empty", "add at least one destination directory", nil)
	}
	if cfg.MaxMebibytesForHash == 0 {
		return errors.NewConfigInvalidError("invalid hash bound", "max_mebibytes_for_hash must be > 0", "", nil)
	}
	if cfg.MaxThreads == 0 {
		return errors.NewConfigInvalidError("invalid thread count", "max_threads must be > 0", "", nil)
	}

	for _, src := range cfg.BackupSources {
		if src.ParentDirectory == "" {
			return errors.NewConfigInvalidError("invalid source", "parent_directory must not be empty", "", nil)
		}
		info, err := os.Stat(src.ParentDirectory)
		if err != nil {
			return errors.NewConfigInvalidError("unreadable source directory", src.ParentDirectory, "verify the path exists and is readable", err)
		}
		if !info.IsDir() {
			return errors.NewConfigInvalidError("source is not a directory", src.ParentDirectory, "", nil)
		}
	}

	for _, dest := range cfg.BackupDestinations {
		if dest == "" {
			return errors.NewConfigInvalidError("invalid destination", "backup_destinations entries must not be empty", "", nil)
		}
		parent := filepath.Dir(dest)
		if _, err := os.Stat(parent); err != nil {
			return errors.NewConfigInvalidError("destination parent does not exist", dest, "create the parent directory first", err)
		}
		if err := probeWritable(dest); err != nil {
			return errors.NewConfigInvalidError("destination is not writable", dest, "check directory permissions", err)
		}
	}

	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			return errors.NewConfigInvalidError("invalid schedule expression", cfg.Schedule, "use standard 5-field cron syntax", err)
		}
	}

	switch strings.ToUpper(cfg.LogLevel) {
	case "ERROR", "WARN", "INFO", "DEBUG", "TRACE":
	default:
		return errors.NewConfigInvalidError("invalid log level", cfg.LogLevel, "use one of ERROR, WARN, INFO, DEBUG, TRACE", nil)
	}

	return nil
}

// SlogLevel maps the configured log_level onto a slog.Level. TRACE has
// no slog equivalent and maps to slog.LevelDebug.
func (cfg Config) SlogLevel() slog.Level {
	switch strings.ToUpper(cfg.LogLevel) {
	case "ERROR":
		return slog.LevelError
	case "WARN":
		return slog.LevelWarn
	case "DEBUG", "TRACE":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// probeWritable verifies dest is writable by creating it (if absent)
// and writing then removing a probe file inside it.
func probeWritable(dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(dest, fmt.Sprintf(".hashbackup-probe-%d", os.Getpid()))
	if err := os.WriteFile(probe, []byte{}, 0o600); err != nil {
		return err
	}
	return os.Remove(probe)
}
