// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/hashbackup/internal/ui"
	"github.com/kraklabs/hashbackup/pkg/config"
)

// runValidate loads and validates a configuration file without
// opening the catalog or reading any source file. The destination
// check creates each destination directory if it is absent and writes
// and removes a probe file inside it.
func runValidate(args []string, configPath string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if configPath == "" {
		ui.Error("missing --config")
		return 1
	}

	if _, err := config.Load(configPath); err != nil {
		fatalPrinter(globals)(asEngineError(err))
		return 1
	}

	if !globals.Quiet {
		ui.Success("configuration is valid")
	}
	return 0
}
