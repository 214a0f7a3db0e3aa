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
	"context"
	"encoding/json"
	"fmt"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/hashbackup/internal/ui"
	"github.com/kraklabs/hashbackup/pkg/catalog"
	"github.com/kraklabs/hashbackup/pkg/config"
)

// runLogs prints rows from the catalog's durable logs table, optionally
// filtered to a minimum level.
func runLogs(args []string, configPath string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	level := fs.String("level", "INFO", "Minimum level to show: ERROR, WARN, INFO, DEBUG, TRACE")
	limit := fs.Int("limit", 100, "Maximum number of rows to show")
	clear := fs.Bool("clear", false, "Delete every row from the logs table and exit")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if configPath == "" {
		ui.Error("missing --config")
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fatalPrinter(globals)(asEngineError(err))
		return 1
	}

	ctx := context.Background()
	cat, err := catalog.Open(ctx, catalog.Config{DatabaseFile: cfg.DatabaseFile})
	if err != nil {
		fatalPrinter(globals)(asEngineError(err))
		return 1
	}
	defer cat.Close()

	if *clear {
		if err := cat.ClearLogs(ctx); err != nil {
			fatalPrinter(globals)(asEngineError(err))
			return 1
		}
		if !globals.Quiet {
			ui.Success("logs cleared")
		}
		return 0
	}

	rows, err := cat.QueryLogs(ctx, catalog.LogFilter{MinLevel: catalog.LogLevel(*level), Limit: *limit})
	if err != nil {
		fatalPrinter(globals)(asEngineError(err))
		return 1
	}

	if globals.JSON {
		out, _ := json.MarshalIndent(rows, "", "  ")
		fmt.Println(string(out))
		return 0
	}

	for _, r := range rows {
		ts := time.Unix(r.Timestamp, 0).Format(time.RFC3339)
		line := fmt.Sprintf("%s [%s] %s", ts, r.Level, r.Message)
		switch r.Level {
		case catalog.LevelError:
			ui.Error("%s", line)
		case catalog.LevelWarn:
			ui.Warn("%s", line)
		default:
			ui.Info("%s", line)
		}
	}
	return 0
}
