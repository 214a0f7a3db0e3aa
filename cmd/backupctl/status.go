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

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/hashbackup/internal/ui"
	"github.com/kraklabs/hashbackup/pkg/catalog"
	"github.com/kraklabs/hashbackup/pkg/config"
)

// statusResult is the JSON shape printed by `backupctl status --json`.
type statusResult struct {
	DatabaseFile string                 `json:"database_file"`
	Sources      statusTotal            `json:"sources"`
	Destinations map[string]statusTotal `json:"destinations"`
}

type statusTotal struct {
	Count     int64 `json:"count"`
	TotalSize int64 `json:"total_size"`
}

// runStatus opens the catalog and prints aggregate totals: the number
// and size of tracked sources, plus replica totals per configured
// destination prefix.
func runStatus(args []string, configPath string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
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

	srcCount, srcSize, err := cat.Totals(ctx)
	if err != nil {
		fatalPrinter(globals)(asEngineError(err))
		return 1
	}

	result := statusResult{
		DatabaseFile: cfg.DatabaseFile,
		Sources:      statusTotal{Count: srcCount, TotalSize: srcSize},
		Destinations: map[string]statusTotal{},
	}
	for _, dest := range cfg.BackupDestinations {
		count, size, err := cat.ReplicaTotalsByDestinationPrefix(ctx, dest)
		if err != nil {
			fatalPrinter(globals)(asEngineError(err))
			return 1
		}
		result.Destinations[dest] = statusTotal{Count: count, TotalSize: size}
	}

	if globals.JSON {
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
		return 0
	}

	ui.Info("database:    %s", result.DatabaseFile)
	ui.Info("sources:     %d files, %d bytes", result.Sources.Count, result.Sources.TotalSize)
	for _, dest := range cfg.BackupDestinations {
		t := result.Destinations[dest]
		ui.Info("  %s: %d replicas, %d bytes", dest, t.Count, t.TotalSize)
	}
	return 0
}
