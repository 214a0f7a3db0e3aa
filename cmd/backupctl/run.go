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
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kraklabs/hashbackup/internal/metrics"
	"github.com/kraklabs/hashbackup/internal/ui"
	"github.com/kraklabs/hashbackup/pkg/catalog"
	"github.com/kraklabs/hashbackup/pkg/config"
	"github.com/kraklabs/hashbackup/pkg/engine"
	"github.com/kraklabs/hashbackup/pkg/progress"
	"github.com/kraklabs/hashbackup/pkg/runmode"
)

// runSummary is the JSON shape printed by `backupctl run --json`.
type runSummary struct {
	Status         string `json:"status"`
	FilesProcessed int64  `json:"files_processed"`
	BytesProcessed int64  `json:"bytes_processed"`
	Errors         int    `json:"errors"`
	Cancelled      bool   `json:"cancelled"`
}

func runRun(args []string, configPath string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	modeFlag := fs.String("mode", "none", "Dry-run mode: none, quick, or full")
	debug := fs.Bool("debug", false, "Enable debug logging")
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

	logLevel := cfg.SlogLevel()
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown.signal")
		cancel()
	}()

	cat, err := catalog.Open(ctx, catalog.Config{DatabaseFile: cfg.DatabaseFile})
	if err != nil {
		fatalPrinter(globals)(asEngineError(err))
		return 1
	}
	defer cat.Close()

	reg := metrics.NewRegistry(prometheus.NewRegistry())
	state := progress.NewState()

	if !globals.Quiet {
		go renderProgress(state)
	}

	mode := runmode.New(runmode.Kind(*modeFlag))

	if err := engine.RunBackup(ctx, cfg, mode, cat, reg, state, logger); err != nil {
		fatalPrinter(globals)(asEngineError(err))
		return 1
	}

	snap := state.Snapshot()
	if globals.JSON {
		out, _ := json.Marshal(runSummary{
			Status:         snap.Phase.String(),
			FilesProcessed: snap.FilesProcessed,
			BytesProcessed: snap.BytesProcessed,
			Errors:         int(snap.Errors),
			Cancelled:      state.Cancelled(),
		})
		fmt.Println(string(out))
	} else if !globals.Quiet {
		if snap.Errors > 0 {
			ui.Warn("backup %s: %d files, %d bytes, %d errors", snap.Phase.String(), snap.FilesProcessed, snap.BytesProcessed, snap.Errors)
		} else {
			ui.Success("backup %s: %d files, %d bytes", snap.Phase.String(), snap.FilesProcessed, snap.BytesProcessed)
		}
	}
	return 0
}

// renderProgress drains the run's progress subscription and renders one
// schollz/progressbar/v3 bar per phase, swapping bars on phase change.
func renderProgress(state *progress.State) {
	ch := state.Subscribe()
	var bar *progressbar.ProgressBar
	var currentPhase progress.Phase = -1

	for ev := range ch {
		snap := ev.Snapshot
		if snap.Phase != currentPhase {
			if bar != nil {
				_ = bar.Finish()
			}
			currentPhase = snap.Phase
			bar = progressbar.NewOptions64(snap.TotalFiles,
				progressbar.OptionSetDescription(snap.PhaseDescription),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionThrottle(100*time.Millisecond),
				progressbar.OptionShowCount(),
			)
		}
		if bar != nil {
			_ = bar.Set64(snap.FilesProcessed)
		}
		if ev.Message != "" {
			ui.Dim("%s", ev.Message)
		}
	}
}
