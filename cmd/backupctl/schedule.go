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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/hashbackup/internal/metrics"
	"github.com/kraklabs/hashbackup/internal/ui"
	"github.com/kraklabs/hashbackup/pkg/catalog"
	"github.com/kraklabs/hashbackup/pkg/config"
	"github.com/kraklabs/hashbackup/pkg/engine"
	"github.com/kraklabs/hashbackup/pkg/progress"
	"github.com/kraklabs/hashbackup/pkg/runmode"
)

// runSchedule parses the configuration's cron expression with
// robfig/cron/v3 and calls RunBackup on each firing. It is a thin
// wrapper: the scheduler's own daemon lifecycle (retries, overlap
// policy, persistence across restarts) is not specified here and is
// left to the out-of-scope scheduler this wraps.
func runSchedule(args []string, configPath string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
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
	if cfg.Schedule == "" {
		ui.Error("configuration has no \"schedule\" entry")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	cat, err := catalog.Open(ctx, catalog.Config{DatabaseFile: cfg.DatabaseFile})
	if err != nil {
		fatalPrinter(globals)(asEngineError(err))
		return 1
	}
	defer cat.Close()

	reg := metrics.NewRegistry(prometheus.NewRegistry())
	mode := runmode.New(runmode.KindNone)

	trigger := func() {
		logger.Info("schedule.trigger")
		state := progress.NewState()
		if err := engine.RunBackup(ctx, cfg, mode, cat, reg, state, logger); err != nil {
			logger.Error("schedule.run.failed", "err", err)
		}
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Schedule, trigger); err != nil {
		fatalPrinter(globals)(asEngineError(err))
		return 1
	}

	if cfg.RunOnStartup {
		trigger()
	}

	c.Start()
	logger.Info("schedule.start", "expr", cfg.Schedule)
	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return 0
}
