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
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/hashbackup/internal/metrics"
	"github.com/kraklabs/hashbackup/internal/ui"
	"github.com/kraklabs/hashbackup/pkg/catalog"
	"github.com/kraklabs/hashbackup/pkg/config"
	"github.com/kraklabs/hashbackup/pkg/engine"
	"github.com/kraklabs/hashbackup/pkg/progress"
	"github.com/kraklabs/hashbackup/pkg/runmode"
)

// server is this process's minimal HTTP control surface: it lets the
// out-of-scope HTTP control plane trigger a run, stream its progress,
// and request cancellation, without reimplementing any of the REST
// routes or HTML rendering that plane owns.
type server struct {
	mu      sync.Mutex
	cfg     config.Config
	cat     *catalog.Catalog
	metrics *metrics.Registry
	logger  *slog.Logger
	state   *progress.State
	running bool
}

// runServe starts a thin HTTP wrapper around RunBackup, exposing a
// trigger endpoint, a server-sent-events progress stream, and a stop
// endpoint. The control plane's own REST surface and HTML rendering
// live elsewhere; this route set is deliberately minimal.
func runServe(args []string, configPath string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", ":8080", "HTTP listen address")
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

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	promReg := prometheus.NewRegistry()
	srv := &server{
		cfg:     cfg,
		cat:     cat,
		metrics: metrics.NewRegistry(promReg),
		logger:  logger,
		state:   progress.NewState(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/run", srv.handleRun).Methods(http.MethodPost)
	r.HandleFunc("/progress", srv.handleProgress).Methods(http.MethodGet)
	r.HandleFunc("/stop", srv.handleStop).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	httpSrv := &http.Server{Addr: *addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown.signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("serve.start", "addr", *addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		ui.Error("serve: %v", err)
		return 1
	}
	return 0
}

// handleRun dispatches RunBackup, which blocks until the run ends,
// onto its own goroutine so this handler returns immediately.
func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		http.Error(w, "a run is already in progress", http.StatusConflict)
		return
	}
	s.running = true
	s.state = progress.NewState()
	state := s.state
	s.mu.Unlock()

	mode := runmode.New(runmode.Kind(r.URL.Query().Get("mode")))

	go func() {
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()
		if err := engine.RunBackup(context.Background(), s.cfg, mode, s.cat, s.metrics, state, s.logger); err != nil {
			s.logger.Error("run.failed", "err", err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "started"})
}

// handleProgress streams the active run's progress bus as
// server-sent events until the client disconnects. Subscription
// channels are never closed, so the stream does not end by itself when
// the run completes.
func (s *server) handleProgress(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := state.Subscribe()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload, _ := json.Marshal(ev)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// handleStop sets the cooperative cancel flag on the active run.
func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	state.RequestStop()
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "stopping"})
}
