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

// Package engine is the run controller: it sequences discovery,
// classification, and copying, publishing progress as it goes and
// accumulating per-candidate and per-destination errors rather than
// aborting on the first one.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kraklabs/hashbackup/internal/errors"
	"github.com/kraklabs/hashbackup/internal/metrics"
	"github.com/kraklabs/hashbackup/pkg/catalog"
	"github.com/kraklabs/hashbackup/pkg/classify"
	"github.com/kraklabs/hashbackup/pkg/config"
	"github.com/kraklabs/hashbackup/pkg/copyengine"
	"github.com/kraklabs/hashbackup/pkg/progress"
	"github.com/kraklabs/hashbackup/pkg/runmode"
	"github.com/kraklabs/hashbackup/pkg/walk"
	"github.com/kraklabs/hashbackup/pkg/workerpool"
)

// ErrorAccumulator is a mutex-guarded collector of in-run errors; every
// entry is also logged individually via slog as it is recorded, and to
// the catalog's logs table when the run mode permits catalog writes.
type ErrorAccumulator struct {
	mu    sync.Mutex
	errs  []error
	state *progress.State
	logs  *catalog.LogWriter
}

func (a *ErrorAccumulator) add(logger *slog.Logger, module string, err error) {
	a.mu.Lock()
	a.errs = append(a.errs, err)
	a.mu.Unlock()

	if a.state != nil {
		a.state.AddError()
	}
	logger.Error(err.Error(), "module", module)
	a.logs.Append(catalog.LevelError, err.Error(), module)
}

// Count returns the number of accumulated errors.
func (a *ErrorAccumulator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.errs)
}

// Errors returns a copy of all accumulated errors.
func (a *ErrorAccumulator) Errors() []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]error, len(a.errs))
	copy(out, a.errs)
	return out
}

// RunBackup is the engine's single synchronous entry point. The
// context carries cancellation; cancelling it also flips state's
// cooperative cancel flag for any worker consulting it directly.
func RunBackup(ctx context.Context, cfg config.Config, mode runmode.Mode, cat *catalog.Catalog, m *metrics.Registry, state *progress.State, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if state == nil {
		state = progress.NewState()
	}

	// Setup-level failures are the only ones that FAIL a run; everything
	// past this point accumulates instead.
	if cat == nil {
		state.SetPhase(progress.PhaseFailed, "catalog unavailable")
		setMetricsPhase(m, progress.PhaseFailed)
		return errors.NewCatalogInitError("catalog unavailable", "an open catalog is required to run a backup", "", nil)
	}
	if len(cfg.BackupSources) == 0 || len(cfg.BackupDestinations) == 0 {
		state.SetPhase(progress.PhaseFailed, "invalid configuration")
		setMetricsPhase(m, progress.PhaseFailed)
		return errors.NewConfigInvalidError("invalid configuration", "at least one source and one destination are required", "validate the configuration before running", nil)
	}

	acc := &ErrorAccumulator{state: state}
	// Durable logging is a catalog write, so dry runs skip it; the nil
	// writer's Append is a no-op and slog still carries every message.
	if mode.ShouldUpdateDatabase && cat != nil {
		acc.logs = catalog.NewLogWriter(cat)
		defer acc.logs.Close()
	}

	// The watcher ties context cancellation to the cooperative stop
	// flag; runDone stops it once this run returns so it cannot flip a
	// later run's state.
	runDone := make(chan struct{})
	defer close(runDone)
	go watchCancellation(ctx, runDone, state)

	// Phase 1: discovery.
	state.SetPhase(progress.PhaseDiscovering, "walking source trees")
	setMetricsPhase(m, progress.PhaseDiscovering)

	var candidates []classify.Candidate
	for _, src := range cfg.BackupSources {
		skipDirs := make(map[string]struct{}, len(src.SkipDirs))
		for _, d := range src.SkipDirs {
			skipDirs[d] = struct{}{}
		}

		results, walkErrs := walk.Walk(src.ParentDirectory, walk.Options{MaxDepth: src.MaxDepth, SkipDirs: skipDirs})
		for _, werr := range walkErrs {
			acc.add(logger, "walker", werr)
		}
		for _, r := range results {
			candidates = append(candidates, classify.Candidate{Result: r, SourceRoot: src.ParentDirectory})
		}
	}

	if len(candidates) == 0 {
		logger.Warn("no candidate files discovered across configured sources")
		state.SetPhase(progress.PhaseCompleted, "no files to back up")
		setMetricsPhase(m, progress.PhaseCompleted)
		return nil
	}

	// Phase 2: classification.
	state.SetPhase(progress.PhasePreparing, "classifying candidates")
	setMetricsPhase(m, progress.PhasePreparing)
	state.SetTotals(int64(len(candidates)), 0)

	prepped := make([]*classify.PreppedBackup, len(candidates))
	workerpool.Run(ctx, len(candidates), int(cfg.MaxThreads), func(ctx context.Context, i int) {
		if state.Cancelled() {
			return
		}
		p, err := classify.Classify(ctx, candidates[i], cfg.BackupDestinations, cat, mode, cfg.MaxMebibytesForHash, cfg.SkipSourceHashCheckIfNewer)
		if err != nil {
			acc.add(logger, "classifier", err)
			return
		}
		prepped[i] = p
		state.AddProgress(1, 0, candidates[i].Name)
	})

	var toCopy []*classify.PreppedBackup
	var totalBytes int64
	for _, p := range prepped {
		if p == nil {
			continue
		}
		toCopy = append(toCopy, p)
		totalBytes += p.FileSize
	}

	// Phase 3: copy + verify. Each destination of a file counts as one
	// unit of work, since every copy increments files_processed.
	fanOut := int64(len(cfg.BackupDestinations))
	state.SetPhase(progress.PhaseCopying, "copying and verifying files")
	setMetricsPhase(m, progress.PhaseCopying)
	state.SetTotals(int64(len(toCopy))*fanOut, totalBytes*fanOut)

	copyOpts := copyengine.Options{
		ForceOverwriteBackup:             cfg.ForceOverwriteBackup,
		OverwriteBackupIfExistingIsNewer: cfg.OverwriteBackupIfExistingIsNewer,
		MaxMiBForHash:                    cfg.MaxMebibytesForHash,
	}

	workerpool.Run(ctx, len(toCopy), int(cfg.MaxThreads), func(ctx context.Context, i int) {
		if state.Cancelled() {
			return
		}
		destErrs := copyengine.ProcessDestinations(ctx, toCopy[i], cat, mode, copyOpts, m, state)
		for _, derr := range destErrs {
			acc.add(logger, "copyengine", derr)
		}
	})

	if n := acc.Count(); n > 0 {
		state.Message(fmt.Sprintf("completed with %d errors", n))
	}

	note := "done"
	if state.Cancelled() {
		note = "cancelled"
	}
	state.SetPhase(progress.PhaseCompleted, note)
	setMetricsPhase(m, progress.PhaseCompleted)

	for _, err := range acc.Errors() {
		if ee, ok := err.(*errors.EngineError); ok && m != nil {
			m.RecordError(string(ee.Kind))
		}
	}

	return nil
}

func watchCancellation(ctx context.Context, runDone <-chan struct{}, state *progress.State) {
	select {
	case <-ctx.Done():
		state.RequestStop()
	case <-runDone:
	}
}

func setMetricsPhase(m *metrics.Registry, phase progress.Phase) {
	if m != nil {
		m.RunPhase.Set(float64(phase))
	}
}
