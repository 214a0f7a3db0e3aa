// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/hashbackup/internal/metrics"
	"github.com/kraklabs/hashbackup/pkg/catalog"
	"github.com/kraklabs/hashbackup/pkg/config"
	"github.com/kraklabs/hashbackup/pkg/progress"
	"github.com/kraklabs/hashbackup/pkg/runmode"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Open(context.Background(), catalog.Config{DatabaseFile: filepath.Join(t.TempDir(), "cat.db")})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func baseConfig(sources []config.Source, destinations []string) config.Config {
	cfg := config.Default()
	cfg.BackupSources = sources
	cfg.BackupDestinations = destinations
	return cfg
}

func run(t *testing.T, cfg config.Config, cat *catalog.Catalog) *progress.State {
	t.Helper()
	state := progress.NewState()
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	err := RunBackup(context.Background(), cfg, runmode.New(runmode.KindNone), cat, reg, state, logger)
	require.NoError(t, err)
	return state
}

func TestFreshBackupSingleSourceSingleDestination(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("A"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("BB"), 0o644))

	cat := testCatalog(t)
	cfg := baseConfig([]config.Source{{ParentDirectory: src}}, []string{dst})
	run(t, cfg, cat)

	a, err := os.ReadFile(filepath.Join(dst, "src", "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "A", string(a))

	b, err := os.ReadFile(filepath.Join(dst, "src", "sub", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "BB", string(b))

	count, _, err := cat.Totals(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

// TestIncrementalNoOp checks that a second run over an unchanged tree
// performs no copies and produces no new catalog rows.
func TestIncrementalNoOp(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("A"), 0o644))

	cat := testCatalog(t)
	cfg := baseConfig([]config.Source{{ParentDirectory: src}}, []string{dst})
	run(t, cfg, cat)

	before, err := os.Stat(filepath.Join(dst, "src", "a.txt"))
	require.NoError(t, err)

	state := run(t, cfg, cat)
	require.Equal(t, progress.PhaseCompleted, state.Snapshot().Phase)

	after, err := os.Stat(filepath.Join(dst, "src", "a.txt"))
	require.NoError(t, err)
	require.Equal(t, before.ModTime(), after.ModTime())

	count, _, err := cat.Totals(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestSourceModifiedIsRecopied(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))
	path := filepath.Join(src, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("A"), 0o644))

	cat := testCatalog(t)
	cfg := baseConfig([]config.Source{{ParentDirectory: src}}, []string{dst})
	run(t, cfg, cat)

	require.NoError(t, os.WriteFile(path, []byte("AAA"), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	run(t, cfg, cat)

	got, err := os.ReadFile(filepath.Join(dst, "src", "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "AAA", string(got))

	rec, err := cat.LookupSource(context.Background(), "a.txt", src)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, int64(3), rec.FileSize)
}

func TestFanOutToMultipleDestinations(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	d1 := filepath.Join(root, "d1")
	d2 := filepath.Join(root, "d2")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("A"), 0o644))

	cat := testCatalog(t)
	cfg := baseConfig([]config.Source{{ParentDirectory: src}}, []string{d1, d2})
	run(t, cfg, cat)

	c1, err := os.ReadFile(filepath.Join(d1, "src", "a.txt"))
	require.NoError(t, err)
	c2, err := os.ReadFile(filepath.Join(d2, "src", "a.txt"))
	require.NoError(t, err)
	require.Equal(t, string(c1), string(c2))

	count, _, err := cat.Totals(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestSkipDirsAreNeverOpened(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("A"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "node_modules", "x.txt"), []byte("X"), 0o644))

	cat := testCatalog(t)
	cfg := baseConfig([]config.Source{{ParentDirectory: src, SkipDirs: []string{"node_modules"}}}, []string{dst})
	run(t, cfg, cat)

	_, err := os.Stat(filepath.Join(dst, "src", "a.txt"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dst, "src", "node_modules", "x.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestEmptySourceRootCompletesWithoutError(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))

	cat := testCatalog(t)
	cfg := baseConfig([]config.Source{{ParentDirectory: src}}, []string{dst})
	state := run(t, cfg, cat)
	require.Equal(t, progress.PhaseCompleted, state.Snapshot().Phase)

	count, _, err := cat.Totals(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}

// TestDryRunModesTouchNothing checks that quick and full dry runs
// never create destination files and never write to the catalog.
func TestDryRunModesTouchNothing(t *testing.T) {
	for _, kind := range []runmode.Kind{runmode.KindQuick, runmode.KindFull} {
		t.Run(string(kind), func(t *testing.T) {
			root := t.TempDir()
			src := filepath.Join(root, "src")
			dst := filepath.Join(root, "dst")
			require.NoError(t, os.MkdirAll(src, 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("A"), 0o644))

			cat := testCatalog(t)
			cfg := baseConfig([]config.Source{{ParentDirectory: src}}, []string{dst})

			state := progress.NewState()
			reg := metrics.NewRegistry(prometheus.NewRegistry())
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
			require.NoError(t, RunBackup(context.Background(), cfg, runmode.New(kind), cat, reg, state, logger))

			_, err := os.Stat(filepath.Join(dst, "src", "a.txt"))
			require.True(t, os.IsNotExist(err), "dry run must not create destination files")

			count, _, err := cat.Totals(context.Background())
			require.NoError(t, err)
			require.Equal(t, int64(0), count, "dry run must not write to the catalog")
		})
	}
}

// TestStopRequestedBeforeCopyLeavesDestinationsUntouched flips the
// cancel flag up front; workers observe it at their natural boundaries
// and the run still terminates as COMPLETED, per the cooperative model.
func TestStopRequestedBeforeCopyLeavesDestinationsUntouched(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("A"), 0o644))

	cat := testCatalog(t)
	cfg := baseConfig([]config.Source{{ParentDirectory: src}}, []string{dst})

	state := progress.NewState()
	state.RequestStop()
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	require.NoError(t, RunBackup(context.Background(), cfg, runmode.New(runmode.KindNone), cat, reg, state, logger))

	require.True(t, state.Cancelled())
	require.Equal(t, progress.PhaseCompleted, state.Snapshot().Phase)
	_, err := os.Stat(filepath.Join(dst, "src", "a.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestEmptyConfigurationFails(t *testing.T) {
	cat := testCatalog(t)
	state := progress.NewState()
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	err := RunBackup(context.Background(), config.Config{}, runmode.New(runmode.KindNone), cat, reg, state, logger)
	require.Error(t, err)
	require.Equal(t, progress.PhaseFailed, state.Snapshot().Phase)
}

// TestDeletedReplicaIsRestored deletes one replica and reruns; exactly
// that replica comes back and its sibling is untouched.
func TestDeletedReplicaIsRestored(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("A"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "b.txt"), []byte("B"), 0o644))

	cat := testCatalog(t)
	cfg := baseConfig([]config.Source{{ParentDirectory: src}}, []string{dst})
	run(t, cfg, cat)

	bBefore, err := os.Stat(filepath.Join(dst, "src", "b.txt"))
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dst, "src", "a.txt")))
	run(t, cfg, cat)

	_, err = os.ReadFile(filepath.Join(dst, "src", "a.txt"))
	require.NoError(t, err)
	bContent, err := os.ReadFile(filepath.Join(dst, "src", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "B", string(bContent))
	bAfter, err := os.Stat(filepath.Join(dst, "src", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, bBefore.ModTime(), bAfter.ModTime())
}

func TestCorruptedReplicaIsReCopied(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("A"), 0o644))

	cat := testCatalog(t)
	cfg := baseConfig([]config.Source{{ParentDirectory: src}}, []string{dst})
	run(t, cfg, cat)

	require.NoError(t, os.WriteFile(filepath.Join(dst, "src", "a.txt"), []byte("CORRUPT"), 0o644))
	run(t, cfg, cat)

	got, err := os.ReadFile(filepath.Join(dst, "src", "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "A", string(got))
}
