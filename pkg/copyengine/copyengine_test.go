package copyengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/hashbackup/internal/metrics"
	"github.com/kraklabs/hashbackup/pkg/catalog"
	"github.com/kraklabs/hashbackup/pkg/classify"
	"github.com/kraklabs/hashbackup/pkg/hashsum"
	"github.com/kraklabs/hashbackup/pkg/progress"
	"github.com/kraklabs/hashbackup/pkg/runmode"
)

func openCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Open(context.Background(), catalog.Config{DatabaseFile: filepath.Join(t.TempDir(), "cat.db")})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func newMetrics() *metrics.Registry {
	return metrics.NewRegistry(prometheus.NewRegistry())
}

// preppedFor writes a source file, registers it in cat (replica rows
// carry a foreign key to sources, so a real row must exist), and
// returns the PreppedBackup a classifier would have produced for it.
func preppedFor(t *testing.T, cat *catalog.Catalog, content string) (*classify.PreppedBackup, string) {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(src, []byte(content), 0o644))

	hash, err := hashsum.File(context.Background(), src, 1)
	require.NoError(t, err)
	info, err := os.Stat(src)
	require.NoError(t, err)

	srcID, err := cat.UpsertSource(context.Background(), catalog.SourceRecord{
		FileName: "file.txt", ParentDirectory: dir,
		Hash: hash, FileSize: info.Size(), LastModified: info.ModTime().Unix(),
	})
	require.NoError(t, err)

	return &classify.PreppedBackup{
		SourceID: srcID, SourcePath: src, FileName: "file.txt",
		Hash: hash, FileSize: info.Size(), SourceLastModified: info.ModTime().Unix(),
		SourceChanged: true, HashTrusted: true,
	}, src
}

func TestProcessDestinations_CopiesAndVerifies(t *testing.T) {
	ctx := context.Background()
	cat := openCatalog(t)
	destDir := t.TempDir()

	prepped, _ := preppedFor(t, cat, "hello world")
	prepped.Destinations = []string{filepath.Join(destDir, "file.txt")}

	errs := ProcessDestinations(ctx, prepped, cat, runmode.New(runmode.KindNone), Options{MaxMiBForHash: 1}, newMetrics(), progress.NewState())
	require.Empty(t, errs)

	content, err := os.ReadFile(prepped.Destinations[0])
	require.NoError(t, err)
	require.Equal(t, "hello world", string(content))

	replica, err := cat.LookupReplica(ctx, "file.txt", destDir)
	require.NoError(t, err)
	require.NotNil(t, replica)
}

func TestProcessDestinations_SkipsWhenReplicaCurrent(t *testing.T) {
	ctx := context.Background()
	cat := openCatalog(t)
	destDir := t.TempDir()

	prepped, _ := preppedFor(t, cat, "hello world")
	prepped.Destinations = []string{filepath.Join(destDir, "file.txt")}

	m := newMetrics()
	require.Empty(t, ProcessDestinations(ctx, prepped, cat, runmode.New(runmode.KindNone), Options{MaxMiBForHash: 1}, m, progress.NewState()))

	// Second pass: destination already verified current, no copy work.
	before, err := os.Stat(prepped.Destinations[0])
	require.NoError(t, err)

	require.Empty(t, ProcessDestinations(ctx, prepped, cat, runmode.New(runmode.KindNone), Options{MaxMiBForHash: 1}, m, progress.NewState()))

	after, err := os.Stat(prepped.Destinations[0])
	require.NoError(t, err)
	require.Equal(t, before.ModTime(), after.ModTime())
}

func TestProcessDestinations_VerificationFailureDeletesAndReturnsError(t *testing.T) {
	ctx := context.Background()
	cat := openCatalog(t)
	destDir := t.TempDir()

	prepped, _ := preppedFor(t, cat, "hello world")
	prepped.Hash = "00000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000"
	destPath := filepath.Join(destDir, "file.txt")
	prepped.Destinations = []string{destPath}

	errs := ProcessDestinations(ctx, prepped, cat, runmode.New(runmode.KindNone), Options{MaxMiBForHash: 1}, newMetrics(), progress.NewState())
	require.Len(t, errs, 1)

	_, statErr := os.Stat(destPath)
	require.True(t, os.IsNotExist(statErr), "corrupted destination must be removed")
}

func TestProcessDestinations_DryRunFullSkipsCopy(t *testing.T) {
	ctx := context.Background()
	cat := openCatalog(t)
	destDir := t.TempDir()

	prepped, _ := preppedFor(t, cat, "hello world")
	prepped.Destinations = []string{filepath.Join(destDir, "file.txt")}

	errs := ProcessDestinations(ctx, prepped, cat, runmode.New(runmode.KindFull), Options{MaxMiBForHash: 1}, newMetrics(), progress.NewState())
	require.Empty(t, errs)

	_, statErr := os.Stat(prepped.Destinations[0])
	require.True(t, os.IsNotExist(statErr))
}

// TestProcessDestinations_ResolvesUntrustedHashBeforeVerifying covers
// the trust-without-rehash path: Hash is stale (copied from a prior
// run), so verification must not compare the fresh copy against it.
func TestProcessDestinations_ResolvesUntrustedHashBeforeVerifying(t *testing.T) {
	ctx := context.Background()
	cat := openCatalog(t)
	destDir := t.TempDir()

	prepped, src := preppedFor(t, cat, "new content")
	staleHash, err := hashsum.File(ctx, src, 1)
	require.NoError(t, err)
	srcID, err := cat.UpsertSource(ctx, catalog.SourceRecord{
		FileName: "file.txt", ParentDirectory: filepath.Dir(src),
		Hash: staleHash, FileSize: prepped.FileSize, LastModified: prepped.SourceLastModified,
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(src, []byte("new content, changed after classification"), 0o644))
	prepped.SourceID = srcID
	prepped.Hash = staleHash
	prepped.HashTrusted = false
	prepped.Destinations = []string{filepath.Join(destDir, "file.txt")}

	errs := ProcessDestinations(ctx, prepped, cat, runmode.New(runmode.KindNone), Options{MaxMiBForHash: 1}, newMetrics(), progress.NewState())
	require.Empty(t, errs, "an untrusted Hash must not be used as the verification target")

	content, err := os.ReadFile(prepped.Destinations[0])
	require.NoError(t, err)
	require.Equal(t, "new content, changed after classification", string(content))

	rec, err := cat.LookupSource(ctx, "file.txt", filepath.Dir(src))
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotEqual(t, staleHash, rec.Hash, "the corrected hash must be committed back to the catalog")
}

func TestProcessDestinations_AdoptsUnknownMatchingDestination(t *testing.T) {
	ctx := context.Background()
	cat := openCatalog(t)
	destDir := t.TempDir()

	prepped, src := preppedFor(t, cat, "hello world")
	destPath := filepath.Join(destDir, "file.txt")
	data, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(destPath, data, 0o644))
	prepped.Destinations = []string{destPath}

	errs := ProcessDestinations(ctx, prepped, cat, runmode.New(runmode.KindNone), Options{MaxMiBForHash: 1}, newMetrics(), progress.NewState())
	require.Empty(t, errs)

	replica, err := cat.LookupReplica(ctx, "file.txt", destDir)
	require.NoError(t, err)
	require.NotNil(t, replica, "matching unknown destination should be adopted into the catalog")
}
